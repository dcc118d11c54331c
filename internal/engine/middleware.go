package engine

import (
	"context"
	"fmt"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/registry"
	"github.com/roach88/modux/internal/store"
	"github.com/roach88/modux/internal/workflow"
)

// routing is the dispatch-routing middleware. It owns every registry binding
// change and settles dispatch futures.
func (e *Engine) routing(api store.MiddlewareAPI) func(next store.DispatchFunc) store.DispatchFunc {
	return func(next store.DispatchFunc) store.DispatchFunc {
		return func(a action.Action) error {
			if err := checkOrigin(a); err != nil {
				return err
			}
			switch a.Type {
			case action.TypeReload:
				return e.handleReload(api, next, a)
			case action.TypeRegister:
				return e.handleRegister(api, next, a)
			case action.TypeUnregister:
				return e.handleUnregister(api, next, a)
			case action.TypeHydrate:
				if err := next(a); err != nil {
					return err
				}
				e.commit(api, a)
				e.settle(a, nil)
				return nil
			default:
				return e.handleAction(api, next, a)
			}
		}
	}
}

// checkOrigin refuses an action whose dispatching workflow session ended
// before the action reached its turn. The check runs inside the turn, so an
// unregister committed earlier in the queue always wins.
func checkOrigin(a action.Action) error {
	origin := a.Origin()
	if origin == nil || origin.Err() == nil {
		return nil
	}
	return &registry.Error{
		Code:      registry.CodeSessionEnded,
		Message:   fmt.Sprintf("cannot dispatch %s", a.Type),
		Namespace: a.Namespace(),
	}
}

// commit stamps a, publishes it with the post-reducer state and journals it.
func (e *Engine) commit(api store.MiddlewareAPI, a action.Action) action.Action {
	a = a.WithOrigin(nil)
	a.Seq = e.clock.Next()
	state := api.GetState()
	e.scheduler.Publish(workflow.Emission{Action: a, State: state})
	e.record(a, state)
	return a
}

// settle resolves the deferred of a with v, if it still has one.
func (e *Engine) settle(a action.Action, v any) {
	if a.Token == "" {
		return
	}
	if d, ok := e.registry.Take(a.Token); ok {
		d.Resolve(v)
	}
}

func (e *Engine) containerFor(namespace string, index int) (*registry.Container, error) {
	info, ok := e.registry.FindModelsInfo(namespace)
	if !ok {
		return nil, &Error{Code: ErrCodeUnknownNamespace, Message: "no model is registered for namespace", Namespace: namespace}
	}
	if index < 0 || index >= len(info.Base.Models) {
		return nil, &Error{
			Code:      ErrCodeInvalidModelIndex,
			Message:   fmt.Sprintf("model index %d out of range [0, %d)", index, len(info.Base.Models)),
			Namespace: namespace,
		}
	}
	return e.registry.GetContainer(info.Base.Models[index], info.Key)
}

func (e *Engine) handleRegister(api store.MiddlewareAPI, next store.DispatchFunc, a action.Action) error {
	entries := a.RegisterEntries()
	filled := make([]action.RegisterEntry, 0, len(entries))
	var bound []*registry.Container

	rollback := func() {
		for _, c := range bound {
			e.registry.Unbind(c.Namespace())
		}
	}

	for _, en := range entries {
		c, err := e.containerFor(en.Namespace, en.ModelIndex)
		if err != nil {
			rollback()
			return err
		}
		if c.IsRegistered() {
			// Same model and key: nothing to do.
			continue
		}
		if !c.CanRegister() {
			rollback()
			return fmt.Errorf("register %s: %w", en.Namespace, registry.ErrAlreadyRegistered)
		}

		if en.Args != nil {
			c.StageArgs(en.Args)
		}
		if en.State == nil {
			state, args, err := c.Materialize()
			if err != nil {
				rollback()
				return err
			}
			en.State, en.Args = state, args
		}

		if err := e.registry.Bind(c); err != nil {
			rollback()
			return err
		}
		bound = append(bound, c)
		filled = append(filled, en)
	}

	a.Payload = filled
	if err := next(a); err != nil {
		rollback()
		return err
	}

	for _, c := range bound {
		e.startEpics(c)
	}
	a = e.commit(api, a)
	e.logger.Debug("namespaces registered",
		"count", len(bound),
		"seq", a.Seq)
	e.settle(a, nil)
	return nil
}

func (e *Engine) handleUnregister(api store.MiddlewareAPI, next store.DispatchFunc, a action.Action) error {
	for _, en := range a.UnregisterEntries() {
		if _, ok := e.registry.Unbind(en.Namespace); ok {
			e.logger.Debug("namespace unregistered", "namespace", en.Namespace)
		}
	}
	if err := next(a); err != nil {
		return err
	}
	e.commit(api, a)
	e.settle(a, nil)
	return nil
}

// handleReload drops every binding, lets the reducer swap the root state,
// then rebinds whatever the new state describes: static models whose path
// is present and every key listed under ModelsKey. Rebound namespaces whose
// sub-state is missing are filled in by a hydrate action in the same turn.
func (e *Engine) handleReload(api store.MiddlewareAPI, next store.DispatchFunc, a action.Action) error {
	e.registry.Reset()
	e.scheduler.Switch()

	if err := next(a); err != nil {
		return err
	}

	state := api.GetState()
	var (
		rebound []*registry.Container
		hydrate []action.RegisterEntry
	)
	for _, base := range e.registry.Bases() {
		for _, target := range reloadTargets(state, base) {
			c, err := e.registry.GetContainer(base.Models[target.index], target.key)
			if err != nil {
				e.logger.Warn("reload: skipping namespace", "base", base.Namespace, "key", target.key, "error", err)
				continue
			}
			var entry *action.RegisterEntry
			if _, present := ir.Lookup(state, c.Path()); !present {
				sub, args, err := c.Materialize()
				if err != nil {
					e.logger.Warn("reload: cannot materialize state",
						"namespace", c.Namespace(),
						"error", err)
					continue
				}
				entry = &action.RegisterEntry{Namespace: c.Namespace(), ModelIndex: target.index, Args: args, State: sub}
			}
			if err := e.registry.Bind(c); err != nil {
				e.logger.Warn("reload: cannot bind namespace", "namespace", c.Namespace(), "error", err)
				continue
			}
			rebound = append(rebound, c)
			if entry != nil {
				hydrate = append(hydrate, *entry)
			}
		}
	}

	for _, c := range rebound {
		e.startEpics(c)
	}
	a = e.commit(api, a)
	e.logger.Info("store reloaded",
		"namespaces", len(rebound),
		"hydrated", len(hydrate),
		"seq", a.Seq)

	if len(hydrate) > 0 {
		if err := api.Dispatch(action.Hydrate(hydrate...)); err != nil {
			e.logger.Error("reload: hydrate failed", "error", err)
		}
	}
	e.settle(a, nil)
	return nil
}

type reloadTarget struct {
	key   string
	index int
}

func reloadTargets(state ir.Value, base *registry.BaseRegistration) []reloadTarget {
	if !base.Dynamic {
		if _, ok := ir.Lookup(state, base.Path); ok {
			return []reloadTarget{{}}
		}
		return nil
	}

	keys, _ := modelIndexes(state, base.Path)
	var out []reloadTarget
	for _, k := range keys.SortedKeys() {
		idx, ok := keys[k].(ir.Int)
		if !ok || int(idx) < 0 || int(idx) >= len(base.Models) {
			continue
		}
		out = append(out, reloadTarget{key: k, index: int(idx)})
	}
	return out
}

// modelIndexes returns the key -> index map recorded for a dynamic base path.
func modelIndexes(state ir.Value, basePath string) (ir.Object, bool) {
	models, ok := ir.Lookup(state, ModelsKey)
	if !ok {
		return nil, false
	}
	byKey, ok := ir.Lookup(models, basePath)
	if !ok {
		return nil, false
	}
	obj, ok := byKey.(ir.Object)
	return obj, ok
}

func (e *Engine) handleAction(api store.MiddlewareAPI, next store.DispatchFunc, a action.Action) error {
	if !action.IsReserved(a.Type) {
		e.autoRegister(api, a)
	}

	if err := next(a); err != nil {
		return err
	}
	a = e.commit(api, a)

	if a.Token == "" {
		return nil
	}
	d, ok := e.registry.Take(a.Token)
	if !ok {
		return nil
	}

	ns, name := a.Namespace(), a.Name()
	c, bound := e.registry.Bound(ns)
	if !bound {
		d.Resolve(nil)
		return nil
	}
	effect, ok := c.ModelContext().Effects[name]
	if !ok {
		d.Resolve(nil)
		return nil
	}
	e.runEffect(c, effect, a, d)
	return nil
}

// autoRegister registers the target namespace of a within the current turn
// when its model asks for it and the namespace is free.
func (e *Engine) autoRegister(api store.MiddlewareAPI, a action.Action) {
	ns := a.Namespace()
	if _, bound := e.registry.Bound(ns); bound {
		return
	}
	info, ok := e.registry.FindModelsInfo(ns)
	if !ok || !info.Base.Models[0].Options().AutoRegister {
		return
	}
	c, err := e.registry.GetContainer(info.Base.Models[0], info.Key)
	if err != nil || !c.CanRegister() {
		return
	}
	if err := api.Dispatch(action.Register(c.RegisterEntry())); err != nil {
		e.logger.Warn("auto-register failed",
			"namespace", ns,
			"type", a.Type,
			"error", err)
	}
}

func (e *Engine) startEpics(c *registry.Container) {
	epics := c.Model().Epics()
	if len(epics) == 0 {
		return
	}
	ec := c.EffectContext()
	session := c.Session()
	for i, epic := range epics {
		epic := epic
		name := fmt.Sprintf("epic:%s#%d", c.Namespace(), i)
		e.scheduler.Add(name, session, func(ctx context.Context, s *workflow.Stream) error {
			return epic(ctx, &model.EpicContext{EffectContext: *ec, Stream: s})
		})
	}
}
