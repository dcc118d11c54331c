package engine

import (
	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/draft"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/nspath"
	"github.com/roach88/modux/internal/registry"
)

// reduce is the root reducer.
func (e *Engine) reduce(state ir.Value, a action.Action) (ir.Value, error) {
	switch a.Type {
	case action.TypeReload:
		if snap := a.ReloadSnapshot(); snap != nil {
			return snap, nil
		}
		return state, nil
	case action.TypeRegister:
		return e.reduceRegister(state, a.RegisterEntries(), true)
	case action.TypeHydrate:
		return e.reduceRegister(state, a.RegisterEntries(), false)
	case action.TypeUnregister:
		return e.reduceUnregister(state, a.UnregisterEntries())
	}
	if action.IsReserved(a.Type) {
		return state, nil
	}
	return e.reduceAction(state, a)
}

// reduceRegister writes the initial state of each entry at its storage path
// and records the model index of dynamic keys. With overwrite unset, paths
// that already hold a value are left alone.
func (e *Engine) reduceRegister(state ir.Value, entries []action.RegisterEntry, overwrite bool) (ir.Value, error) {
	return draft.Produce(state, func(d *draft.Draft) {
		for _, en := range entries {
			info, ok := e.registry.FindModelsInfo(en.Namespace)
			if !ok || en.State == nil {
				continue
			}
			path := nspath.ToPath(en.Namespace)
			if overwrite || !d.Has(path) {
				d.Set(en.State, path)
			}
			if info.Base.Dynamic && info.Key != "" {
				d.Set(ir.Int(en.ModelIndex), ModelsKey, info.Base.Path, info.Key)
			}
		}
	})
}

// reduceUnregister deletes each namespace's sub-state and its model index
// entry. Index maps left empty are removed.
func (e *Engine) reduceUnregister(state ir.Value, entries []action.UnregisterEntry) (ir.Value, error) {
	return draft.Produce(state, func(d *draft.Draft) {
		for _, en := range entries {
			d.Delete(nspath.ToPath(en.Namespace))

			info, ok := e.registry.FindModelsInfo(en.Namespace)
			if !ok || !info.Base.Dynamic || info.Key == "" {
				continue
			}
			d.Delete(ModelsKey, info.Base.Path, info.Key)
			if keys, ok := d.Get(ModelsKey, info.Base.Path).(ir.Object); ok && len(keys) == 0 {
				d.Delete(ModelsKey, info.Base.Path)
			}
			if models, ok := d.Get(ModelsKey).(ir.Object); ok && len(models) == 0 {
				d.Delete(ModelsKey)
			}
		}
	})
}

// reduceAction routes an ordinary action to the reducer of the container
// bound at its namespace. Unknown namespaces, unrecorded dynamic keys and
// unknown action names leave the state untouched.
func (e *Engine) reduceAction(state ir.Value, a action.Action) (ir.Value, error) {
	ns, name := nspath.SplitAction(a.Type)
	c, ok := e.registry.Bound(ns)
	if !ok {
		return state, nil
	}
	mc, ok := e.routedModel(state, c)
	if !ok {
		return state, nil
	}
	reducer, ok := mc.Reducers[name]
	if !ok {
		return state, nil
	}

	path := c.Path()
	sub, _ := ir.Lookup(state, path)
	rc := &model.ReducerContext{
		Namespace:    c.Namespace(),
		Key:          c.Key(),
		ActionName:   name,
		Dependencies: e.deps,
	}
	next, err := draft.Produce(sub, func(d *draft.Draft) {
		reducer(d, a.Payload, rc)
	})
	if err != nil {
		return nil, &Error{
			Code:       ErrCodeReducerFailed,
			Message:    "reducer " + name + " failed",
			ActionType: a.Type,
			Namespace:  ns,
			Err:        err,
		}
	}
	if ir.Same(next, sub) {
		return state, nil
	}
	return draft.Produce(state, func(d *draft.Draft) {
		d.Set(next, path)
	})
}

// routedModel picks the model governing c's sub-state: the bound model for a
// static namespace, the variant recorded under ModelsKey for a dynamic key.
func (e *Engine) routedModel(state ir.Value, c *registry.Container) (*registry.ModelContext, bool) {
	mc := c.ModelContext()
	if !mc.Base.Dynamic {
		return mc, true
	}
	keys, ok := modelIndexes(state, mc.Base.Path)
	if !ok {
		return nil, false
	}
	idx, ok := keys[c.Key()].(ir.Int)
	if !ok || int(idx) < 0 || int(idx) >= len(mc.Base.Models) {
		return nil, false
	}
	if int(idx) == mc.Index {
		return mc, true
	}
	return e.registry.ModelContext(mc.Base.Models[idx])
}
