// Package registry is the store-wide bookkeeping behind namespaced models:
// which model is registered under which base namespace, which container is
// currently bound to each live namespace, and which deferred belongs to each
// in-flight dispatch.
//
// A StoreContext belongs to exactly one store. Binding changes happen only
// inside the store's dispatch turn (the engine's routing middleware); reads
// may come from any goroutine.
package registry

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/modux/internal/action"
	"github.com/roach88/modux/internal/ir"
	"github.com/roach88/modux/internal/model"
	"github.com/roach88/modux/internal/nspath"
)

// Backend is the store the registry dispatches into.
type Backend interface {
	Dispatch(a action.Action) *action.Future
	Send(a action.Action)
	State() ir.Value
}

// ActionNameResolver turns the path of a reducer or effect leaf into its
// action name.
type ActionNameResolver func(path []string) string

// Option configures a StoreContext.
type Option func(*StoreContext)

// WithActionNameResolver replaces the default dot-joined naming.
func WithActionNameResolver(r ActionNameResolver) Option {
	return func(sc *StoreContext) {
		if r != nil {
			sc.resolve = r
		}
	}
}

// WithDependencies sets the dependencies handed to every model callback.
func WithDependencies(deps map[string]any) Option {
	return func(sc *StoreContext) {
		sc.deps = deps
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(sc *StoreContext) {
		if logger != nil {
			sc.logger = logger
		}
	}
}

// BaseRegistration is one entry of registerModels: a static model or an
// array of dynamic variants under one base namespace.
type BaseRegistration struct {
	Namespace string
	Path      string
	Models    model.Array
	Dynamic   bool
}

// ModelInfo is the result of FindModelsInfo: the registration governing a
// namespace and the dynamic key, if any.
type ModelInfo struct {
	Base *BaseRegistration
	Key  string
}

type containerKey struct {
	model *model.Model
	key   string
}

// StoreContext is the registry of one store.
type StoreContext struct {
	backend Backend
	resolve ActionNameResolver
	deps    map[string]any
	logger  *slog.Logger

	mu         sync.RWMutex
	models     map[*model.Model]*ModelContext
	bases      map[string]*BaseRegistration
	bound      map[string]*Container
	containers map[containerKey]*Container

	deferredMu sync.Mutex
	deferreds  map[string]*action.Deferred
}

// New creates an empty registry dispatching into backend.
func New(backend Backend, opts ...Option) *StoreContext {
	sc := &StoreContext{
		backend:    backend,
		resolve:    model.DotPath,
		logger:     slog.Default(),
		models:     make(map[*model.Model]*ModelContext),
		bases:      make(map[string]*BaseRegistration),
		bound:      make(map[string]*Container),
		containers: make(map[containerKey]*Container),
		deferreds:  make(map[string]*action.Deferred),
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc
}

// Dependencies returns the dependencies handed to model callbacks.
func (sc *StoreContext) Dependencies() map[string]any {
	return sc.deps
}

// RegisterModelDefinition registers a static model (dynamic=false, exactly
// one model) or an array of dynamic variants under namespace.
func (sc *StoreContext) RegisterModelDefinition(namespace string, models model.Array, dynamic bool) (*BaseRegistration, error) {
	if len(models) == 0 {
		return nil, newError(CodeModelNotRegistered, namespace, "no models given")
	}
	if !dynamic && len(models) != 1 {
		return nil, newError(CodeDuplicateModel, namespace, "a static registration takes exactly one model, got %d", len(models))
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	if _, exists := sc.bases[namespace]; exists {
		return nil, newError(CodeDuplicateNamespace, namespace, "namespace already has a model registration")
	}

	seen := make(map[*model.Model]bool, len(models))
	for _, m := range models {
		if m == nil {
			return nil, newError(CodeModelNotRegistered, namespace, "nil model")
		}
		if _, exists := sc.models[m]; exists || seen[m] {
			return nil, newError(CodeDuplicateModel, namespace, "model %s is already registered", m)
		}
		seen[m] = true
	}

	base := &BaseRegistration{
		Namespace: namespace,
		Path:      nspath.ToPath(namespace),
		Models:    slices.Clone(models),
		Dynamic:   dynamic,
	}

	compiled := make([]*ModelContext, len(models))
	for i, m := range models {
		mc, err := compileModel(m, base, i, sc.resolve)
		if err != nil {
			return nil, err
		}
		compiled[i] = mc
	}

	sc.bases[namespace] = base
	for _, mc := range compiled {
		sc.models[mc.Model] = mc
	}

	sc.logger.Debug("model registered",
		"namespace", namespace,
		"models", len(models),
		"dynamic", dynamic)
	return base, nil
}

// ModelContext returns the compiled lookup tables of m.
func (sc *StoreContext) ModelContext(m *model.Model) (*ModelContext, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	mc, ok := sc.models[m]
	return mc, ok
}

// Bases returns every base registration in namespace order.
func (sc *StoreContext) Bases() []*BaseRegistration {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	out := make([]*BaseRegistration, 0, len(sc.bases))
	for _, b := range sc.bases {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *BaseRegistration) int {
		switch {
		case a.Namespace < b.Namespace:
			return -1
		case a.Namespace > b.Namespace:
			return 1
		}
		return 0
	})
	return out
}

// Base returns the registration for a base namespace.
func (sc *StoreContext) Base(namespace string) (*BaseRegistration, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	b, ok := sc.bases[namespace]
	return b, ok
}

// FindModelsInfo resolves a namespace to its registration. An exact match on
// a base namespace wins; otherwise the last segment is taken as a dynamic key
// and the prefix is retried. The second result is false for an unknown
// namespace.
func (sc *StoreContext) FindModelsInfo(namespace string) (ModelInfo, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	if base, ok := sc.bases[namespace]; ok {
		return ModelInfo{Base: base}, true
	}
	prefix, key := nspath.SplitLast(namespace, nspath.Delimiter)
	if prefix == "" {
		return ModelInfo{}, false
	}
	if base, ok := sc.bases[prefix]; ok && base.Dynamic {
		return ModelInfo{Base: base, Key: key}, true
	}
	return ModelInfo{}, false
}

// GetContainer returns the container for (m, key), creating it on first use.
// The same pointer is returned for the lifetime of the registry.
func (sc *StoreContext) GetContainer(m *model.Model, key string) (*Container, error) {
	sc.mu.RLock()
	mc, ok := sc.models[m]
	if ok {
		if c, cached := sc.containers[containerKey{m, key}]; cached {
			sc.mu.RUnlock()
			return c, nil
		}
	}
	sc.mu.RUnlock()

	if !ok {
		return nil, newError(CodeModelNotRegistered, "", "model %s is not registered", m)
	}
	if mc.Base.Dynamic && key == "" {
		return nil, newError(CodeMissingKey, mc.Base.Namespace, "dynamic model %s needs a key", m)
	}
	if !mc.Base.Dynamic && key != "" {
		return nil, newError(CodeUnexpectedKey, mc.Base.Namespace, "static model %s takes no key, got %q", m, key)
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()

	ck := containerKey{m, key}
	if c, cached := sc.containers[ck]; cached {
		return c, nil
	}
	c := newContainer(sc, mc, key)
	sc.containers[ck] = c
	return c, nil
}

// Lookup is GetContainer returning the workflow-facing interface.
func (sc *StoreContext) Lookup(m *model.Model, key string) (model.Container, error) {
	c, err := sc.GetContainer(m, key)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Bound returns the container currently registered at namespace.
func (sc *StoreContext) Bound(namespace string) (*Container, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	c, ok := sc.bound[namespace]
	return c, ok
}

// BoundNamespaces lists the registered namespaces in sorted order.
func (sc *StoreContext) BoundNamespaces() []string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	out := make([]string, 0, len(sc.bound))
	for ns := range sc.bound {
		out = append(out, ns)
	}
	slices.Sort(out)
	return out
}

// Bind claims the container's namespace and opens a new workflow session
// for it. Binding a namespace held by another container fails with
// ErrAlreadyRegistered; binding the same container again is a no-op.
func (sc *StoreContext) Bind(c *Container) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if cur, ok := sc.bound[c.namespace]; ok {
		if cur == c {
			return nil
		}
		return newError(CodeAlreadyRegistered, c.namespace, "namespace is held by model %s", cur.model)
	}
	sc.bound[c.namespace] = c
	c.openSession()
	return nil
}

// Unbind releases namespace, ends the bound container's session and clears
// its caches. It returns the container that was bound, if any.
func (sc *StoreContext) Unbind(namespace string) (*Container, bool) {
	sc.mu.Lock()
	c, ok := sc.bound[namespace]
	if ok {
		delete(sc.bound, namespace)
	}
	sc.mu.Unlock()

	if ok {
		c.closeSession()
		c.reset()
	}
	return c, ok
}

// Reset unbinds every namespace. Used by reload.
func (sc *StoreContext) Reset() []*Container {
	sc.mu.Lock()
	bound := make([]*Container, 0, len(sc.bound))
	for _, c := range sc.bound {
		bound = append(bound, c)
	}
	sc.bound = make(map[string]*Container)
	containers := make([]*Container, 0, len(sc.containers))
	for _, c := range sc.containers {
		containers = append(containers, c)
	}
	sc.mu.Unlock()

	for _, c := range bound {
		c.closeSession()
	}
	for _, c := range containers {
		c.reset()
	}
	return bound
}

// Link associates a dispatch token with its deferred.
func (sc *StoreContext) Link(token string, d *action.Deferred) {
	if token == "" || d == nil {
		return
	}
	sc.deferredMu.Lock()
	defer sc.deferredMu.Unlock()
	sc.deferreds[token] = d
}

// Take removes and returns the deferred linked to token.
func (sc *StoreContext) Take(token string) (*action.Deferred, bool) {
	sc.deferredMu.Lock()
	defer sc.deferredMu.Unlock()
	d, ok := sc.deferreds[token]
	if ok {
		delete(sc.deferreds, token)
	}
	return d, ok
}

// PendingDeferreds returns the number of linked, untaken deferreds.
func (sc *StoreContext) PendingDeferreds() int {
	sc.deferredMu.Lock()
	defer sc.deferredMu.Unlock()
	return len(sc.deferreds)
}
