package registry

import (
	"github.com/roach88/modux/internal/model"
)

// getters evaluates a container's selectors. Each selector path owns one
// cache, so instances of the same model memoize independently.
type getters struct {
	c      *Container
	caches map[string]*model.SelectorCache
}

func newGetters(c *Container) *getters {
	caches := make(map[string]*model.SelectorCache, len(c.mc.Selectors))
	for path := range c.mc.Selectors {
		caches[path] = &model.SelectorCache{}
	}
	return &getters{c: c, caches: caches}
}

// Get evaluates the selector at path. Every call runs the selector once;
// memoized selectors short-circuit through their cache.
func (g *getters) Get(path string) (any, error) {
	sel, ok := g.c.mc.Selectors[path]
	if !ok {
		return nil, newError(CodeUnknownGetter, g.c.namespace, "no getter %q", path)
	}

	state, err := g.c.State()
	if err != nil {
		return nil, err
	}

	sc := &model.SelectorContext{
		Namespace:    g.c.namespace,
		Key:          g.c.key,
		Dependencies: g.c.sc.deps,
		State:        state,
		Getters:      g,
		Actions:      g.c.Actions(),
	}
	return sel(sc, g.caches[path]), nil
}

// resetCaches drops every memoized selector result.
func (g *getters) resetCaches() {
	for _, cache := range g.caches {
		cache.Reset()
	}
}

// Paths lists the getter paths in sorted order.
func (g *getters) Paths() []string {
	return g.c.mc.SelectorPaths()
}
