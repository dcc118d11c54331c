package registry

import (
	"slices"

	"github.com/roach88/modux/internal/model"
)

// ModelContext holds the flat lookup tables compiled from one model's trees
// at registration time, so dispatch never walks a tree.
type ModelContext struct {
	Model *model.Model
	Base  *BaseRegistration
	Index int

	Reducers  map[string]model.Reducer
	Effects   map[string]model.Effect
	Selectors map[string]model.Selector

	actionNames   []string
	selectorPaths []string
}

func compileModel(m *model.Model, base *BaseRegistration, index int, resolve ActionNameResolver) (*ModelContext, error) {
	mc := &ModelContext{
		Model:     m,
		Base:      base,
		Index:     index,
		Reducers:  make(map[string]model.Reducer),
		Effects:   make(map[string]model.Effect),
		Selectors: make(map[string]model.Selector),
	}

	var dup *Error
	model.WalkReducers(m.Reducers(), func(path []string, r model.Reducer) {
		name := resolve(path)
		if _, exists := mc.Reducers[name]; exists && dup == nil {
			dup = newError(CodeDuplicateActionName, base.Namespace,
				"model %s: reducers resolve to %q twice", m, name)
		}
		mc.Reducers[name] = r
	})
	model.WalkEffects(m.Effects(), func(path []string, e model.Effect) {
		name := resolve(path)
		if _, exists := mc.Effects[name]; exists && dup == nil {
			dup = newError(CodeDuplicateActionName, base.Namespace,
				"model %s: effects resolve to %q twice", m, name)
		}
		mc.Effects[name] = e
	})
	if dup != nil {
		return nil, dup
	}

	model.WalkSelectors(m.Selectors(), func(path []string, s model.Selector) {
		p := model.DotPath(path)
		mc.Selectors[p] = s
		mc.selectorPaths = append(mc.selectorPaths, p)
	})

	for name := range mc.Reducers {
		mc.actionNames = append(mc.actionNames, name)
	}
	for name := range mc.Effects {
		if _, both := mc.Reducers[name]; !both {
			mc.actionNames = append(mc.actionNames, name)
		}
	}
	slices.Sort(mc.actionNames)

	return mc, nil
}

// ActionNames lists every action name handled by a reducer or an effect.
func (mc *ModelContext) ActionNames() []string {
	return mc.actionNames
}

// SelectorPaths lists the dot-joined paths of every selector.
func (mc *ModelContext) SelectorPaths() []string {
	return mc.selectorPaths
}

// HasAction reports whether name is handled by a reducer or an effect.
func (mc *ModelContext) HasAction(name string) bool {
	_, r := mc.Reducers[name]
	_, e := mc.Effects[name]
	return r || e
}
