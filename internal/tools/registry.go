package tools

import (
	"sort"
	"sync"

	"fathom/internal/logging"
)

// Registry holds the tools available to a run. It is safe for concurrent
// use; the loop reads while builtin packages register at startup.
type Registry struct {
	mu         sync.RWMutex
	byName     map[string]*Tool
	order      []*Tool
	byCategory map[string][]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]*Tool),
		byCategory: make(map[string][]*Tool),
	}
}

// Register adds a tool. Re-registering a name replaces the previous tool;
// last registration wins and the replacement is logged. A tool that
// violates the contract is rejected.
func (r *Registry) Register(tool *Tool) error {
	if err := tool.Validate(); err != nil {
		return Failf(ErrCodeExecutionFailed, "cannot register: %v", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, exists := r.byName[tool.Name]; exists {
		logging.Tools("replacing registered tool %q (category %s -> %s)",
			tool.Name, prev.Category, tool.Category)
		r.removeFromCategory(prev)
		for i, t := range r.order {
			if t.Name == tool.Name {
				r.order[i] = tool
				break
			}
		}
	} else {
		r.order = append(r.order, tool)
	}
	r.byName[tool.Name] = tool
	r.byCategory[tool.Category] = append(r.byCategory[tool.Category], tool)
	logging.ToolsDebug("registered tool %q in category %q", tool.Name, tool.Category)
	return nil
}

func (r *Registry) removeFromCategory(tool *Tool) {
	list := r.byCategory[tool.Category]
	for i, t := range list {
		if t.Name == tool.Name {
			r.byCategory[tool.Category] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// MustRegister registers or panics. For static builtin tools whose
// constructors are known correct; a failure here is a bug.
func (r *Registry) MustRegister(tool *Tool) {
	if err := r.Register(tool); err != nil {
		panic(err)
	}
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// List returns all tools in registration order. A replacement keeps
// the slot of the tool it shadowed, so the declaration order the model
// sees is stable across re-registrations.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, len(r.order))
	copy(out, r.order)
	return out
}

// ListByCategory returns the tools in one category, sorted by name.
func (r *Registry) ListByCategory(category string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, len(r.byCategory[category]))
	copy(out, r.byCategory[category])
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Count reports how many tools are registered.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}
