package tools

import (
	"sort"
	"sync"

	"github.com/go-go-golems/fcrunner/pkg/inference/engine"
	"github.com/pkg/errors"
)

// Registry resolves tool names to tools.
type Registry interface {
	Register(tool Tool) error
	Get(name string) (Tool, bool)
	List() []Tool
}

// InMemoryRegistry is a thread-safe in-memory implementation of Registry
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry(tools ...Tool) (*InMemoryRegistry, error) {
	r := &InMemoryRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *InMemoryRegistry) Register(tool Tool) error {
	if tool == nil {
		return errors.New("tool cannot be nil")
	}
	name := tool.Definition().Name
	if name == "" {
		return errors.New("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return errors.Errorf("tool %s is already registered", name)
	}
	r.tools[name] = tool
	return nil
}

// RegisterFunc wraps fn with NewFuncTool and registers it.
func (r *InMemoryRegistry) RegisterFunc(name string, description string, fn interface{}) error {
	t, err := NewFuncTool(name, description, fn)
	if err != nil {
		return errors.Wrapf(err, "could not create tool %s", name)
	}
	return r.Register(t)
}

func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; !exists {
		return errors.Errorf("tool not found: %s", name)
	}
	delete(r.tools, name)
	return nil
}

// List returns the registered tools sorted by name.
func (r *InMemoryRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		ret = append(ret, t)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Definition().Name < ret[j].Definition().Name
	})
	return ret
}

func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Schemas returns the model-facing descriptions of the tools in reg.
func Schemas(reg Registry) []engine.ToolSchema {
	if reg == nil {
		return nil
	}
	list := reg.List()
	ret := make([]engine.ToolSchema, 0, len(list))
	for _, t := range list {
		ret = append(ret, t.Definition().Schema())
	}
	return ret
}
