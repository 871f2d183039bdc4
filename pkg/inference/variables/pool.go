package variables

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-go-golems/fcrunner/pkg/inference/files"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Kind string

const KindFile Kind = "file"

// Variable is a value a tool produced during a run and that later tool calls can
// refer to by name.
type Variable struct {
	ToolName  string    `json:"tool_name"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

type key struct {
	tool string
	name string
}

// Store persists the variables of a scope (usually a conversation).
type Store interface {
	Load(ctx context.Context, scope string) ([]Variable, error)
	Save(ctx context.Context, scope string, vars []Variable) error
}

// Pool holds the variables bound during a run. Bindings stay in memory until Flush
// writes them to the backing store.
type Pool struct {
	mu    sync.Mutex
	scope string
	store Store
	vars  map[key]Variable
	dirty bool
	now   func() time.Time
}

// NewPool creates a pool for scope. store may be nil, in which case Flush is a no-op.
func NewPool(scope string, store Store) *Pool {
	return &Pool{
		scope: scope,
		store: store,
		vars:  map[key]Variable{},
		now:   time.Now,
	}
}

func (p *Pool) Scope() string {
	return p.scope
}

// Load replaces the in-memory bindings with the ones persisted for the pool's scope.
func (p *Pool) Load(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	vars, err := p.store.Load(ctx, p.scope)
	if err != nil {
		return errors.Wrapf(err, "could not load variables for %s", p.scope)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vars = make(map[key]Variable, len(vars))
	for _, v := range vars {
		p.vars[key{v.ToolName, v.Name}] = v
	}
	p.dirty = false
	return nil
}

// SetFile binds the file handle produced by toolName under name. An empty name binds
// the handle under the tool's name.
func (p *Pool) SetFile(toolName string, name string, handle files.Handle) error {
	if toolName == "" {
		return errors.New("tool name is required")
	}
	if handle.ID == "" {
		return errors.New("file handle has no id")
	}
	if name == "" {
		name = toolName
	}
	p.set(Variable{ToolName: toolName, Name: name, Kind: KindFile, Value: handle.ID})
	return nil
}

func (p *Pool) set(v Variable) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v.UpdatedAt = p.now()
	p.vars[key{v.ToolName, v.Name}] = v
	p.dirty = true
	log.Debug().Str("tool", v.ToolName).Str("name", v.Name).Str("kind", string(v.Kind)).Msg("variables: bound")
}

func (p *Pool) Get(toolName string, name string) (Variable, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.vars[key{toolName, name}]
	return v, ok
}

// List returns all bindings ordered by tool and name.
func (p *Pool) List() []Variable {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listLocked()
}

func (p *Pool) listLocked() []Variable {
	ret := make([]Variable, 0, len(p.vars))
	for _, v := range p.vars {
		ret = append(ret, v)
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].ToolName != ret[j].ToolName {
			return ret[i].ToolName < ret[j].ToolName
		}
		return ret[i].Name < ret[j].Name
	})
	return ret
}

// Flush persists the bindings if anything changed since the last load or flush.
func (p *Pool) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.store == nil || !p.dirty {
		return nil
	}
	vars := p.listLocked()
	if err := p.store.Save(ctx, p.scope, vars); err != nil {
		return errors.Wrapf(err, "could not save variables for %s", p.scope)
	}
	p.dirty = false
	log.Debug().Str("scope", p.scope).Int("count", len(vars)).Msg("variables: flushed")
	return nil
}
