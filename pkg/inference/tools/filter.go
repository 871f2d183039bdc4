package tools

import (
	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

// FilterRegistry returns a registry holding the tools of reg whose name matches one
// of patterns (glob syntax). Without patterns every tool is kept.
func FilterRegistry(reg Registry, patterns []string) (*InMemoryRegistry, error) {
	ret, err := NewInMemoryRegistry()
	if err != nil {
		return nil, err
	}
	for _, t := range reg.List() {
		name := t.Definition().Name
		keep := len(patterns) == 0
		for _, p := range patterns {
			matching, err := glob.Match(p, name)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid tool pattern %q", p)
			}
			if matching {
				keep = true
				break
			}
		}
		if !keep {
			continue
		}
		if err := ret.Register(t); err != nil {
			return nil, err
		}
	}
	return ret, nil
}
