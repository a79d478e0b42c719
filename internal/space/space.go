// Package space implements the Space concept (supplemented from the
// original implementation's space module): a named grouping of modules plus
// a venv selection, used as a filter axis and for environment resolution.
// Required to implement a runnable's resolved space/venv and
// command.FormatName's space-omission rule.
package space

import (
	"github.com/Opus10/qik/internal/venv"
)

// Space names a group of modules and selects a venv.
type Space struct {
	Name    string
	Modules []string
	Venv    *venv.Env
}

// Registry holds the project's configured spaces.
type Registry struct {
	Spaces map[string]*Space
	// Default is used when a command doesn't declare a space and more than
	// one space is configured (a configuration error in the original; here
	// resolved to an explicit default instead of failing the whole run).
	Default string
}

// NumSpaces reports how many spaces are configured, driving
// command.FormatName's space-omission rule (omit @space when there's only one).
func (r *Registry) NumSpaces() int { return len(r.Spaces) }

// Resolve returns the named space, falling back to the sole configured
// space when name is empty and exactly one space exists.
func (r *Registry) Resolve(name string) (*Space, bool) {
	if name == "" {
		if len(r.Spaces) == 1 {
			for _, s := range r.Spaces {
				return s, true
			}
		}
		if r.Default != "" {
			s, ok := r.Spaces[r.Default]
			return s, ok
		}
		return nil, false
	}
	s, ok := r.Spaces[name]
	return s, ok
}

// Names returns the configured space names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Spaces))
	for n := range r.Spaces {
		names = append(names, n)
	}
	return names
}
