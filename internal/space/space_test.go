package space

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestResolveFallsBackToSoleSpace(t *testing.T) {
	r := &Registry{Spaces: map[string]*Space{"js": {Name: "js"}}}
	s, ok := r.Resolve("")
	assert.Assert(t, ok)
	assert.Equal(t, s.Name, "js")
}

func TestResolveUsesDefaultWhenAmbiguous(t *testing.T) {
	r := &Registry{
		Spaces:  map[string]*Space{"js": {Name: "js"}, "py": {Name: "py"}},
		Default: "py",
	}
	s, ok := r.Resolve("")
	assert.Assert(t, ok)
	assert.Equal(t, s.Name, "py")
}

func TestResolveByExplicitName(t *testing.T) {
	r := &Registry{Spaces: map[string]*Space{"js": {Name: "js"}, "py": {Name: "py"}}}
	s, ok := r.Resolve("py")
	assert.Assert(t, ok)
	assert.Equal(t, s.Name, "py")
}

func TestNumSpaces(t *testing.T) {
	r := &Registry{Spaces: map[string]*Space{"js": {}, "py": {}}}
	assert.Equal(t, r.NumSpaces(), 2)
}
