package dep

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/hasher"
)

func noGlobResolver(patterns []string) ([]hasher.PathObjectID, error) {
	out := make([]hasher.PathObjectID, len(patterns))
	for i, p := range patterns {
		out[i] = hasher.PathObjectID{Path: p, ObjectID: "deadbeef"}
	}
	return out, nil
}

func noPydistResolver(names []string) ([]hasher.NamedVersion, error) {
	out := make([]hasher.NamedVersion, len(names))
	for i, n := range names {
		out[i] = hasher.NamedVersion{Name: n, Version: "1.0.0"}
	}
	return out, nil
}

func TestCollectionGlobsDeduped(t *testing.T) {
	c := Collection{Deps: []Dep{Glob{Pattern: "a.go"}, Glob{Pattern: "a.go"}, Glob{Pattern: "b.go"}}}
	assert.DeepEqual(t, c.Globs(), []string{"a.go", "b.go"})
}

func TestCollectionExtraGlobsFolded(t *testing.T) {
	c := Collection{Deps: []Dep{Glob{Pattern: "a.go"}}, ExtraGlobs: []string{"generated.go"}}
	assert.DeepEqual(t, c.Globs(), []string{"a.go", "generated.go"})
}

func TestCollectionHashStableAcrossDepOrder(t *testing.T) {
	c1 := Collection{Deps: []Dep{Glob{Pattern: "a.go"}, Const{Val: "x"}}}
	c2 := Collection{Deps: []Dep{Const{Val: "x"}, Glob{Pattern: "a.go"}}}

	h1, err := c1.Hash(noGlobResolver, noPydistResolver)
	assert.NilError(t, err)
	h2, err := c2.Hash(noGlobResolver, noPydistResolver)
	assert.NilError(t, err)
	assert.Equal(t, h1, h2)
}

func TestCollectionHashChangesWithConstValue(t *testing.T) {
	c1 := Collection{Deps: []Dep{Const{Val: "x"}}}
	c2 := Collection{Deps: []Dep{Const{Val: "y"}}}

	h1, err := c1.Hash(noGlobResolver, noPydistResolver)
	assert.NilError(t, err)
	h2, err := c2.Hash(noGlobResolver, noPydistResolver)
	assert.NilError(t, err)
	assert.Assert(t, h1 != h2)
}

func TestCollectionRunnablesLastDeclWins(t *testing.T) {
	c := Collection{Deps: []Dep{
		Cmd{Name: "build", Strict: false, Expand: func(string, map[string]string) ([]string, error) { return []string{"build"}, nil }},
		Cmd{Name: "build", Strict: true, Expand: func(string, map[string]string) ([]string, error) { return []string{"build"}, nil }},
	}}
	edges := c.Runnables()
	assert.Equal(t, len(edges), 1)
	assert.Assert(t, edges["build"].Strict)
}
