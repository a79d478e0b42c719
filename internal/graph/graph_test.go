package graph

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/runnable"
)

func strictEdge(target string) dep.Dep {
	return dep.Cmd{
		Name:   target,
		Strict: true,
		Expand: func(string, map[string]string) ([]string, error) { return []string{target}, nil },
	}
}

func TestBuildLinearChain(t *testing.T) {
	a := &runnable.Runnable{Name: "a"}
	b := &runnable.Runnable{Name: "b", Deps: []dep.Dep{strictEdge("a")}}
	c := &runnable.Runnable{Name: "c", Deps: []dep.Dep{strictEdge("b")}}

	g, err := Build([]*runnable.Runnable{a, b, c})
	assert.NilError(t, err)

	assert.DeepEqual(t, g.Upstream("c"), []string{"b"})
	assert.DeepEqual(t, g.TransitiveUpstream("c"), []string{"a", "b"})
	assert.DeepEqual(t, g.Downstream("a"), []string{"b"})
	assert.DeepEqual(t, g.TransitiveDownstream("a"), []string{"b", "c"})
}

func TestBuildDetectsCycle(t *testing.T) {
	a := &runnable.Runnable{Name: "a", Deps: []dep.Dep{strictEdge("b")}}
	b := &runnable.Runnable{Name: "b", Deps: []dep.Dep{strictEdge("a")}}

	_, err := Build([]*runnable.Runnable{a, b})
	assert.ErrorContains(t, err, "cycle")
}

func TestIsolatedEdgeSkippedWhenTargetNotSelected(t *testing.T) {
	yes := true
	isolated := dep.Cmd{
		Name:     "missing",
		Isolated: &yes,
		Expand:   func(string, map[string]string) ([]string, error) { return []string{"missing"}, nil },
	}
	a := &runnable.Runnable{Name: "a", Deps: []dep.Dep{isolated}}

	g, err := Build([]*runnable.Runnable{a})
	assert.NilError(t, err)
	assert.DeepEqual(t, g.Upstream("a"), []string{})
}

func TestSetViewNarrowsWithoutMutatingEdges(t *testing.T) {
	a := &runnable.Runnable{Name: "a"}
	b := &runnable.Runnable{Name: "b", Deps: []dep.Dep{strictEdge("a")}}

	g, err := Build([]*runnable.Runnable{a, b})
	assert.NilError(t, err)

	g.SetView([]string{"b"})
	assert.Assert(t, g.InView("b"))
	assert.Assert(t, !g.InView("a"))
	assert.DeepEqual(t, g.Upstream("b"), []string{"a"})
}
