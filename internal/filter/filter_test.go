package filter

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/graph"
	"github.com/Opus10/qik/internal/runnable"
)

func buildTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	a := &runnable.Runnable{Name: "a", Module: "apps/web", Space: "js"}
	b := &runnable.Runnable{Name: "b", Module: "apps/api", Space: "py"}
	g, err := graph.Build([]*runnable.Runnable{a, b})
	assert.NilError(t, err)
	return g
}

func TestByModulesNarrowsView(t *testing.T) {
	g := buildTestGraph(t)
	ByModules(g, []string{"apps/web"})
	assert.DeepEqual(t, g.View(), []string{"a"})
}

func TestBySpacesNarrowsView(t *testing.T) {
	g := buildTestGraph(t)
	BySpaces(g, []string{"py"})
	assert.DeepEqual(t, g.View(), []string{"b"})
}

func TestByChangesMatchesGlobAndExpandsClosure(t *testing.T) {
	a := &runnable.Runnable{Name: "a", Deps: []dep.Dep{dep.Glob{Pattern: "src/**/*.go"}}}
	b := &runnable.Runnable{
		Name: "b",
		Deps: []dep.Dep{dep.Cmd{
			Name:   "a",
			Strict: true,
			Expand: func(string, map[string]string) ([]string, error) { return []string{"a"}, nil },
		}},
	}
	g, err := graph.Build([]*runnable.Runnable{a, b})
	assert.NilError(t, err)

	ByChanges(g, []string{"src/pkg/file.go"}, nil, StrategyWatch)

	view := g.View()
	assert.Equal(t, len(view), 2)
}

func TestByChangesNoMatchEmptiesView(t *testing.T) {
	a := &runnable.Runnable{Name: "a", Deps: []dep.Dep{dep.Glob{Pattern: "src/**/*.go"}}}
	g, err := graph.Build([]*runnable.Runnable{a})
	assert.NilError(t, err)

	ByChanges(g, []string{"docs/readme.md"}, nil, StrategyWatch)
	assert.Equal(t, len(g.View()), 0)
}

func TestByCachesFiltersByBackendName(t *testing.T) {
	g := buildTestGraph(t)
	ByCaches(g, []string{"local"})
	assert.Equal(t, len(g.View()), 0)
}
