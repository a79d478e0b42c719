package scheduler

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/graph"
	"github.com/Opus10/qik/internal/runnable"
)

func strictEdge(target string) dep.Dep {
	return dep.Cmd{
		Name:   target,
		Strict: true,
		Expand: func(string, map[string]string) ([]string, error) { return []string{target}, nil },
	}
}

func TestRunExecutesEveryNode(t *testing.T) {
	a := &runnable.Runnable{Name: "a", Val: "true", Shell: true}
	b := &runnable.Runnable{Name: "b", Val: "true", Shell: true, Deps: []dep.Dep{strictEdge("a")}}

	g, err := graph.Build([]*runnable.Runnable{a, b})
	assert.NilError(t, err)

	results, err := Run(context.Background(), g, 2, hclog.NewNullLogger(), Events{})
	assert.NilError(t, err)
	assert.Equal(t, len(results), 2)
	assert.Equal(t, results["a"].Status, StatusSuccess)
	assert.Equal(t, results["b"].Status, StatusSuccess)
}

func TestRunSkipsDownstreamOfFailure(t *testing.T) {
	a := &runnable.Runnable{Name: "a", Val: "exit 1", Shell: true}
	b := &runnable.Runnable{Name: "b", Val: "true", Shell: true, Deps: []dep.Dep{strictEdge("a")}}

	g, err := graph.Build([]*runnable.Runnable{a, b})
	assert.NilError(t, err)

	results, err := Run(context.Background(), g, 2, hclog.NewNullLogger(), Events{})
	assert.NilError(t, err)
	assert.Equal(t, results["a"].Status, StatusFailed)
	assert.Equal(t, results["b"].Status, StatusSkipped)
}

func TestExitCodeMaxAcrossResults(t *testing.T) {
	results := map[string]NodeResult{
		"a": {Name: "a", Status: StatusSuccess, Result: &runnable.Result{Code: 0}},
		"b": {Name: "b", Status: StatusFailed, Result: &runnable.Result{Code: 2}},
		"c": {Name: "c", Status: StatusSkipped},
	}
	assert.Equal(t, ExitCode(results), 2)
}

func TestRunEmptyViewReturnsEmpty(t *testing.T) {
	g, err := graph.Build(nil)
	assert.NilError(t, err)

	results, err := Run(context.Background(), g, 1, hclog.NewNullLogger(), Events{})
	assert.NilError(t, err)
	assert.Equal(t, len(results), 0)
}
