package runnable

import (
	"context"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/dep"
)

func byNameNoop(string) *Runnable { return nil }

func TestSpecHashIgnoresCacheFields(t *testing.T) {
	a := &Runnable{Name: "x", Val: "echo hi", Cache: "local", CacheWhen: CacheSuccess}
	b := &Runnable{Name: "x", Val: "echo hi", Cache: "remote", CacheWhen: CacheFinished}
	assert.Equal(t, a.SpecHash(), b.SpecHash())
}

func TestSpecHashSensitiveToVal(t *testing.T) {
	a := &Runnable{Name: "x", Val: "echo hi"}
	b := &Runnable{Name: "x", Val: "echo bye"}
	assert.Assert(t, a.SpecHash() != b.SpecHash())
}

func TestFingerprintDeterministic(t *testing.T) {
	r := &Runnable{Name: "x", Val: "echo hi", Deps: []dep.Dep{dep.Const{Val: "1.0"}}}
	h1, err := r.Fingerprint(byNameNoop)
	assert.NilError(t, err)
	h2, err := r.Fingerprint(byNameNoop)
	assert.NilError(t, err)
	assert.Equal(t, h1, h2)
}

func TestShouldCachePolicies(t *testing.T) {
	success := &Runnable{CacheWhen: CacheSuccess}
	assert.Assert(t, success.ShouldCache(0))
	assert.Assert(t, !success.ShouldCache(1))

	failed := &Runnable{CacheWhen: CacheFailed}
	assert.Assert(t, !failed.ShouldCache(0))
	assert.Assert(t, failed.ShouldCache(1))

	finished := &Runnable{CacheWhen: CacheFinished}
	assert.Assert(t, finished.ShouldCache(0))
	assert.Assert(t, finished.ShouldCache(7))
}

func TestExecuteShell(t *testing.T) {
	r := &Runnable{Name: "x", Cmd: "x", Val: "echo hello", Shell: true}
	result := r.Execute(context.Background())
	assert.Equal(t, result.Code, 0)
	assert.Assert(t, len(result.Log) > 0)
}

func TestExecuteShellNonZeroExit(t *testing.T) {
	r := &Runnable{Name: "x", Cmd: "x", Val: "exit 3", Shell: true}
	result := r.Execute(context.Background())
	assert.Equal(t, result.Code, 3)
}

func TestExecuteCallableNotFound(t *testing.T) {
	r := &Runnable{Name: "x", Val: "does-not-exist", Shell: false}
	result := r.Execute(context.Background())
	assert.Equal(t, result.Code, 1)
}

func TestExecuteRegisteredCallable(t *testing.T) {
	RegisterCallable("test-callable-ok", func(r *Runnable) (int, string) {
		return 0, "ran " + r.Name
	})
	r := &Runnable{Name: "x", Val: "test-callable-ok", Shell: false}
	result := r.Execute(context.Background())
	assert.Equal(t, result.Code, 0)
	assert.Equal(t, result.Log, "ran x")
}

func TestDescriptionIncludesModule(t *testing.T) {
	r := &Runnable{Cmd: "build", Module: "apps/web"}
	assert.Equal(t, r.Description(), "build#apps/web")
}

func TestDescriptionWithoutModule(t *testing.T) {
	r := &Runnable{Cmd: "build"}
	assert.Equal(t, r.Description(), "build")
}
