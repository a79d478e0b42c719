// Package runctx implements the run context (C10): explicitly-threaded
// ambient state (current runner/runnable/worker id) and two discrete
// memoization registries, passed explicitly instead of stored in
// goroutine-local state.
package runctx

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Opus10/qik/internal/runnable"
)

// RunContext bundles the run id, current runnable, and worker id as a plain
// value; it is never stored in a package-level or goroutine-local variable.
// The scheduler does not take one: worker ids reach Execute through
// runnable.WithWorkerID on the context.Context.
type RunContext struct {
	RunID    string
	Runnable *runnable.Runnable
	WorkerID int
}

// ForWorker returns a copy of rc scoped to one worker slot.
func (rc RunContext) ForWorker(workerID int) RunContext {
	rc.WorkerID = workerID
	return rc
}

// ForRunnable returns a copy of rc scoped to the runnable currently
// executing on this worker.
func (rc RunContext) ForRunnable(r *runnable.Runnable) RunContext {
	rc.Runnable = r
	return rc
}

// New starts a fresh run context with a correlation id.
func New() RunContext {
	return RunContext{RunID: uuid.NewString()}
}

// PerRun is a memoization registry for per-run values, e.g. compiled filter
// globs. The scheduler does not clear it; a registry is emptied only when
// Clear is called (filter.ClearCache does so after each --watch
// iteration). Kept distinct from Permanent, which survives across runs
// within one process.
type PerRun struct {
	mu    sync.Mutex
	cache map[string]any
}

// NewPerRun constructs an empty per-run registry.
func NewPerRun() *PerRun { return &PerRun{cache: map[string]any{}} }

// GetOrCompute returns the memoized value for key, computing it via fn on
// first access.
func (p *PerRun) GetOrCompute(key string, fn func() any) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache[key]; ok {
		return v
	}
	v := fn()
	p.cache[key] = v
	return v
}

// Clear empties the registry so stale values don't leak across --watch
// iterations.
func (p *PerRun) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = map[string]any{}
}

// Permanent is a process-lifetime memoization registry for config-derived
// values (e.g. parsed venv lockfiles) that don't change within a process.
type Permanent struct {
	mu    sync.Mutex
	cache map[string]any
}

// NewPermanent constructs an empty permanent registry.
func NewPermanent() *Permanent { return &Permanent{cache: map[string]any{}} }

// GetOrCompute returns the memoized value for key, computing it via fn on
// first access; unlike PerRun, values here persist until process exit.
func (p *Permanent) GetOrCompute(key string, fn func() any) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cache[key]; ok {
		return v
	}
	v := fn()
	p.cache[key] = v
	return v
}
