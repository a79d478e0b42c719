// Package scheduler implements the DAG scheduler (C7): a bounded worker
// pool over a graph view, with ready-set expansion and failure/skip
// propagation.
package scheduler

import (
	"context"
	"sync"

	"github.com/google/chrometracing"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/Opus10/qik/internal/graph"
	"github.com/Opus10/qik/internal/runnable"
)

// Status classifies how a node's run concluded.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusSkipped
)

// NodeResult pairs a runnable's outcome with its scheduling status.
type NodeResult struct {
	Name   string
	Status Status
	Result *runnable.Result // nil when Status == StatusSkipped
}

// Events lets a caller observe start/finish/skip as they happen, for the
// per-run logger lifecycle context").
type Events struct {
	OnStart  func(name string)
	OnFinish func(name string, status Status, result *runnable.Result)

	// Force bypasses every node's cache lookup (still writes a fresh
	// manifest on completion), matching the --force CLI flag: cache
	// presence doesn't change, only whether it's consulted before running.
	Force bool
}

// Run executes every node in g's current view with up to `workers`
// concurrent runnables, propagating skips from failed upstreams downstream.
// Mirrors DAGPool._exec's in_degree/futures loop exactly: a ready node with
// a failed upstream is synthetically skipped rather than submitted; a
// failed node recursively skips its downstream.
func Run(ctx context.Context, g *graph.Graph, workers int, logger hclog.Logger, ev Events) (map[string]NodeResult, error) {
	view := g.View()
	if len(view) == 0 {
		return map[string]NodeResult{}, nil
	}

	inDegree := map[string]int{}
	for _, name := range view {
		inDegree[name] = len(intersect(g.Upstream(name), view))
	}

	downstream := map[string][]string{}
	for _, name := range view {
		for _, up := range g.Upstream(name) {
			if contains(view, up) {
				downstream[up] = append(downstream[up], name)
			}
		}
	}

	results := map[string]NodeResult{}
	var mu sync.Mutex
	failed := map[string]bool{}

	sem := semaphore.NewWeighted(int64(maxInt(workers, 1)))
	var wg sync.WaitGroup
	var merr *multierror.Error
	var merrMu sync.Mutex

	submitted := map[string]bool{}

	numWorkers := maxInt(workers, 1)
	workerIDs := make(chan int, numWorkers)
	for i := 0; i < numWorkers; i++ {
		workerIDs <- i
	}

	var skip func(name string)
	skip = func(name string) {
		mu.Lock()
		if _, done := results[name]; done {
			mu.Unlock()
			return
		}
		delete(inDegree, name)
		failed[name] = true
		results[name] = NodeResult{Name: name, Status: StatusSkipped}
		mu.Unlock()

		if ev.OnFinish != nil {
			ev.OnFinish(name, StatusSkipped, nil)
		}
		for _, next := range downstream[name] {
			skip(next)
		}
	}

	var step func()
	step = func() {
		mu.Lock()
		var ready []string
		for name, deg := range inDegree {
			if deg == 0 && !submitted[name] {
				ready = append(ready, name)
			}
		}
		for _, name := range ready {
			submitted[name] = true
		}
		mu.Unlock()

		for _, name := range ready {
			if anyFailed(g.Upstream(name), failed) {
				skip(name)
				continue
			}

			wg.Add(1)
			if err := sem.Acquire(ctx, 1); err != nil {
				// ctx was cancelled before a permit was granted: no permit
				// was taken, so releasing one in a deferred cleanup would
				// panic ("released more than held"). Skip instead of
				// submitting.
				wg.Done()
				skip(name)
				continue
			}
			go func(name string) {
				defer wg.Done()
				defer sem.Release(1)

				r := g.ByName(name)
				if ev.OnStart != nil {
					ev.OnStart(name)
				}

				result := getOrExecute(ctx, r, g.ByName, ev.Force, workerIDs, &merr, &merrMu, name)

				status := StatusSuccess
				if result.Code != 0 {
					status = StatusFailed
				}

				mu.Lock()
				results[name] = NodeResult{Name: name, Status: status, Result: &result}
				if status == StatusFailed {
					failed[name] = true
				}
				delete(inDegree, name)
				mu.Unlock()

				if ev.OnFinish != nil {
					ev.OnFinish(name, status, &result)
				}

				if status == StatusFailed {
					for _, next := range downstream[name] {
						skip(next)
					}
				} else {
					mu.Lock()
					for _, next := range downstream[name] {
						if _, ok := inDegree[next]; ok {
							inDegree[next]--
						}
					}
					mu.Unlock()
				}
			}(name)
		}
	}

	for len(inDegree) > 0 {
		before := len(inDegree)
		step()
		wg.Wait()
		if len(inDegree) == before {
			// Nothing progressed: remaining nodes form an unreachable
			// residue (shouldn't happen once Validate() passed at build
			// time, but guards against an infinite loop regardless).
			break
		}
	}

	if merr != nil {
		return results, merr.ErrorOrNil()
	}
	return results, nil
}

// getOrExecute realizes the cache protocol around one node's execution:
// compute its fingerprint, consult the backend unless Force is set, and on
// a miss run it (under a worker-id-tagged context so WORKER is set in the
// shell environment) before writing a fresh manifest when the result is
// worth caching.
func getOrExecute(
	ctx context.Context,
	r *runnable.Runnable,
	byName func(string) *runnable.Runnable,
	force bool,
	workerIDs chan int,
	merr **multierror.Error,
	merrMu *sync.Mutex,
	name string,
) runnable.Result {
	fp, fpErr := r.Fingerprint(byName)

	if fpErr == nil && !force && r.Backend != nil {
		if entry, getErr := r.Backend.Get(r, fp, true); getErr == nil && entry != nil {
			return runnable.FromCacheEntry(*entry)
		}
	}

	id := <-workerIDs
	defer func() { workerIDs <- id }()
	workerCtx := runnable.WithWorkerID(ctx, id)

	tracer := chrometracing.Event(name)
	result := func() (res runnable.Result) {
		defer func() {
			if rec := recover(); rec != nil {
				merrMu.Lock()
				*merr = multierror.Append(*merr, panicError{name, rec})
				merrMu.Unlock()
				res = runnable.Result{Code: 1}
			}
		}()
		return r.Execute(workerCtx)
	}()
	tracer.Done()

	if fpErr == nil {
		result.Hash = fp
		if r.Backend != nil && r.ShouldCache(result.Code) {
			_ = r.Backend.Set(r, fp, result)
		}
	}

	return result
}

type panicError struct {
	name string
	rec  interface{}
}

func (e panicError) Error() string {
	return "panic executing " + e.name
}

func intersect(a, b []string) []string {
	set := map[string]bool{}
	for _, x := range b {
		set[x] = true
	}
	var out []string
	for _, x := range a {
		if set[x] {
			out = append(out, x)
		}
	}
	return out
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func anyFailed(names []string, failed map[string]bool) bool {
	for _, n := range names {
		if failed[n] {
			return true
		}
	}
	return false
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ExitCode computes the run's exit code as max(code) across non-skipped
// results.
func ExitCode(results map[string]NodeResult) int {
	code := 0
	for _, r := range results {
		if r.Result != nil && r.Result.Code > code {
			code = r.Result.Code
		}
	}
	return code
}
