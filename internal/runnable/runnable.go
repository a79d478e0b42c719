// Package runnable implements the executable unit (C3): identity, fingerprint,
// shell/callable execution, and cache policy evaluation.
package runnable

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/hashicorp/go-gatedio"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/hasher"
)

// workerIDKey is the context key the scheduler uses to thread a worker's
// small integer id down into Execute, matching the original ctx.py's
// set_worker_id framed region without storing it goroutine-locally.
type workerIDKey struct{}

// WithWorkerID returns a context carrying the executing worker's id, read
// by Execute to set the WORKER env var for shell-mode runnables.
func WithWorkerID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, workerIDKey{}, id)
}

func workerIDFrom(ctx context.Context) int {
	if v, ok := ctx.Value(workerIDKey{}).(int); ok {
		return v
	}
	return 0
}

// CacheWhen controls when a result is worth persisting.
type CacheWhen string

const (
	CacheSuccess CacheWhen = "success"
	CacheFailed  CacheWhen = "failed"
	CacheFinished CacheWhen = "finished"
)

// CacheEntry is what a cache backend returns on a hit: enough to replay the
// original result without re-executing.
type CacheEntry struct {
	Manifest Manifest
	Log      string
}

// Manifest is the persisted cache record.
type Manifest struct {
	Name      string   `json:"name"`
	Hash      string   `json:"hash"`
	Code      int      `json:"code"`
	Log       string   `json:"log,omitempty"`
	Artifacts []string `json:"artifacts"`
}

// Result is the in-memory, runtime equivalent of a Manifest.
type Result struct {
	Hash string
	Code int
	Log  string
}

// FromCacheEntry builds a Result from a cache hit's manifest.
func FromCacheEntry(e CacheEntry) Result {
	return Result{Hash: e.Manifest.Hash, Code: e.Manifest.Code, Log: e.Log}
}

// Backend is the minimal cache contract a Runnable needs; concrete backends
// live in internal/cache and satisfy this interface.
type Backend interface {
	Type() string
	Get(r *Runnable, fingerprint string, restoreArtifacts bool) (*CacheEntry, error)
	Set(r *Runnable, fingerprint string, result Result) error
}

// Callable is the signature of a registered callback-mode runnable body,
// replacing Python's pkgutil.resolve_name with a static registry.
type Callable func(r *Runnable) (code int, log string)

var callableRegistry = map[string]Callable{}

// RegisterCallable adds a named callback-mode implementation.
func RegisterCallable(name string, fn Callable) { callableRegistry[name] = fn }

// Runnable is one concrete executable unit. Immutable once built.
type Runnable struct {
	Name      string
	Cmd       string
	Val       string // shell string, or a registered callable name
	Shell     bool
	Deps      []dep.Dep
	Artifacts []string
	Module    string
	Space     string
	Cache     string
	CacheWhen CacheWhen
	Args      map[string]string

	// Backend is resolved once per run by the CLI (cmd/qik's
	// resolveRunnables) from Cache by name; nil means "no backend
	// configured" (Uncached).
	Backend Backend

	// ResolveGlobs/ResolvePydists plug in VCS-aware hashing without this
	// package depending on internal/hasher's VCS scope directly.
	ResolveGlobs   func(patterns []string) ([]hasher.PathObjectID, error)
	ResolvePydists func(names []string) ([]hasher.NamedVersion, error)

	// Environ is the base environment that execution inherits, before
	// CMD/RUNNABLE/WORKER are added (the CLI sets it to the process
	// environment).
	Environ []string

	// Logger receives streamed stdout/stderr lines during execution.
	Logger io.Writer
}

// DepsCollection builds this runnable's dependency view, folding in
// artifact globs of transitively-referenced Cmd deps. byName resolves a
// Cmd edge's target name to its Runnable so artifacts can be read; it is
// supplied by the graph builder.
func (r *Runnable) DepsCollection(byName func(name string) *Runnable) dep.Collection {
	var extraGlobs []string
	for _, d := range r.Deps {
		for _, e := range d.Runnables() {
			if target := byName(e.Name); target != nil {
				extraGlobs = append(extraGlobs, target.Artifacts...)
			}
		}
	}
	return dep.Collection{Deps: r.Deps, ExtraGlobs: extraGlobs}
}

// SpecHash hashes the runnable's definition excluding cache-policy fields
// (Cache, CacheWhen), so policy changes alone never invalidate artifacts.
func (r *Runnable) SpecHash() string {
	return hasher.Strs(
		r.Name, r.Cmd, r.Val,
		boolStr(r.Shell),
		strings.Join(r.Artifacts, ","),
		r.Module, r.Space,
		argsStr(r.Args),
	)
}

func boolStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func argsStr(args map[string]string) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(args[k])
		b.WriteString(";")
	}
	return b.String()
}

// Fingerprint is the runnable's full cache key:
// H(spec_hash, consts_hash, vals_hash, globs_hash, pydists_hash) as realized
// through dep.Collection.Hash, combined with SpecHash.
func (r *Runnable) Fingerprint(byName func(name string) *Runnable) (string, error) {
	depsHash, err := r.DepsCollection(byName).Hash(r.resolveGlobs(), r.resolvePydists())
	if err != nil {
		return "", err
	}
	return hasher.Strs(r.SpecHash(), depsHash), nil
}

func (r *Runnable) resolveGlobs() func([]string) ([]hasher.PathObjectID, error) {
	if r.ResolveGlobs != nil {
		return r.ResolveGlobs
	}
	return func([]string) ([]hasher.PathObjectID, error) { return nil, nil }
}

func (r *Runnable) resolvePydists() func([]string) ([]hasher.NamedVersion, error) {
	if r.ResolvePydists != nil {
		return r.ResolvePydists
	}
	return func([]string) ([]hasher.NamedVersion, error) { return nil, nil }
}

// ShouldCache maps an exit code to the cache_when policy.
func (r *Runnable) ShouldCache(code int) bool {
	switch r.CacheWhen {
	case CacheSuccess:
		return code == 0
	case CacheFailed:
		return code != 0
	case CacheFinished:
		return true
	default:
		return code == 0
	}
}

// Error is a RunnableError: a non-fatal, per-runnable failure that surfaces
// as code=1 without aborting the run.
type Error struct {
	Code string // e.g. "LockFileNotFound", "VenvNotFound", "DotEnvNotFound", "DistributionNotFound"
	Msg  string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

// Execute runs the command (shell subprocess or registered callable),
// recovering a panic into a (code=1, log) result rather than propagating it.
func (r *Runnable) Execute(ctx context.Context) Result {
	var code int
	var log string

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				code = 1
				log = fmt.Sprintf("panic: %v", rec)
			}
		}()

		if r.Shell {
			code, log = r.execShell(ctx)
		} else {
			code, log = r.execCallable()
		}
	}()

	return Result{Code: code, Log: log}
}

func (r *Runnable) execCallable() (int, string) {
	fn, ok := callableRegistry[r.Val]
	if !ok {
		return 1, (&Error{Code: "CommandNotFound", Msg: r.Val}).Error()
	}
	return fn(r)
}

func (r *Runnable) execShell(ctx context.Context) (int, string) {
	cmd := exec.CommandContext(ctx, "sh", "-c", r.Val)
	cmd.Env = append(append([]string(nil), r.Environ...),
		"CMD="+r.Cmd,
		"RUNNABLE="+r.Name,
		"WORKER="+strconv.Itoa(workerIDFrom(ctx)),
	)

	// writer is the concurrent-safe sink the captured output is read back
	// from once the command exits; the line-scanning goroutine below writes
	// into it while the logger streams the same lines out in program order.
	writer := gatedio.NewByteBuffer()
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			fmt.Fprintln(writer, line)
			if r.Logger != nil {
				fmt.Fprintln(r.Logger, line)
			}
		}
	}()

	err := cmd.Start()
	if err != nil {
		pw.Close()
		<-done
		return 1, err.Error()
	}
	runErr := cmd.Wait()
	pw.Close()
	<-done

	code := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else {
			code = 1
		}
	}
	return code, writer.String()
}

// StoreDeps builds the {globs, pydists, hash?} record a downstream Load dep
// reads. It only returns the record: nothing is serialized or written to
// disk here.
func (r *Runnable) StoreDeps(globs, pydists []string, hash string) dep.Serialized {
	return dep.Serialized{Globs: globs, Pydists: pydists, Hash: hash}
}

// Description renders the runnable the way it's described in logs.
func (r *Runnable) Description() string {
	if r.Module != "" {
		return fmt.Sprintf("%s#%s", r.Cmd, r.Module)
	}
	return r.Cmd
}
