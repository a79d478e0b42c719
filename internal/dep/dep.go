// Package dep implements the tagged dependency variants (Glob, Const, Val,
// Pydist, Cmd, Load) that feed a runnable's fingerprint, plus the registry
// plugins use to add their own variants.
package dep

import (
	"regexp"
	"strings"
)

// Edge describes a Cmd dependency's expansion into another runnable: the
// target runnable's name, and whether the edge is strict (failure cascades
// downstream) or isolated (suppressed unless the target is separately
// selected).
type Edge struct {
	Name     string
	Strict   bool
	Isolated *bool // nil means "inherit the run's default isolation policy"
}

// Dep is the interface every dependency variant implements. Each variant
// contributes to a subset of the six projections; unused projections return
// nil/empty.
type Dep interface {
	// Globs are file patterns this dep contributes to the glob hash.
	Globs() []string
	// Vals are resolved literal values this dep contributes to the val hash.
	Vals() []string
	// Pydists are package names this dep contributes to the pydist hash.
	Pydists() []string
	// Runnables are the named runnable edges a Cmd dep expands to.
	Runnables() []Edge
	// Watch is the glob set the filesystem watcher subscribes to for this dep.
	Watch() []string
	// Since is the glob set used by `--since <sha>` diff filtering.
	Since() []string
	// String renders the dep the way it appears in logs/config errors.
	String() string
}

// Glob is a plain file-pattern dependency. watch == since == {pattern}.
type Glob struct {
	Pattern string
}

func (g Glob) Globs() []string     { return []string{g.Pattern} }
func (g Glob) Vals() []string      { return nil }
func (g Glob) Pydists() []string   { return nil }
func (g Glob) Runnables() []Edge   { return nil }
func (g Glob) Watch() []string     { return []string{g.Pattern} }
func (g Glob) Since() []string     { return []string{g.Pattern} }
func (g Glob) String() string      { return g.Pattern }

// Const is a literal string folded directly into the val hash; its since
// default is the project's root config file, since the value is assumed to
// originate there.
type Const struct {
	Val            string
	RootConfigGlob string // e.g. "*"
}

func (c Const) Globs() []string   { return nil }
func (c Const) Vals() []string    { return []string{c.Val} }
func (c Const) Pydists() []string { return nil }
func (c Const) Runnables() []Edge { return nil }

// Watch is empty: a literal value has no filesystem location for the
// watcher to observe, unlike since's assumption that it originates in the
// root config file.
func (c Const) Watch() []string { return nil }

func (c Const) Since() []string {
	if c.RootConfigGlob == "" {
		return []string{"*qik.toml"}
	}
	return []string{c.RootConfigGlob}
}
func (c Const) String() string { return c.Val }

// Val reads a resolved value out of a file (e.g. a key from a dotenv or
// JSON file); Resolver supplies the actual lookup since it depends on file
// format plugins the core doesn't own.
type Val struct {
	Key      string
	File     string
	Resolver func(key, file string) (string, error)
}

func (v Val) Globs() []string   { return nil }
func (v Val) Pydists() []string { return nil }
func (v Val) Runnables() []Edge { return nil }
func (v Val) Watch() []string   { return []string{v.File} }
func (v Val) Since() []string   { return []string{v.File} }
func (v Val) String() string    { return v.File + "#" + v.Key }

func (v Val) Vals() []string {
	if v.Resolver == nil {
		return nil
	}
	resolved, err := v.Resolver(v.Key, v.File)
	if err != nil {
		return nil
	}
	return []string{resolved}
}

// Pydist depends on a named Python package's resolved version. Its since
// set depends on the venv's lock file, supplied by the caller via
// LockGlobs since the core doesn't own venv/lock file resolution.
type Pydist struct {
	Name      string
	LockGlobs []string
}

var distNameRe = regexp.MustCompile(`[^a-z0-9]+`)

// NormalizeName canonicalizes a pydist name per PEP 503, matching
// `_normalize_pydist_name`'s `re.sub(r"[^a-z0-9]+", "-", pydist.lower().strip())`
// exactly, so equal packages hash identically regardless of how they were
// spelled in config.
func NormalizeName(name string) string {
	lowered := strings.ToLower(strings.TrimSpace(name))
	return distNameRe.ReplaceAllString(lowered, "-")
}

func (p Pydist) Globs() []string   { return nil }
func (p Pydist) Vals() []string    { return nil }
func (p Pydist) Pydists() []string { return []string{NormalizeName(p.Name)} }
func (p Pydist) Runnables() []Edge { return nil }
func (p Pydist) Watch() []string   { return p.LockGlobs }
func (p Pydist) Since() []string   { return p.LockGlobs }
func (p Pydist) String() string    { return NormalizeName(p.Name) }

// Cmd depends on the runnables produced by another command declaration.
// Strict means the dependent is skipped when this dep fails; Isolated means
// the edge is suppressed when the target isn't already selected.
type Cmd struct {
	Name     string
	Strict   bool
	Isolated *bool
	Args     map[string]string
	// Expand resolves Name (+Args) to the concrete runnable names it
	// expands to, via the command factory (C5). Supplied by the caller to
	// avoid an import cycle between dep and command.
	Expand func(name string, args map[string]string) ([]string, error)
}

func (c Cmd) Globs() []string   { return nil }
func (c Cmd) Vals() []string    { return nil }
func (c Cmd) Pydists() []string { return nil }
func (c Cmd) Watch() []string   { return nil }
func (c Cmd) Since() []string   { return nil }
func (c Cmd) String() string    { return c.Name }

func (c Cmd) Runnables() []Edge {
	if c.Expand == nil {
		return nil
	}
	names, err := c.Expand(c.Name, c.Args)
	if err != nil {
		return nil
	}
	edges := make([]Edge, 0, len(names))
	for _, n := range names {
		edges = append(edges, Edge{Name: n, Strict: c.Strict, Isolated: c.Isolated})
	}
	return edges
}

// Load sources a {globs, pydists, hash?} record produced by another
// runnable (via Runnable.StoreDeps); when the file doesn't exist yet, it
// falls back to Default globs.
type Load struct {
	Path    string
	Default []string
	// Loaded is populated by the caller after attempting to read Path; nil
	// means the file was absent (or unreadable), triggering Default.
	Loaded *Serialized
}

// Serialized is the record a Load dep reads (and a producing runnable
// writes via StoreDeps).
type Serialized struct {
	Globs   []string `json:"globs"`
	Pydists []string `json:"pydists"`
	Hash    string   `json:"hash,omitempty"`
}

func (l Load) Globs() []string {
	if l.Loaded != nil {
		return l.Loaded.Globs
	}
	return l.Default
}

func (l Load) Vals() []string    { return nil }
func (l Load) Runnables() []Edge { return nil }
func (l Load) Watch() []string   { return l.Globs() }
func (l Load) Since() []string   { return l.Globs() }
func (l Load) String() string    { return l.Path }

func (l Load) Pydists() []string {
	if l.Loaded != nil {
		return l.Loaded.Pydists
	}
	return nil
}
