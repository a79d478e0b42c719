// Package filter implements the subgraph selectors (C8): by cache
// name/status, by since-diff, by change set, by module/space. All filters
// narrow a graph's view without mutating its edges.
package filter

import (
	"os/exec"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/gobwas/glob"

	"github.com/Opus10/qik/internal/graph"
	"github.com/Opus10/qik/internal/runctx"
)

// compiledGlobs memoizes pattern -> compiled matcher for the lifetime of a
// run; ClearCache empties it between --watch iterations so a superseded
// graph's patterns never leak forward into the next one, the per-run
// memoization registry's intended use.
var compiledGlobs = runctx.NewPerRun()

// ClearCache empties the compiled-glob memoization registry; the --watch
// loop calls this once per iteration, after a run completes.
func ClearCache() { compiledGlobs.Clear() }

func compileGlob(pattern string) (glob.Glob, bool) {
	v := compiledGlobs.GetOrCompute(pattern, func() any {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil
		}
		return g
	})
	g, ok := v.(glob.Glob)
	return g, ok
}

// Strategy selects which of a node's projections ("since" vs "watch")
// supplies the patterns matched against a change set.
type Strategy string

const (
	StrategySince Strategy = "since"
	StrategyWatch Strategy = "watch"
)

// ByCaches narrows the view to nodes whose cache backend name is in names;
// does not expand to neighbors.
func ByCaches(g *graph.Graph, names []string) {
	want := toSet(names)
	var view []string
	for name, r := range g.Nodes {
		if !g.InView(name) {
			continue
		}
		if want.Contains(strings.ToLower(r.Cache)) {
			view = append(view, name)
		}
	}
	g.SetView(view)
}

// CacheStatus selects warm or cold nodes.
type CacheStatus string

const (
	StatusWarm CacheStatus = "warm"
	StatusCold CacheStatus = "cold"
)

// ByCacheStatus narrows the view to nodes matching the given cache-presence
// status, without restoring artifacts.
func ByCacheStatus(g *graph.Graph, status CacheStatus, fingerprintOf func(name string) (string, error)) {
	var view []string
	for name, r := range g.Nodes {
		if !g.InView(name) {
			continue
		}
		if r.Backend == nil || r.Backend.Type() == "none" {
			continue
		}
		fp, err := fingerprintOf(name)
		if err != nil {
			continue
		}
		entry, _ := r.Backend.Get(r, fp, false)
		warm := entry != nil
		if (status == StatusWarm) == warm {
			view = append(view, name)
		}
	}
	g.SetView(view)
}

// Since computes the set of paths changed between gitSHA and the working
// tree (relative to root), wraps them as Glob deps, and delegates to
// ByChanges, matching the since-diff filter's semantics.
func Since(g *graph.Graph, root, gitSHA string) error {
	changes, err := changedFiles(root, gitSHA)
	if err != nil {
		return err
	}
	ByChanges(g, changes, nil, StrategySince)
	return nil
}

func changedFiles(root, gitSHA string) ([]string, error) {
	cmd := exec.Command("git", "diff", "--name-only", gitSHA, "--", ".")
	cmd.Dir = root
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ByChanges narrows the view to nodes whose effective since/watch pattern
// set matches any changed path or changed pydist name, then expands to the
// upstream ∪ downstream closure of each match.
func ByChanges(g *graph.Graph, changedPaths []string, changedPydists []string, strategy Strategy) {
	matched := mapset.NewSet()

	for name, r := range g.Nodes {
		if !g.InView(name) {
			continue
		}
		coll := r.DepsCollection(g.ByName)
		var patterns []string
		if strategy == StrategySince {
			patterns = coll.Since()
		} else {
			patterns = coll.Watch()
		}

		if matchesAny(patterns, changedPaths) {
			matched.Add(name)
			continue
		}
		for _, pd := range changedPydists {
			for _, p := range coll.Pydists() {
				if p == pd {
					matched.Add(name)
				}
			}
		}
	}

	view := mapset.NewSet()
	for _, v := range matched.ToSlice() {
		name := v.(string)
		view.Add(name)
		for _, up := range g.TransitiveUpstream(name) {
			view.Add(up)
		}
		for _, down := range g.TransitiveDownstream(name) {
			view.Add(down)
		}
	}

	out := make([]string, 0, view.Cardinality())
	for _, v := range view.ToSlice() {
		out = append(out, v.(string))
	}
	g.SetView(out)
}

func matchesAny(patterns, paths []string) bool {
	for _, p := range patterns {
		compiled, ok := compileGlob(p)
		if !ok {
			continue
		}
		for _, path := range paths {
			if compiled.Match(path) {
				return true
			}
		}
	}
	return false
}

// ByModules narrows the view to nodes whose Module is in names.
func ByModules(g *graph.Graph, names []string) {
	want := toSet(names)
	var view []string
	for name, r := range g.Nodes {
		if g.InView(name) && want.Contains(r.Module) {
			view = append(view, name)
		}
	}
	g.SetView(view)
}

// BySpaces narrows the view to nodes whose Space is in names.
func BySpaces(g *graph.Graph, names []string) {
	want := toSet(names)
	var view []string
	for name, r := range g.Nodes {
		if g.InView(name) && want.Contains(r.Space) {
			view = append(view, name)
		}
	}
	g.SetView(view)
}

func toSet(xs []string) mapset.Set {
	s := mapset.NewSet()
	for _, x := range xs {
		s.Add(strings.ToLower(x))
	}
	return s
}
