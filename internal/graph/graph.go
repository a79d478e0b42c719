// Package graph builds the runnable dependency graph (C6): transitive
// upstream/downstream edges with strict/isolated semantics and cycle
// detection.
package graph

import (
	"sort"

	mapset "github.com/deckarep/golang-set"
	"github.com/pyr-sh/dag"

	"github.com/Opus10/qik/internal/runnable"
)

// Graph is the set of runnable nodes plus two adjacency maps, with an
// optional narrowing view.
type Graph struct {
	Nodes map[string]*runnable.Runnable

	upstream   map[string]mapset.Set
	downstream map[string]mapset.Set

	// view restricts which node names are considered "in" the graph for
	// iteration/filtering purposes; nil means "all nodes".
	view mapset.Set

	dagGraph *dag.AcyclicGraph
}

// DefaultIsolated is the run's fallback isolation policy, used when a Cmd
// dep's Isolated field is nil.
var DefaultIsolated = false

// Build constructs the graph from a seed set of selected runnables,
// following each runnable's Runnables() projection transitively. A strict dep additionally contributes a downstream edge from the
// target back to the dependent, so the target's failure can cascade a skip
// forward.
func Build(seed []*runnable.Runnable) (*Graph, error) {
	g := &Graph{
		Nodes:      map[string]*runnable.Runnable{},
		upstream:   map[string]mapset.Set{},
		downstream: map[string]mapset.Set{},
		dagGraph:   &dag.AcyclicGraph{},
	}

	for _, r := range seed {
		g.Nodes[r.Name] = r
	}

	byName := func(name string) *runnable.Runnable { return g.Nodes[name] }

	var visit func(r *runnable.Runnable, seen map[string]bool) error
	visit = func(r *runnable.Runnable, seen map[string]bool) error {
		if seen[r.Name] {
			return nil
		}
		seen[r.Name] = true
		g.ensureSets(r.Name)
		g.dagGraph.Add(r.Name)

		coll := r.DepsCollection(byName)
		for _, edge := range coll.Runnables() {
			target, ok := g.Nodes[edge.Name]
			isolated := DefaultIsolated
			if edge.Isolated != nil {
				isolated = *edge.Isolated
			}
			if isolated && !ok {
				continue
			}
			if !ok {
				// The edge references a runnable outside the seed set and
				// isn't isolated: the command factory is expected to have
				// resolved it already. Skip defensively rather than panic.
				continue
			}

			g.ensureSets(target.Name)
			g.dagGraph.Add(target.Name)
			g.dagGraph.Connect(dag.BasicEdge(r.Name, target.Name))
			g.upstream[r.Name].Add(target.Name)

			if edge.Strict {
				g.downstream[target.Name].Add(r.Name)
			}

			if err := visit(target, seen); err != nil {
				return err
			}
		}
		return nil
	}

	for _, r := range seed {
		if err := visit(r, map[string]bool{}); err != nil {
			return nil, err
		}
	}

	if err := g.dagGraph.Validate(); err != nil {
		return nil, &CycleError{Err: err}
	}

	return g, nil
}

func (g *Graph) ensureSets(name string) {
	if _, ok := g.upstream[name]; !ok {
		g.upstream[name] = mapset.NewSet()
	}
	if _, ok := g.downstream[name]; !ok {
		g.downstream[name] = mapset.NewSet()
	}
}

// CycleError reports a cycle detected while validating the DAG.
type CycleError struct{ Err error }

func (e *CycleError) Error() string { return "dependency cycle detected: " + e.Err.Error() }

// Upstream returns the direct upstream neighbor names of node.
func (g *Graph) Upstream(name string) []string { return toSlice(g.upstream[name]) }

// Downstream returns the direct downstream (strict-dep) neighbor names of node.
func (g *Graph) Downstream(name string) []string { return toSlice(g.downstream[name]) }

// TransitiveUpstream computes the full upstream closure via DFS.
func (g *Graph) TransitiveUpstream(name string) []string { return g.dfs(name, g.upstream) }

// TransitiveDownstream computes the full downstream closure via DFS.
func (g *Graph) TransitiveDownstream(name string) []string { return g.dfs(name, g.downstream) }

func (g *Graph) dfs(start string, adj map[string]mapset.Set) []string {
	seen := mapset.NewSet()
	var walk func(string)
	walk = func(n string) {
		for _, next := range toSlice(adj[n]) {
			if !seen.Contains(next) {
				seen.Add(next)
				walk(next)
			}
		}
	}
	walk(start)
	return toSlice(seen)
}

func toSlice(s mapset.Set) []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, s.Cardinality())
	for _, v := range s.ToSlice() {
		out = append(out, v.(string))
	}
	sort.Strings(out)
	return out
}

// View returns the names currently in scope; nil view means every node.
func (g *Graph) View() []string {
	if g.view == nil {
		names := make([]string, 0, len(g.Nodes))
		for n := range g.Nodes {
			names = append(names, n)
		}
		return names
	}
	return toSlice(g.view)
}

// SetView narrows the graph's view to exactly these names, without
// mutating any adjacency.
func (g *Graph) SetView(names []string) {
	s := mapset.NewSet()
	for _, n := range names {
		s.Add(n)
	}
	g.view = s
}

// InView reports whether name is within the current view.
func (g *Graph) InView(name string) bool {
	if g.view == nil {
		return true
	}
	return g.view.Contains(name)
}

// ByName resolves a runnable by name, ignoring the current view (used for
// dep-collection/artifact-folding lookups that must see the whole node set).
func (g *Graph) ByName(name string) *runnable.Runnable { return g.Nodes[name] }
