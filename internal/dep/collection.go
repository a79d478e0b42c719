package dep

import (
	"sort"

	mapset "github.com/deckarep/golang-set"

	"github.com/Opus10/qik/internal/hasher"
)

// Collection is a view over a runnable's deps exposing the six aggregate
// projections used to build its fingerprint and to drive filtering.
type Collection struct {
	Deps []Dep

	// ExtraGlobs/ExtraWatch are environment-contributed globs (lock files,
	// .env files, artifact globs folded in from upstream runnables) that
	// aren't represented by an explicit Dep value.
	ExtraGlobs []string
	ExtraWatch []string
}

func (c Collection) set(project func(Dep) []string, extra []string) []string {
	s := mapset.NewSet()
	for _, d := range c.Deps {
		for _, v := range project(d) {
			s.Add(v)
		}
	}
	for _, v := range extra {
		s.Add(v)
	}
	out := make([]string, 0, s.Cardinality())
	for _, v := range s.ToSlice() {
		out = append(out, v.(string))
	}
	sort.Strings(out)
	return out
}

func (c Collection) Globs() []string   { return c.set(Dep.Globs, c.ExtraGlobs) }
func (c Collection) Vals() []string    { return c.set(Dep.Vals, nil) }
func (c Collection) Pydists() []string { return c.set(Dep.Pydists, nil) }
func (c Collection) Watch() []string   { return c.set(Dep.Watch, c.ExtraWatch) }
func (c Collection) Since() []string   { return c.set(Dep.Since, nil) }

// Runnables returns the union of Cmd-dep edges keyed by target name; later
// entries win on conflicting strict/isolated flags, matching last-decl-wins
// config semantics.
func (c Collection) Runnables() map[string]Edge {
	out := map[string]Edge{}
	for _, d := range c.Deps {
		for _, e := range d.Runnables() {
			out[e.Name] = e
		}
	}
	return out
}

// Hash combines the four constituent hashes into one dep-collection digest.
// Consts are hashed separately from other vals, then combined:
//
//	H(consts_hash, hash_vals(), hash_globs(), hash_pydists())
//
// resolveGlobs/resolvePydists let the caller plug in the VCS-aware glob
// resolution (internal/hasher.Scope) and pydist version resolution without
// this package importing them directly.
func (c Collection) Hash(
	resolveGlobs func(patterns []string) ([]hasher.PathObjectID, error),
	resolvePydists func(names []string) ([]hasher.NamedVersion, error),
) (string, error) {
	var consts []string
	for _, d := range c.Deps {
		if cd, ok := d.(Const); ok {
			consts = append(consts, cd.Val)
		}
	}
	constsHash := hasher.Strs(consts...)

	valsHash := hasher.Strs(c.Vals()...)

	globEntries, err := resolveGlobs(c.Globs())
	if err != nil {
		return "", err
	}
	globsHash := hasher.Globs(globEntries)

	var pydistsHash string
	if pydists := c.Pydists(); len(pydists) > 0 {
		resolved, err := resolvePydists(pydists)
		if err != nil {
			return "", err
		}
		pydistsHash = hasher.Pydists(resolved)
	} else {
		pydistsHash = hasher.Strs()
	}

	return hasher.Strs(constsHash, valsHash, globsHash, pydistsHash), nil
}
