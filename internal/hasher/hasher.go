// Package hasher computes the deterministic content digests that back every
// runnable's fingerprint: sorted string sets, raw values, VCS-aware file
// globs, and resolved package/version pairs.
package hasher

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// Strs returns a hex digest of the sorted, concatenated input strings.
func Strs(xs ...string) string {
	sorted := append([]string(nil), xs...)
	sort.Strings(sorted)
	return digest(strings.Join(sorted, ""))
}

// Val returns a hex digest of the input bytes verbatim.
func Val(b []byte) string {
	return digest(string(b))
}

// ValStr is a convenience wrapper around Val for string inputs.
func ValStr(s string) string {
	return digest(s)
}

func digest(s string) string {
	h := xxh3.Hash128([]byte(s))
	return fmt.Sprintf("%016x%016x", h.Hi, h.Lo)
}

// PathObjectID pairs a project-relative path with its content identity
// (a VCS object id, or a zero digest when the underlying file vanished
// between listing and hashing).
type PathObjectID struct {
	Path     string
	ObjectID string
}

// Globs digests a resolved set of (path, objectID) pairs. Callers are
// responsible for resolving patterns to paths and for choosing VCS object
// ids vs. raw content hashes per path (see Scope.ResolveGlobs in vcs.go) —
// Globs itself only canonicalizes ordering and digests.
func Globs(entries []PathObjectID) string {
	sorted := append([]PathObjectID(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var b strings.Builder
	for _, e := range sorted {
		b.WriteString(e.Path)
		b.WriteString(e.ObjectID)
	}
	return digest(b.String())
}

// NamedVersion pairs a package name with its resolved version, as produced
// when hashing pydist dependencies.
type NamedVersion struct {
	Name    string
	Version string
}

// Pydists digests a resolved set of (name, version) pairs.
func Pydists(entries []NamedVersion) string {
	sorted := append([]NamedVersion(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var b strings.Builder
	for _, e := range sorted {
		b.WriteString(e.Name)
		b.WriteString(e.Version)
	}
	return digest(b.String())
}

// ZeroObjectID is substituted for a path that matched a glob pattern at
// listing time but had disappeared from disk by the time its content
// identity was resolved.
const ZeroObjectID = "0000000000000000000000000000000000000000"
