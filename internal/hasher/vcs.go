package hasher

import (
	"bytes"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// Scope is one VCS-tracked directory tree whose files can be resolved to
// object ids cheaply. ResolveGlobs resolves patterns against this one tree
// only; the CLI builds a single Scope at the project root, so no second
// scope (such as a private artifact sub-repo) is hashed separately.
type Scope struct {
	// Root is the absolute path this scope's git commands run from.
	Root string
}

// ResolveGlobs expands patterns against this scope's git index and working
// tree, returning (path, objectID) pairs suitable for hasher.Globs. Patterns
// matched under version control are resolved in O(1) via `git ls-tree`;
// patterns matching dirty or untracked files fall back to `git hash-object`;
// patterns matching files outside any git scope fall back to a plain
// directory walk + content hash.
func (s Scope) ResolveGlobs(patterns []string) ([]PathObjectID, error) {
	patterns = dedupeSorted(patterns)

	tracked, err := s.lsTree(patterns)
	if err != nil {
		return nil, errors.Wrap(err, "git ls-tree")
	}

	dirty, err := s.dirtyPaths()
	if err != nil {
		return nil, errors.Wrap(err, "git status")
	}

	result := make([]PathObjectID, 0, len(tracked))
	seen := map[string]bool{}
	for path, oid := range tracked {
		if dirty[path] {
			oid, err = s.hashObject(path)
			if err != nil {
				oid = ZeroObjectID
			}
		}
		result = append(result, PathObjectID{Path: path, ObjectID: oid})
		seen[path] = true
	}

	// Patterns that matched nothing tracked (untracked files, or a scope
	// with no git repository at all) fall back to a content hash of
	// whatever currently exists on disk.
	for path := range dirty {
		if seen[path] {
			continue
		}
		if !matchesAny(patterns, path) {
			continue
		}
		oid, err := s.hashObject(path)
		if err != nil {
			oid = ZeroObjectID
		}
		result = append(result, PathObjectID{Path: path, ObjectID: oid})
		seen[path] = true
	}

	return result, nil
}

// lsTree resolves every pattern against `git ls-tree -r HEAD` and returns a
// path -> blob-sha map for tracked files.
func (s Scope) lsTree(patterns []string) (map[string]string, error) {
	out, err := s.git("ls-tree", "-r", "--full-tree", "HEAD")
	if err != nil {
		// No commits yet, or not a git repo: fall back to a bare walk.
		return s.walkFallback(patterns)
	}

	result := map[string]string{}
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		// <mode> SP <type> SP <sha>\t<path>
		tab := strings.IndexByte(line, '\t')
		if tab < 0 {
			continue
		}
		meta := strings.Fields(line[:tab])
		if len(meta) != 3 {
			continue
		}
		path := line[tab+1:]
		if matchesAny(patterns, path) {
			result[path] = meta[2]
		}
	}
	return result, nil
}

// dirtyPaths returns the set of paths reported as modified or untracked by
// `git status -z --untracked-files --no-renames`.
func (s Scope) dirtyPaths() (map[string]bool, error) {
	out, err := s.git("status", "-z", "--untracked-files", "--no-renames")
	if err != nil {
		return map[string]bool{}, nil
	}

	dirty := map[string]bool{}
	for _, entry := range strings.Split(out, "\x00") {
		if len(entry) < 4 {
			continue
		}
		dirty[strings.TrimSpace(entry[3:])] = true
	}
	return dirty, nil
}

func (s Scope) hashObject(path string) (string, error) {
	out, err := s.git("hash-object", path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (s Scope) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = s.Root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// walkFallback handles scopes with no git history (or no git at all): it
// walks the tree and content-hashes every file matching a pattern.
func (s Scope) walkFallback(patterns []string) (map[string]string, error) {
	result := map[string]string{}
	err := godirwalk.Walk(s.Root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(s.Root, path)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			if matchesAny(patterns, rel) {
				oid, err := s.hashObject(rel)
				if err != nil {
					oid = ZeroObjectID
				}
				result[rel] = oid
			}
			return nil
		},
		Unsorted: true,
	})
	return result, err
}

func matchesAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, path); ok {
			return true
		}
		if strings.HasPrefix(path, strings.TrimSuffix(p, "**")) && strings.HasSuffix(p, "**") {
			return true
		}
		if ok, _ := filepath.Match(p, filepath.Base(path)); ok {
			return true
		}
	}
	return false
}

func dedupeSorted(xs []string) []string {
	set := map[string]bool{}
	for _, x := range xs {
		set[x] = true
	}
	out := make([]string, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Strings(out)
	return out
}

// ErrDistributionNotFound is returned by pydist resolution when a named
// package cannot be located in the resolved environment and no override is
// configured.
var ErrDistributionNotFound = fmt.Errorf("distribution not found")
