// Package venv resolves a virtual environment's package versions and
// contributed environment/globs. Grounded on the original implementation's
// venv module: a supplemented concept, referenced throughout the runnable's
// resolved venv/environ handling and required to implement pydist hashing
// and space resolution.
package venv

import (
	"fmt"
	"os"
	"sync"

	"github.com/Masterminds/semver"
	"github.com/iseki0/go-yarnlock"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/hasher"
)

// Env is a resolved virtual environment: a directory root, a lock file
// location, and the name->version map parsed from it.
type Env struct {
	Dir      string
	LockPath string

	mu       sync.Mutex
	versions map[string]string
}

// Version resolves a package name to its installed version, matching
// resolving a package name to its installed version. Returns ErrDistributionNotFound
// when the package isn't present and no override is configured.
func (e *Env) Version(name string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.versions == nil {
		if err := e.load(); err != nil {
			return "", err
		}
	}

	v, ok := e.versions[dep.NormalizeName(name)]
	if !ok {
		return "", hasher.ErrDistributionNotFound
	}
	return v, nil
}

// load parses the lock file (yarn-lock-shaped, for JS-ecosystem venvs; a
// pure-Python venv would plug in a pip-freeze-shaped parser instead, the
// project's venv plugin choosing which). Uses go-yarnlock to parse a
// yarn.lock-formatted lock file into name/version pairs.
func (e *Env) load() error {
	e.versions = map[string]string{}
	if e.LockPath == "" {
		return nil
	}

	contents, err := os.ReadFile(e.LockPath)
	if err != nil {
		return fmt.Errorf("reading lockfile %s: %w", e.LockPath, err)
	}

	lock, err := yarnlock.ParseLockFileData(contents)
	if err != nil {
		return fmt.Errorf("parsing lockfile %s: %w", e.LockPath, err)
	}
	for key, entry := range lock {
		name := key
		if idx := lastIndexByte(key, '@'); idx > 0 {
			name = key[:idx]
		}
		e.versions[dep.NormalizeName(name)] = entry.Version
	}
	return nil
}

func lastIndexByte(s string, b byte) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// Satisfies checks a semver constraint against a resolved version, used
// when a Pydist dep additionally declares a version range.
func Satisfies(constraint, version string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, err
	}
	return c.Check(v), nil
}

// LockGlobs returns the glob patterns that make this env's lock file a
// since/watch dependency for any runnable whose pydists resolve through it.
func (e *Env) LockGlobs() []string {
	if e.LockPath == "" {
		return nil
	}
	return []string{e.LockPath}
}
