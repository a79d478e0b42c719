package venv

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/hasher"
)

func TestVersionMissingDistributionErrors(t *testing.T) {
	e := &Env{}
	_, err := e.Version("nonexistent-package")
	assert.Equal(t, err, hasher.ErrDistributionNotFound)
}

func TestVersionResolvesFromLockFile(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "yarn.lock")
	contents := "left-pad@^1.3.0:\n  version \"1.3.0\"\n  resolved \"https://example.com/left-pad-1.3.0.tgz\"\n"
	assert.NilError(t, os.WriteFile(lockPath, []byte(contents), 0o644))

	e := &Env{LockPath: lockPath}
	v, err := e.Version("left-pad")
	assert.NilError(t, err)
	assert.Equal(t, v, "1.3.0")
}

func TestSatisfiesChecksSemverConstraint(t *testing.T) {
	ok, err := Satisfies("^1.0.0", "1.2.3")
	assert.NilError(t, err)
	assert.Assert(t, ok)

	ok, err = Satisfies("^2.0.0", "1.2.3")
	assert.NilError(t, err)
	assert.Assert(t, !ok)
}

func TestLockGlobsEmptyWithoutLockPath(t *testing.T) {
	e := &Env{}
	assert.Assert(t, e.LockGlobs() == nil)
}
