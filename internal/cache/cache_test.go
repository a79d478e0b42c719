package cache

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/runnable"
)

// TestLocalSetGetRestoresArtifactByteIdentically exercises spec §8 property
// #5 end to end through the Local backend: Set must import exactly the
// artifact names Get will later be able to find, not a re-derivation from
// the declared (unresolved) glob pattern.
func TestLocalSetGetRestoresArtifactByteIdentically(t *testing.T) {
	projectRoot := t.TempDir()
	privateRoot := filepath.Join(projectRoot, ".qik")

	cwd, err := os.Getwd()
	assert.NilError(t, err)
	assert.NilError(t, os.Chdir(projectRoot))
	t.Cleanup(func() { _ = os.Chdir(cwd) })

	assert.NilError(t, os.MkdirAll(filepath.Join(projectRoot, "dist"), 0o755))
	artifactRel := filepath.Join("dist", "out.txt")
	content := []byte("build output\n")
	assert.NilError(t, os.WriteFile(artifactRel, content, 0o644))

	b := NewLocal(privateRoot)
	r := &runnable.Runnable{Name: "build", Cmd: "build", Artifacts: []string{"dist/*.txt"}}

	result := runnable.Result{Code: 0, Log: "built\n"}
	assert.NilError(t, b.Set(r, "fingerprint1", result))

	// Remove the file Set just produced so a subsequent restore is the only
	// thing that can bring it back.
	assert.NilError(t, os.Remove(artifactRel))

	entry, err := b.Get(r, "fingerprint1", true)
	assert.NilError(t, err)
	assert.Assert(t, entry != nil)
	assert.Equal(t, entry.Log, "built\n")

	restored, err := os.ReadFile(artifactRel)
	assert.NilError(t, err)
	assert.DeepEqual(t, restored, content)

	// Idempotent restore: restoring again from the same manifest is a no-op
	// on disk content.
	entry2, err := b.Get(r, "fingerprint1", true)
	assert.NilError(t, err)
	assert.Assert(t, entry2 != nil)
	restoredAgain, err := os.ReadFile(artifactRel)
	assert.NilError(t, err)
	assert.DeepEqual(t, restoredAgain, content)
}

func TestLocalGetMissesOnUnknownFingerprint(t *testing.T) {
	projectRoot := t.TempDir()
	b := NewLocal(filepath.Join(projectRoot, ".qik"))
	r := &runnable.Runnable{Name: "build", Cmd: "build"}

	entry, err := b.Get(r, "nope", true)
	assert.NilError(t, err)
	assert.Assert(t, entry == nil)
}
