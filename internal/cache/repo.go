package cache

import (
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/nightlyone/lockfile"
	"github.com/pkg/errors"

	"github.com/Opus10/qik/internal/runnable"
)

// indexMu guards every VCS index mutation across Repo backend instances
// in this process. postSet also tries a lockfile.Lockfile, but only with
// TryLock: when another process holds it, staging goes ahead without it, so
// concurrent qik invocations across processes are not serialized.
var indexMu sync.Mutex

// NewRepo builds the VCS-tracked cache backend: entries live under a
// publicly-versioned directory and are staged into the git index on Set.
// It installs a custom merge driver and a gitattributes entry the first
// time it's constructed for a given root, matching
// installing a merge driver and marking the cache dir generated.
func NewRepo(publicRoot string) (*Base, error) {
	b := &Base{Root: publicRoot, typeName: "repo"}
	// Repo shares the private backend's opaque-artifact-naming scheme
	// exactly (same artifactEntryPath layout, same compress/decompress
	// pair) — only where entries live and how Set is finalized differ.
	b.RestoreArtifacts = b.restoreArtifactsLocal
	b.ImportArtifacts = b.importArtifactsLocal
	b.PostSet = b.postSet

	if err := installMergeDriver(publicRoot); err != nil {
		return nil, errors.Wrap(err, "installing qik merge driver")
	}
	if err := addGitAttributes(publicRoot); err != nil {
		return nil, errors.Wrap(err, "writing .gitattributes")
	}
	return b, nil
}

func installMergeDriver(root string) error {
	scriptPath := filepath.Join(root, "merge-driver.sh")
	if _, err := os.Stat(scriptPath); os.IsNotExist(err) {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return err
		}
		script := "#!/bin/sh\ncp \"$2\" \"$1\"\n"
		if err := os.WriteFile(scriptPath, []byte(script), 0o755); err != nil {
			return err
		}
	}
	cmd := exec.Command("git", "config", "merge.qik.driver", "sh "+scriptPath+" %O %A %B")
	return cmd.Run()
}

func addGitAttributes(root string) error {
	path := filepath.Join(root, "..", ".gitattributes")
	line := filepath.Join(filepath.Base(root), "**") + " linguist-generated=true merge=qik\n"

	existing, _ := os.ReadFile(path)
	if contains(string(existing), line) {
		return nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

// postSet stages the manifest, log, and artifact files into the git index
// under an exclusive lock, staging new cache entries with `git add -N`
// under the module-level lock.
func (b *Base) postSet(r *runnable.Runnable, fingerprint string) error {
	indexMu.Lock()
	defer indexMu.Unlock()

	lock, err := lockfile.New(filepath.Join(b.Root, "..", ".qik-index.lock"))
	if err == nil {
		if lockErr := lock.TryLock(); lockErr == nil {
			defer lock.Unlock()
		}
	}

	cmd := exec.Command("git", "add", "-N", b.BasePath(r))
	cmd.Dir = filepath.Dir(b.Root)
	return cmd.Run()
}
