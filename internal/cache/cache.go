// Package cache implements the pluggable cache backend contract (C4):
// get/set of a (Manifest, log, artifacts) triple keyed by fingerprint, and
// the concrete VCS-tracked, private, remote, and no-op backends.
package cache

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/Opus10/qik/internal/runnable"
)

// Cache is the abstract backend contract. The local, repo, and remote
// backends are built on *Base and set the hook fields they need, the common
// backend base's template-method shape (on_miss/post_set extension points);
// Noop satisfies only runnable.Backend.
type Cache interface {
	runnable.Backend

	BasePath(r *runnable.Runnable) string
	ManifestPath(r *runnable.Runnable, fingerprint string) string
	LogPath(r *runnable.Runnable, fingerprint string) string
}

// artifactName derives the opaque, URL-safe-base64-encoded filename a cache
// entry stores an artifact under, matching the scheme every backend shares.
func artifactName(projectRelativePath string) string {
	return "artifact-" + base64.URLEncoding.EncodeToString([]byte(projectRelativePath))
}

func decodeArtifactName(name string) (string, error) {
	const prefix = "artifact-"
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return "", errors.Errorf("not an artifact name: %s", name)
	}
	b, err := base64.URLEncoding.DecodeString(name[len(prefix):])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Base provides the shared get/set skeleton (manifest verification, the
// retry-once-after-on_miss pattern, artifact restore/import) that every
// concrete backend builds on.
type Base struct {
	// Root is the backend's base_path root; concrete backends compute it
	// per-command (base_path/cache/<cmd>) from this.
	Root string

	// OnMiss is invoked when a manifest read misses locally; remote
	// backends use it to fetch the entry before retrying once
	// — the retry-once-after-on_miss pattern,
	// retrying the lookup once after the miss hook runs.
	OnMiss func(r *runnable.Runnable, fingerprint string) error

	// PostSet is invoked after a manifest/log/artifacts have been written;
	// VCS backends stage them into the index here, remote backends upload.
	PostSet func(r *runnable.Runnable, fingerprint string) error

	// RestoreArtifacts copies artifact files from the cache dir back to
	// their declared project-relative locations.
	RestoreArtifacts func(r *runnable.Runnable, fingerprint string, names []string) error

	// ImportArtifacts copies produced artifact files into the cache dir
	// under their opaque encoded names, returning the opaque names actually
	// written (one per resolved glob match, not per declared pattern) so Set
	// can record exactly what restoreArtifacts will later be able to find.
	ImportArtifacts func(r *runnable.Runnable, fingerprint string) ([]string, error)

	typeName string
}

func (b *Base) Type() string { return b.typeName }

func (b *Base) BasePath(r *runnable.Runnable) string {
	return filepath.Join(b.Root, "cache", r.Cmd)
}

func (b *Base) ManifestPath(r *runnable.Runnable, fingerprint string) string {
	return filepath.Join(b.BasePath(r), r.Name+"-"+fingerprint+".json")
}

func (b *Base) LogPath(r *runnable.Runnable, fingerprint string) string {
	return filepath.Join(b.BasePath(r), r.Name+"-"+fingerprint+".out")
}

// Get reads the manifest, verifies it matches fingerprint, and optionally
// restores artifacts. On a local miss it invokes OnMiss once and retries,
// matching the original's nested-function retry pattern exactly so a
// remote-miss -> download -> parse sequence works even under concurrent
// backends.
func (b *Base) Get(r *runnable.Runnable, fingerprint string, restoreArtifacts bool) (*runnable.CacheEntry, error) {
	entry, err := b.getEntry(r, fingerprint, restoreArtifacts)
	if err == nil {
		return entry, nil
	}
	if !os.IsNotExist(errors.Cause(err)) {
		return nil, err
	}
	if b.OnMiss == nil {
		return nil, nil
	}
	if missErr := b.OnMiss(r, fingerprint); missErr != nil {
		return nil, nil
	}

	entry, err = b.getEntry(r, fingerprint, restoreArtifacts)
	if err != nil {
		return nil, nil
	}
	return entry, nil
}

func (b *Base) getEntry(r *runnable.Runnable, fingerprint string, restoreArtifacts bool) (*runnable.CacheEntry, error) {
	raw, err := os.ReadFile(b.ManifestPath(r, fingerprint))
	if err != nil {
		return nil, err
	}

	var manifest runnable.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, errors.Wrap(err, "corrupt manifest")
	}
	if manifest.Hash != fingerprint {
		// A race or tampering: treat as a miss rather than serving a stale
		// result under the wrong key.
		return nil, os.ErrNotExist
	}

	var log string
	if logBytes, err := os.ReadFile(b.LogPath(r, fingerprint)); err == nil {
		log = string(logBytes)
	}

	if restoreArtifacts && b.RestoreArtifacts != nil {
		if err := b.RestoreArtifacts(r, fingerprint, manifest.Artifacts); err != nil {
			return nil, err
		}
	}

	return &runnable.CacheEntry{Manifest: manifest, Log: log}, nil
}

// Set writes the manifest, the log (if any), imports artifacts, then calls
// PostSet.
func (b *Base) Set(r *runnable.Runnable, fingerprint string, result runnable.Result) error {
	if err := os.MkdirAll(b.BasePath(r), 0o755); err != nil {
		return errors.Wrap(err, "mkdir cache dir")
	}

	var artifactNames []string
	if b.ImportArtifacts != nil {
		names, err := b.ImportArtifacts(r, fingerprint)
		if err != nil {
			return err
		}
		artifactNames = names
	}

	manifest := runnable.Manifest{
		Name:      r.Name,
		Hash:      fingerprint,
		Code:      result.Code,
		Artifacts: artifactNames,
	}
	raw, err := json.Marshal(manifest)
	if err != nil {
		return err
	}
	if err := os.WriteFile(b.ManifestPath(r, fingerprint), raw, 0o644); err != nil {
		return errors.Wrap(err, "write manifest")
	}

	if result.Log != "" {
		if err := os.WriteFile(b.LogPath(r, fingerprint), []byte(result.Log), 0o644); err != nil {
			return errors.Wrap(err, "write log")
		}
	}

	if b.PostSet != nil {
		return b.PostSet(r, fingerprint)
	}
	return nil
}
