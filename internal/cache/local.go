package cache

import (
	"io"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"
	"github.com/pkg/errors"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/yookoala/realpath"

	"github.com/Opus10/qik/internal/runnable"
)

// NewLocal builds the private-directory backend: artifacts are copied by
// opaque filename under a VCS-ignored root. On first use it writes a
// .gitignore so the whole directory is excluded.
func NewLocal(privateRoot string) *Base {
	_ = os.MkdirAll(privateRoot, 0o755)
	if resolved, err := realpath.Realpath(privateRoot); err == nil {
		privateRoot = resolved
	}
	b := &Base{Root: privateRoot, typeName: "local"}
	b.RestoreArtifacts = b.restoreArtifactsLocal
	b.ImportArtifacts = b.importArtifactsLocal
	ensureGitignore(privateRoot)
	return b
}

func ensureGitignore(root string) {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err == nil {
		return
	}
	_ = os.MkdirAll(root, 0o755)
	_ = os.WriteFile(path, []byte("*\n"), 0o644)
}

// MatchesIgnore reports whether a path would be excluded by the private
// cache dir's own .gitignore, useful for callers deciding whether to walk
// into it during an unrelated directory scan.
func MatchesIgnore(root, path string) bool {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return false
	}
	return gi.MatchesPath(path)
}

func (b *Base) artifactEntryPath(r *runnable.Runnable, fingerprint, opaque string) string {
	return filepath.Join(b.BasePath(r), fingerprint+"-"+opaque)
}

func (b *Base) restoreArtifactsLocal(r *runnable.Runnable, fingerprint string, names []string) error {
	for _, opaque := range names {
		rel, err := decodeArtifactName(opaque)
		if err != nil {
			return err
		}
		src := b.artifactEntryPath(r, fingerprint, opaque)
		dst := filepath.Join(filepath.Dir(b.Root), rel)
		if err := decompressFile(src, dst); err != nil {
			return errors.Wrapf(err, "restoring artifact %s", rel)
		}
	}
	return nil
}

// importArtifactsLocal walks every declared artifact glob, compresses each
// resolved match into the cache dir, and returns the opaque names actually
// written — matching `import_artifacts`'s behavior of returning the walked
// file list for the manifest to record, rather than re-deriving names from
// the (unresolved) declared patterns.
func (b *Base) importArtifactsLocal(r *runnable.Runnable, fingerprint string) ([]string, error) {
	var names []string
	for _, pattern := range r.Artifacts {
		matches, _ := filepath.Glob(pattern)
		for _, m := range matches {
			opaque := artifactName(m)
			dst := b.artifactEntryPath(r, fingerprint, opaque)
			if err := compressFile(m, dst); err != nil {
				return nil, errors.Wrapf(err, "importing artifact %s", m)
			}
			names = append(names, opaque)
		}
	}
	return names, nil
}

// compressFile zstd-compresses src into dst, used by every backend to store
// an artifact under its opaque cache-entry name.
func compressFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	compressed, err := zstd.CompressLevel(nil, in, zstd.DefaultCompression)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, compressed, 0o644)
}

// decompressFile reverses compressFile when restoring an artifact to its
// declared project-relative path.
func decompressFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	decompressed, err := zstd.Decompress(nil, in)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, decompressed, 0o644)
}

// copyFile plainly copies bytes, used for non-artifact file transfers (e.g.
// the manifest/log pair) that aren't worth compressing.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
