package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/schollz/progressbar/v3"

	"github.com/Opus10/qik/internal/runnable"
)

// ObjectStore is the minimal remote transfer contract a Remote backend
// needs; a real implementation would wrap an S3/GCS/etc client, kept
// abstract here so the core stays storage-agnostic.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, int64, error)
}

// HTTPObjectStore is a minimal ObjectStore over plain HTTP PUT/GET,
// suitable for a self-hosted cache server; uses a retryablehttp client for
// transient-error resilience.
type HTTPObjectStore struct {
	BaseURL string
	Client  *retryablehttp.Client
}

// NewHTTPObjectStore builds an HTTPObjectStore with sane retry defaults.
func NewHTTPObjectStore(baseURL string) *HTTPObjectStore {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &HTTPObjectStore{BaseURL: baseURL, Client: client}
}

func (s *HTTPObjectStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, s.BaseURL+"/"+key, r)
	if err != nil {
		return err
	}
	req.ContentLength = size
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("upload %s: status %d", key, resp.StatusCode)
	}
	return nil
}

func (s *HTTPObjectStore) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"/"+key, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, 0, os.ErrNotExist
	}
	if resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("download %s: status %d", key, resp.StatusCode)
	}
	return resp.Body, resp.ContentLength, nil
}

// Remote layers an object-store-backed cache on top of a Local backend: it
// reads/writes local files first, and uses OnMiss/PostSet to fetch/upload
// the whole entry (manifest + log + artifacts) to the object store.
// Transfers run on a bounded worker pool for partial-object parallelism.
// A failed fetch is not reported as an error: Get treats it as a cache miss.
// A failed upload is returned from Set.
type Remote struct {
	*Base
	Store   ObjectStore
	Workers int
	// Backoff wraps the whole-entry retry around on_miss with exponential
	// backoff, distinct from retryablehttp's own per-request linear retry.
	Backoff backoff.BackOff
}

// NewRemote builds the remote backend, wiring a bounded semaphore for
// parallel object transfer and a progress bar for large artifacts.
func NewRemote(local *Base, store ObjectStore, workers int) *Remote {
	rb := &Remote{Base: local, Store: store, Workers: workers}
	rb.typeName = "remote"
	rb.OnMiss = rb.fetchEntry
	rb.PostSet = rb.uploadEntry
	rb.Backoff = backoff.NewExponentialBackOff()
	return rb
}

// entryKeys returns the manifest+log keys, the part of an entry whose name
// is known up front. Artifact keys depend on the manifest's own Artifacts
// list (the opaque names Set actually wrote), so they're resolved separately
// by manifestArtifactKeys once that manifest is on local disk.
func (rb *Remote) entryKeys(r *runnable.Runnable, fingerprint string) []string {
	return []string{
		filepath.Join(r.Cmd, r.Name+"-"+fingerprint+".json"),
		filepath.Join(r.Cmd, r.Name+"-"+fingerprint+".out"),
	}
}

// manifestArtifactKeys reads the manifest at its well-known local path and
// derives the remote key for each artifact it lists, so callers can fetch or
// upload the artifact files an entry actually has without guessing at the
// declared (unresolved) glob patterns.
func (rb *Remote) manifestArtifactKeys(r *runnable.Runnable, fingerprint string) []string {
	raw, err := os.ReadFile(rb.ManifestPath(r, fingerprint))
	if err != nil {
		return nil
	}
	var manifest runnable.Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil
	}
	keys := make([]string, 0, len(manifest.Artifacts))
	for _, opaque := range manifest.Artifacts {
		keys = append(keys, filepath.Join(r.Cmd, fingerprint+"-"+opaque))
	}
	return keys
}

func (rb *Remote) fetchEntry(r *runnable.Runnable, fingerprint string) error {
	ctx := context.Background()

	op := func() error {
		if err := rb.fetchKeys(ctx, r, rb.entryKeys(r, fingerprint)); err != nil {
			return err
		}
		// The manifest just landed locally, so its artifact list is now
		// readable; fetch whatever it names.
		return rb.fetchKeys(ctx, r, rb.manifestArtifactKeys(r, fingerprint))
	}

	if rb.Backoff != nil {
		return backoff.Retry(op, rb.Backoff)
	}
	return op()
}

func (rb *Remote) fetchKeys(ctx context.Context, r *runnable.Runnable, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	sem := make(chan struct{}, rb.Workers)
	errs := make(chan error, len(keys))

	for _, key := range keys {
		sem <- struct{}{}
		go func(key string) {
			defer func() { <-sem }()
			errs <- rb.fetchOne(ctx, key, r)
		}(key)
	}
	for range keys {
		if err := <-errs; err != nil && err != os.ErrNotExist {
			return err
		}
	}
	return nil
}

func (rb *Remote) fetchOne(ctx context.Context, key string, r *runnable.Runnable) error {
	body, size, err := rb.Store.Download(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()

	dst := filepath.Join(rb.Root, "cache", key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	bar := progressbar.DefaultBytes(size, "fetching "+key)
	_, err = io.Copy(io.MultiWriter(out, bar), body)
	return err
}

// uploadEntry uploads the manifest, log, and every artifact the manifest
// names — Set has already written all of them to the local mirror by the
// time PostSet runs, so the manifest on disk is authoritative for which
// artifact keys exist.
func (rb *Remote) uploadEntry(r *runnable.Runnable, fingerprint string) error {
	ctx := context.Background()
	keys := append(append([]string{}, rb.entryKeys(r, fingerprint)...), rb.manifestArtifactKeys(r, fingerprint)...)

	sem := make(chan struct{}, rb.Workers)
	var firstErr error
	errCh := make(chan error, len(keys))

	for _, key := range keys {
		path := filepath.Join(rb.Root, "cache", key)
		info, statErr := os.Stat(path)
		if statErr != nil {
			errCh <- nil
			continue
		}
		sem <- struct{}{}
		go func(key, path string, size int64) {
			defer func() { <-sem }()
			f, err := os.Open(path)
			if err != nil {
				errCh <- err
				return
			}
			defer f.Close()
			errCh <- rb.Store.Upload(ctx, key, f, size)
		}(key, path, info.Size())
	}

	for range keys {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
