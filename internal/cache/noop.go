package cache

import "github.com/Opus10/qik/internal/runnable"

// Noop is the "uncached" backend: every Get misses, every Set is a no-op.
// Used for cache="none" and for [caches.<name>] tables of type "none" or
// with no type; a runnable that declares no cache gets a nil Backend.
type Noop struct{}

func (Noop) Type() string { return "none" }

func (Noop) Get(*runnable.Runnable, string, bool) (*runnable.CacheEntry, error) {
	return nil, nil
}

func (Noop) Set(*runnable.Runnable, string, runnable.Result) error {
	return nil
}
