// Package watcher implements the filesystem watcher (C9): a single-threaded
// fsnotify pump with debounce, translating events into changed-dep sets and
// re-invoking the runner via filter.ByChanges(watch).
package watcher

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"
)

// Change is a translated filesystem event: either a changed project path or
// a newly-created package distribution, the watcher's two change
// kinds.
type Change struct {
	Path   string // project-relative path, set when Pydist == ""
	Pydist string // distribution name, set on a package install event
}

// Runner is invoked with the debounced change set once the timer fires.
type Runner interface {
	Exec(changes []Change) error
}

var ignoredDirs = []string{".git", "__pycache__", "._qik"}

var distRecordRe = regexp.MustCompile(`^(.+)-([^-]+)\.dist-info/RECORD$`)

// Watcher pumps fsnotify events for the project root and an optional venv
// site directory, debouncing bursts of changes into a single re-execution,
// debouncing bursts of filesystem events into one re-execution.
type Watcher struct {
	Root    string
	VenvDir string
	Runner  Runner
	Logger  hclog.Logger
	Debounce time.Duration

	fsw     *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]Change
	timer   *time.Timer

	// ConfigFile is the root config path; an edit to it causes the watcher
	// to exit rather than continue with a stale graph shape.
	ConfigFile string
	stop       chan struct{}
}

// New constructs a Watcher; call Start to begin pumping events.
func New(root, venvDir string, runner Runner, logger hclog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		Root:     root,
		VenvDir:  venvDir,
		Runner:   runner,
		Logger:   logger,
		Debounce: 100 * time.Millisecond,
		fsw:      fsw,
		pending:  map[string]Change{},
		stop:     make(chan struct{}),
	}
	return w, nil
}

// Start adds recursive watches for Root and VenvDir and begins the event
// pump. It blocks until Stop is called or the configuration file changes.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.Root); err != nil {
		return err
	}
	if w.VenvDir != "" {
		_ = w.addRecursive(w.VenvDir)
	}
	return w.pump()
}

// Stop ends the event pump.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsw.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if isIgnored(path) {
				return filepath.SkipDir
			}
			return w.fsw.Add(path)
		}
		return nil
	})
}

func isIgnored(path string) bool {
	for _, d := range ignoredDirs {
		if strings.Contains(path, string(filepath.Separator)+d) || strings.HasSuffix(path, d) {
			return true
		}
	}
	return false
}

func (w *Watcher) pump() error {
	for {
		select {
		case <-w.stop:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			if w.Logger != nil {
				w.Logger.Warn("watcher error", "err", err)
			}
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if rel, err := filepath.Rel(w.Root, event.Name); err == nil && !strings.HasPrefix(rel, "..") {
		rel = filepath.ToSlash(rel)
		if w.ConfigFile != "" && event.Name == w.ConfigFile {
			if w.Logger != nil {
				w.Logger.Warn("config changed, restart required", "path", rel)
			}
			w.Stop()
			return
		}
		if !isIgnored(rel) {
			w.pending[rel] = Change{Path: rel}
		}
	} else if w.VenvDir != "" {
		if rel, err := filepath.Rel(w.VenvDir, event.Name); err == nil {
			rel = filepath.ToSlash(rel)
			if name := parseDistRecord(rel); name != "" && event.Op&fsnotify.Create != 0 {
				w.pending[rel] = Change{Pydist: name}
			}
		}
	}

	w.restartTimer()
}

func parseDistRecord(path string) string {
	m := distRecordRe.FindStringSubmatch(path)
	if m == nil || strings.HasPrefix(m[1], "~") {
		return ""
	}
	return m[1]
}

func (w *Watcher) restartTimer() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.Debounce, w.fire)
}

func (w *Watcher) fire() {
	w.mu.Lock()
	if len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	changes := make([]Change, 0, len(w.pending))
	for _, c := range w.pending {
		changes = append(changes, c)
	}
	w.pending = map[string]Change{}
	w.mu.Unlock()

	if w.Logger != nil {
		w.Logger.Info("detected changes", "count", len(changes))
	}
	if w.Runner != nil {
		_ = w.Runner.Exec(changes)
	}
}
