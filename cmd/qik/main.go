// Command qik is the CLI entrypoint: a cobra command tree wiring config
// loading, the command factory, graph building, filters, the scheduler, and
// the watcher into a runnable program.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/google/chrometracing"
	"github.com/spf13/cobra"

	"github.com/Opus10/qik/internal/command"
	"github.com/Opus10/qik/internal/conf"
	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/filter"
	"github.com/Opus10/qik/internal/graph"
	"github.com/Opus10/qik/internal/hasher"
	"github.com/Opus10/qik/internal/logger"
	"github.com/Opus10/qik/internal/runnable"
	"github.com/Opus10/qik/internal/scheduler"
	"github.com/Opus10/qik/internal/signals"
	"github.com/Opus10/qik/internal/space"
	"github.com/Opus10/qik/internal/venv"
	"github.com/Opus10/qik/internal/watcher"
)

type globalFlags struct {
	module      []string
	space       []string
	since       string
	cache       []string
	cacheStatus string
	watch       bool
	force       bool
	workers     int
	isolated    bool
	fail        bool
	verbosity   int
	trace       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "qik [commands...]",
		Short: "Incremental, content-addressed workspace task runner",
	}

	root.PersistentFlags().StringSliceVar(&flags.module, "module", nil, "restrict to these modules")
	root.PersistentFlags().StringSliceVar(&flags.space, "space", nil, "restrict to these spaces")
	root.PersistentFlags().StringVar(&flags.since, "since", "", "restrict to commands affected since this git sha")
	root.PersistentFlags().StringSliceVar(&flags.cache, "cache", nil, "restrict to these cache backend names")
	root.PersistentFlags().StringVar(&flags.cacheStatus, "cache-status", "", "restrict to warm|cold commands")
	root.PersistentFlags().BoolVar(&flags.watch, "watch", false, "re-run affected commands on file changes")
	root.PersistentFlags().BoolVar(&flags.force, "force", false, "ignore cache and re-execute")
	root.PersistentFlags().IntVarP(&flags.workers, "workers", "n", runtime.NumCPU(), "max parallel runnables")
	root.PersistentFlags().BoolVar(&flags.isolated, "isolated", false, "default isolation for unresolved Cmd edges")
	root.PersistentFlags().BoolVar(&flags.fail, "fail", false, "exit nonzero if any commands are selected, without running them")
	root.PersistentFlags().CountVarP(&flags.verbosity, "verbose", "v", "increase log verbosity")
	root.PersistentFlags().BoolVar(&flags.trace, "trace", false, "write a chrome://tracing trace_event file for this run")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newLsCmd(flags))
	return root
}

// expandAll drives the command factory over every named top-level command,
// accumulating every runnable it (transitively) produces into one set ready
// for graph.Build. It also recurses into every Cmd dep's target command, not
// just the commands named on the CLI: graph.Build silently drops an edge
// whose target isn't already in the seed set (unless the edge is isolated),
// so a strict Cmd dep on a command nobody named explicitly would otherwise
// vanish from the graph rather than propagate its failure.
func expandAll(names []string, project *conf.Project) (map[string]*runnable.Runnable, error) {
	spaceNames := project.SpaceNames()
	moduleNames := project.ModuleNames()

	all := map[string]*runnable.Runnable{}
	seenCmd := map[string]bool{}

	var expandCmd func(name string, args map[string]string) error
	expandCmd = func(name string, args map[string]string) error {
		if seenCmd[name] {
			return nil
		}
		seenCmd[name] = true

		c, ok := project.Commands[name]
		if !ok {
			return fmt.Errorf("CommandNotFound: %s", name)
		}
		in := command.ExpandInput{
			Name:      name,
			Conf:      c,
			Modules:   moduleNames,
			Spaces:    spaceNames,
			NumSpaces: len(project.Spaces),
			Args:      args,
		}
		expanded, err := command.Expand(in)
		if err != nil {
			return err
		}
		for n, r := range expanded {
			all[n] = r
		}
		for _, r := range expanded {
			for _, d := range r.Deps {
				if cmdDep, ok := d.(dep.Cmd); ok {
					if err := expandCmd(cmdDep.Name, cmdDep.Args); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}

	for _, name := range names {
		if err := expandCmd(name, nil); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// resolveRunnables fills in the per-run fields the command factory leaves
// zero-valued: the cache backend (by name, from the project's configured
// caches), VCS-aware glob/pydist resolution, and the base environment.
func resolveRunnables(root string, expanded map[string]*runnable.Runnable, project *conf.Project) error {
	scope := hasher.Scope{Root: root}
	spaces := buildSpaceRegistry(root, project)
	environ := os.Environ()

	for _, r := range expanded {
		backend, err := resolveBackend(project, r.Cache)
		if err != nil {
			return fmt.Errorf("%s: %w", r.Name, err)
		}
		r.Backend = backend
		r.ResolveGlobs = scope.ResolveGlobs
		r.ResolvePydists = pydistResolver(r, spaces)
		r.Environ = environ
	}
	return nil
}

// resolveBackend resolves a command's declared cache name to a constructed
// backend. An empty name means the command is uncached (nil Backend); a
// non-empty name that isn't in the project's [caches.*] tables is a
// configuration error rather than a silent no-op.
func resolveBackend(project *conf.Project, name string) (runnable.Backend, error) {
	if name == "" {
		return nil, nil
	}
	b, ok := project.Caches[name]
	if !ok {
		return nil, fmt.Errorf("UnconfiguredCache: %s", name)
	}
	return b, nil
}

// buildSpaceRegistry constructs one venv.Env per configured space, pointing
// at a yarn.lock under the space's venv directory — the JS-ecosystem lock
// shape internal/venv already knows how to parse. A command with no
// resolvable space gets an empty Env, so a Pydist dep on it surfaces
// hasher.ErrDistributionNotFound rather than silently hashing to nothing.
func buildSpaceRegistry(root string, project *conf.Project) *space.Registry {
	reg := &space.Registry{Spaces: map[string]*space.Space{}}
	for name, sc := range project.Spaces {
		env := &venv.Env{}
		if sc.Venv != "" {
			env.Dir = filepath.Join(root, sc.Venv)
			env.LockPath = filepath.Join(env.Dir, "yarn.lock")
		}
		reg.Spaces[name] = &space.Space{Name: name, Modules: sc.Modules, Venv: env}
	}
	return reg
}

// pydistResolver closes over r's resolved space so Fingerprint can resolve
// its Pydist deps' versions without knowing about spaces itself.
func pydistResolver(r *runnable.Runnable, spaces *space.Registry) func([]string) ([]hasher.NamedVersion, error) {
	env := &venv.Env{}
	if sp, ok := spaces.Resolve(r.Space); ok {
		env = sp.Venv
	}
	return func(names []string) ([]hasher.NamedVersion, error) {
		out := make([]hasher.NamedVersion, 0, len(names))
		for _, n := range names {
			v, err := env.Version(n)
			if err != nil {
				return nil, err
			}
			out = append(out, hasher.NamedVersion{Name: n, Version: v})
		}
		return out, nil
	}
}

// buildGraph loads config, expands the named commands into runnables via
// the command factory, and builds the dependency graph, applying every
// selector flag as a view-narrowing filter.
func buildGraph(root string, cmdNames []string, flags *globalFlags) (*graph.Graph, error) {
	graph.DefaultIsolated = flags.isolated

	project, err := conf.Load(root)
	if err != nil {
		return nil, err
	}

	expanded, err := expandAll(cmdNames, project)
	if err != nil {
		return nil, err
	}

	if err := resolveRunnables(root, expanded, project); err != nil {
		return nil, err
	}

	seed := make([]*runnable.Runnable, 0, len(expanded))
	for _, r := range expanded {
		seed = append(seed, r)
	}

	g, err := graph.Build(seed)
	if err != nil {
		return nil, err
	}

	if len(flags.module) > 0 {
		filter.ByModules(g, flags.module)
	}
	if len(flags.space) > 0 {
		filter.BySpaces(g, flags.space)
	}
	if len(flags.cache) > 0 {
		filter.ByCaches(g, flags.cache)
	}
	if flags.since != "" {
		if err := filter.Since(g, root, flags.since); err != nil {
			return nil, err
		}
	}
	if flags.cacheStatus != "" {
		status := filter.CacheStatus(flags.cacheStatus)
		filter.ByCacheStatus(g, status, func(name string) (string, error) {
			return g.ByName(name).Fingerprint(g.ByName)
		})
	}

	return g, nil
}

func newRunCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run [commands...]",
		Short: "Execute the given commands and their dependencies",
		RunE: func(cc *cobra.Command, args []string) error {
			if flags.trace {
				chrometracing.EnableTracing()
			}
			buildEv := chrometracing.Event("build graph")
			root, err := os.Getwd()
			if err != nil {
				return err
			}

			g, err := buildGraph(root, args, flags)
			buildEv.Done()
			if err != nil {
				return err
			}

			if flags.fail {
				if len(g.View()) > 0 {
					os.Exit(1)
				}
				return nil
			}

			log := logger.New(flags.verbosity)
			ui := logger.NewRunUI()

			ctx, cancel := context.WithCancel(context.Background())
			sw := signals.NewWatcher()
			sw.AddOnClose(cancel)
			defer sw.Close()

			runEv := chrometracing.Event("run")
			results, err := scheduler.Run(ctx, g, flags.workers, log, scheduler.Events{
				OnStart: ui.Start,
				OnFinish: func(name string, status scheduler.Status, result *runnable.Result) {
					code := 0
					if result != nil {
						code = result.Code
					}
					ui.Finish(name, status, code)
				},
				Force: flags.force,
			})
			runEv.Done()
			if flags.trace {
				if cerr := chrometracing.Close(); cerr != nil {
					fmt.Fprintf(os.Stderr, "trace: %v\n", cerr)
				} else {
					fmt.Fprintf(os.Stderr, "trace written to %s\n", chrometracing.Path())
				}
			}
			if err != nil {
				return err
			}

			exit := scheduler.ExitCode(results)
			ui.Summary(exit)

			if flags.watch {
				return runWatch(root, args, flags)
			}
			if exit != 0 {
				os.Exit(exit)
			}
			return nil
		},
	}
}

func newLsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [commands...]",
		Short: "List the runnables that would execute, without running them",
		RunE: func(cc *cobra.Command, args []string) error {
			root, err := os.Getwd()
			if err != nil {
				return err
			}
			g, err := buildGraph(root, args, flags)
			if err != nil {
				return err
			}
			for _, name := range g.View() {
				fmt.Println(name)
			}
			return nil
		},
	}
}

// watchRunner adapts buildGraph+scheduler.Run into watcher.Runner.
type watchRunner struct {
	root     string
	cmdNames []string
	flags    *globalFlags
}

func (w *watchRunner) Exec(changes []watcher.Change) error {
	g, err := buildGraph(w.root, w.cmdNames, w.flags)
	if err != nil {
		return err
	}

	var paths []string
	var pydists []string
	for _, c := range changes {
		if c.Pydist != "" {
			pydists = append(pydists, c.Pydist)
		} else {
			paths = append(paths, c.Path)
		}
	}
	filter.ByChanges(g, paths, pydists, filter.StrategyWatch)

	log := logger.New(w.flags.verbosity)
	ui := logger.NewRunUI()
	_, err = scheduler.Run(context.Background(), g, w.flags.workers, log, scheduler.Events{
		OnStart: ui.Start,
		OnFinish: func(name string, status scheduler.Status, result *runnable.Result) {
			code := 0
			if result != nil {
				code = result.Code
			}
			ui.Finish(name, status, code)
		},
		Force: w.flags.force,
	})

	// A superseded graph's compiled-glob patterns must not leak forward into
	// the next iteration's filter.ByChanges call.
	filter.ClearCache()
	return err
}

func runWatch(root string, cmdNames []string, flags *globalFlags) error {
	log := logger.New(flags.verbosity)

	project, err := conf.Load(root)
	if err != nil {
		return err
	}

	w, err := watcher.New(root, primaryVenvDir(root, project), &watchRunner{root: root, cmdNames: cmdNames, flags: flags}, log)
	if err != nil {
		return err
	}
	w.ConfigFile = filepath.Join(root, "qik.toml")
	return w.Start()
}

// primaryVenvDir picks the venv directory the watcher should additionally
// pump install events from. With exactly one configured space the choice is
// unambiguous; with zero or several, watching a single directory for
// dist-info records would be arbitrary, so the watcher sticks to the project
// root only.
func primaryVenvDir(root string, project *conf.Project) string {
	if len(project.Spaces) != 1 {
		return ""
	}
	for _, sc := range project.Spaces {
		if sc.Venv == "" {
			return ""
		}
		return filepath.Join(root, sc.Venv)
	}
	return ""
}
