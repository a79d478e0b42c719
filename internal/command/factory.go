// Package command implements the command factory (C5): expanding a command
// declaration into a map of concrete Runnables, across module/space
// placeholders and custom factory callbacks.
package command

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/runnable"
)

// Conf is the parsed command declaration.
type Conf struct {
	Exec      string
	Deps      []dep.Dep
	Artifacts []string
	Cache     string
	CacheWhen runnable.CacheWhen
	Factory   string // empty means the default factory
	Hidden    bool
	Space     string
}

// modulePlaceholder is substituted with the current module name when a
// command's Exec string references it, the command factory's
// module-placeholder expansion.
const modulePlaceholder = "{module}"

// FormatName renders cmd[@space][#module][?k=v&...], omitting @space when
// only one space exists in the project, omitting it entirely when the project has only one.
func FormatName(cmd, module, space string, numSpaces int, args map[string]string) string {
	name := cmd
	if space != "" && numSpaces > 1 {
		name += "@" + space
	}
	if module != "" {
		name += "#" + module
	}
	if len(args) > 0 {
		keys := make([]string, 0, len(args))
		for k := range args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, args[k]))
		}
		name += "?" + strings.Join(parts, "&")
	}
	return name
}

// Custom is a plugin-registered factory: replaces the default
// module/space-expansion with arbitrary runnable generation, optionally
// parameterized by args (e.g. one runnable per import path).
type Custom func(name string, conf Conf, args map[string]string) (map[string]*runnable.Runnable, error)

var customRegistry = map[string]Custom{}

// RegisterCustom adds a named custom factory, resolved by the Factory field
// of a Conf instead of Python's pkgutil.resolve_name.
func RegisterCustom(name string, fn Custom) { customRegistry[name] = fn }

// ExpandInput is everything the default factory needs about the project
// shape that isn't on Conf itself.
type ExpandInput struct {
	Name      string
	Conf      Conf
	Modules   []string // modules in scope for this command; empty means "no module placeholder"
	Spaces    []string // spaces configured for the project
	NumSpaces int
	Args      map[string]string
}

// Expand is the default factory: one runnable per
// (space, module) pair when Exec references {module}; otherwise one
// runnable per (command, space).
func Expand(in ExpandInput) (map[string]*runnable.Runnable, error) {
	if in.Conf.Factory != "" {
		fn, ok := customRegistry[in.Conf.Factory]
		if !ok {
			return nil, fmt.Errorf("unregistered command factory %q", in.Conf.Factory)
		}
		return fn(in.Name, in.Conf, in.Args)
	}

	spaces := in.Spaces
	if len(spaces) == 0 {
		spaces = []string{""}
	}

	out := map[string]*runnable.Runnable{}

	if strings.Contains(in.Conf.Exec, modulePlaceholder) && len(in.Modules) > 0 {
		for _, space := range spaces {
			for _, module := range in.Modules {
				r := buildRunnable(in, space, module)
				out[r.Name] = r
			}
		}
		return out, nil
	}

	for _, space := range spaces {
		r := buildRunnable(in, space, "")
		out[r.Name] = r
	}
	return out, nil
}

func buildRunnable(in ExpandInput, space, module string) *runnable.Runnable {
	exec := in.Conf.Exec
	if module != "" {
		exec = strings.ReplaceAll(exec, modulePlaceholder, module)
	}
	name := FormatName(in.Name, module, space, in.NumSpaces, in.Args)
	return &runnable.Runnable{
		Name:      name,
		Cmd:       in.Name,
		Val:       exec,
		Shell:     true,
		Deps:      in.Conf.Deps,
		Artifacts: in.Conf.Artifacts,
		Module:    module,
		Space:     space,
		Cache:     in.Conf.Cache,
		CacheWhen: in.Conf.CacheWhen,
		Args:      in.Args,
	}
}
