// Package conf loads the project's qik.toml (plus a local JSONC override)
// into the record shapes the core consumes: commands (with their deps fully
// built via internal/dep's registry), modules, spaces, and cache backends.
// This package is the ambient config loader; the core itself stays agnostic
// of it.
package conf

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/muhammadmuzzammil1998/jsonc"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Opus10/qik/internal/cache"
	"github.com/Opus10/qik/internal/command"
	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/runnable"
)

// Project is the fully decoded project configuration: every command's Deps
// are already built concrete dep.Dep values, and every [caches.<name>]
// table is constructed into a backend. Load does not check that a command's
// cache name is one of them; that lookup happens when backends are resolved
// per runnable.
type Project struct {
	Root     string
	Commands map[string]command.Conf
	Modules  map[string][]string // module name -> path globs
	Spaces   map[string]SpaceConf
	Caches   map[string]runnable.Backend
}

// SpaceConf is the raw decoded shape of a [spaces.<name>] table.
type SpaceConf struct {
	Modules []string
	Venv    string
}

// rawCacheConf mirrors a [caches.<name>] table before backend construction.
type rawCacheConf struct {
	Type    string `mapstructure:"type"`
	URL     string `mapstructure:"url"`
	Workers int    `mapstructure:"workers"`
}

// rawCommand mirrors a command's TOML shape before dep construction.
type rawCommand struct {
	Exec      string           `mapstructure:"exec"`
	Deps      []map[string]any `mapstructure:"deps"`
	Artifacts []string         `mapstructure:"artifacts"`
	Cache     string           `mapstructure:"cache"`
	CacheWhen string           `mapstructure:"cache_when"`
	Factory   string           `mapstructure:"factory"`
	Hidden    bool             `mapstructure:"hidden"`
	Space     string           `mapstructure:"space"`
}

// Load reads qik.toml from root via viper, applies a local JSONC override
// file if present, and decodes into a fully-built Project: every command's
// raw dep table is dispatched through dep.Build (plus the "command"/"val"
// tags this package wires directly, since they need a callback into
// command.Expand / a file resolver that dep can't import without a cycle),
// and every declared cache name is constructed into a concrete backend.
func Load(root string) (*Project, error) {
	v := viper.New()
	v.SetConfigName("qik")
	v.SetConfigType("toml")
	v.AddConfigPath(root)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "ConfigNotFound")
	}

	if err := applyLocalOverride(v, root); err != nil {
		return nil, err
	}

	var raw struct {
		Commands map[string]rawCommand   `mapstructure:"commands"`
		Modules  map[string][]string     `mapstructure:"modules"`
		Spaces   map[string]SpaceConf    `mapstructure:"spaces"`
		Caches   map[string]rawCacheConf `mapstructure:"caches"`
	}
	if err := v.Unmarshal(&raw, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())); err != nil {
		return nil, errors.Wrap(err, "ConfigParse")
	}

	p := &Project{
		Root:     root,
		Commands: map[string]command.Conf{},
		Modules:  raw.Modules,
		Spaces:   raw.Spaces,
	}

	caches, err := buildCaches(root, raw.Caches)
	if err != nil {
		return nil, err
	}
	p.Caches = caches

	for name, rc := range raw.Commands {
		conf, err := p.rawToConf(rc)
		if err != nil {
			return nil, errors.Wrapf(err, "ConfigParse: command %q", name)
		}
		p.Commands[name] = conf
	}

	return p, nil
}

func (p *Project) rawToConf(rc rawCommand) (command.Conf, error) {
	cacheWhen := runnable.CacheWhen(rc.CacheWhen)
	if cacheWhen == "" {
		cacheWhen = runnable.CacheSuccess
	}

	deps := make([]dep.Dep, 0, len(rc.Deps))
	for _, rawDep := range rc.Deps {
		d, err := p.buildDep(rawDep)
		if err != nil {
			return command.Conf{}, err
		}
		deps = append(deps, d)
	}

	return command.Conf{
		Exec:      rc.Exec,
		Deps:      deps,
		Artifacts: rc.Artifacts,
		Cache:     rc.Cache,
		CacheWhen: cacheWhen,
		Factory:   rc.Factory,
		Hidden:    rc.Hidden,
		Space:     rc.Space,
	}, nil
}

// buildDep dispatches a raw dep table on its "type" tag. "command" and
// "val" are wired here rather than in internal/dep's own registry since
// they need callbacks (command.Expand, a file-value resolver) that would
// otherwise create an import cycle between internal/dep and
// internal/command. Every other tag (glob/const/pydist/load) is handled
// by dep's own registry.
func (p *Project) buildDep(raw map[string]any) (dep.Dep, error) {
	tag, _ := raw["type"].(string)

	switch tag {
	case "command", "cmd":
		name, _ := raw["name"].(string)
		strict, _ := raw["strict"].(bool)
		var isolated *bool
		if v, ok := raw["isolated"].(bool); ok {
			isolated = &v
		}
		args := map[string]string{}
		if rawArgs, ok := raw["args"].(map[string]any); ok {
			for k, v := range rawArgs {
				if s, ok := v.(string); ok {
					args[k] = s
				}
			}
		}
		return dep.Cmd{Name: name, Strict: strict, Isolated: isolated, Args: args, Expand: p.Expand}, nil

	case "val":
		key, _ := raw["key"].(string)
		file, _ := raw["file"].(string)
		return dep.Val{Key: key, File: file, Resolver: resolveVal}, nil

	default:
		return dep.Build(tag, raw)
	}
}

// resolveVal reads a single key out of a JSON object file, or a KEY=VALUE
// line out of a dotenv-shaped file when the path ends in ".env" — the two
// file formats a Val dep realistically points at.
func resolveVal(key, file string) (string, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return "", &runnable.Error{Code: "DotEnvNotFound", Msg: file}
	}

	if strings.HasSuffix(file, ".env") {
		for _, line := range strings.Split(string(raw), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) == 2 && parts[0] == key {
				return strings.Trim(parts[1], `"'`), nil
			}
		}
		return "", fmt.Errorf("key %q not found in %s", key, file)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in %s", key, file)
	}
	return fmt.Sprintf("%v", v), nil
}

// Expand resolves a command name (+args) to the runnable names it expands
// to via the command factory — used as the Cmd dep's Expand callback. Each
// call runs the factory afresh and returns only the names; the Runnables it
// builds are discarded.
func (p *Project) Expand(name string, args map[string]string) ([]string, error) {
	c, ok := p.Commands[name]
	if !ok {
		return nil, fmt.Errorf("CommandNotFound: %s", name)
	}
	in := command.ExpandInput{
		Name:      name,
		Conf:      c,
		Modules:   p.ModuleNames(),
		Spaces:    p.SpaceNames(),
		NumSpaces: len(p.Spaces),
		Args:      args,
	}
	expanded, err := command.Expand(in)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(expanded))
	for n := range expanded {
		names = append(names, n)
	}
	return names, nil
}

// ModuleNames returns the project's configured module names.
func (p *Project) ModuleNames() []string {
	names := make([]string, 0, len(p.Modules))
	for n := range p.Modules {
		names = append(names, n)
	}
	return names
}

// SpaceNames returns the project's configured space names.
func (p *Project) SpaceNames() []string {
	names := make([]string, 0, len(p.Spaces))
	for n := range p.Spaces {
		names = append(names, n)
	}
	return names
}

// buildCaches constructs a concrete cache.Cache per [caches.<name>] table.
// An unrecognized type is a configuration error (InvalidCacheType);
// per-name resolution (UnconfiguredCache) happens where a command's Cache
// field is looked up.
func buildCaches(root string, raw map[string]rawCacheConf) (map[string]runnable.Backend, error) {
	out := map[string]runnable.Backend{
		"none": cache.Noop{},
	}
	privateDir := filepath.Join(root, ".qik")
	publicDir := filepath.Join(root, "qik")

	for name, rc := range raw {
		switch rc.Type {
		case "local":
			out[name] = cache.NewLocal(privateDir)
		case "repo":
			b, err := cache.NewRepo(publicDir)
			if err != nil {
				return nil, errors.Wrapf(err, "caches.%s", name)
			}
			out[name] = b
		case "remote":
			local := cache.NewLocal(privateDir)
			workers := rc.Workers
			if workers <= 0 {
				workers = 4
			}
			store := cache.NewHTTPObjectStore(rc.URL)
			out[name] = cache.NewRemote(local, store, workers)
		case "none", "":
			out[name] = cache.Noop{}
		default:
			return nil, fmt.Errorf("InvalidCacheType: caches.%s has unknown type %q", name, rc.Type)
		}
	}

	return out, nil
}

// applyLocalOverride merges a `.qikrc.json` file (JSON-with-comments) over
// the loaded viper config, matching the teacher's local-override pattern
// for developer-machine-specific tweaks that shouldn't be committed.
func applyLocalOverride(v *viper.Viper, root string) error {
	path := filepath.Join(root, ".qikrc.json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "reading local override")
	}

	stripped := jsonc.ToJSON(raw)
	var overrides map[string]any
	if err := json.Unmarshal(stripped, &overrides); err != nil {
		return errors.Wrap(err, "ConfigParse: local override")
	}
	for k, val := range overrides {
		v.Set(k, val)
	}
	return nil
}
