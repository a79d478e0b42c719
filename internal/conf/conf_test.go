package conf

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/Opus10/qik/internal/dep"
	"github.com/Opus10/qik/internal/runnable"
)

func writeFile(t *testing.T, root, name, contents string) {
	t.Helper()
	assert.NilError(t, os.WriteFile(filepath.Join(root, name), []byte(contents), 0o644))
}

func TestLoadBuildsCommandsAndDeps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "qik.toml", `
[commands.lint]
exec = "eslint ."
cache = "local"

[[commands.lint.deps]]
type = "glob"
pattern = "**/*.js"

[[commands.lint.deps]]
type = "command"
name = "build"
strict = true

[commands.build]
exec = "webpack"

[caches.local]
type = "local"
`)

	p, err := Load(root)
	assert.NilError(t, err)

	lint, ok := p.Commands["lint"]
	assert.Assert(t, ok)
	assert.Equal(t, lint.Exec, "eslint .")
	assert.Equal(t, lint.Cache, "local")
	assert.Equal(t, len(lint.Deps), 2)

	g, ok := lint.Deps[0].(dep.Glob)
	assert.Assert(t, ok)
	assert.Equal(t, g.Pattern, "**/*.js")

	c, ok := lint.Deps[1].(dep.Cmd)
	assert.Assert(t, ok)
	assert.Equal(t, c.Name, "build")
	assert.Assert(t, c.Strict)
	assert.Assert(t, c.Expand != nil)

	_, ok = p.Commands["build"]
	assert.Assert(t, ok)
}

func TestLoadMissingConfig(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.ErrorContains(t, err, "ConfigNotFound")
}

func TestLoadAppliesLocalOverride(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "qik.toml", `
[commands.test]
exec = "pytest"
`)
	writeFile(t, root, ".qikrc.json", `{
		// developer-machine override
		"commands.test.exec": "pytest -x"
	}`)

	p, err := Load(root)
	assert.NilError(t, err)
	assert.Equal(t, p.Commands["test"].Exec, "pytest -x")
}

func TestBuildCachesRecognizesTypes(t *testing.T) {
	root := t.TempDir()
	caches, err := buildCaches(root, map[string]rawCacheConf{
		"l": {Type: "local"},
		"n": {Type: "none"},
	})
	assert.NilError(t, err)
	assert.Equal(t, caches["l"].Type(), "local")
	assert.Equal(t, caches["n"].Type(), "none")
	assert.Equal(t, caches["none"].Type(), "none")
}

func TestBuildCachesRejectsUnknownType(t *testing.T) {
	_, err := buildCaches(t.TempDir(), map[string]rawCacheConf{"x": {Type: "bogus"}})
	assert.ErrorContains(t, err, "InvalidCacheType")
}

func TestResolveValFromJSON(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "values.json")
	writeFile(t, root, "values.json", `{"version": "1.2.3"}`)

	v, err := resolveVal("version", path)
	assert.NilError(t, err)
	assert.Equal(t, v, "1.2.3")
}

func TestResolveValFromDotenv(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, ".env")
	writeFile(t, root, ".env", "API_KEY=\"abc123\"\n# comment\nOTHER=x\n")

	v, err := resolveVal("API_KEY", path)
	assert.NilError(t, err)
	assert.Equal(t, v, "abc123")
}

func TestResolveValMissingFile(t *testing.T) {
	_, err := resolveVal("k", filepath.Join(t.TempDir(), "missing.env"))
	assert.ErrorContains(t, err, "DotEnvNotFound")
	var rerr *runnable.Error
	assert.Assert(t, errorsAs(err, &rerr))
	assert.Equal(t, rerr.Code, "DotEnvNotFound")
}

func errorsAs(err error, target **runnable.Error) bool {
	if e, ok := err.(*runnable.Error); ok {
		*target = e
		return true
	}
	return false
}

func TestProjectExpandResolvesCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "qik.toml", `
[commands.build]
exec = "make build"
`)
	p, err := Load(root)
	assert.NilError(t, err)

	names, err := p.Expand("build", nil)
	assert.NilError(t, err)
	assert.DeepEqual(t, names, []string{"build"})
}

func TestProjectExpandUnknownCommand(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "qik.toml", "[commands.build]\nexec = \"make\"\n")
	p, err := Load(root)
	assert.NilError(t, err)

	_, err = p.Expand("missing", nil)
	assert.ErrorContains(t, err, "CommandNotFound")
}
