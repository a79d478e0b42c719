package dep

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"My-Package":     "my-package",
		"my_package":      "my-package",
		"My.Package..One": "my-package-one",
	}
	for in, want := range cases {
		assert.Equal(t, NormalizeName(in), want)
	}
}

func TestGlobProjections(t *testing.T) {
	g := Glob{Pattern: "src/**/*.go"}
	assert.DeepEqual(t, g.Globs(), []string{"src/**/*.go"})
	assert.DeepEqual(t, g.Watch(), []string{"src/**/*.go"})
	assert.DeepEqual(t, g.Since(), []string{"src/**/*.go"})
	assert.Assert(t, g.Vals() == nil)
	assert.Assert(t, g.Runnables() == nil)
}

func TestConstDefaultsSinceToRootConfig(t *testing.T) {
	c := Const{Val: "1.2.3"}
	assert.DeepEqual(t, c.Since(), []string{"*qik.toml"})
	assert.Assert(t, c.Watch() == nil)
	assert.DeepEqual(t, c.Vals(), []string{"1.2.3"})
}

func TestConstHonorsRootConfigGlob(t *testing.T) {
	c := Const{Val: "x", RootConfigGlob: "modules/*/qik.toml"}
	assert.DeepEqual(t, c.Since(), []string{"modules/*/qik.toml"})
}

func TestCmdRunnablesExpandsViaCallback(t *testing.T) {
	c := Cmd{
		Name:   "build",
		Strict: true,
		Expand: func(name string, args map[string]string) ([]string, error) {
			return []string{"build#moduleA", "build#moduleB"}, nil
		},
	}
	edges := c.Runnables()
	assert.Equal(t, len(edges), 2)
	for _, e := range edges {
		assert.Assert(t, e.Strict)
	}
}

func TestCmdRunnablesNilExpandIsEmpty(t *testing.T) {
	c := Cmd{Name: "build"}
	assert.Assert(t, c.Runnables() == nil)
}

func TestLoadFallsBackToDefaultWhenUnresolved(t *testing.T) {
	l := Load{Path: "deps.json", Default: []string{"a.txt"}}
	assert.DeepEqual(t, l.Globs(), []string{"a.txt"})
	assert.Assert(t, l.Pydists() == nil)
}

func TestLoadUsesLoadedRecord(t *testing.T) {
	l := Load{
		Path:    "deps.json",
		Default: []string{"a.txt"},
		Loaded:  &Serialized{Globs: []string{"b.txt"}, Pydists: []string{"requests"}},
	}
	assert.DeepEqual(t, l.Globs(), []string{"b.txt"})
	assert.DeepEqual(t, l.Pydists(), []string{"requests"})
}

func TestBuildDispatchesRegisteredConstructor(t *testing.T) {
	d, err := Build("glob", map[string]any{"pattern": "*.py"})
	assert.NilError(t, err)
	g, ok := d.(Glob)
	assert.Assert(t, ok)
	assert.Equal(t, g.Pattern, "*.py")
}

func TestBuildUnregisteredTagErrors(t *testing.T) {
	_, err := Build("nonexistent", nil)
	assert.ErrorContains(t, err, "unregistered")
}
