package hasher

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestStrsDeterministic(t *testing.T) {
	a := Strs("b", "a", "c")
	b := Strs("c", "b", "a")
	assert.Equal(t, a, b, "hash of the same set in a different order must match")
}

func TestStrsSensitiveToContent(t *testing.T) {
	a := Strs("a", "b")
	b := Strs("a", "c")
	assert.Assert(t, a != b)
}

func TestValStrMatchesVal(t *testing.T) {
	assert.Equal(t, ValStr("hello"), Val([]byte("hello")))
}

func TestDigestLength(t *testing.T) {
	h := digest("anything")
	assert.Equal(t, len(h), 32, "xxh3-128 renders to 32 hex characters")
}

func TestGlobsOrderIndependent(t *testing.T) {
	a := Globs([]PathObjectID{{Path: "b.txt", ObjectID: "2"}, {Path: "a.txt", ObjectID: "1"}})
	b := Globs([]PathObjectID{{Path: "a.txt", ObjectID: "1"}, {Path: "b.txt", ObjectID: "2"}})
	assert.Equal(t, a, b)
}

func TestGlobsSensitiveToObjectID(t *testing.T) {
	a := Globs([]PathObjectID{{Path: "a.txt", ObjectID: "1"}})
	b := Globs([]PathObjectID{{Path: "a.txt", ObjectID: "2"}})
	assert.Assert(t, a != b)
}

func TestPydistsOrderIndependent(t *testing.T) {
	a := Pydists([]NamedVersion{{Name: "b", Version: "2.0"}, {Name: "a", Version: "1.0"}})
	b := Pydists([]NamedVersion{{Name: "a", Version: "1.0"}, {Name: "b", Version: "2.0"}})
	assert.Equal(t, a, b)
}

func TestEmptyGlobsIsStable(t *testing.T) {
	assert.Equal(t, Globs(nil), Globs([]PathObjectID{}))
}
