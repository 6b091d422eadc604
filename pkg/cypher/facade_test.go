package cypher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, isSafeIdentifier("Person"))
	assert.True(t, isSafeIdentifier("_hidden"))
	assert.True(t, isSafeIdentifier("a1"))
	assert.False(t, isSafeIdentifier(""))
	assert.False(t, isSafeIdentifier("1Person"))
	assert.False(t, isSafeIdentifier("Person; DROP TABLE nodes"))
	assert.False(t, isSafeIdentifier("has space"))
}

func TestPropertyMapLiteralSortsKeysDeterministically(t *testing.T) {
	text, params := propertyMapLiteral(map[string]any{"name": "Ada", "age": 36}, "p")
	assert.Equal(t, "{age: $p0, name: $p1}", text)
	assert.Equal(t, 36, params["p0"])
	assert.Equal(t, "Ada", params["p1"])
}

func TestPropertyMapLiteralEmpty(t *testing.T) {
	text, params := propertyMapLiteral(nil, "p")
	assert.Equal(t, "{}", text)
	assert.Empty(t, params)
}

func TestSetAssignmentsBuildsPerKeyAssignments(t *testing.T) {
	text, params := setAssignments("n", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, "n.a = $s0, n.b = $s1", text)
	assert.Equal(t, 1, params["s0"])
	assert.Equal(t, 2, params["s1"])
}
