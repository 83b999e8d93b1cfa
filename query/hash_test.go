package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashKeyDeterministic(t *testing.T) {
	a := HashKey(Key{"todos", map[string]any{"page": 1, "size": 10}})
	b := HashKey(Key{"todos", map[string]any{"size": 10, "page": 1}})
	assert.Equal(t, a, b)
}

func TestHashKeyBoundaryValues(t *testing.T) {
	empty := HashKey(Key{""})
	emptyObject := HashKey(Key{map[string]any{}})
	assert.NotEqual(t, empty, emptyObject)
	assert.Equal(t, empty, HashKey(Key{""}))
	assert.Equal(t, emptyObject, HashKey(Key{map[string]any{}}))
}

func TestHashKeyDistinguishesValues(t *testing.T) {
	assert.NotEqual(t, HashKey(Key{"todos", 1}), HashKey(Key{"todos", 2}))
	assert.NotEqual(t, HashKey(Key{"todos"}), HashKey(Key{"todos", nil}))
}

func TestHashKeyXXFixedWidth(t *testing.T) {
	digest := HashKeyXX(Key{"todos", 1})
	assert.Len(t, digest, 16)
	assert.Equal(t, digest, HashKeyXX(Key{"todos", 1}))
	assert.NotEqual(t, digest, HashKeyXX(Key{"todos", 2}))
}

func TestPartialMatchKey(t *testing.T) {
	assert.True(t, partialMatchKey(Key{"todos", 1, "detail"}, Key{"todos"}))
	assert.True(t, partialMatchKey(Key{"todos", 1}, Key{"todos", 1}))
	assert.False(t, partialMatchKey(Key{"todos"}, Key{"todos", 1}))
	assert.False(t, partialMatchKey(Key{"users", 1}, Key{"todos"}))
}

func TestPartialMatchKeyMapSubset(t *testing.T) {
	queryKey := Key{"todos", map[string]any{"page": 1, "size": 10}}
	assert.True(t, partialMatchKey(queryKey, Key{"todos", map[string]any{"page": 1}}))
	assert.False(t, partialMatchKey(queryKey, Key{"todos", map[string]any{"page": 2}}))
}

func TestPartialMatchKeyNumericCanonical(t *testing.T) {
	// Keys that travelled through JSON come back as float64.
	assert.True(t, partialMatchKey(Key{"todos", float64(1)}, Key{"todos", 1}))
}
