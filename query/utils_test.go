package query

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceEqualDeepIdentical(t *testing.T) {
	prev := map[string]any{"a": 1, "b": []any{1, 2}}
	next := map[string]any{"a": 1, "b": []any{1, 2}}
	merged := ReplaceEqualDeep(prev, next)
	assert.Equal(t, reflect.ValueOf(prev).Pointer(), reflect.ValueOf(merged).Pointer())
}

func TestReplaceEqualDeepPreservesUnchangedItems(t *testing.T) {
	prev := []any{
		map[string]any{"id": "1", "done": false},
		map[string]any{"id": "2", "done": false},
	}
	next := []any{
		map[string]any{"id": "1", "done": false},
		map[string]any{"id": "2", "done": true},
	}
	merged := ReplaceEqualDeep(prev, next)
	mergedSlice, ok := merged.([]any)
	require.True(t, ok)
	require.Len(t, mergedSlice, 2)

	// Unchanged item keeps its identity, the changed one does not.
	assert.Equal(t,
		reflect.ValueOf(prev[0]).Pointer(),
		reflect.ValueOf(mergedSlice[0]).Pointer())
	assert.NotEqual(t,
		reflect.ValueOf(prev[1]).Pointer(),
		reflect.ValueOf(mergedSlice[1]).Pointer())
	assert.Equal(t, true, mergedSlice[1].(map[string]any)["done"])
}

func TestReplaceEqualDeepDifferentShapes(t *testing.T) {
	assert.Equal(t, "next", ReplaceEqualDeep([]any{1}, "next"))
	assert.Equal(t, 2, ReplaceEqualDeep(1, 2))
	assert.Equal(t, 1, ReplaceEqualDeep(1, 1))
}

func TestReplaceEqualDeepMapGrowsAndShrinks(t *testing.T) {
	prev := map[string]any{"a": 1}
	next := map[string]any{"a": 1, "b": 2}
	merged := ReplaceEqualDeep(prev, next).(map[string]any)
	assert.Equal(t, 2, merged["b"])

	shrunk := ReplaceEqualDeep(next, map[string]any{"a": 1}).(map[string]any)
	assert.Len(t, shrunk, 1)
}

func TestTimeUntilStale(t *testing.T) {
	now := timeNow().UnixMilli()
	assert.Equal(t, time.Duration(0), timeUntilStale(0, time.Hour))
	assert.Equal(t, time.Duration(0), timeUntilStale(now-10_000, time.Second))
	assert.Greater(t, timeUntilStale(now, time.Hour), 50*time.Minute)
}

func TestSameReference(t *testing.T) {
	m := map[string]any{"a": 1}
	assert.True(t, sameReference(m, m))
	assert.False(t, sameReference(m, map[string]any{"a": 1}))
	assert.True(t, sameReference("x", "x"))
	assert.False(t, sameReference("x", "y"))
	assert.True(t, sameReference(nil, nil))
	assert.False(t, sameReference(nil, 1))
}
