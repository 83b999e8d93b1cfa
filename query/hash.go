package query

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/cespare/xxhash/v2"
)

// HashKey is the default key hasher: the canonical JSON encoding of the key.
// encoding/json writes map keys in sorted order, so two keys that differ
// only in map key ordering hash identically.
func HashKey(key Key) string {
	buf, err := json.Marshal(key)
	if err != nil {
		return fmt.Sprintf("%#v", key)
	}
	return string(buf)
}

// HashKeyXX hashes the canonical encoding with xxhash and renders it as a
// fixed-width hex digest. Useful when keys are large and hashes end up in
// storage or log lines.
func HashKeyXX(key Key) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(HashKey(key)))
}

// hashKeyByOptions applies the configured hasher, falling back to HashKey.
func hashKeyByOptions(key Key, opts *Options) string {
	if opts != nil && opts.QueryKeyHashFn != nil {
		return opts.QueryKeyHashFn(key)
	}
	return HashKey(key)
}

// partialMatchKey reports whether queryKey starts with filterKey. Map items
// match when the filter's entries are a deep subset of the query's.
func partialMatchKey(queryKey, filterKey Key) bool {
	if len(filterKey) > len(queryKey) {
		return false
	}
	for i := range filterKey {
		if !partialDeepEqual(queryKey[i], filterKey[i]) {
			return false
		}
	}
	return true
}

func partialDeepEqual(a, b any) bool {
	if bm, ok := b.(map[string]any); ok {
		am, ok := a.(map[string]any)
		if !ok {
			return false
		}
		for k, bv := range bm {
			av, ok := am[k]
			if !ok || !partialDeepEqual(av, bv) {
				return false
			}
		}
		return true
	}
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Numeric keys survive JSON round-trips as float64; compare canonically.
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(ja) == string(jb)
}

// matchQuery reports whether q satisfies filters.
func matchQuery(filters Filters, q *Query) bool {
	if len(filters.QueryKey) > 0 {
		if filters.Exact {
			if q.Hash() != hashKeyByOptions(filters.QueryKey, Ptr(q.Options())) {
				return false
			}
		} else if !partialMatchKey(q.Key(), filters.QueryKey) {
			return false
		}
	}
	switch filters.Type {
	case TypeActive:
		if !q.IsActive() {
			return false
		}
	case TypeInactive:
		if q.IsActive() {
			return false
		}
	}
	if filters.Stale != nil && q.IsStale() != *filters.Stale {
		return false
	}
	if filters.FetchStatus != "" && q.State().FetchStatus != filters.FetchStatus {
		return false
	}
	if filters.Predicate != nil && !filters.Predicate(q) {
		return false
	}
	return true
}

// matchMutation reports whether m satisfies filters.
func matchMutation(filters MutationFilters, m *Mutation) bool {
	if len(filters.MutationKey) > 0 {
		if len(m.Options().MutationKey) == 0 {
			return false
		}
		if filters.Exact {
			if HashKey(m.Options().MutationKey) != HashKey(filters.MutationKey) {
				return false
			}
		} else if !partialMatchKey(m.Options().MutationKey, filters.MutationKey) {
			return false
		}
	}
	if filters.Status != "" && m.State().Status != filters.Status {
		return false
	}
	if filters.Predicate != nil && !filters.Predicate(m) {
		return false
	}
	return true
}
