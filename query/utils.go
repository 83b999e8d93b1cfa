package query

import (
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
)

// timeNow is swappable in tests.
var timeNow = time.Now

func nowMs() int64 {
	return timeNow().UnixMilli()
}

// ReplaceEqualDeep merges next into prev preserving reference identity for
// subtrees that are deeply equal. It walks map[string]any and []any values;
// anything else is compared wholesale. If the two trees are fully equal the
// result is prev itself.
func ReplaceEqualDeep(prev, next any) any {
	if identityEqual(prev, next) {
		return prev
	}
	switch nextVal := next.(type) {
	case []any:
		prevVal, ok := prev.([]any)
		if !ok {
			if reflect.DeepEqual(prev, next) {
				return prev
			}
			return next
		}
		merged := make([]any, len(nextVal))
		equalCount := 0
		for i := range nextVal {
			if i < len(prevVal) {
				merged[i] = ReplaceEqualDeep(prevVal[i], nextVal[i])
				if sameReference(merged[i], prevVal[i]) {
					equalCount++
				}
			} else {
				merged[i] = nextVal[i]
			}
		}
		if len(prevVal) == len(nextVal) && equalCount == len(nextVal) {
			return prev
		}
		return merged
	case map[string]any:
		prevVal, ok := prev.(map[string]any)
		if !ok {
			if reflect.DeepEqual(prev, next) {
				return prev
			}
			return next
		}
		merged := make(map[string]any, len(nextVal))
		equalCount := 0
		for k, nv := range nextVal {
			if pv, ok := prevVal[k]; ok {
				merged[k] = ReplaceEqualDeep(pv, nv)
				if sameReference(merged[k], pv) {
					equalCount++
				}
			} else {
				merged[k] = nv
			}
		}
		if len(prevVal) == len(nextVal) && equalCount == len(nextVal) {
			return prev
		}
		return merged
	default:
		if reflect.DeepEqual(prev, next) {
			return prev
		}
		return next
	}
}

// sameReference reports whether a and b are the same value by identity:
// pointer identity for reference kinds, equality for comparable kinds.
func sameReference(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ra := reflect.ValueOf(a)
	rb := reflect.ValueOf(b)
	if ra.Kind() != rb.Kind() {
		return false
	}
	switch ra.Kind() {
	case reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Pointer, reflect.UnsafePointer:
		if ra.Kind() == reflect.Slice && ra.Len() == 0 && rb.Len() == 0 {
			return ra.Len() == rb.Len()
		}
		return ra.Pointer() == rb.Pointer()
	default:
		if ra.Type() != rb.Type() || !ra.Type().Comparable() {
			return false
		}
		return a == b
	}
}

// identityEqual is the identity check ReplaceEqualDeep starts with. It is
// sameReference alone; it has no deep-equal fallback.
func identityEqual(a, b any) bool {
	return sameReference(a, b)
}

// timeUntilStale returns how long until data written at updatedAt (unix ms)
// goes stale, clamped at zero.
func timeUntilStale(updatedAt int64, staleTime time.Duration) time.Duration {
	if updatedAt == 0 {
		return 0
	}
	deadline := time.UnixMilli(updatedAt).Add(staleTime)
	d := deadline.Sub(timeNow())
	if d < 0 {
		return 0
	}
	return d
}

// resolveEnabled evaluates the enabled option for q.
func resolveEnabled(opts *Options, q *Query) bool {
	if opts.EnabledFn != nil {
		return opts.EnabledFn(q)
	}
	if opts.Enabled != nil {
		return *opts.Enabled
	}
	return true
}

// resolveStaleTime resolves the stale time option for q.
func resolveStaleTime(opts *Options, q *Query) StaleTime {
	return opts.StaleTime.Resolve(q)
}

func resolveRefetchInterval(opts *Options, q *Query) time.Duration {
	if opts.RefetchIntervalFn != nil {
		return opts.RefetchIntervalFn(q)
	}
	return opts.RefetchInterval
}

// replaceData applies structural sharing policy to successive results.
func replaceData(prev, next any, opts *Options) any {
	if opts.StructuralSharingFn != nil {
		return opts.StructuralSharingFn(prev, next)
	}
	if opts.StructuralSharing != nil && !*opts.StructuralSharing {
		return next
	}
	return ReplaceEqualDeep(prev, next)
}

// funcPtr identifies a function value for memoization.
func funcPtr(fn func(any) (any, error)) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// panicError converts a recovered panic value into an error.
func panicError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return errors.Newf("query: select panicked: %v", r)
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
