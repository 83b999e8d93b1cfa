package retry

import "github.com/cockroachdb/errors"

// CancelledError settles a cancelled task. Revert asks the owner to restore
// its pre-task state; Silent suppresses cancellation notifications.
type CancelledError struct {
	Revert bool
	Silent bool
}

func (e *CancelledError) Error() string { return "retry: cancelled" }

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// AsCancelled extracts a CancelledError from err.
func AsCancelled(err error) (*CancelledError, bool) {
	var ce *CancelledError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
