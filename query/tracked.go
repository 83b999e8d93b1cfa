package query

import "github.com/querykit/go-querykit/retry"

// TrackedResult exposes an ObserverResult through accessors that record
// which fields the subscriber actually reads. The recorded set feeds the
// observer's change detection: listeners are only notified when a field
// they read changes.
type TrackedResult struct {
	o *Observer
	r ObserverResult
}

func (t *TrackedResult) get(p ResultProp) {
	t.o.TrackProp(p)
}

func (t *TrackedResult) Data() any {
	t.get(PropData)
	return t.r.Data
}

func (t *TrackedResult) DataUpdatedAt() int64 {
	t.get(PropDataUpdatedAt)
	return t.r.DataUpdatedAt
}

func (t *TrackedResult) Error() error {
	t.get(PropError)
	return t.r.Error
}

func (t *TrackedResult) ErrorUpdatedAt() int64 {
	t.get(PropErrorUpdatedAt)
	return t.r.ErrorUpdatedAt
}

func (t *TrackedResult) ErrorUpdateCount() int {
	t.get(PropErrorUpdateCount)
	return t.r.ErrorUpdateCount
}

func (t *TrackedResult) FailureCount() int {
	t.get(PropFailureCount)
	return t.r.FailureCount
}

func (t *TrackedResult) FailureReason() error {
	t.get(PropFailureReason)
	return t.r.FailureReason
}

func (t *TrackedResult) IsError() bool {
	t.get(PropIsError)
	return t.r.IsError
}

func (t *TrackedResult) IsFetched() bool {
	t.get(PropIsFetched)
	return t.r.IsFetched
}

func (t *TrackedResult) IsFetchedAfterMount() bool {
	t.get(PropIsFetchedAfterMount)
	return t.r.IsFetchedAfterMount
}

func (t *TrackedResult) IsFetching() bool {
	t.get(PropIsFetching)
	return t.r.IsFetching
}

func (t *TrackedResult) IsInitialLoading() bool {
	t.get(PropIsInitialLoading)
	return t.r.IsInitialLoading
}

func (t *TrackedResult) IsLoading() bool {
	t.get(PropIsLoading)
	return t.r.IsLoading
}

func (t *TrackedResult) IsLoadingError() bool {
	t.get(PropIsLoadingError)
	return t.r.IsLoadingError
}

func (t *TrackedResult) IsPaused() bool {
	t.get(PropIsPaused)
	return t.r.IsPaused
}

func (t *TrackedResult) IsPending() bool {
	t.get(PropIsPending)
	return t.r.IsPending
}

func (t *TrackedResult) IsPlaceholderData() bool {
	t.get(PropIsPlaceholderData)
	return t.r.IsPlaceholderData
}

func (t *TrackedResult) IsRefetchError() bool {
	t.get(PropIsRefetchError)
	return t.r.IsRefetchError
}

func (t *TrackedResult) IsRefetching() bool {
	t.get(PropIsRefetching)
	return t.r.IsRefetching
}

func (t *TrackedResult) IsStale() bool {
	t.get(PropIsStale)
	return t.r.IsStale
}

func (t *TrackedResult) IsSuccess() bool {
	t.get(PropIsSuccess)
	return t.r.IsSuccess
}

func (t *TrackedResult) Status() Status {
	t.get(PropStatus)
	return t.r.Status
}

func (t *TrackedResult) FetchStatus() FetchStatus {
	t.get(PropFetchStatus)
	return t.r.FetchStatus
}

func (t *TrackedResult) Promise() *retry.Future {
	t.get(PropPromise)
	return t.r.Promise
}

// Refetch is not tracked: reading the function does not depend on state.
func (t *TrackedResult) Refetch(opts *RefetchOptions) *retry.Future {
	return t.r.Refetch(opts)
}
