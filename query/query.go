package query

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/querykit/go-querykit/retry"
)

// State is one query's reducer-owned state.
type State struct {
	Data               any
	DataUpdateCount    int
	DataUpdatedAt      int64
	Error              error
	ErrorUpdateCount   int
	ErrorUpdatedAt     int64
	FetchFailureCount  int
	FetchFailureReason error
	FetchMeta          Meta
	IsInvalidated      bool
	Status             Status
	FetchStatus        FetchStatus
	// HasData distinguishes "no data ever" from a legitimately nil result.
	HasData bool
}

// Action is one reducer transition; it rides on the cache's updated event.
type Action interface{ ActionType() string }

// FetchAction marks the start of a fetch.
type FetchAction struct {
	Meta   Meta
	paused bool
}

func (FetchAction) ActionType() string { return "fetch" }

// FailedAction records a failed attempt that will be retried.
type FailedAction struct {
	Error        error
	FailureCount int
}

func (FailedAction) ActionType() string { return "failed" }

// PauseAction and ContinueAction track the retryer's pause gate.
type PauseAction struct{}

func (PauseAction) ActionType() string { return "pause" }

type ContinueAction struct{}

func (ContinueAction) ActionType() string { return "continue" }

// SuccessAction lands new data.
type SuccessAction struct {
	Data          any
	DataUpdatedAt int64
	Manual        bool
}

func (SuccessAction) ActionType() string { return "success" }

// ErrorAction records a terminal failure, or a revert on cancellation.
type ErrorAction struct {
	Error error
}

func (ErrorAction) ActionType() string { return "error" }

// InvalidateAction marks the data stale regardless of age.
type InvalidateAction struct{}

func (InvalidateAction) ActionType() string { return "invalidate" }

// SetStateAction replaces the state wholesale (hydration, reset, revert).
type SetStateAction struct {
	State State
}

func (SetStateAction) ActionType() string { return "setState" }

// Query is one cache entry: the state machine for a keyed asynchronous
// read, its fetch orchestration, and its observer registry.
type Query struct {
	client *Client
	cache  *Cache
	key    Key
	hash   string

	mu             sync.Mutex
	options        Options
	initialState   State
	state          State
	revertState    *State
	observers      []*Observer
	retryer        *retry.Retryer
	abortCancel    context.CancelFunc
	signalConsumed *atomic.Bool

	gc gcResource
}

func newQuery(client *Client, cache *Cache, opts Options, state *State) *Query {
	q := &Query{
		client: client,
		cache:  cache,
		key:    opts.QueryKey,
		hash:   opts.QueryHash,
	}
	q.options = opts
	q.initialState = initialQueryState(&opts)
	if state != nil {
		q.state = *state
	} else {
		q.state = q.initialState
	}
	q.gc.onExpire = q.optionalRemove
	q.gc.updateGCTime(opts.GCTime)
	q.gc.schedule()
	return q
}

func initialQueryState(opts *Options) State {
	data := opts.InitialData
	if opts.InitialDataFunc != nil {
		data = opts.InitialDataFunc()
	}
	hasData := data != nil
	if hasData {
		updatedAt := opts.InitialDataUpdatedAt
		if opts.InitialDataUpdatedAtFn != nil {
			updatedAt = opts.InitialDataUpdatedAtFn()
		}
		return State{
			Data:          data,
			HasData:       true,
			DataUpdatedAt: updatedAt,
			Status:        StatusSuccess,
			FetchStatus:   FetchStatusIdle,
		}
	}
	return State{
		Status:      StatusPending,
		FetchStatus: FetchStatusIdle,
	}
}

// Key returns the query's logical identity.
func (q *Query) Key() Key { return q.key }

// Hash returns the query's cache hash.
func (q *Query) Hash() string { return q.hash }

// State returns a snapshot of the current state.
func (q *Query) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// InitialState returns the state the query was seeded with.
func (q *Query) InitialState() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.initialState
}

// Options returns the query's current merged options.
func (q *Query) Options() Options {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options
}

// Meta returns the query's metadata.
func (q *Query) Meta() Meta {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options.Meta
}

// SetOptions replaces the query's options and widens its gc countdown.
func (q *Query) SetOptions(opts *Options) {
	if opts == nil {
		return
	}
	q.mu.Lock()
	q.options = *opts
	q.mu.Unlock()
	q.gc.updateGCTime(opts.GCTime)
}

func (q *Query) observerSnapshot() []*Observer {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Observer, len(q.observers))
	copy(out, q.observers)
	return out
}

// ObserverCount returns the number of attached observers.
func (q *Query) ObserverCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.observers)
}

// AddObserver attaches o and cancels any pending collection.
func (q *Query) AddObserver(o *Observer) {
	q.mu.Lock()
	for _, existing := range q.observers {
		if existing == o {
			q.mu.Unlock()
			return
		}
	}
	q.observers = append(q.observers, o)
	q.mu.Unlock()
	q.gc.clear()
	q.cache.notify(CacheEvent{Type: EventObserverAdded, Query: q, Observer: o})
}

// RemoveObserver detaches o. When the last observer leaves, an abortable
// in-flight fetch is cancelled and reverted; a fetch whose function never
// consumed the abort context runs to completion with retries suppressed.
// Either way the gc countdown is armed.
func (q *Query) RemoveObserver(o *Observer) {
	q.mu.Lock()
	found := false
	for i, existing := range q.observers {
		if existing == o {
			q.observers = append(q.observers[:i], q.observers[i+1:]...)
			found = true
			break
		}
	}
	remaining := len(q.observers)
	r := q.retryer
	consumed := q.signalConsumed
	q.mu.Unlock()
	if !found {
		return
	}
	if remaining == 0 {
		if r != nil && !r.IsResolved() {
			if consumed != nil && consumed.Load() {
				r.Cancel(retry.CancelOptions{Revert: true})
			} else {
				r.CancelRetry()
			}
		}
		q.gc.schedule()
	}
	q.cache.notify(CacheEvent{Type: EventObserverRemoved, Query: q, Observer: o})
}

// optionalRemove collects the entry if nothing holds it.
func (q *Query) optionalRemove() {
	q.mu.Lock()
	removable := len(q.observers) == 0 && q.state.FetchStatus == FetchStatusIdle
	q.mu.Unlock()
	if removable {
		q.cache.Remove(q)
	}
}

// IsActive reports whether any attached observer is enabled.
func (q *Query) IsActive() bool {
	for _, o := range q.observerSnapshot() {
		opts := o.optionsSnapshot()
		if !IsSkipToken(opts.QueryFn) && resolveEnabled(opts, q) {
			return true
		}
	}
	return false
}

// IsDisabled reports whether the query cannot fetch on its own. With
// observers it is disabled when none of them is enabled; without observers
// it is disabled when it has no query function, uses SkipToken, or has never
// settled a fetch (no data or error update yet).
func (q *Query) IsDisabled() bool {
	if q.ObserverCount() > 0 {
		return !q.IsActive()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options.QueryFn == nil ||
		IsSkipToken(q.options.QueryFn) ||
		(q.state.DataUpdateCount+q.state.ErrorUpdateCount == 0)
}

// IsStatic reports whether any observer resolves a static stale time.
func (q *Query) IsStatic() bool {
	for _, o := range q.observerSnapshot() {
		opts := o.optionsSnapshot()
		if resolveStaleTime(opts, q).IsStatic() {
			return true
		}
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.options.StaleTime.IsSet() && len(q.observers) == 0 &&
		q.options.StaleTime.Resolve(q).IsStatic()
}

// IsStale reports whether the query's data is eligible for refetching.
func (q *Query) IsStale() bool {
	observers := q.observerSnapshot()
	if len(observers) > 0 {
		for _, o := range observers {
			if o.CurrentResult().IsStale {
				return true
			}
		}
		return false
	}
	state := q.State()
	return state.IsInvalidated || !state.HasData
}

// IsStaleByTime evaluates staleness against an explicit stale time. A query
// with no data is always stale; a static one with data never is.
func (q *Query) IsStaleByTime(staleTime StaleTime) bool {
	state := q.State()
	if !state.HasData {
		return true
	}
	st := staleTime.Resolve(q)
	if st.IsStatic() {
		return false
	}
	if state.IsInvalidated {
		return true
	}
	return timeUntilStale(state.DataUpdatedAt, st.Duration()) == 0
}

// Invalidate marks the data stale regardless of age.
func (q *Query) Invalidate() {
	if !q.State().IsInvalidated {
		q.dispatch(InvalidateAction{})
	}
}

// SetData writes data through the structural-sharing policy and returns the
// value actually stored.
func (q *Query) SetData(newData any, opts *SetDataOptions) any {
	q.mu.Lock()
	prev := q.state.Data
	options := q.options
	q.mu.Unlock()
	data := replaceData(prev, newData, &options)
	action := SuccessAction{Data: data}
	if opts != nil {
		action.DataUpdatedAt = opts.UpdatedAt
		action.Manual = opts.Manual
	}
	q.dispatch(action)
	return data
}

// SetState replaces the state wholesale.
func (q *Query) SetState(state State) {
	q.dispatch(SetStateAction{State: state})
}

// Cancel settles an in-flight fetch with a cancellation. Revert restores
// the pre-fetch snapshot. No-op when idle.
func (q *Query) Cancel(opts retry.CancelOptions) {
	q.mu.Lock()
	r := q.retryer
	q.mu.Unlock()
	if r != nil {
		r.Cancel(opts)
	}
}

// Reset restores the query to its seeded state, cancelling any fetch.
func (q *Query) Reset() {
	q.destroy()
	q.SetState(q.InitialState())
}

// destroy cancels timers and any in-flight fetch without notifying.
func (q *Query) destroy() {
	q.gc.clear()
	q.Cancel(retry.CancelOptions{Silent: true, Revert: true})
}

// OnFocus resumes a paused fetch and runs the focus refetch policy.
func (q *Query) OnFocus() {
	q.mu.Lock()
	r := q.retryer
	q.mu.Unlock()
	if r != nil {
		r.Continue()
	}
	for _, o := range q.observerSnapshot() {
		if o.shouldFetchOnWindowFocus() {
			o.refetchInternal(&RefetchOptions{CancelRefetch: Ptr(false)})
			break
		}
	}
}

// OnOnline resumes a paused fetch and runs the reconnect refetch policy.
// The resume runs first so paused retries settle before the sweep fetches.
func (q *Query) OnOnline() {
	q.mu.Lock()
	r := q.retryer
	q.mu.Unlock()
	if r != nil {
		r.Continue()
	}
	for _, o := range q.observerSnapshot() {
		if o.shouldFetchOnReconnect() {
			o.refetchInternal(&RefetchOptions{CancelRefetch: Ptr(false)})
			break
		}
	}
}

// Promise returns the current in-flight future, shared by every caller, or
// nil when idle.
func (q *Query) Promise() *retry.Future {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.retryer == nil {
		return nil
	}
	return q.retryer.Promise()
}

// Fetch starts a fetch or joins the in-flight one. With data already cached
// and CancelRefetch enabled (the default) an active fetch is silently
// cancelled and replaced.
func (q *Query) Fetch(opts *Options, fetchOpts *FetchOptions) *retry.Future {
	q.mu.Lock()
	if q.state.FetchStatus != FetchStatusIdle && q.retryer != nil && !q.retryer.IsResolved() {
		if q.state.HasData && fetchOpts.cancelRefetch() {
			r := q.retryer
			q.mu.Unlock()
			r.Cancel(retry.CancelOptions{Silent: true})
			q.mu.Lock()
		} else {
			r := q.retryer
			q.mu.Unlock()
			r.ContinueRetry()
			return r.Promise()
		}
	}
	if opts != nil {
		q.options = *opts
	}
	if q.options.QueryFn == nil {
		// Borrow a query function from an observer that has one.
		for _, o := range q.observers {
			oopts := o.optionsSnapshot()
			if oopts.QueryFn != nil {
				q.options = *oopts
				break
			}
		}
	}
	options := q.options
	q.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	consumed := &atomic.Bool{}
	fctx := &FnContext{
		ctx:            ctx,
		key:            q.key,
		meta:           options.Meta,
		client:         q.client,
		signalConsumed: consumed,
	}

	queryFn := options.QueryFn
	fetchFn := func(innerCtx *FnContext) (any, error) {
		if queryFn == nil {
			return nil, ErrNoQueryFn
		}
		if IsSkipToken(queryFn) {
			return nil, ErrSkipToken
		}
		if options.Persister != nil {
			return options.Persister(innerCtx, queryFn, q)
		}
		return queryFn(innerCtx)
	}

	fetchCtx := &fetchContext{
		fetchFn:      fetchFn,
		fctx:         fctx,
		options:      &options,
		fetchOptions: fetchOpts,
		client:       q.client,
		query:        q,
	}
	if options.behavior != nil {
		options.behavior.onFetch(fetchCtx)
	}

	q.mu.Lock()
	snapshot := q.state
	q.revertState = &snapshot
	q.abortCancel = cancel
	q.signalConsumed = consumed
	q.mu.Unlock()

	retryPolicy := options.Retry
	if !retryPolicy.IsSet() {
		retryPolicy = retry.Count(defaultQueryRetries)
	}
	finalFn := q.client.traceFetch(q, func() (any, error) {
		return fetchCtx.fetchFn(fctx)
	})

	r := retry.New(retry.Config{
		Fn:    finalFn,
		Abort: cancel,
		OnSuccess: func(data any) {
			q.onFetchSuccess(data)
		},
		OnError: func(err error) {
			q.onFetchError(err)
		},
		OnFail: func(failureCount int, err error) {
			q.dispatch(FailedAction{Error: err, FailureCount: failureCount})
		},
		OnPause: func() {
			q.dispatch(PauseAction{})
		},
		OnContinue: func() {
			q.dispatch(ContinueAction{})
		},
		Retry:       retryPolicy,
		RetryDelay:  options.RetryDelay,
		NetworkMode: options.NetworkMode,
		IsOnline:    q.client.onlineManager().IsOnline,
		IsFocused:   q.client.focusManager().IsFocused,
	})

	q.mu.Lock()
	q.retryer = r
	dispatchFetch := q.state.FetchStatus == FetchStatusIdle
	q.mu.Unlock()

	if dispatchFetch {
		var meta Meta
		if fetchOpts != nil {
			meta = fetchOpts.Meta
		}
		paused := !retry.CanFetch(options.NetworkMode, q.client.onlineManager().IsOnline())
		q.dispatch(FetchAction{Meta: meta, paused: paused})
	}

	return r.Start()
}

const defaultQueryRetries = 3

func (q *Query) onFetchSuccess(data any) {
	q.mu.Lock()
	prev := q.state.Data
	options := q.options
	cancel := q.abortCancel
	q.abortCancel = nil
	q.mu.Unlock()
	merged := replaceData(prev, data, &options)
	q.dispatch(SuccessAction{Data: merged})
	if cancel != nil {
		cancel()
	}
	cfg := q.cache.Config()
	if cfg.OnSuccess != nil {
		cfg.OnSuccess(merged, q)
	}
	if cfg.OnSettled != nil {
		cfg.OnSettled(merged, q.State().Error, q)
	}
	q.scheduleGCIfUnobserved()
}

func (q *Query) onFetchError(err error) {
	ce, cancelled := retry.AsCancelled(err)
	if !cancelled || !ce.Silent {
		q.dispatch(ErrorAction{Error: err})
	}
	q.mu.Lock()
	cancel := q.abortCancel
	q.abortCancel = nil
	observerCount := len(q.observers)
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if !cancelled {
		cfg := q.cache.Config()
		if cfg.OnError != nil {
			cfg.OnError(err, q)
		}
		if cfg.OnSettled != nil {
			cfg.OnSettled(q.State().Data, err, q)
		}
		if observerCount == 0 {
			q.client.logger().Error("query failed with no observers: key=%s err=%v", q.hash, err)
		}
	}
	q.scheduleGCIfUnobserved()
}

func (q *Query) scheduleGCIfUnobserved() {
	if q.ObserverCount() == 0 {
		q.gc.schedule()
	}
}

// dispatch runs the reducer and fans the transition out to observers and
// cache subscribers in one batched pass.
func (q *Query) dispatch(a Action) {
	q.mu.Lock()
	q.state = q.reduce(q.state, a)
	observers := make([]*Observer, len(q.observers))
	copy(observers, q.observers)
	q.mu.Unlock()
	q.client.notifier().Batch(func() {
		for _, o := range observers {
			o.onQueryUpdate()
		}
		q.cache.notify(CacheEvent{Type: EventUpdated, Query: q, Action: a})
	})
}

// reduce is the query state machine. Called with q.mu held.
func (q *Query) reduce(state State, a Action) State {
	switch act := a.(type) {
	case FailedAction:
		state.FetchFailureCount = act.FailureCount
		state.FetchFailureReason = act.Error
		return state
	case PauseAction:
		state.FetchStatus = FetchStatusPaused
		return state
	case ContinueAction:
		state.FetchStatus = FetchStatusFetching
		return state
	case FetchAction:
		state.FetchFailureCount = 0
		state.FetchFailureReason = nil
		state.FetchMeta = act.Meta
		if act.paused {
			state.FetchStatus = FetchStatusPaused
		} else {
			state.FetchStatus = FetchStatusFetching
		}
		if !state.HasData {
			state.Error = nil
			state.Status = StatusPending
		}
		return state
	case SuccessAction:
		state.Data = act.Data
		state.HasData = true
		state.DataUpdateCount++
		if act.DataUpdatedAt != 0 {
			state.DataUpdatedAt = act.DataUpdatedAt
		} else {
			state.DataUpdatedAt = nowMs()
		}
		state.Error = nil
		state.IsInvalidated = false
		state.Status = StatusSuccess
		if !act.Manual {
			state.FetchStatus = FetchStatusIdle
			state.FetchFailureCount = 0
			state.FetchFailureReason = nil
		}
		return state
	case ErrorAction:
		if ce, ok := retry.AsCancelled(act.Error); ok && ce.Revert && q.revertState != nil {
			reverted := *q.revertState
			reverted.FetchStatus = FetchStatusIdle
			return reverted
		}
		state.Error = act.Error
		state.ErrorUpdateCount++
		state.ErrorUpdatedAt = nowMs()
		state.FetchFailureCount++
		state.FetchFailureReason = act.Error
		state.FetchStatus = FetchStatusIdle
		state.Status = StatusError
		return state
	case InvalidateAction:
		state.IsInvalidated = true
		return state
	case SetStateAction:
		return act.State
	default:
		return state
	}
}
