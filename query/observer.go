package query

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/querykit/go-querykit/retry"
	"github.com/querykit/go-querykit/subscribe"
)

// ObserverResult is the derived view of one query for one subscriber.
type ObserverResult struct {
	Data             any
	DataUpdatedAt    int64
	Error            error
	ErrorUpdatedAt   int64
	ErrorUpdateCount int
	FailureCount     int
	FailureReason    error

	IsError             bool
	IsFetched           bool
	IsFetchedAfterMount bool
	IsFetching          bool
	IsInitialLoading    bool
	IsLoading           bool
	IsLoadingError      bool
	IsPaused            bool
	IsPending           bool
	IsPlaceholderData   bool
	IsRefetchError      bool
	IsRefetching        bool
	IsStale             bool
	IsSuccess           bool

	Status      Status
	FetchStatus FetchStatus

	// Promise is the in-flight fetch shared across subscribers; stable for
	// the duration of one fetch, nil while idle.
	Promise *retry.Future
	// Refetch triggers a fetch bound to this observer.
	Refetch func(opts *RefetchOptions) *retry.Future
}

// ResultListener receives derived results when tracked fields change.
type ResultListener func(result ObserverResult)

// Observer derives an observable result from a query, decides when fetches
// trigger, and notifies its listeners when fields they read change.
type Observer struct {
	client *Client

	mu                       sync.Mutex
	query                    *Query
	queryInitialState        State
	result                   ObserverResult
	trackedProps             map[ResultProp]struct{}
	selectFn                 func(any) (any, error)
	selectInput              any
	selectResult             any
	selectError              error
	lastQueryWithDefinedData *Query
	staleTimer               *time.Timer
	intervalStop             chan struct{}
	currentInterval          time.Duration

	optsPtr   atomic.Pointer[Options]
	listeners *subscribe.Listeners[ResultListener]
}

// NewObserver builds an observer for the given options. Nothing fetches
// until the first listener subscribes.
func NewObserver(client *Client, opts Options) *Observer {
	o := &Observer{
		client:       client,
		trackedProps: make(map[ResultProp]struct{}),
	}
	o.listeners = subscribe.New[ResultListener](subscribe.Hooks{
		OnSubscribe:   o.onSubscribe,
		OnUnsubscribe: o.onUnsubscribe,
	})
	defaulted := client.defaultQueryOptions(opts)
	o.optsPtr.Store(&defaulted)
	q := client.queryCache().Build(client, defaulted, nil)
	o.mu.Lock()
	o.query = q
	o.queryInitialState = q.State()
	o.mu.Unlock()
	o.updateResult()
	return o
}

func (o *Observer) optionsSnapshot() *Options {
	return o.optsPtr.Load()
}

func (o *Observer) currentQuery() *Query {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.query
}

// Query returns the cache entry this observer is attached to.
func (o *Observer) Query() *Query { return o.currentQuery() }

func (o *Observer) hasListeners() bool { return o.listeners.HasListeners() }

func (o *Observer) isSubscribed() bool {
	return boolOr(o.optionsSnapshot().Subscribed, true)
}

// Subscribe registers a listener; the first listener mounts the observer
// onto the query and runs the mount fetch policy.
func (o *Observer) Subscribe(listener ResultListener) func() {
	return o.listeners.Subscribe(listener)
}

func (o *Observer) onSubscribe() {
	if o.listeners.Len() != 1 {
		return
	}
	if !o.isSubscribed() {
		o.updateResult()
		return
	}
	q := o.currentQuery()
	q.AddObserver(o)
	opts := o.optionsSnapshot()
	if shouldFetchOnMount(q, opts) {
		o.executeFetch(nil)
	} else {
		o.updateResult()
	}
	o.updateTimers()
}

func (o *Observer) onUnsubscribe() {
	if o.hasListeners() {
		return
	}
	o.Destroy()
}

// Destroy detaches the observer from its query and stops its timers.
func (o *Observer) Destroy() {
	o.clearTimers()
	o.currentQuery().RemoveObserver(o)
}

// SetOptions rebinds the observer: it may move to a different query,
// trigger a fetch (key change or enabled false→true on a stale entry), and
// recompute timers and the derived result.
func (o *Observer) SetOptions(opts Options) {
	prevOpts := o.optionsSnapshot()
	prevQuery := o.currentQuery()
	defaulted := o.client.defaultQueryOptions(opts)
	o.optsPtr.Store(&defaulted)
	o.client.queryCache().notify(CacheEvent{Type: EventObserverOptionsUpdated, Query: prevQuery, Observer: o})

	q := o.client.queryCache().Build(o.client, defaulted, nil)
	queryChanged := q != prevQuery
	if queryChanged {
		o.mu.Lock()
		o.query = q
		o.queryInitialState = q.State()
		o.mu.Unlock()
	}

	hasListeners := o.hasListeners()
	wasSubscribed := boolOr(prevOpts.Subscribed, true)
	nowSubscribed := o.isSubscribed()
	if hasListeners {
		switch {
		case wasSubscribed && !nowSubscribed:
			o.clearTimers()
			prevQuery.RemoveObserver(o)
		case !wasSubscribed && nowSubscribed:
			// Re-attaching behaves like a fresh mount.
			q.AddObserver(o)
			if shouldFetchOnMount(q, &defaulted) {
				o.executeFetch(nil)
			}
		case nowSubscribed && queryChanged:
			prevQuery.RemoveObserver(o)
			q.AddObserver(o)
		}
	}

	mounted := hasListeners && nowSubscribed
	if mounted && shouldFetchOptionally(q, prevQuery, &defaulted, prevOpts) {
		o.executeFetch(nil)
	}
	o.updateResult()
	if mounted {
		o.updateTimers()
	}
}

// Refetch imperatively fetches the observer's query.
func (o *Observer) Refetch(opts *RefetchOptions) *retry.Future {
	return o.refetchInternal(opts)
}

func (o *Observer) refetchInternal(opts *RefetchOptions) *retry.Future {
	return o.executeFetch(opts.fetchOptions())
}

func (o *Observer) executeFetch(fopts *FetchOptions) *retry.Future {
	q := o.currentQuery()
	opts := o.optionsSnapshot()
	if IsSkipToken(opts.QueryFn) {
		return retry.Rejected(ErrSkipToken)
	}
	return q.Fetch(opts, fopts)
}

// CurrentResult returns the last computed result.
func (o *Observer) CurrentResult() ObserverResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// GetOptimisticResult computes the result the given options would produce,
// building the target query if needed. Bindings use it to render ahead of
// subscription.
func (o *Observer) GetOptimisticResult(opts Options) ObserverResult {
	defaulted := o.client.defaultQueryOptions(opts)
	q := o.client.queryCache().Build(o.client, defaulted, nil)
	return o.createResult(q, &defaulted)
}

// TrackProp records that the subscriber reads prop; notifications are
// suppressed unless a tracked prop changed.
func (o *Observer) TrackProp(prop ResultProp) {
	o.mu.Lock()
	o.trackedProps[prop] = struct{}{}
	o.mu.Unlock()
}

// TrackResult wraps a result in accessors that record which fields the
// subscriber reads.
func (o *Observer) TrackResult(r ObserverResult) *TrackedResult {
	return &TrackedResult{o: o, r: r}
}

// onQueryUpdate recomputes the derived result after a query transition.
func (o *Observer) onQueryUpdate() {
	o.updateResult()
	if o.hasListeners() {
		o.updateTimers()
	}
}

// updateResult recomputes the derived result, notifying listeners when a
// relevant field changed.
func (o *Observer) updateResult() {
	q := o.currentQuery()
	opts := o.optionsSnapshot()
	next := o.createResult(q, opts)

	o.mu.Lock()
	prev := o.result
	changed := changedProps(prev, next)
	if len(changed) == 0 && prev.Refetch != nil {
		o.mu.Unlock()
		return
	}
	o.result = next
	shouldNotify := o.shouldNotifyLocked(changed, opts)
	o.mu.Unlock()

	if shouldNotify {
		o.client.notifier().Schedule(func() {
			o.listeners.Each(func(l ResultListener) { l(next) })
		})
	}
	o.client.queryCache().notify(CacheEvent{Type: EventObserverResultsUpdated, Query: q, Observer: o})
}

// shouldNotifyLocked decides whether the change set intersects the fields
// the subscriber cares about. Called with o.mu held.
func (o *Observer) shouldNotifyLocked(changed []ResultProp, opts *Options) bool {
	if len(changed) == 0 {
		return false
	}
	var props []ResultProp
	if opts.NotifyOnChangePropsFn != nil {
		props = opts.NotifyOnChangePropsFn()
	} else {
		props = opts.NotifyOnChangeProps
	}
	included := make(map[ResultProp]struct{}, len(props))
	for _, p := range props {
		if p == PropAll {
			return true
		}
		included[p] = struct{}{}
	}
	if len(included) == 0 {
		if len(o.trackedProps) == 0 {
			return true
		}
		for p := range o.trackedProps {
			included[p] = struct{}{}
		}
	}
	for _, p := range changed {
		if _, ok := included[p]; ok {
			return true
		}
	}
	return false
}

// createResult derives the observable result from the query state.
func (o *Observer) createResult(q *Query, opts *Options) ObserverResult {
	state := q.State()
	status := state.Status
	fetchStatus := state.FetchStatus

	// Optimistic view: a query that will fetch on mount renders as fetching
	// before the subscription lands.
	if !o.hasListeners() && shouldFetchOnMount(q, opts) {
		if retry.CanFetch(opts.NetworkMode, o.client.onlineManager().IsOnline()) {
			fetchStatus = FetchStatusFetching
		} else {
			fetchStatus = FetchStatusPaused
		}
	}

	var data any
	isPlaceholder := false

	if state.HasData {
		data = o.selectData(opts, state.Data)
		o.mu.Lock()
		o.lastQueryWithDefinedData = q
		o.mu.Unlock()
	} else if status == StatusPending {
		placeholder, ok := o.resolvePlaceholder(opts)
		if ok {
			status = StatusSuccess
			data = o.selectData(opts, placeholder)
			isPlaceholder = true
		}
	}

	resultError := state.Error
	o.mu.Lock()
	if o.selectError != nil {
		resultError = o.selectError
		data = nil
		status = StatusError
		isPlaceholder = false
	}
	queryInitial := o.queryInitialState
	o.mu.Unlock()

	isFetching := fetchStatus == FetchStatusFetching
	isPending := status == StatusPending
	isError := status == StatusError

	return ObserverResult{
		Data:             data,
		DataUpdatedAt:    state.DataUpdatedAt,
		Error:            resultError,
		ErrorUpdatedAt:   state.ErrorUpdatedAt,
		ErrorUpdateCount: state.ErrorUpdateCount,
		FailureCount:     state.FetchFailureCount,
		FailureReason:    state.FetchFailureReason,

		IsError:             isError,
		IsFetched:           state.DataUpdateCount > 0 || state.ErrorUpdateCount > 0,
		IsFetchedAfterMount: state.DataUpdateCount > queryInitial.DataUpdateCount || state.ErrorUpdateCount > queryInitial.ErrorUpdateCount,
		IsFetching:          isFetching,
		IsInitialLoading:    isPending && isFetching,
		IsLoading:           isPending && isFetching,
		IsLoadingError:      isError && !state.HasData,
		IsPaused:            fetchStatus == FetchStatusPaused,
		IsPending:           isPending,
		IsPlaceholderData:   isPlaceholder,
		IsRefetchError:      isError && state.HasData,
		IsRefetching:        isFetching && !isPending,
		IsStale:             observerIsStale(q, opts),
		IsSuccess:           status == StatusSuccess,

		Status:      status,
		FetchStatus: fetchStatus,

		Promise: q.Promise(),
		Refetch: o.Refetch,
	}
}

// selectData applies the select transform with memoization: an unchanged
// select function over unchanged raw data reuses the previous value, and a
// select failure is cached until either input changes.
func (o *Observer) selectData(opts *Options, raw any) any {
	if opts.Select == nil {
		o.mu.Lock()
		o.selectError = nil
		o.mu.Unlock()
		return raw
	}
	o.mu.Lock()
	sameFn := o.selectFn != nil && funcPtr(o.selectFn) == funcPtr(opts.Select)
	sameInput := sameReference(o.selectInput, raw)
	if sameFn && sameInput {
		cached := o.selectResult
		err := o.selectError
		o.mu.Unlock()
		if err != nil {
			return nil
		}
		return cached
	}
	o.mu.Unlock()

	selected, err := runSelect(opts.Select, raw)

	o.mu.Lock()
	o.selectFn = opts.Select
	o.selectInput = raw
	if err != nil {
		o.selectError = err
		o.selectResult = nil
	} else {
		o.selectError = nil
		o.selectResult = selected
	}
	o.mu.Unlock()
	if err != nil {
		return nil
	}
	return selected
}

// runSelect guards against panicking transforms.
func runSelect(sel func(any) (any, error), raw any) (selected any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError(r)
		}
	}()
	return sel(raw)
}

// resolvePlaceholder produces placeholder data for a query with none.
func (o *Observer) resolvePlaceholder(opts *Options) (any, bool) {
	if opts.PlaceholderFunc != nil {
		o.mu.Lock()
		prevQuery := o.lastQueryWithDefinedData
		o.mu.Unlock()
		var prevData any
		if prevQuery != nil {
			prevData = prevQuery.State().Data
		}
		placeholder := opts.PlaceholderFunc(prevData, prevQuery)
		return placeholder, placeholder != nil
	}
	if opts.PlaceholderData != nil {
		return opts.PlaceholderData, true
	}
	return nil, false
}

func (o *Observer) updateTimers() {
	o.updateStaleTimeout()
	o.updateRefetchInterval()
}

func (o *Observer) clearTimers() {
	o.mu.Lock()
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	if o.intervalStop != nil {
		close(o.intervalStop)
		o.intervalStop = nil
	}
	o.currentInterval = 0
	o.mu.Unlock()
}

// updateStaleTimeout arms a timer that recomputes the result the moment the
// data goes stale, so isStale flips without a query transition.
func (o *Observer) updateStaleTimeout() {
	o.mu.Lock()
	if o.staleTimer != nil {
		o.staleTimer.Stop()
		o.staleTimer = nil
	}
	result := o.result
	o.mu.Unlock()

	q := o.currentQuery()
	opts := o.optionsSnapshot()
	st := resolveStaleTime(opts, q)
	state := q.State()
	if result.IsStale || !state.HasData || st.IsStatic() {
		return
	}
	wait := timeUntilStale(state.DataUpdatedAt, st.Duration()) + time.Millisecond
	timer := time.AfterFunc(wait, func() {
		if !o.CurrentResult().IsStale {
			o.updateResult()
		}
	})
	o.mu.Lock()
	o.staleTimer = timer
	o.mu.Unlock()
}

// updateRefetchInterval runs the periodic refetch loop. Fires are dropped
// when the observer is unsubscribed or the tab is backgrounded without
// RefetchIntervalInBackground.
func (o *Observer) updateRefetchInterval() {
	q := o.currentQuery()
	opts := o.optionsSnapshot()
	interval := time.Duration(0)
	if resolveEnabled(opts, q) && !IsSkipToken(opts.QueryFn) {
		interval = resolveRefetchInterval(opts, q)
	}

	o.mu.Lock()
	if o.currentInterval == interval && o.intervalStop != nil {
		o.mu.Unlock()
		return
	}
	if o.intervalStop != nil {
		close(o.intervalStop)
		o.intervalStop = nil
	}
	o.currentInterval = interval
	if interval <= 0 {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	o.intervalStop = stop
	o.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !o.hasListeners() || !o.isSubscribed() {
					continue
				}
				opts := o.optionsSnapshot()
				if opts.RefetchIntervalInBackground || o.client.focusManager().IsFocused() {
					o.executeFetch(&FetchOptions{CancelRefetch: Ptr(false)})
				}
			}
		}
	}()
}

// Trigger policies.

func observerIsStale(q *Query, opts *Options) bool {
	return q.IsStaleByTime(resolveStaleTime(opts, q))
}

func shouldLoadOnMount(q *Query, opts *Options) bool {
	return resolveEnabled(opts, q) &&
		!IsSkipToken(opts.QueryFn) &&
		!q.State().HasData
}

func shouldFetchOnMount(q *Query, opts *Options) bool {
	if shouldLoadOnMount(q, opts) {
		return true
	}
	return q.State().HasData && shouldFetchOn(q, opts, opts.RefetchOnMount)
}

func shouldFetchOn(q *Query, opts *Options, field Refetch) bool {
	if IsSkipToken(opts.QueryFn) || !resolveEnabled(opts, q) {
		return false
	}
	switch field {
	case RefetchAlways:
		return true
	case RefetchNever:
		return false
	default:
		return observerIsStale(q, opts)
	}
}

func (o *Observer) shouldFetchOnWindowFocus() bool {
	q := o.currentQuery()
	opts := o.optionsSnapshot()
	return o.hasListeners() && o.isSubscribed() && shouldFetchOn(q, opts, opts.RefetchOnWindowFocus)
}

func (o *Observer) shouldFetchOnReconnect() bool {
	q := o.currentQuery()
	opts := o.optionsSnapshot()
	return o.hasListeners() && o.isSubscribed() && shouldFetchOn(q, opts, opts.RefetchOnReconnect)
}

func shouldFetchOptionally(q, prevQuery *Query, opts, prevOpts *Options) bool {
	if IsSkipToken(opts.QueryFn) || !resolveEnabled(opts, q) {
		return false
	}
	return (q != prevQuery || !resolveEnabled(prevOpts, prevQuery)) && observerIsStale(q, opts)
}

// changedProps lists the result fields that differ between a and b.
func changedProps(a, b ObserverResult) []ResultProp {
	var out []ResultProp
	if !sameReference(a.Data, b.Data) {
		out = append(out, PropData)
	}
	if a.DataUpdatedAt != b.DataUpdatedAt {
		out = append(out, PropDataUpdatedAt)
	}
	if !sameReference(a.Error, b.Error) {
		out = append(out, PropError)
	}
	if a.ErrorUpdatedAt != b.ErrorUpdatedAt {
		out = append(out, PropErrorUpdatedAt)
	}
	if a.ErrorUpdateCount != b.ErrorUpdateCount {
		out = append(out, PropErrorUpdateCount)
	}
	if a.FailureCount != b.FailureCount {
		out = append(out, PropFailureCount)
	}
	if !sameReference(a.FailureReason, b.FailureReason) {
		out = append(out, PropFailureReason)
	}
	if a.IsError != b.IsError {
		out = append(out, PropIsError)
	}
	if a.IsFetched != b.IsFetched {
		out = append(out, PropIsFetched)
	}
	if a.IsFetchedAfterMount != b.IsFetchedAfterMount {
		out = append(out, PropIsFetchedAfterMount)
	}
	if a.IsFetching != b.IsFetching {
		out = append(out, PropIsFetching)
	}
	if a.IsInitialLoading != b.IsInitialLoading {
		out = append(out, PropIsInitialLoading)
	}
	if a.IsLoading != b.IsLoading {
		out = append(out, PropIsLoading)
	}
	if a.IsLoadingError != b.IsLoadingError {
		out = append(out, PropIsLoadingError)
	}
	if a.IsPaused != b.IsPaused {
		out = append(out, PropIsPaused)
	}
	if a.IsPending != b.IsPending {
		out = append(out, PropIsPending)
	}
	if a.IsPlaceholderData != b.IsPlaceholderData {
		out = append(out, PropIsPlaceholderData)
	}
	if a.IsRefetchError != b.IsRefetchError {
		out = append(out, PropIsRefetchError)
	}
	if a.IsRefetching != b.IsRefetching {
		out = append(out, PropIsRefetching)
	}
	if a.IsStale != b.IsStale {
		out = append(out, PropIsStale)
	}
	if a.IsSuccess != b.IsSuccess {
		out = append(out, PropIsSuccess)
	}
	if a.Status != b.Status {
		out = append(out, PropStatus)
	}
	if a.FetchStatus != b.FetchStatus {
		out = append(out, PropFetchStatus)
	}
	if a.Promise != b.Promise {
		out = append(out, PropPromise)
	}
	return out
}
