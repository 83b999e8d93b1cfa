package query

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverKeepPreviousData(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey:        Key{"k", 0},
		QueryFn:         resolveAfter(0, 10*time.Millisecond),
		PlaceholderFunc: KeepPreviousData,
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	assert.Eventually(t, func() bool {
		r := o.CurrentResult()
		return r.IsSuccess && !r.IsPlaceholderData
	}, time.Second, time.Millisecond)
	assert.Equal(t, 0, o.CurrentResult().Data)

	o.SetOptions(Options{
		QueryKey:        Key{"k", 1},
		QueryFn:         resolveAfter(1, 10*time.Millisecond),
		PlaceholderFunc: KeepPreviousData,
	})

	// The old key's data is presented while the new key loads.
	r := o.CurrentResult()
	assert.Equal(t, 0, r.Data)
	assert.True(t, r.IsPlaceholderData)
	assert.True(t, r.IsFetching)

	assert.Eventually(t, func() bool {
		r := o.CurrentResult()
		return r.Data == 1 && !r.IsPlaceholderData
	}, time.Second, time.Millisecond)
}

func TestObserverPlaceholderValue(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey:        Key{"placeholder"},
		QueryFn:         resolveAfter("real", 20*time.Millisecond),
		PlaceholderData: "placeholder",
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	r := o.CurrentResult()
	assert.Equal(t, "placeholder", r.Data)
	assert.True(t, r.IsPlaceholderData)
	assert.Equal(t, StatusSuccess, r.Status)

	assert.Eventually(t, func() bool {
		r := o.CurrentResult()
		return r.Data == "real" && !r.IsPlaceholderData
	}, time.Second, time.Millisecond)
}

func TestObserverSelect(t *testing.T) {
	client, _, _ := newTestClient(t)
	selectCalls := int32(0)
	o := NewObserver(client, Options{
		QueryKey: Key{"select"},
		QueryFn:  staticValue(map[string]any{"name": "alpha"}),
		Select: func(data any) (any, error) {
			atomic.AddInt32(&selectCalls, 1)
			return data.(map[string]any)["name"], nil
		},
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	assert.Eventually(t, func() bool { return o.CurrentResult().IsSuccess }, time.Second, time.Millisecond)
	assert.Equal(t, "alpha", o.CurrentResult().Data)

	// Recomputing the result with unchanged data reuses the selected value.
	before := atomic.LoadInt32(&selectCalls)
	o.updateResult()
	assert.Equal(t, before, atomic.LoadInt32(&selectCalls))
}

func TestObserverSelectFailure(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"select-fail"},
		QueryFn:  staticValue("raw"),
		Select: func(any) (any, error) {
			return nil, errors.New("select blew up")
		},
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	assert.Eventually(t, func() bool { return o.CurrentResult().IsError }, time.Second, time.Millisecond)
	r := o.CurrentResult()
	assert.Nil(t, r.Data)
	require.NotNil(t, r.Error)
	assert.Equal(t, "select blew up", r.Error.Error())

	// The query itself is untouched by the selection failure.
	state := o.Query().State()
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, "raw", state.Data)
}

func TestObserverTrackedPropsSuppressNotifications(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"tracked"},
		QueryFn:  staticValue("same"),
	})
	o.TrackProp(PropData)

	var mu sync.Mutex
	notifications := 0
	unsub := o.Subscribe(func(ObserverResult) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})
	defer unsub()

	assert.Eventually(t, func() bool { return o.CurrentResult().IsSuccess }, time.Second, time.Millisecond)
	mu.Lock()
	after := notifications
	mu.Unlock()

	// Same value again: structural sharing keeps the data identity, so the
	// only changes are untracked fields and no notification goes out.
	client.SetQueryData(Key{"tracked"}, DataUpdater("same"), nil)
	time.Sleep(10 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, after, notifications)
	mu.Unlock()
}

func TestObserverNotifyOnChangePropsAll(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey:            Key{"all-props"},
		QueryFn:             staticValue("same"),
		NotifyOnChangeProps: []ResultProp{PropAll},
	})
	o.TrackProp(PropData)

	var mu sync.Mutex
	notifications := 0
	unsub := o.Subscribe(func(ObserverResult) {
		mu.Lock()
		notifications++
		mu.Unlock()
	})
	defer unsub()
	assert.Eventually(t, func() bool { return o.CurrentResult().IsSuccess }, time.Second, time.Millisecond)
	mu.Lock()
	after := notifications
	mu.Unlock()

	time.Sleep(2 * time.Millisecond)
	client.SetQueryData(Key{"all-props"}, DataUpdater("same"), nil)
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return notifications > after
	}, time.Second, time.Millisecond)
}

func TestRefetchOnWindowFocusAlways(t *testing.T) {
	client, fm, _ := newTestClient(t)
	client.Mount()
	defer client.Unmount()

	calls := int32(0)
	fresh := NewObserver(client, Options{
		QueryKey:             Key{"focus", "always"},
		QueryFn:              func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		StaleTime:            Stale(time.Hour),
		RefetchOnWindowFocus: RefetchAlways,
	})
	unsub := fresh.Subscribe(func(ObserverResult) {})
	defer unsub()
	assert.Eventually(t, func() bool { return fresh.CurrentResult().IsSuccess }, time.Second, time.Millisecond)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	fm.SetFocused(Ptr(false))
	fm.SetFocused(Ptr(true))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
}

func TestRefetchOnWindowFocusSkipsFreshData(t *testing.T) {
	client, fm, _ := newTestClient(t)
	client.Mount()
	defer client.Unmount()

	calls := int32(0)
	o := NewObserver(client, Options{
		QueryKey:             Key{"focus", "fresh"},
		QueryFn:              func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		StaleTime:            Stale(time.Hour),
		RefetchOnWindowFocus: RefetchIfStale,
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()
	assert.Eventually(t, func() bool { return o.CurrentResult().IsSuccess }, time.Second, time.Millisecond)

	fm.SetFocused(Ptr(false))
	fm.SetFocused(Ptr(true))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefetchOnReconnect(t *testing.T) {
	client, _, om := newTestClient(t)
	client.Mount()
	defer client.Unmount()

	calls := int32(0)
	o := NewObserver(client, Options{
		QueryKey:           Key{"reconnect"},
		QueryFn:            func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		RefetchOnReconnect: RefetchIfStale,
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()
	assert.Eventually(t, func() bool { return o.CurrentResult().IsSuccess }, time.Second, time.Millisecond)

	// Zero stale time: data is stale immediately, so reconnect refetches.
	om.SetOnline(false)
	om.SetOnline(true)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, time.Millisecond)
}

func TestSkipTokenNeverFetches(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"skipped"},
		QueryFn:  SkipToken,
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	time.Sleep(20 * time.Millisecond)
	r := o.CurrentResult()
	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, FetchStatusIdle, r.FetchStatus)

	// The query is still registered in the cache.
	assert.NotNil(t, client.QueryCache().Find(Filters{QueryKey: Key{"skipped"}}))

	_, err := o.Refetch(nil).Await(context.Background())
	assert.ErrorIs(t, err, ErrSkipToken)
}

func TestEnabledFalseSuppressesFetchUntilEnabled(t *testing.T) {
	client, _, _ := newTestClient(t)
	calls := int32(0)
	opts := Options{
		QueryKey: Key{"gated"},
		QueryFn:  func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		Enabled:  Ptr(false),
	}
	o := NewObserver(client, opts)
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))

	// The false→true transition behaves like a fresh mount.
	enabled := opts
	enabled.Enabled = Ptr(true)
	o.SetOptions(enabled)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
}

func TestRefetchInterval(t *testing.T) {
	client, _, _ := newTestClient(t)
	calls := int32(0)
	o := NewObserver(client, Options{
		QueryKey:        Key{"interval"},
		QueryFn:         func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		StaleTime:       Stale(time.Hour),
		RefetchInterval: 15 * time.Millisecond,
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, time.Millisecond)
	unsub()

	// The interval dies with the subscription.
	settled := atomic.LoadInt32(&calls)
	time.Sleep(50 * time.Millisecond)
	assert.LessOrEqual(t, atomic.LoadInt32(&calls)-settled, int32(1))
}

func TestTrackedResultRecordsReads(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"reads"},
		QueryFn:  staticValue("v"),
	})
	tracked := o.TrackResult(o.CurrentResult())
	_ = tracked.Data()
	_ = tracked.IsStale()

	o.mu.Lock()
	_, dataTracked := o.trackedProps[PropData]
	_, staleTracked := o.trackedProps[PropIsStale]
	_, statusTracked := o.trackedProps[PropStatus]
	o.mu.Unlock()
	assert.True(t, dataTracked)
	assert.True(t, staleTracked)
	assert.False(t, statusTracked)
}

func TestObserverPromiseStableAcrossOneFetch(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"promise"},
		QueryFn:  resolveAfter("v", 30*time.Millisecond),
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	first := o.CurrentResult().Promise
	require.NotNil(t, first)
	time.Sleep(5 * time.Millisecond)
	assert.Same(t, first, o.CurrentResult().Promise)

	value, err := first.Await(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestSubscribedFalseDetachesObserver(t *testing.T) {
	client, _, _ := newTestClient(t)
	calls := int32(0)
	opts := Options{
		QueryKey:   Key{"detached"},
		QueryFn:    func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		Subscribed: Ptr(false),
	}
	o := NewObserver(client, opts)
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, o.Query().ObserverCount())

	attached := opts
	attached.Subscribed = Ptr(true)
	o.SetOptions(attached)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, o.Query().ObserverCount())
}

func TestLastObserverUnsubscribeCancelsConsumedSignal(t *testing.T) {
	client, _, _ := newTestClient(t)
	started := make(chan struct{})
	o := NewObserver(client, Options{
		QueryKey: Key{"abortable"},
		QueryFn: func(fctx *FnContext) (any, error) {
			ctx := fctx.Context()
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	<-started
	unsub()

	q := client.QueryCache().Find(Filters{QueryKey: Key{"abortable"}})
	require.NotNil(t, q)
	assert.Eventually(t, func() bool {
		return q.State().FetchStatus == FetchStatusIdle
	}, time.Second, time.Millisecond)
	assert.False(t, q.State().HasData)
}

func TestLastObserverUnsubscribeKeepsUnconsumedFetch(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"keepalive"},
		QueryFn:  resolveAfter("populated", 30*time.Millisecond),
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	time.Sleep(5 * time.Millisecond)
	unsub()

	// The fetch never consumed the abort context, so it completes and
	// populates the cache for future subscribers.
	assert.Eventually(t, func() bool {
		data, ok := client.GetQueryData(Key{"keepalive"})
		return ok && data == "populated"
	}, time.Second, time.Millisecond)
}

func TestGetOptimisticResult(t *testing.T) {
	client, _, _ := newTestClient(t)
	o := NewObserver(client, Options{
		QueryKey: Key{"optimistic"},
		QueryFn:  resolveAfter("v", 50*time.Millisecond),
	})
	r := o.GetOptimisticResult(Options{
		QueryKey: Key{"optimistic"},
		QueryFn:  resolveAfter("v", 50*time.Millisecond),
	})
	// Not subscribed yet, but the result renders as about to fetch.
	assert.Equal(t, FetchStatusFetching, r.FetchStatus)
	assert.Equal(t, StatusPending, r.Status)
	assert.True(t, r.IsLoading)
}
