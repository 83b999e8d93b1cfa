package query

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefetchQuerySwallowsErrors(t *testing.T) {
	client, _, _ := newTestClient(t)
	client.PrefetchQuery(context.Background(), Options{
		QueryKey: Key{"prefetch"},
		QueryFn:  func(*FnContext) (any, error) { return nil, errors.New("boom") },
	})
	state := client.GetQueryState(Key{"prefetch"})
	require.NotNil(t, state)
	assert.Equal(t, StatusError, state.Status)
}

func TestTypedHelpers(t *testing.T) {
	client, _, _ := newTestClient(t)
	client.SetQueryData(Key{"typed"}, DataUpdater("hello"), nil)

	value, ok := GetQueryData[string](client, Key{"typed"})
	assert.True(t, ok)
	assert.Equal(t, "hello", value)

	_, ok = GetQueryData[int](client, Key{"typed"})
	assert.False(t, ok)

	fetched, err := FetchQueryData[string](context.Background(), client, Options{
		QueryKey: Key{"typed-fetch"},
		QueryFn:  staticValue("typed result"),
	})
	require.NoError(t, err)
	assert.Equal(t, "typed result", fetched)
}

func TestRefetchQueriesThrowOnError(t *testing.T) {
	client, _, _ := newTestClient(t)
	calls := int32(0)
	_, err := client.FetchQuery(context.Background(), Options{
		QueryKey: Key{"flaky"},
		QueryFn: func(*FnContext) (any, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return "fine", nil
			}
			return nil, errors.New("refetch failed")
		},
	})
	require.NoError(t, err)

	err = client.RefetchQueries(context.Background(), Filters{QueryKey: Key{"flaky"}},
		&RefetchOptions{ThrowOnError: true})
	require.Error(t, err)
	assert.Equal(t, "refetch failed", err.Error())

	err = client.RefetchQueries(context.Background(), Filters{QueryKey: Key{"flaky"}}, nil)
	assert.NoError(t, err)
}

func TestRefetchQueriesSkipsDisabled(t *testing.T) {
	client, _, _ := newTestClient(t)
	calls := int32(0)
	o := NewObserver(client, Options{
		QueryKey: Key{"disabled"},
		QueryFn:  func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		Enabled:  Ptr(false),
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()

	require.NoError(t, client.RefetchQueries(context.Background(), Filters{QueryKey: Key{"disabled"}}, nil))
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestEnsureQueryDataRevalidateIfStale(t *testing.T) {
	client, _, _ := newTestClient(t)
	calls := int32(0)
	opts := Options{
		QueryKey:  Key{"revalidate"},
		QueryFn:   func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		StaleTime: Stale(time.Nanosecond),
	}
	first, err := client.EnsureQueryData(context.Background(), opts, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), first)

	time.Sleep(2 * time.Millisecond)
	// Cached data comes back immediately; the refetch happens behind it.
	second, err := client.EnsureQueryData(context.Background(), opts, &EnsureOptions{RevalidateIfStale: true})
	require.NoError(t, err)
	assert.Equal(t, int32(1), second)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)
}

func TestClientDefaultOptionsApply(t *testing.T) {
	fm, om := newManagers()
	client := NewClient(Config{
		FocusManager:  fm,
		OnlineManager: om,
		DefaultOptions: DefaultOptions{
			Queries: Options{StaleTime: Stale(time.Hour)},
		},
	})
	calls := int32(0)
	opts := Options{
		QueryKey: Key{"defaulted"},
		QueryFn:  func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
	}
	_, err := client.FetchQuery(context.Background(), opts)
	require.NoError(t, err)
	// Fresh under the default stale time, so a second fetch is a cache hit.
	_, err = client.FetchQuery(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestMountUnmountReferenceCounting(t *testing.T) {
	client, fm, _ := newTestClient(t)
	client.Mount()
	client.Mount()
	client.Unmount()

	calls := int32(0)
	o := NewObserver(client, Options{
		QueryKey:             Key{"mounted"},
		QueryFn:              func(*FnContext) (any, error) { return atomic.AddInt32(&calls, 1), nil },
		StaleTime:            Stale(time.Hour),
		RefetchOnWindowFocus: RefetchAlways,
	})
	unsub := o.Subscribe(func(ObserverResult) {})
	defer unsub()
	assert.Eventually(t, func() bool { return o.CurrentResult().IsSuccess }, time.Second, time.Millisecond)

	// Still mounted once: focus transitions keep flowing.
	fm.SetFocused(Ptr(false))
	fm.SetFocused(Ptr(true))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) == 2 }, time.Second, time.Millisecond)

	client.Unmount()
	fm.SetFocused(Ptr(false))
	fm.SetFocused(Ptr(true))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClearEmptiesBothCaches(t *testing.T) {
	client, _, _ := newTestClient(t)
	client.SetQueryData(Key{"a"}, DataUpdater(1), nil)
	client.MutationCache().Build(client, MutationOptions{}, nil)
	client.Clear()
	assert.Empty(t, client.QueryCache().GetAll())
	assert.Empty(t, client.MutationCache().GetAll())
}
