package persister

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/querykit/go-querykit/query"
)

func TestInMemoryStoreRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewInMemory(ctx, WithSweepInterval(time.Minute))
	defer store.CloseContext(ctx)

	found, _, err := store.GetContext(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	entry := Entry{QueryHash: `["todos"]`, Data: []byte("payload"), DataUpdatedAt: 42}
	require.NoError(t, store.SetContext(ctx, "k", entry, time.Minute))

	found, got, err := store.GetContext(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, entry, got)

	deleted, err := store.DeleteContext(ctx, "k")
	require.NoError(t, err)
	assert.True(t, deleted)
	found, _, _ = store.GetContext(ctx, "k")
	assert.False(t, found)
}

func TestInMemoryStoreExpiry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewInMemory(ctx, WithSweepInterval(time.Minute))
	defer store.CloseContext(ctx)

	require.NoError(t, store.SetContext(ctx, "k", Entry{Data: []byte("v")}, 10*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	found, _, err := store.GetContext(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryStoreBackgroundSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := NewInMemory(ctx, WithSweepInterval(20*time.Millisecond))
	defer store.CloseContext(ctx)

	require.NoError(t, store.SetContext(ctx, "k", Entry{Data: []byte("v")}, 5*time.Millisecond))
	assert.Eventually(t, func() bool {
		s := store.(*inMemoryStore)
		s.mutex.Lock()
		defer s.mutex.Unlock()
		return len(s.entries) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestCompositeStoreFirstHitWins(t *testing.T) {
	ctx := context.Background()
	l1 := NewInMemory(ctx)
	l2 := NewInMemory(ctx)
	store := NewComposite(l1, l2)
	defer store.CloseContext(ctx)

	require.NoError(t, l2.SetContext(ctx, "k", Entry{Data: []byte("from-l2")}, time.Minute))
	found, entry, err := store.GetContext(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("from-l2"), entry.Data)

	require.NoError(t, store.SetContext(ctx, "k2", Entry{Data: []byte("both")}, time.Minute))
	found, _, _ = l1.GetContext(ctx, "k2")
	assert.True(t, found)
	found, _, _ = l2.GetContext(ctx, "k2")
	assert.True(t, found)
}

func TestStorageKeyStable(t *testing.T) {
	a := StorageKey(`["todos",1]`)
	assert.Equal(t, a, StorageKey(`["todos",1]`))
	assert.NotEqual(t, a, StorageKey(`["todos",2]`))
	assert.Len(t, a, len("querykit-")+16)
}

func TestQueryPersisterRestoresWithoutFetching(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory(ctx)
	defer store.CloseContext(ctx)
	persist := NewQueryPersister(store, PersisterOptions{MaxAge: time.Hour})

	calls := int32(0)
	fetcher := func(*query.FnContext) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "network", nil
	}

	warm := query.NewClient(query.Config{})
	data, err := warm.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"persisted"},
		QueryFn:   fetcher,
		Persister: persist,
	})
	require.NoError(t, err)
	assert.Equal(t, "network", data)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// A fresh client restores from the store instead of refetching.
	cold := query.NewClient(query.Config{})
	data, err = cold.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"persisted"},
		QueryFn:   fetcher,
		Persister: persist,
	})
	require.NoError(t, err)
	assert.Equal(t, "network", data)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestQueryPersisterIgnoresExpiredEntries(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory(ctx)
	defer store.CloseContext(ctx)
	persist := NewQueryPersister(store, PersisterOptions{MaxAge: time.Millisecond})

	calls := int32(0)
	fetcher := func(*query.FnContext) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}
	warm := query.NewClient(query.Config{})
	_, err := warm.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"expiring"},
		QueryFn:   fetcher,
		Persister: persist,
	})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	cold := query.NewClient(query.Config{})
	data, err := cold.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"expiring"},
		QueryFn:   fetcher,
		Persister: persist,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), data)
}

func TestQueryPersisterBusterMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory(ctx)
	defer store.CloseContext(ctx)

	calls := int32(0)
	fetcher := func(*query.FnContext) (any, error) {
		return atomic.AddInt32(&calls, 1), nil
	}
	v1 := NewQueryPersister(store, PersisterOptions{Buster: "v1"})
	warm := query.NewClient(query.Config{})
	_, err := warm.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"busted"},
		QueryFn:   fetcher,
		Persister: v1,
	})
	require.NoError(t, err)

	v2 := NewQueryPersister(store, PersisterOptions{Buster: "v2"})
	cold := query.NewClient(query.Config{})
	data, err := cold.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"busted"},
		QueryFn:   fetcher,
		Persister: v2,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(2), data)
}

func TestQueryPersisterFetchErrorNotPersisted(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory(ctx)
	defer store.CloseContext(ctx)
	persist := NewQueryPersister(store, PersisterOptions{})

	client := query.NewClient(query.Config{})
	_, err := client.FetchQuery(ctx, query.Options{
		QueryKey:  query.Key{"failing"},
		QueryFn:   func(*query.FnContext) (any, error) { return nil, errors.New("boom") },
		Persister: persist,
	})
	require.Error(t, err)

	found, _, err := store.GetContext(ctx, StorageKey(query.HashKey(query.Key{"failing"})))
	require.NoError(t, err)
	assert.False(t, found)
}
