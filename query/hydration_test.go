package query

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDehydrateHydrateQueries(t *testing.T) {
	source, _, _ := newTestClient(t)
	_, err := source.FetchQuery(context.Background(), Options{
		QueryKey: Key{"todos", 1},
		QueryFn:  staticValue(map[string]any{"title": "write tests"}),
	})
	require.NoError(t, err)

	snapshot := Dehydrate(source, nil)
	require.Len(t, snapshot.Queries, 1)
	assert.Empty(t, snapshot.Mutations)

	target, _, _ := newTestClient(t)
	Hydrate(target, snapshot)

	data, ok := target.GetQueryData(Key{"todos", 1})
	require.True(t, ok)
	assert.Equal(t, "write tests", data.(map[string]any)["title"])

	state := target.GetQueryState(Key{"todos", 1})
	assert.Equal(t, StatusSuccess, state.Status)
	assert.Equal(t, FetchStatusIdle, state.FetchStatus)
}

func TestDehydrateSkipsPendingByDefault(t *testing.T) {
	client, _, _ := newTestClient(t)
	NewObserver(client, Options{QueryKey: Key{"never-fetched"}, QueryFn: SkipToken})
	snapshot := Dehydrate(client, nil)
	assert.Empty(t, snapshot.Queries)
}

func TestHydrateKeepsNewerLocalData(t *testing.T) {
	source, _, _ := newTestClient(t)
	source.SetQueryData(Key{"k"}, DataUpdater("old"), &SetDataOptions{UpdatedAt: 100})
	snapshot := Dehydrate(source, nil)

	target, _, _ := newTestClient(t)
	target.SetQueryData(Key{"k"}, DataUpdater("newer"), nil)
	Hydrate(target, snapshot)

	data, _ := target.GetQueryData(Key{"k"})
	assert.Equal(t, "newer", data)
}

func TestHydrateOverwritesOlderLocalData(t *testing.T) {
	source, _, _ := newTestClient(t)
	source.SetQueryData(Key{"k"}, DataUpdater("fresh"), nil)
	snapshot := Dehydrate(source, nil)

	target, _, _ := newTestClient(t)
	target.SetQueryData(Key{"k"}, DataUpdater("ancient"), &SetDataOptions{UpdatedAt: 100})
	Hydrate(target, snapshot)

	data, _ := target.GetQueryData(Key{"k"})
	assert.Equal(t, "fresh", data)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	source, _, _ := newTestClient(t)
	source.SetQueryData(Key{"todos", 1}, DataUpdater("payload"), nil)
	snapshot := Dehydrate(source, nil)

	buf, err := snapshot.Encode()
	require.NoError(t, err)
	decoded, err := DecodeDehydratedState(buf)
	require.NoError(t, err)
	require.Len(t, decoded.Queries, 1)
	assert.Equal(t, snapshot.Queries[0].QueryHash, decoded.Queries[0].QueryHash)
	assert.Equal(t, "payload", decoded.Queries[0].State.Data)
}

func TestPausedMutationSurvivesDehydration(t *testing.T) {
	source, _, om := newTestClient(t)
	om.SetOnline(false)

	o := NewMutationObserver(source, MutationOptions{
		MutationKey: Key{"todos", "add"},
		MutationFn: func(context.Context, any) (any, error) {
			t.Fatal("must not run on the source client")
			return nil, nil
		},
	})
	o.Mutate("buy milk", nil)
	assert.Eventually(t, func() bool { return o.CurrentResult().IsPaused }, time.Second, time.Millisecond)

	snapshot := Dehydrate(source, nil)
	require.Len(t, snapshot.Mutations, 1)
	assert.True(t, snapshot.Mutations[0].State.IsPaused)
	assert.Equal(t, "buy milk", snapshot.Mutations[0].State.Variables)

	// A new process resolves the mutation function from key defaults.
	target, _, _ := newTestClient(t)
	calls := int32(0)
	var got any
	target.SetMutationDefaults(Key{"todos"}, MutationOptions{
		MutationFn: func(_ context.Context, variables any) (any, error) {
			atomic.AddInt32(&calls, 1)
			got = variables
			return variables, nil
		},
	})
	Hydrate(target, snapshot)

	restored := target.MutationCache().Find(MutationFilters{MutationKey: Key{"todos", "add"}})
	require.NotNil(t, restored)
	assert.True(t, restored.State().IsPaused)
	assert.Equal(t, "buy milk", restored.State().Variables)

	require.NoError(t, target.ResumePausedMutations(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, "buy milk", got)
	assert.Eventually(t, func() bool {
		return restored.State().Status == MutationStatusSuccess
	}, time.Second, time.Millisecond)
}
