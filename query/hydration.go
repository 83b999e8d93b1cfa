package query

import (
	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// DehydratedQueryState is the serializable subset of a query's state.
// Errors travel as strings; fetch activity never survives a snapshot.
type DehydratedQueryState struct {
	Data             any    `msgpack:"data"`
	HasData          bool   `msgpack:"hasData"`
	DataUpdateCount  int    `msgpack:"dataUpdateCount"`
	DataUpdatedAt    int64  `msgpack:"dataUpdatedAt"`
	Error            string `msgpack:"error,omitempty"`
	HasError         bool   `msgpack:"hasError"`
	ErrorUpdateCount int    `msgpack:"errorUpdateCount"`
	ErrorUpdatedAt   int64  `msgpack:"errorUpdatedAt"`
	IsInvalidated    bool   `msgpack:"isInvalidated"`
	Status           string `msgpack:"status"`
}

// DehydratedQuery is one query in a snapshot.
type DehydratedQuery struct {
	QueryHash string               `msgpack:"queryHash"`
	QueryKey  Key                  `msgpack:"queryKey"`
	State     DehydratedQueryState `msgpack:"state"`
	Meta      Meta                 `msgpack:"meta,omitempty"`
}

// DehydratedMutationState preserves what a paused mutation needs to resume.
type DehydratedMutationState struct {
	Context      any    `msgpack:"context,omitempty"`
	Data         any    `msgpack:"data,omitempty"`
	FailureCount int    `msgpack:"failureCount"`
	IsPaused     bool   `msgpack:"isPaused"`
	Status       string `msgpack:"status"`
	SubmittedAt  int64  `msgpack:"submittedAt"`
	Variables    any    `msgpack:"variables,omitempty"`
}

// DehydratedMutation is one mutation in a snapshot.
type DehydratedMutation struct {
	MutationKey Key                     `msgpack:"mutationKey,omitempty"`
	ScopeID     string                  `msgpack:"scopeId,omitempty"`
	State       DehydratedMutationState `msgpack:"state"`
	Meta        Meta                    `msgpack:"meta,omitempty"`
}

// DehydratedState is a portable snapshot of both caches.
type DehydratedState struct {
	Mutations []DehydratedMutation `msgpack:"mutations"`
	Queries   []DehydratedQuery    `msgpack:"queries"`
}

// Encode serializes the snapshot with msgpack.
func (s DehydratedState) Encode() ([]byte, error) {
	buf, err := msgpack.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "query: encode dehydrated state")
	}
	return buf, nil
}

// DecodeDehydratedState deserializes a snapshot produced by Encode.
func DecodeDehydratedState(buf []byte) (DehydratedState, error) {
	var s DehydratedState
	if err := msgpack.Unmarshal(buf, &s); err != nil {
		return DehydratedState{}, errors.Wrap(err, "query: decode dehydrated state")
	}
	return s, nil
}

// DehydrateOptions select what goes into a snapshot.
type DehydrateOptions struct {
	// ShouldDehydrateQuery defaults to successful queries.
	ShouldDehydrateQuery func(q *Query) bool
	// ShouldDehydrateMutation defaults to paused mutations.
	ShouldDehydrateMutation func(m *Mutation) bool
}

// Dehydrate snapshots the client's caches.
func Dehydrate(c *Client, opts *DehydrateOptions) DehydratedState {
	shouldQuery := func(q *Query) bool { return q.State().Status == StatusSuccess }
	shouldMutation := func(m *Mutation) bool { return m.State().IsPaused }
	if opts != nil && opts.ShouldDehydrateQuery != nil {
		shouldQuery = opts.ShouldDehydrateQuery
	}
	if opts != nil && opts.ShouldDehydrateMutation != nil {
		shouldMutation = opts.ShouldDehydrateMutation
	}
	out := DehydratedState{}
	for _, q := range c.QueryCache().GetAll() {
		if !shouldQuery(q) {
			continue
		}
		state := q.State()
		dq := DehydratedQuery{
			QueryHash: q.Hash(),
			QueryKey:  q.Key(),
			Meta:      q.Meta(),
			State: DehydratedQueryState{
				Data:             state.Data,
				HasData:          state.HasData,
				DataUpdateCount:  state.DataUpdateCount,
				DataUpdatedAt:    state.DataUpdatedAt,
				ErrorUpdateCount: state.ErrorUpdateCount,
				ErrorUpdatedAt:   state.ErrorUpdatedAt,
				IsInvalidated:    state.IsInvalidated,
				Status:           string(state.Status),
			},
		}
		if state.Error != nil {
			dq.State.Error = state.Error.Error()
			dq.State.HasError = true
		}
		out.Queries = append(out.Queries, dq)
	}
	for _, m := range c.MutationCache().GetAll() {
		if !shouldMutation(m) {
			continue
		}
		state := m.State()
		dm := DehydratedMutation{
			MutationKey: m.Options().MutationKey,
			Meta:        m.Meta(),
			State: DehydratedMutationState{
				Context:      state.Context,
				Data:         state.Data,
				FailureCount: state.FailureCount,
				IsPaused:     state.IsPaused,
				Status:       string(state.Status),
				SubmittedAt:  state.SubmittedAt,
				Variables:    state.Variables,
			},
		}
		if scope := m.Options().Scope; scope != nil {
			dm.ScopeID = scope.ID
		}
		out.Mutations = append(out.Mutations, dm)
	}
	return out
}

// Hydrate merges a snapshot into the client's caches. Existing queries only
// take the snapshot's state when it is newer. Restored paused mutations are
// rebuilt from mutation defaults registered for their key, so a mutation
// function must be registered via SetMutationDefaults before resuming.
func Hydrate(c *Client, state DehydratedState) {
	c.notifier().Batch(func() {
		for _, dq := range state.Queries {
			hydrateQuery(c, dq)
		}
		for _, dm := range state.Mutations {
			hydrateMutation(c, dm)
		}
	})
}

func hydrateQuery(c *Client, dq DehydratedQuery) {
	restored := State{
		Data:             dq.State.Data,
		HasData:          dq.State.HasData,
		DataUpdateCount:  dq.State.DataUpdateCount,
		DataUpdatedAt:    dq.State.DataUpdatedAt,
		ErrorUpdateCount: dq.State.ErrorUpdateCount,
		ErrorUpdatedAt:   dq.State.ErrorUpdatedAt,
		IsInvalidated:    dq.State.IsInvalidated,
		Status:           Status(dq.State.Status),
		FetchStatus:      FetchStatusIdle,
	}
	if dq.State.HasError {
		restored.Error = errors.New(dq.State.Error)
	}
	opts := Options{QueryKey: dq.QueryKey, QueryHash: dq.QueryHash, Meta: dq.Meta}
	existing := c.QueryCache().Get(dq.QueryHash)
	if existing != nil {
		if restored.DataUpdatedAt > existing.State().DataUpdatedAt {
			existing.SetState(restored)
		}
		return
	}
	c.QueryCache().Build(c, c.defaultQueryOptions(opts), &restored)
}

func hydrateMutation(c *Client, dm DehydratedMutation) {
	restored := MutationState{
		Context:      dm.State.Context,
		Data:         dm.State.Data,
		FailureCount: dm.State.FailureCount,
		IsPaused:     dm.State.IsPaused,
		Status:       MutationStatus(dm.State.Status),
		SubmittedAt:  dm.State.SubmittedAt,
		Variables:    dm.State.Variables,
	}
	opts := MutationOptions{MutationKey: dm.MutationKey, Meta: dm.Meta}
	if dm.ScopeID != "" {
		opts.Scope = &MutationScope{ID: dm.ScopeID}
	}
	c.MutationCache().Build(c, c.defaultMutationOptions(opts), &restored)
}
