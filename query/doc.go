// Package query is an asynchronous state cache: a keyed map of in-flight
// and completed reads, the observers that watch them, and a secondary cache
// of in-flight mutations with pause-and-resume semantics.
//
// # Queries
//
// A [Query] is one cache entry, identified by a [Key] hashed with a stable
// hasher. Concurrent interest in the same key shares a single fetch and a
// single settlement [retry.Future]. Fetches run through a retryer with
// exponential backoff, pause when the network mode forbids progress, and
// resume on the ambient focus and online signals.
//
//	client := query.NewClient(query.Config{})
//	data, err := client.FetchQuery(ctx, query.Options{
//	    QueryKey: query.Key{"todos", 1},
//	    QueryFn: func(fctx *query.FnContext) (any, error) {
//	        return loadTodo(fctx.Context(), 1)
//	    },
//	})
//
// # Observers
//
// An [Observer] is the per-subscriber view of a query: it derives an
// [ObserverResult], decides when mounts, focus, reconnects, intervals, and
// invalidation trigger fetches, and suppresses notifications unless a field
// the subscriber actually read changed (see [Observer.TrackResult]).
//
// # Mutations
//
// A [Mutation] runs a side effect once, with retries and offline pausing.
// Mutations sharing a [MutationScope] run one at a time in submission
// order; [Client.ResumePausedMutations] resumes paused work serially per
// scope and in parallel across scopes.
//
// # Caches
//
// [Cache] and [MutationCache] are the only shared mutable stores. Every
// transition is announced to cache subscribers; observer notifications are
// coalesced through a [notify.Manager] batch.
package query
