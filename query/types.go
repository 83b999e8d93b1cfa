package query

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/querykit/go-querykit/retry"
)

// Key is the logical identity of a query: an ordered tuple of JSON-like
// values (primitives, maps, slices). Two keys with the same hash name the
// same cache entry.
type Key []any

// Meta carries arbitrary per-query or per-mutation metadata through to the
// query function and lifecycle callbacks.
type Meta map[string]any

// Status describes the result state of a query.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FetchStatus describes the activity state of a query.
type FetchStatus string

const (
	FetchStatusIdle     FetchStatus = "idle"
	FetchStatusFetching FetchStatus = "fetching"
	FetchStatusPaused   FetchStatus = "paused"
)

// MutationStatus describes the state of a mutation.
type MutationStatus string

const (
	MutationStatusIdle    MutationStatus = "idle"
	MutationStatusPending MutationStatus = "pending"
	MutationStatusSuccess MutationStatus = "success"
	MutationStatusError   MutationStatus = "error"
)

// QueryFunc produces the data for a query. Implementations that want to
// observe cancellation call fctx.Context(); fetches whose function never
// asks for the context are kept alive to completion even after the last
// subscriber leaves, so the cache still gets populated.
type QueryFunc func(fctx *FnContext) (any, error)

// KeyHashFunc converts a key into its cache hash.
type KeyHashFunc func(key Key) string

// FnContext is handed to every query function invocation.
type FnContext struct {
	ctx            context.Context
	key            Key
	meta           Meta
	client         *Client
	pageParam      any
	direction      fetchDirection
	signalConsumed *atomic.Bool
}

// Context returns the context that is cancelled when the fetch is aborted.
// Calling it marks the fetch as abortable: once consumed, removing the last
// observer cancels the fetch instead of letting it run to completion.
func (f *FnContext) Context() context.Context {
	if f.signalConsumed != nil {
		f.signalConsumed.Store(true)
	}
	return f.ctx
}

// QueryKey returns the key of the query being fetched.
func (f *FnContext) QueryKey() Key { return f.key }

// Meta returns the query's metadata.
func (f *FnContext) Meta() Meta { return f.meta }

// Client returns the client that initiated the fetch.
func (f *FnContext) Client() *Client { return f.client }

// PageParam returns the page cursor for paginated fetches; nil otherwise.
func (f *FnContext) PageParam() any { return f.pageParam }

type fetchDirection string

const (
	fetchForward  fetchDirection = "forward"
	fetchBackward fetchDirection = "backward"
)

// SkipToken is a sentinel query function: a query configured with it stays
// registered but never fetches, as if disabled.
var SkipToken QueryFunc = func(*FnContext) (any, error) { return nil, ErrSkipToken }

// IsSkipToken reports whether fn is the SkipToken sentinel.
func IsSkipToken(fn QueryFunc) bool {
	if fn == nil {
		return false
	}
	return reflect.ValueOf(fn).Pointer() == reflect.ValueOf(SkipToken).Pointer()
}

// KeepPreviousData is a placeholder function that presents the previous
// key's data while the next key loads.
func KeepPreviousData(previous any, _ *Query) any { return previous }

// StaleTime configures how long data stays fresh. The zero value is unset
// and resolves to the configured default (0: always stale).
type StaleTime struct {
	fn     func(q *Query) StaleTime
	d      time.Duration
	static bool
	set    bool
}

// Stale returns a StaleTime of the given duration.
func Stale(d time.Duration) StaleTime { return StaleTime{set: true, d: d} }

// StaleStatic returns a StaleTime that never expires: the data is never
// considered stale and invalidation does not trigger refetches.
func StaleStatic() StaleTime { return StaleTime{set: true, static: true} }

// StaleFunc resolves the stale time per query.
func StaleFunc(fn func(q *Query) StaleTime) StaleTime { return StaleTime{set: true, fn: fn} }

// IsSet reports whether the stale time was explicitly configured.
func (s StaleTime) IsSet() bool { return s.set }

// Resolve evaluates function-valued stale times against q.
func (s StaleTime) Resolve(q *Query) StaleTime {
	for s.fn != nil {
		s = s.fn(q)
	}
	return s
}

// IsStatic reports whether the resolved stale time is static.
func (s StaleTime) IsStatic() bool { return s.static }

// Duration returns the resolved duration; static stale times report the
// maximum duration.
func (s StaleTime) Duration() time.Duration {
	if s.static {
		return time.Duration(1<<63 - 1)
	}
	return s.d
}

// Refetch configures whether an external trigger (mount, window focus,
// reconnect) refetches the query.
type Refetch int

const (
	// RefetchInherit falls back to the default for the trigger (stale-only).
	RefetchInherit Refetch = iota
	// RefetchIfStale refetches only when the query is stale.
	RefetchIfStale
	// RefetchNever disables the trigger.
	RefetchNever
	// RefetchAlways refetches regardless of staleness.
	RefetchAlways
)

// GCNever disables garbage collection of unobserved entries.
const GCNever = time.Duration(-1)

// ResultProp names one field of ObserverResult for tracked-props change
// detection.
type ResultProp string

const (
	PropData                ResultProp = "data"
	PropDataUpdatedAt       ResultProp = "dataUpdatedAt"
	PropError               ResultProp = "error"
	PropErrorUpdatedAt      ResultProp = "errorUpdatedAt"
	PropErrorUpdateCount    ResultProp = "errorUpdateCount"
	PropFailureCount        ResultProp = "failureCount"
	PropFailureReason       ResultProp = "failureReason"
	PropIsError             ResultProp = "isError"
	PropIsFetched           ResultProp = "isFetched"
	PropIsFetchedAfterMount ResultProp = "isFetchedAfterMount"
	PropIsFetching          ResultProp = "isFetching"
	PropIsInitialLoading    ResultProp = "isInitialLoading"
	PropIsLoading           ResultProp = "isLoading"
	PropIsLoadingError      ResultProp = "isLoadingError"
	PropIsPaused            ResultProp = "isPaused"
	PropIsPending           ResultProp = "isPending"
	PropIsPlaceholderData   ResultProp = "isPlaceholderData"
	PropIsRefetchError      ResultProp = "isRefetchError"
	PropIsRefetching        ResultProp = "isRefetching"
	PropIsStale             ResultProp = "isStale"
	PropIsSuccess           ResultProp = "isSuccess"
	PropStatus              ResultProp = "status"
	PropFetchStatus         ResultProp = "fetchStatus"
	PropPromise             ResultProp = "promise"
	// PropAll in NotifyOnChangeProps means notify on any change.
	PropAll ResultProp = "*"
)

// Options configure one query, merged from client defaults, key-matched
// defaults and observer options. Unset fields inherit.
type Options struct {
	QueryKey       Key
	QueryFn        QueryFunc
	QueryHash      string
	QueryKeyHashFn KeyHashFunc

	StaleTime StaleTime
	// GCTime is how long an unobserved entry survives; nil inherits the
	// default (5 minutes), GCNever keeps the entry forever.
	GCTime *time.Duration

	Retry       retry.Policy
	RetryDelay  retry.Delay
	NetworkMode retry.NetworkMode

	// Enabled gates automatic fetching; nil means enabled.
	Enabled   *bool
	EnabledFn func(q *Query) bool

	RefetchOnMount              Refetch
	RefetchOnWindowFocus        Refetch
	RefetchOnReconnect          Refetch
	RefetchInterval             time.Duration
	RefetchIntervalFn           func(q *Query) time.Duration
	RefetchIntervalInBackground bool

	// Select transforms raw query data into the presented result data.
	Select func(data any) (any, error)

	// StructuralSharing preserves reference identity of unchanged subtrees;
	// nil means enabled.
	StructuralSharing   *bool
	StructuralSharingFn func(prev, next any) any

	// PlaceholderData is presented while the query has no data; never
	// written to the cache. PlaceholderFunc takes precedence when set.
	PlaceholderData any
	PlaceholderFunc func(previousData any, previousQuery *Query) any

	InitialData            any
	InitialDataFunc        func() any
	InitialDataUpdatedAt   int64
	InitialDataUpdatedAtFn func() int64

	Meta Meta

	// ThrowOnError instructs bindings to re-throw the error from rendered
	// results; nil means false.
	ThrowOnError   *bool
	ThrowOnErrorFn func(err error, q *Query) bool

	NotifyOnChangeProps   []ResultProp
	NotifyOnChangePropsFn func() []ResultProp

	// Subscribed detaches the observer from the query without destroying
	// it; nil means subscribed.
	Subscribed *bool

	// Persister wraps the fetch with restore/save behavior.
	Persister PersisterFunc

	// MaxPages bounds retained pages for paginated queries; 0 is unlimited.
	MaxPages int

	behavior  fetchBehavior
	defaulted bool
}

// PersisterFunc wraps a fetch with external storage semantics.
type PersisterFunc func(fctx *FnContext, inner QueryFunc, q *Query) (any, error)

// MutationFunc performs the side effect of a mutation.
type MutationFunc func(ctx context.Context, variables any) (any, error)

// MutationScope serializes mutations: within one scope ID, mutations run in
// FIFO order with no overlap.
type MutationScope struct {
	ID string
}

// MutationOptions configure one mutation.
type MutationOptions struct {
	MutationFn  MutationFunc
	MutationKey Key
	Scope       *MutationScope

	// OnMutate runs before the mutation function; its return value becomes
	// the mutation context passed to the other callbacks.
	OnMutate func(variables any) (mctx any, err error)
	// OnSuccess and OnError observe the terminal outcome; OnSettled runs
	// after either. An error returned from a callback fails the mutation
	// unless the mutation function already failed.
	OnSuccess func(data any, variables any, mctx any) error
	OnError   func(err error, variables any, mctx any) error
	OnSettled func(data any, err error, variables any, mctx any) error

	Retry       retry.Policy
	RetryDelay  retry.Delay
	NetworkMode retry.NetworkMode

	GCTime *time.Duration
	Meta   Meta

	ThrowOnError   *bool
	ThrowOnErrorFn func(err error) bool

	defaulted bool
}

// DefaultOptions seed every query and mutation built by a client.
type DefaultOptions struct {
	Queries   Options
	Mutations MutationOptions
}

// FetchOptions tune a single fetch.
type FetchOptions struct {
	// CancelRefetch cancels a running fetch before starting a new one when
	// data already exists; nil means true.
	CancelRefetch *bool
	Meta          Meta

	fetchMore *fetchMore
}

func (f *FetchOptions) cancelRefetch() bool {
	if f == nil || f.CancelRefetch == nil {
		return true
	}
	return *f.CancelRefetch
}

// RefetchOptions tune an observer- or client-initiated refetch.
type RefetchOptions struct {
	CancelRefetch *bool
	ThrowOnError  bool
}

func (r *RefetchOptions) fetchOptions() *FetchOptions {
	if r == nil {
		return nil
	}
	return &FetchOptions{CancelRefetch: r.CancelRefetch}
}

// SetDataOptions tune manual data writes.
type SetDataOptions struct {
	// UpdatedAt overrides the write timestamp (unix milliseconds).
	UpdatedAt int64
	// Manual marks the write as caller-initiated rather than fetch-driven.
	Manual bool
}

// Updater computes new data from previous data. ok=false means no-op.
type Updater func(previous any) (next any, ok bool)

// DataUpdater lifts a plain value into an Updater.
func DataUpdater(v any) Updater {
	return func(any) (any, bool) { return v, true }
}

// TypeFilter selects queries by observer activity.
type TypeFilter string

const (
	TypeAll      TypeFilter = "all"
	TypeActive   TypeFilter = "active"
	TypeInactive TypeFilter = "inactive"
)

// Filters select queries for bulk operations.
type Filters struct {
	QueryKey    Key
	Exact       bool
	Type        TypeFilter
	Stale       *bool
	FetchStatus FetchStatus
	Predicate   func(q *Query) bool
}

// MutationFilters select mutations for bulk operations.
type MutationFilters struct {
	MutationKey Key
	Exact       bool
	Status      MutationStatus
	Predicate   func(m *Mutation) bool
}

// RefetchType decides which matching queries InvalidateQueries refetches.
type RefetchType string

const (
	RefetchTypeActive   RefetchType = "active"
	RefetchTypeInactive RefetchType = "inactive"
	RefetchTypeAll      RefetchType = "all"
	RefetchTypeNone     RefetchType = "none"
)

// InvalidateOptions tune InvalidateQueries.
type InvalidateOptions struct {
	RefetchType   RefetchType
	CancelRefetch *bool
	ThrowOnError  bool
}

// Ptr returns a pointer to v; shorthand for optional option fields.
func Ptr[T any](v T) *T { return &v }
