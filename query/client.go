package query

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/querykit/go-querykit/focus"
	"github.com/querykit/go-querykit/logger"
	"github.com/querykit/go-querykit/notify"
	"github.com/querykit/go-querykit/online"
	"github.com/querykit/go-querykit/retry"
)

// Config configures a Client. Zero-value fields get working defaults, so
// NewClient(Config{}) is a fully functional client.
type Config struct {
	QueryCache     *Cache
	MutationCache  *MutationCache
	DefaultOptions DefaultOptions
	Logger         logger.Logger
	FocusManager   *focus.Manager
	OnlineManager  *online.Manager
	NotifyManager  *notify.Manager
}

type keyedQueryDefaults struct {
	key  Key
	opts Options
}

type keyedMutationDefaults struct {
	key  Key
	opts MutationOptions
}

// Client composes the caches, resolves option defaults, and exposes the
// high-level commands.
type Client struct {
	id  string
	qc  *Cache
	mc  *MutationCache
	log logger.Logger
	fm  *focus.Manager
	om  *online.Manager
	nm  *notify.Manager

	mu               sync.Mutex
	defaults         DefaultOptions
	queryDefaults    []keyedQueryDefaults
	mutationDefaults []keyedMutationDefaults
	mountCount       int
	unsubFocus       func()
	unsubOnline      func()
}

// NewClient builds a Client from cfg.
func NewClient(cfg Config) *Client {
	c := &Client{
		id:       uuid.NewString(),
		qc:       cfg.QueryCache,
		mc:       cfg.MutationCache,
		log:      cfg.Logger,
		fm:       cfg.FocusManager,
		om:       cfg.OnlineManager,
		nm:       cfg.NotifyManager,
		defaults: cfg.DefaultOptions,
	}
	if c.qc == nil {
		c.qc = NewCache(CacheConfig{})
	}
	if c.mc == nil {
		c.mc = NewMutationCache(MutationCacheConfig{})
	}
	if c.log == nil {
		c.log = logger.Default()
	}
	if c.fm == nil {
		c.fm = focus.Shared()
	}
	if c.om == nil {
		c.om = online.Shared()
	}
	if c.nm == nil {
		c.nm = notify.NewManager()
	}
	return c
}

// ID is the client's instance identity, used in log and trace metadata.
func (c *Client) ID() string { return c.id }

func (c *Client) queryCache() *Cache            { return c.qc }
func (c *Client) mutationCache() *MutationCache { return c.mc }
func (c *Client) logger() logger.Logger         { return c.log }
func (c *Client) focusManager() *focus.Manager  { return c.fm }
func (c *Client) onlineManager() *online.Manager { return c.om }
func (c *Client) notifier() *notify.Manager     { return c.nm }

// QueryCache returns the client's query cache.
func (c *Client) QueryCache() *Cache { return c.qc }

// MutationCache returns the client's mutation cache.
func (c *Client) MutationCache() *MutationCache { return c.mc }

// Mount subscribes the client to the focus and online managers. Calls are
// reference-counted and paired with Unmount.
func (c *Client) Mount() {
	c.mu.Lock()
	c.mountCount++
	first := c.mountCount == 1
	c.mu.Unlock()
	if !first {
		return
	}
	unsubFocus := c.fm.Subscribe(func(focused bool) {
		if focused {
			// Paused work settles before the refetch sweep fires.
			_ = c.mc.ResumePausedMutations(context.Background())
			c.qc.OnFocus()
		}
	})
	unsubOnline := c.om.Subscribe(func(isOnline bool) {
		if isOnline {
			_ = c.mc.ResumePausedMutations(context.Background())
			c.qc.OnOnline()
		}
	})
	c.mu.Lock()
	c.unsubFocus = unsubFocus
	c.unsubOnline = unsubOnline
	c.mu.Unlock()
}

// Unmount releases one Mount reference.
func (c *Client) Unmount() {
	c.mu.Lock()
	c.mountCount--
	last := c.mountCount == 0
	unsubFocus := c.unsubFocus
	unsubOnline := c.unsubOnline
	if last {
		c.unsubFocus = nil
		c.unsubOnline = nil
	}
	c.mu.Unlock()
	if !last {
		return
	}
	if unsubFocus != nil {
		unsubFocus()
	}
	if unsubOnline != nil {
		unsubOnline()
	}
}

// IsFetching counts queries with an attempt in flight.
func (c *Client) IsFetching(filters Filters) int {
	filters.FetchStatus = FetchStatusFetching
	return len(c.qc.FindAll(filters))
}

// IsMutating counts running mutations.
func (c *Client) IsMutating(filters MutationFilters) int {
	filters.Status = MutationStatusPending
	return len(c.mc.FindAll(filters))
}

// GetQueryData returns the cached data for key. ok distinguishes a cached
// nil from no entry.
func (c *Client) GetQueryData(key Key) (any, bool) {
	opts := c.defaultQueryOptions(Options{QueryKey: key})
	q := c.qc.Get(opts.QueryHash)
	if q == nil {
		return nil, false
	}
	state := q.State()
	if !state.HasData {
		return nil, false
	}
	return state.Data, true
}

// KeyedData pairs a query key with its data.
type KeyedData struct {
	Key  Key
	Data any
}

// GetQueriesData returns the data of every query matching filters.
func (c *Client) GetQueriesData(filters Filters) []KeyedData {
	var out []KeyedData
	for _, q := range c.qc.FindAll(filters) {
		out = append(out, KeyedData{Key: q.Key(), Data: q.State().Data})
	}
	return out
}

// SetQueryData writes data computed by updater. If the updater declines
// (ok=false) nothing happens. The write never touches fetchStatus.
func (c *Client) SetQueryData(key Key, updater Updater, opts *SetDataOptions) (any, bool) {
	defaulted := c.defaultQueryOptions(Options{QueryKey: key})
	existing := c.qc.Get(defaulted.QueryHash)
	var prev any
	if existing != nil {
		prev = existing.State().Data
	}
	next, ok := updater(prev)
	if !ok {
		return nil, false
	}
	q := c.qc.Build(c, defaulted, nil)
	sdo := SetDataOptions{Manual: true}
	if opts != nil {
		sdo.UpdatedAt = opts.UpdatedAt
	}
	return q.SetData(next, &sdo), true
}

// SetQueriesData applies updater to every query matching filters and
// returns the written pairs.
func (c *Client) SetQueriesData(filters Filters, updater Updater, opts *SetDataOptions) []KeyedData {
	var out []KeyedData
	c.nm.Batch(func() {
		for _, q := range c.qc.FindAll(filters) {
			data, ok := c.SetQueryData(q.Key(), updater, opts)
			if ok {
				out = append(out, KeyedData{Key: q.Key(), Data: data})
			}
		}
	})
	return out
}

// GetQueryState returns the state of the query for key, or nil.
func (c *Client) GetQueryState(key Key) *State {
	opts := c.defaultQueryOptions(Options{QueryKey: key})
	q := c.qc.Get(opts.QueryHash)
	if q == nil {
		return nil
	}
	state := q.State()
	return &state
}

// RemoveQueries drops every query matching filters from the cache.
func (c *Client) RemoveQueries(filters Filters) {
	c.nm.Batch(func() {
		for _, q := range c.qc.FindAll(filters) {
			c.qc.Remove(q)
		}
	})
}

// ResetQueries restores matching queries to their seeded state and
// refetches the active ones.
func (c *Client) ResetQueries(ctx context.Context, filters Filters, opts *RefetchOptions) error {
	c.nm.Batch(func() {
		for _, q := range c.qc.FindAll(filters) {
			q.Reset()
		}
	})
	refetchFilters := filters
	refetchFilters.Type = TypeActive
	return c.RefetchQueries(ctx, refetchFilters, opts)
}

// CancelQueries cancels in-flight fetches for matching queries. The default
// reverts each query to its pre-fetch snapshot.
func (c *Client) CancelQueries(filters Filters, opts *retry.CancelOptions) {
	cancelOpts := retry.CancelOptions{Revert: true}
	if opts != nil {
		cancelOpts = *opts
	}
	c.nm.Batch(func() {
		for _, q := range c.qc.FindAll(filters) {
			q.Cancel(cancelOpts)
		}
	})
}

// InvalidateQueries marks matching queries stale and refetches them per the
// refetch type (default: active observers only).
func (c *Client) InvalidateQueries(ctx context.Context, filters Filters, opts *InvalidateOptions) error {
	c.nm.Batch(func() {
		for _, q := range c.qc.FindAll(filters) {
			q.Invalidate()
		}
	})
	refetchType := RefetchTypeActive
	var refetchOpts *RefetchOptions
	if opts != nil {
		if opts.RefetchType != "" {
			refetchType = opts.RefetchType
		}
		refetchOpts = &RefetchOptions{CancelRefetch: opts.CancelRefetch, ThrowOnError: opts.ThrowOnError}
	}
	if refetchType == RefetchTypeNone {
		return nil
	}
	refetchFilters := filters
	refetchFilters.Type = TypeFilter(refetchType)
	return c.RefetchQueries(ctx, refetchFilters, refetchOpts)
}

// RefetchQueries fetches matching queries and resolves after all settle.
// Disabled and static queries are skipped. With ThrowOnError the first
// failure is returned.
func (c *Client) RefetchQueries(ctx context.Context, filters Filters, opts *RefetchOptions) error {
	cancelRefetch := true
	throwOnError := false
	if opts != nil {
		cancelRefetch = boolOr(opts.CancelRefetch, true)
		throwOnError = opts.ThrowOnError
	}
	fetchOpts := &FetchOptions{CancelRefetch: Ptr(cancelRefetch)}
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	for _, q := range c.qc.FindAll(filters) {
		if q.IsDisabled() || q.IsStatic() {
			continue
		}
		q := q
		g.Go(func() error {
			_, err := q.Fetch(nil, fetchOpts).Await(gctx)
			if retry.IsCancelled(err) {
				err = nil
			}
			if throwOnError {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// FetchQuery runs a fetch unless fresh cached data exists, and returns the
// data. Retries are off unless configured.
func (c *Client) FetchQuery(ctx context.Context, opts Options) (any, error) {
	defaulted := c.defaultQueryOptions(opts)
	if !defaulted.Retry.IsSet() {
		defaulted.Retry = retry.Never()
	}
	q := c.qc.Build(c, defaulted, nil)
	if q.IsStaleByTime(resolveStaleTime(&defaulted, q)) {
		if _, err := q.Fetch(&defaulted, nil).Await(ctx); err != nil {
			return nil, err
		}
		// Read back through the cache so callers get the structurally
		// shared value, not the raw fetch return.
		return q.State().Data, nil
	}
	return q.State().Data, nil
}

// PrefetchQuery runs FetchQuery and swallows the outcome.
func (c *Client) PrefetchQuery(ctx context.Context, opts Options) {
	_, _ = c.FetchQuery(ctx, opts)
}

// EnsureOptions tune EnsureQueryData.
type EnsureOptions struct {
	// RevalidateIfStale triggers a background refetch of stale cached data
	// while still returning it immediately.
	RevalidateIfStale bool
}

// EnsureQueryData returns cached data when present (even nil) and fetches
// otherwise.
func (c *Client) EnsureQueryData(ctx context.Context, opts Options, ensure *EnsureOptions) (any, error) {
	defaulted := c.defaultQueryOptions(opts)
	q := c.qc.Build(c, defaulted, nil)
	state := q.State()
	if state.HasData {
		if ensure != nil && ensure.RevalidateIfStale && q.IsStaleByTime(resolveStaleTime(&defaulted, q)) {
			go c.PrefetchQuery(context.WithoutCancel(ctx), opts)
		}
		return state.Data, nil
	}
	return c.FetchQuery(ctx, opts)
}

// FetchInfiniteQuery seeds and walks up to opts.Pages page fetches,
// stopping early when no next page param can be derived.
func (c *Client) FetchInfiniteQuery(ctx context.Context, opts InfiniteOptions) (InfiniteData, error) {
	opts.Options.behavior = &infiniteBehavior{opts: &opts}
	data, err := c.FetchQuery(ctx, opts.Options)
	if err != nil {
		return InfiniteData{}, err
	}
	infinite, _ := data.(InfiniteData)
	return infinite, nil
}

// PrefetchInfiniteQuery runs FetchInfiniteQuery and swallows the outcome.
func (c *Client) PrefetchInfiniteQuery(ctx context.Context, opts InfiniteOptions) {
	_, _ = c.FetchInfiniteQuery(ctx, opts)
}

// ResumePausedMutations resumes every paused mutation; serial within a
// scope, parallel across scopes.
func (c *Client) ResumePausedMutations(ctx context.Context) error {
	return c.mc.ResumePausedMutations(ctx)
}

// Clear empties both caches.
func (c *Client) Clear() {
	c.nm.Batch(func() {
		c.qc.Clear()
		c.mc.Clear()
	})
}

// SetQueryDefaults registers default options for keys prefixed by key.
// When several registrations match a key, the longest prefix wins; ties
// resolve by registration order.
func (c *Client) SetQueryDefaults(key Key, opts Options) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.queryDefaults {
		if HashKey(d.key) == HashKey(key) {
			c.queryDefaults[i].opts = opts
			return
		}
	}
	c.queryDefaults = append(c.queryDefaults, keyedQueryDefaults{key: key, opts: opts})
}

// GetQueryDefaults resolves the merged key-matched defaults for key.
func (c *Client) GetQueryDefaults(key Key) Options {
	c.mu.Lock()
	matching := make([]keyedQueryDefaults, 0)
	for _, d := range c.queryDefaults {
		if partialMatchKey(key, d.key) {
			matching = append(matching, d)
		}
	}
	c.mu.Unlock()
	// Shorter prefixes merge first so longer ones override them.
	sort.SliceStable(matching, func(i, j int) bool {
		return len(matching[i].key) < len(matching[j].key)
	})
	var merged Options
	for _, d := range matching {
		merged = mergeQueryOptions(merged, d.opts)
	}
	return merged
}

// SetMutationDefaults registers default mutation options for key.
func (c *Client) SetMutationDefaults(key Key, opts MutationOptions) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, d := range c.mutationDefaults {
		if HashKey(d.key) == HashKey(key) {
			c.mutationDefaults[i].opts = opts
			return
		}
	}
	c.mutationDefaults = append(c.mutationDefaults, keyedMutationDefaults{key: key, opts: opts})
}

// GetMutationDefaults resolves the merged key-matched mutation defaults.
func (c *Client) GetMutationDefaults(key Key) MutationOptions {
	c.mu.Lock()
	matching := make([]keyedMutationDefaults, 0)
	for _, d := range c.mutationDefaults {
		if partialMatchKey(key, d.key) {
			matching = append(matching, d)
		}
	}
	c.mu.Unlock()
	sort.SliceStable(matching, func(i, j int) bool {
		return len(matching[i].key) < len(matching[j].key)
	})
	var merged MutationOptions
	for _, d := range matching {
		merged = mergeMutationOptions(merged, d.opts)
	}
	return merged
}

// defaultQueryOptions resolves the full option chain: client defaults, then
// key-matched defaults, then the given options.
func (c *Client) defaultQueryOptions(opts Options) Options {
	if opts.defaulted {
		return opts
	}
	c.mu.Lock()
	base := c.defaults.Queries
	c.mu.Unlock()
	merged := base
	if len(opts.QueryKey) > 0 {
		merged = mergeQueryOptions(merged, c.GetQueryDefaults(opts.QueryKey))
	}
	merged = mergeQueryOptions(merged, opts)
	if merged.QueryHash == "" {
		merged.QueryHash = hashKeyByOptions(merged.QueryKey, &merged)
	}
	merged.defaulted = true
	return merged
}

// defaultMutationOptions resolves the mutation option chain.
func (c *Client) defaultMutationOptions(opts MutationOptions) MutationOptions {
	if opts.defaulted {
		return opts
	}
	c.mu.Lock()
	base := c.defaults.Mutations
	c.mu.Unlock()
	merged := base
	if len(opts.MutationKey) > 0 {
		merged = mergeMutationOptions(merged, c.GetMutationDefaults(opts.MutationKey))
	}
	merged = mergeMutationOptions(merged, opts)
	merged.defaulted = true
	return merged
}

// GetQueryData returns the cached data for key as T.
func GetQueryData[T any](c *Client, key Key) (T, bool) {
	data, ok := c.GetQueryData(key)
	if !ok {
		var zero T
		return zero, false
	}
	typed, ok := data.(T)
	if !ok {
		var zero T
		return zero, false
	}
	return typed, true
}

// FetchQueryData runs FetchQuery and asserts the result to T.
func FetchQueryData[T any](ctx context.Context, c *Client, opts Options) (T, error) {
	data, err := c.FetchQuery(ctx, opts)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, ok := data.(T)
	if !ok && data != nil {
		var zero T
		return zero, errors.Newf("query: data is %T, not the requested type", data)
	}
	return typed, nil
}
