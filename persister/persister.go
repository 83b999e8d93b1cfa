// Package persister stores query results outside the in-memory cache so a
// fresh process can serve them without refetching. A Store holds serialized
// entries keyed by a digest of the query hash; NewQueryPersister turns a
// Store into a per-query fetch wrapper.
package persister

import (
	"context"
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/querykit/go-querykit/query"
)

// Entry is one persisted query result.
type Entry struct {
	QueryHash     string `msgpack:"queryHash"`
	Buster        string `msgpack:"buster,omitempty"`
	Data          []byte `msgpack:"data"`
	DataUpdatedAt int64  `msgpack:"dataUpdatedAt"`
}

// Store persists entries. Implementations serialize values themselves when
// their medium requires it.
type Store interface {
	// GetContext retrieves an entry. found=false means no entry.
	GetContext(ctx context.Context, key string) (found bool, entry Entry, err error)
	// SetContext stores an entry with a TTL. If ttl <= 0, the store's
	// configured default TTL is used.
	SetContext(ctx context.Context, key string, entry Entry, ttl time.Duration) error
	// DeleteContext removes an entry.
	DeleteContext(ctx context.Context, key string) (bool, error)
	// CloseContext shuts down the store.
	CloseContext(ctx context.Context) error
}

// DefaultTTL is the store TTL used when none is configured.
const DefaultTTL = 24 * time.Hour

// DefaultQueryTimeout bounds each operation against I/O-backed stores.
const DefaultQueryTimeout = 5 * time.Second

// config holds the resolved configuration for a Store implementation.
type config struct {
	defaultTTL   time.Duration
	queryTimeout time.Duration
	sweepEvery   time.Duration
	prefix       string
}

// Option configures a Store implementation.
type Option func(*config)

func defaultConfig() config {
	return config{
		defaultTTL:   DefaultTTL,
		queryTimeout: DefaultQueryTimeout,
		sweepEvery:   time.Minute,
	}
}

func applyOptions(opts []Option) config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithTTL sets the default entry lifetime. Defaults to DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(c *config) { c.defaultTTL = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed stores.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithSweepInterval sets how often the in-memory store drops expired
// entries. Defaults to 1 minute.
func WithSweepInterval(d time.Duration) Option {
	return func(c *config) { c.sweepEvery = d }
}

// WithPrefix namespaces storage keys; applies to the Redis store.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}

// PersisterOptions tune the fetch wrapper returned by NewQueryPersister.
type PersisterOptions struct {
	// MaxAge rejects persisted entries older than this. Defaults to DefaultTTL.
	MaxAge time.Duration
	// Buster invalidates every persisted entry that was written with a
	// different buster string.
	Buster string
	// TTL is passed to Store writes; zero uses the store default.
	TTL time.Duration
}

// StorageKey is the store key for a query hash: an xxhash digest, fixed
// width and safe for any storage medium.
func StorageKey(queryHash string) string {
	return fmt.Sprintf("querykit-%016x", xxhash.Sum64String(queryHash))
}

// NewQueryPersister wraps fetches with restore-then-save behavior: a query
// with no data yet is served from the store when a fresh enough entry
// exists; otherwise the fetch runs and its result is written back. Wire the
// result into Options.Persister.
func NewQueryPersister(store Store, opts PersisterOptions) query.PersisterFunc {
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultTTL
	}
	return func(fctx *query.FnContext, inner query.QueryFunc, q *query.Query) (any, error) {
		ctx := context.Background()
		key := StorageKey(q.Hash())
		if q.State().DataUpdateCount == 0 {
			found, entry, err := store.GetContext(ctx, key)
			if err == nil && found && entry.QueryHash == q.Hash() && entry.Buster == opts.Buster {
				age := time.Since(time.UnixMilli(entry.DataUpdatedAt))
				if age <= maxAge {
					var data any
					if err := msgpack.Unmarshal(entry.Data, &data); err == nil {
						return data, nil
					}
				}
				// Stale or unreadable entries are dropped.
				_, _ = store.DeleteContext(ctx, key)
			}
		}
		data, err := inner(fctx)
		if err != nil {
			return nil, err
		}
		if buf, merr := msgpack.Marshal(data); merr == nil {
			// Write failures degrade persistence, not the fetch.
			_ = store.SetContext(ctx, key, Entry{
				QueryHash:     q.Hash(),
				Buster:        opts.Buster,
				Data:          buf,
				DataUpdatedAt: time.Now().UnixMilli(),
			}, opts.TTL)
		}
		return data, nil
	}
}
