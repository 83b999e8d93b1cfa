package query

import (
	"sync"

	"github.com/querykit/go-querykit/subscribe"
)

// EventType enumerates cache event kinds.
type EventType string

const (
	EventAdded                  EventType = "added"
	EventRemoved                EventType = "removed"
	EventUpdated                EventType = "updated"
	EventObserverAdded          EventType = "observerAdded"
	EventObserverRemoved        EventType = "observerRemoved"
	EventObserverResultsUpdated EventType = "observerResultsUpdated"
	EventObserverOptionsUpdated EventType = "observerOptionsUpdated"
)

// CacheEvent describes one cache transition. Action is set on updated
// events; Observer on observer events.
type CacheEvent struct {
	Type     EventType
	Query    *Query
	Observer *Observer
	Action   Action
}

// CacheListener receives cache events. Listeners must not mutate the cache
// during notification.
type CacheListener func(event CacheEvent)

// CacheConfig carries cache-level lifecycle callbacks; they fire for every
// query regardless of observers.
type CacheConfig struct {
	OnError   func(err error, q *Query)
	OnSuccess func(data any, q *Query)
	OnSettled func(data any, err error, q *Query)
}

// Cache is the keyed map of queries.
type Cache struct {
	mu        sync.Mutex
	queries   map[string]*Query
	config    CacheConfig
	listeners *subscribe.Listeners[CacheListener]
}

// NewCache returns an empty query cache.
func NewCache(config CacheConfig) *Cache {
	return &Cache{
		queries:   make(map[string]*Query),
		config:    config,
		listeners: subscribe.New[CacheListener](subscribe.Hooks{}),
	}
}

// Config returns the cache-level callbacks.
func (c *Cache) Config() CacheConfig { return c.config }

// Build finds the query for opts' key or creates it, seeding with state
// when provided. Options must already be defaulted by the client.
func (c *Cache) Build(client *Client, opts Options, state *State) *Query {
	if opts.QueryHash == "" {
		opts.QueryHash = hashKeyByOptions(opts.QueryKey, &opts)
	}
	c.mu.Lock()
	q, ok := c.queries[opts.QueryHash]
	if ok {
		c.mu.Unlock()
		q.SetOptions(&opts)
		return q
	}
	q = newQuery(client, c, opts, state)
	c.queries[opts.QueryHash] = q
	c.mu.Unlock()
	c.notify(CacheEvent{Type: EventAdded, Query: q})
	return q
}

// Remove deletes q from the cache, cancelling its fetch and timers. A
// different query that took over the hash is left alone.
func (c *Cache) Remove(q *Query) {
	c.mu.Lock()
	existing, ok := c.queries[q.Hash()]
	removed := false
	if ok && existing == q {
		delete(c.queries, q.Hash())
		removed = true
	}
	c.mu.Unlock()
	if !removed {
		return
	}
	q.destroy()
	c.notify(CacheEvent{Type: EventRemoved, Query: q})
}

// Clear removes every query.
func (c *Cache) Clear() {
	for _, q := range c.GetAll() {
		c.Remove(q)
	}
}

// Get returns the query with the given hash, or nil.
func (c *Cache) Get(hash string) *Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[hash]
}

// GetAll returns every cached query.
func (c *Cache) GetAll() []*Query {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Query, 0, len(c.queries))
	for _, q := range c.queries {
		out = append(out, q)
	}
	return out
}

// Find returns the first query matching filters, or nil.
func (c *Cache) Find(filters Filters) *Query {
	for _, q := range c.GetAll() {
		if matchQuery(filters, q) {
			return q
		}
	}
	return nil
}

// FindAll returns every query matching filters.
func (c *Cache) FindAll(filters Filters) []*Query {
	all := c.GetAll()
	out := make([]*Query, 0, len(all))
	for _, q := range all {
		if matchQuery(filters, q) {
			out = append(out, q)
		}
	}
	return out
}

// Subscribe registers a cache listener.
func (c *Cache) Subscribe(listener CacheListener) func() {
	return c.listeners.Subscribe(listener)
}

// notify fans an event out to subscribers.
func (c *Cache) notify(event CacheEvent) {
	c.listeners.Each(func(l CacheListener) { l(event) })
}

// OnFocus resumes paused fetches and runs each query's focus policy.
func (c *Cache) OnFocus() {
	for _, q := range c.GetAll() {
		q.OnFocus()
	}
}

// OnOnline resumes paused fetches and runs each query's reconnect policy.
func (c *Cache) OnOnline() {
	for _, q := range c.GetAll() {
		q.OnOnline()
	}
}
