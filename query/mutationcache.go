package query

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/querykit/go-querykit/subscribe"
)

// MutationCacheEvent describes one mutation-cache transition.
type MutationCacheEvent struct {
	Type     EventType
	Mutation *Mutation
	Observer *MutationObserver
	Action   Action
}

// MutationCacheListener receives mutation-cache events.
type MutationCacheListener func(event MutationCacheEvent)

// MutationCacheConfig carries cache-level lifecycle callbacks; they fire
// for every mutation, observed or not.
type MutationCacheConfig struct {
	OnMutate  func(variables any, m *Mutation) error
	OnSuccess func(data any, variables any, mctx any, m *Mutation) error
	OnError   func(err error, variables any, mctx any, m *Mutation) error
	OnSettled func(data any, err error, variables any, mctx any, m *Mutation) error
}

// MutationCache is the ordered store of mutations, including the scope
// lanes that serialize them.
type MutationCache struct {
	mu        sync.Mutex
	mutations []*Mutation
	nextID    int
	config    MutationCacheConfig
	listeners *subscribe.Listeners[MutationCacheListener]
}

// NewMutationCache returns an empty mutation cache.
func NewMutationCache(config MutationCacheConfig) *MutationCache {
	return &MutationCache{
		config:    config,
		listeners: subscribe.New[MutationCacheListener](subscribe.Hooks{}),
	}
}

// Config returns the cache-level callbacks.
func (c *MutationCache) Config() MutationCacheConfig { return c.config }

// Build creates a mutation, optionally seeded with state.
func (c *MutationCache) Build(client *Client, opts MutationOptions, state *MutationState) *Mutation {
	c.mu.Lock()
	c.nextID++
	m := newMutation(client, c, c.nextID, opts, state)
	c.mutations = append(c.mutations, m)
	c.mu.Unlock()
	c.notify(MutationCacheEvent{Type: EventAdded, Mutation: m})
	return m
}

// Remove deletes m from the cache.
func (c *MutationCache) Remove(m *Mutation) {
	c.mu.Lock()
	removed := false
	for i, existing := range c.mutations {
		if existing == m {
			c.mutations = append(c.mutations[:i], c.mutations[i+1:]...)
			removed = true
			break
		}
	}
	c.mu.Unlock()
	if !removed {
		return
	}
	m.gc.clear()
	c.notify(MutationCacheEvent{Type: EventRemoved, Mutation: m})
}

// Clear removes every mutation.
func (c *MutationCache) Clear() {
	for _, m := range c.GetAll() {
		c.Remove(m)
	}
}

// GetAll returns every mutation in submission order.
func (c *MutationCache) GetAll() []*Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Mutation, len(c.mutations))
	copy(out, c.mutations)
	return out
}

// Find returns the first mutation matching filters, or nil.
func (c *MutationCache) Find(filters MutationFilters) *Mutation {
	for _, m := range c.GetAll() {
		if matchMutation(filters, m) {
			return m
		}
	}
	return nil
}

// FindAll returns every mutation matching filters.
func (c *MutationCache) FindAll(filters MutationFilters) []*Mutation {
	all := c.GetAll()
	out := make([]*Mutation, 0, len(all))
	for _, m := range all {
		if matchMutation(filters, m) {
			out = append(out, m)
		}
	}
	return out
}

// Subscribe registers a cache listener.
func (c *MutationCache) Subscribe(listener MutationCacheListener) func() {
	return c.listeners.Subscribe(listener)
}

func (c *MutationCache) notify(event MutationCacheEvent) {
	c.listeners.Each(func(l MutationCacheListener) { l(event) })
}

// canRun reports whether m may execute now: unscoped mutations always run;
// within a scope only the first pending mutation in submission order runs.
func (c *MutationCache) canRun(m *Mutation) bool {
	scope := m.scopeID()
	if scope == "" {
		return true
	}
	first := c.firstPendingInScope(scope)
	return first == nil || first == m
}

// runNext hands the scope lane to the next paused mutation after m settles.
func (c *MutationCache) runNext(m *Mutation) {
	scope := m.scopeID()
	if scope == "" {
		return
	}
	next := c.firstPausedInScope(scope, m)
	if next != nil {
		next.mu.Lock()
		r := next.retryer
		next.mu.Unlock()
		if r != nil {
			r.Continue()
		}
	}
}

func (c *MutationCache) firstPendingInScope(scope string) *Mutation {
	for _, m := range c.GetAll() {
		if m.scopeID() == scope && m.State().Status == MutationStatusPending {
			return m
		}
	}
	return nil
}

func (c *MutationCache) firstPausedInScope(scope string, except *Mutation) *Mutation {
	for _, m := range c.GetAll() {
		if m == except || m.scopeID() != scope {
			continue
		}
		state := m.State()
		if state.Status == MutationStatusPending && state.IsPaused {
			return m
		}
	}
	return nil
}

// OnFocus resumes paused mutation retryers.
func (c *MutationCache) OnFocus() {
	c.resumeRetryers()
}

// OnOnline resumes paused mutation retryers.
func (c *MutationCache) OnOnline() {
	c.resumeRetryers()
}

func (c *MutationCache) resumeRetryers() {
	for _, m := range c.GetAll() {
		m.mu.Lock()
		r := m.retryer
		m.mu.Unlock()
		if r != nil {
			r.Continue()
		}
	}
}

// ResumePausedMutations resumes every paused mutation: serially within a
// scope in submittedAt order, in parallel across scopes. It returns after
// all resumed mutations settle; settlement errors are not propagated.
func (c *MutationCache) ResumePausedMutations(ctx context.Context) error {
	paused := c.FindAll(MutationFilters{
		Predicate: func(m *Mutation) bool { return m.State().IsPaused },
	})
	if len(paused) == 0 {
		return nil
	}
	lanes := make(map[string][]*Mutation)
	order := make([]string, 0)
	for _, m := range paused {
		lane := m.scopeID()
		if lane == "" {
			lane = fmt.Sprintf("mutation-%d", m.ID())
		}
		if _, ok := lanes[lane]; !ok {
			order = append(order, lane)
		}
		lanes[lane] = append(lanes[lane], m)
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, lane := range order {
		ms := lanes[lane]
		g.Go(func() error {
			for _, m := range ms {
				// Settlement failures stay on the mutation's own state.
				_, _ = m.ContinueExecution(gctx)
			}
			return nil
		})
	}
	return g.Wait()
}
