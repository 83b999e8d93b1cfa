// Package notify coalesces subscriber notifications. State transitions
// performed inside a Batch region queue their listener callbacks and flush
// them in one pass when the outermost batch exits, so a burst of writes
// produces a single notification sweep instead of one per write.
package notify

import "sync"

// Manager batches callbacks. The zero value is not usable; use NewManager.
type Manager struct {
	mu       sync.Mutex
	queue    []func()
	depth    int
	notify   func(cb func())
	batchRun func(fn func())
	schedule func(fn func())
}

// NewManager returns a Manager whose scheduler runs callbacks inline. The
// scheduler and notify functions can be replaced for frameworks that need to
// marshal notifications onto their own loop.
func NewManager() *Manager {
	return &Manager{
		notify:   func(cb func()) { cb() },
		batchRun: func(fn func()) { fn() },
		schedule: func(fn func()) { fn() },
	}
}

// Batch runs fn; callbacks scheduled while it runs are coalesced and flushed
// in a single pass after the outermost Batch returns. Batch nests.
func (m *Manager) Batch(fn func()) {
	m.mu.Lock()
	m.depth++
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.depth--
		var queued []func()
		if m.depth == 0 {
			queued = m.queue
			m.queue = nil
		}
		m.mu.Unlock()
		m.flush(queued)
	}()
	fn()
}

// Schedule enqueues cb if a batch is open, otherwise runs it through the
// scheduler immediately.
func (m *Manager) Schedule(cb func()) {
	m.mu.Lock()
	if m.depth > 0 {
		m.queue = append(m.queue, cb)
		m.mu.Unlock()
		return
	}
	schedule := m.schedule
	notify := m.notify
	m.mu.Unlock()
	schedule(func() { notify(cb) })
}

// BatchCalls wraps cb so that each invocation of the returned function is
// scheduled through the manager instead of running directly.
func (m *Manager) BatchCalls(cb func()) func() {
	return func() { m.Schedule(cb) }
}

func (m *Manager) flush(queued []func()) {
	if len(queued) == 0 {
		return
	}
	m.mu.Lock()
	schedule := m.schedule
	batchRun := m.batchRun
	notify := m.notify
	m.mu.Unlock()
	schedule(func() {
		batchRun(func() {
			for _, cb := range queued {
				notify(cb)
			}
		})
	})
}

// SetNotifyFn replaces the function used to invoke a single callback.
func (m *Manager) SetNotifyFn(fn func(cb func())) {
	m.mu.Lock()
	m.notify = fn
	m.mu.Unlock()
}

// SetBatchNotifyFn replaces the function that runs one flush pass.
func (m *Manager) SetBatchNotifyFn(fn func(fn func())) {
	m.mu.Lock()
	m.batchRun = fn
	m.mu.Unlock()
}

// SetScheduler replaces the function that dispatches flush passes.
func (m *Manager) SetScheduler(fn func(fn func())) {
	m.mu.Lock()
	m.schedule = fn
	m.mu.Unlock()
}
