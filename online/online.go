// Package online tracks network reachability. A paused fetch resumes when
// the signal flips back to online; observers may also refetch on reconnect.
// Like package focus, the event source is pluggable and the default reports
// always online.
package online

import (
	"sync"

	"github.com/querykit/go-querykit/subscribe"
)

// Listener receives the online state after each transition.
type Listener func(online bool)

// SetupFn installs an environment-specific connectivity source. It receives
// a callback reporting transitions and returns a teardown function.
type SetupFn func(setOnline func(online bool)) (cleanup func())

// Manager broadcasts connectivity transitions to subscribers.
type Manager struct {
	mu        sync.Mutex
	online    bool
	cleanup   func()
	setup     SetupFn
	listeners *subscribe.Listeners[Listener]
}

// NewManager returns a Manager that reports online until told otherwise.
func NewManager() *Manager {
	m := &Manager{
		online: true,
		setup:  func(func(bool)) func() { return nil },
	}
	m.listeners = subscribe.New[Listener](subscribe.Hooks{
		OnSubscribe:   m.onSubscribe,
		OnUnsubscribe: m.onUnsubscribe,
	})
	return m
}

var shared = NewManager()

// Shared returns the process-wide manager used by default.
func Shared() *Manager { return shared }

func (m *Manager) onSubscribe() {
	m.mu.Lock()
	needsSetup := m.cleanup == nil
	setup := m.setup
	m.mu.Unlock()
	if needsSetup {
		m.install(setup)
	}
}

func (m *Manager) onUnsubscribe() {
	if m.listeners.HasListeners() {
		return
	}
	m.mu.Lock()
	cleanup := m.cleanup
	m.cleanup = nil
	m.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

func (m *Manager) install(setup SetupFn) {
	cleanup := setup(m.SetOnline)
	m.mu.Lock()
	m.cleanup = cleanup
	m.mu.Unlock()
}

// Subscribe registers a listener and returns its unsubscribe function.
func (m *Manager) Subscribe(listener Listener) func() {
	return m.listeners.Subscribe(listener)
}

// SetEventListener replaces the connectivity source. If listeners are
// attached the previous source is torn down and the new one installed.
func (m *Manager) SetEventListener(setup SetupFn) {
	m.mu.Lock()
	m.setup = setup
	cleanup := m.cleanup
	m.cleanup = nil
	m.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
	if m.listeners.HasListeners() {
		m.install(setup)
	}
}

// SetOnline sets the online state. Listeners are notified on change only.
func (m *Manager) SetOnline(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if changed {
		m.listeners.Each(func(l Listener) { l(online) })
	}
}

// IsOnline reports the current connectivity state.
func (m *Manager) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
