// Package focus tracks whether the embedding environment is "focused"
// (a foreground window, a resumed process). The engine uses the signal to
// resume paused work and to drive focus-triggered refetches. The event
// source is pluggable: servers leave the default (always focused), UI shells
// install one with SetEventListener.
package focus

import (
	"sync"

	"github.com/querykit/go-querykit/subscribe"
)

// Listener receives the focused state after each transition.
type Listener func(focused bool)

// SetupFn installs an environment-specific event source. It receives a
// callback that reports focus transitions and returns a teardown function,
// which may be nil.
type SetupFn func(setFocused func(focused bool)) (cleanup func())

// Manager broadcasts focus transitions to subscribers. The event source is
// installed lazily when the first listener subscribes and torn down when the
// last one leaves.
type Manager struct {
	mu        sync.Mutex
	focused   *bool
	cleanup   func()
	setup     SetupFn
	listeners *subscribe.Listeners[Listener]
}

// NewManager returns a Manager with no event source: IsFocused reports true
// until SetFocused or an installed event source says otherwise.
func NewManager() *Manager {
	m := &Manager{
		setup: func(func(bool)) func() { return nil },
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
	cleanup := setup(func(focused bool) {
		f := focused
		m.SetFocused(&f)
	})
	if cleanup == nil {
		cleanup = func() {}
	}
	m.mu.Lock()
	m.cleanup = cleanup
	m.mu.Unlock()
}

// Subscribe registers a listener and returns its unsubscribe function.
func (m *Manager) Subscribe(listener Listener) func() {
	return m.listeners.Subscribe(listener)
}

// SetEventListener replaces the event source. If listeners are attached the
// previous source is torn down and the new one installed immediately.
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

// SetFocused overrides the focused state. nil restores the default (focused).
// Listeners are notified only when the effective value changes.
func (m *Manager) SetFocused(focused *bool) {
	m.mu.Lock()
	before := effective(m.focused)
	m.focused = focused
	after := effective(m.focused)
	m.mu.Unlock()
	if before != after {
		m.listeners.Each(func(l Listener) { l(after) })
	}
}

// IsFocused reports the current focused state.
func (m *Manager) IsFocused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return effective(m.focused)
}

func effective(focused *bool) bool {
	if focused == nil {
		return true
	}
	return *focused
}
