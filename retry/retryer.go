// Package retry runs a single asynchronous task with retries, exponential
// backoff, cooperative cancellation, and pause/resume gated on the ambient
// focus and online signals. Every caller interested in the task's outcome
// shares one Future.
package retry

import (
	"sync"
	"time"

	"github.com/querykit/go-querykit/focus"
	"github.com/querykit/go-querykit/online"
)

// Config describes one retryable task.
type Config struct {
	// Fn performs one attempt.
	Fn func() (any, error)
	// Abort interrupts an in-flight attempt on cancellation.
	Abort func()
	// OnSuccess fires before the future resolves.
	OnSuccess func(value any)
	// OnError fires before the future rejects, including on cancellation.
	OnError func(err error)
	// OnFail fires after each failed attempt that will be retried, with the
	// post-increment failure count.
	OnFail func(failureCount int, err error)
	// OnPause and OnContinue bracket a pause.
	OnPause    func()
	OnContinue func()

	Retry       Policy
	RetryDelay  Delay
	NetworkMode NetworkMode

	// CanRun gates each attempt beyond the network mode; used for scope
	// serialization. Defaults to always true.
	CanRun func() bool
	// IsOnline and IsFocused default to the shared managers.
	IsOnline  func() bool
	IsFocused func() bool
}

// Retryer drives one task to settlement.
type Retryer struct {
	cfg    Config
	future *Future

	mu             sync.Mutex
	failureCount   int
	started        bool
	paused         bool
	retryCancelled bool
	continueGate   chan struct{}
	interrupt      chan struct{}
	interruptOnce  sync.Once
}

// New builds a Retryer. The task does not run until Start.
func New(cfg Config) *Retryer {
	if cfg.CanRun == nil {
		cfg.CanRun = func() bool { return true }
	}
	if cfg.IsOnline == nil {
		cfg.IsOnline = online.Shared().IsOnline
	}
	if cfg.IsFocused == nil {
		cfg.IsFocused = focus.Shared().IsFocused
	}
	return &Retryer{
		cfg:       cfg,
		future:    NewFuture(),
		interrupt: make(chan struct{}),
	}
}

// Promise returns the shared settlement future.
func (r *Retryer) Promise() *Future { return r.future }

// IsResolved reports whether the task has settled.
func (r *Retryer) IsResolved() bool { return r.future.IsSettled() }

// IsTransportCancelable reports whether cancelling can interrupt an
// in-flight attempt, not just suppress its outcome.
func (r *Retryer) IsTransportCancelable() bool { return r.cfg.Abort != nil }

// FailureCount returns the number of failed attempts so far.
func (r *Retryer) FailureCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failureCount
}

// CanStart reports whether an attempt may begin right now.
func (r *Retryer) CanStart() bool {
	return CanFetch(r.cfg.NetworkMode, r.cfg.IsOnline()) && r.cfg.CanRun()
}

func (r *Retryer) canContinue() bool {
	return r.cfg.IsFocused() &&
		(r.cfg.NetworkMode == NetworkModeAlways || r.cfg.IsOnline()) &&
		r.cfg.CanRun()
}

// Start launches the task once and returns the shared future.
func (r *Retryer) Start() *Future {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return r.future
	}
	r.started = true
	r.mu.Unlock()
	go r.run()
	return r.future
}

// CancelOptions control how a cancellation is reported to the task's owner.
type CancelOptions struct {
	Revert bool
	Silent bool
}

// Cancel settles the task with a CancelledError carrying opts and aborts any
// in-flight attempt. No-op once settled.
func (r *Retryer) Cancel(opts CancelOptions) {
	if r.future.IsSettled() {
		return
	}
	r.reject(&CancelledError{Revert: opts.Revert, Silent: opts.Silent})
	if r.cfg.Abort != nil {
		r.cfg.Abort()
	}
	r.interruptOnce.Do(func() { close(r.interrupt) })
}

// CancelRetry lets the current attempt finish but suppresses further
// retries; a subsequent failure settles the task immediately.
func (r *Retryer) CancelRetry() {
	r.mu.Lock()
	r.retryCancelled = true
	r.mu.Unlock()
}

// ContinueRetry re-enables retries after CancelRetry.
func (r *Retryer) ContinueRetry() {
	r.mu.Lock()
	r.retryCancelled = false
	r.mu.Unlock()
}

// Continue resumes a paused task, provided the task is allowed to make
// progress again. No-op when not paused.
func (r *Retryer) Continue() {
	r.mu.Lock()
	gate := r.continueGate
	r.mu.Unlock()
	if gate == nil {
		return
	}
	if !r.future.IsSettled() && !r.canContinue() {
		return
	}
	r.mu.Lock()
	if r.continueGate == gate {
		r.continueGate = nil
		close(gate)
	}
	r.mu.Unlock()
}

// IsPaused reports whether the task is currently paused.
func (r *Retryer) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

func (r *Retryer) run() {
	if !r.CanStart() {
		if !r.pause() {
			return
		}
	}
	for {
		if r.future.IsSettled() {
			return
		}
		value, err := r.cfg.Fn()
		if r.future.IsSettled() {
			return
		}
		if err == nil {
			r.resolve(value)
			return
		}
		r.mu.Lock()
		failureCount := r.failureCount
		retryCancelled := r.retryCancelled
		r.mu.Unlock()
		if retryCancelled || !r.cfg.Retry.ShouldRetry(failureCount, err) {
			r.reject(err)
			return
		}
		delay := r.cfg.RetryDelay.Duration(failureCount, err)
		r.mu.Lock()
		r.failureCount++
		failureCount = r.failureCount
		r.mu.Unlock()
		if r.cfg.OnFail != nil {
			r.cfg.OnFail(failureCount, err)
		}
		if !r.sleep(delay) {
			return
		}
		if !r.canContinue() {
			if !r.pause() {
				return
			}
		}
	}
}

// pause blocks until Continue or cancellation. Reports whether the task
// should keep running.
func (r *Retryer) pause() bool {
	r.mu.Lock()
	if r.future.IsSettled() {
		r.mu.Unlock()
		return false
	}
	gate := make(chan struct{})
	r.continueGate = gate
	r.paused = true
	r.mu.Unlock()
	if r.cfg.OnPause != nil {
		r.cfg.OnPause()
	}
	select {
	case <-gate:
	case <-r.interrupt:
		r.mu.Lock()
		r.paused = false
		if r.continueGate == gate {
			r.continueGate = nil
		}
		r.mu.Unlock()
		return false
	}
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	if r.future.IsSettled() {
		return false
	}
	if r.cfg.OnContinue != nil {
		r.cfg.OnContinue()
	}
	return true
}

// sleep waits for d or until cancellation. Reports whether to keep running.
func (r *Retryer) sleep(d time.Duration) bool {
	if d <= 0 {
		return !r.future.IsSettled()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return !r.future.IsSettled()
	case <-r.interrupt:
		return false
	}
}

func (r *Retryer) resolve(value any) {
	if r.cfg.OnSuccess != nil {
		r.cfg.OnSuccess(value)
	}
	r.future.Resolve(value)
	r.unblockGate()
}

func (r *Retryer) reject(err error) {
	if r.cfg.OnError != nil {
		r.cfg.OnError(err)
	}
	r.future.Reject(err)
	r.unblockGate()
}

func (r *Retryer) unblockGate() {
	r.mu.Lock()
	if r.continueGate != nil {
		close(r.continueGate)
		r.continueGate = nil
	}
	r.mu.Unlock()
}
