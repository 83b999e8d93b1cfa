package query

import (
	"context"
	"sync"

	"github.com/querykit/go-querykit/retry"
)

// MutationState is one mutation's reducer-owned state.
type MutationState struct {
	Context       any
	Data          any
	Error         error
	FailureCount  int
	FailureReason error
	IsPaused      bool
	Status        MutationStatus
	SubmittedAt   int64
	Variables     any
}

type mutationPendingAction struct {
	Variables any
	Context   any
	IsPaused  bool
	// keepSubmittedAt preserves the original submission time when the
	// context lands after onMutate.
	keepSubmittedAt bool
}

func (mutationPendingAction) ActionType() string { return "pending" }

type mutationFailedAction struct {
	Error        error
	FailureCount int
}

func (mutationFailedAction) ActionType() string { return "failed" }

type mutationPauseAction struct{}

func (mutationPauseAction) ActionType() string { return "pause" }

type mutationContinueAction struct{}

func (mutationContinueAction) ActionType() string { return "continue" }

type mutationSuccessAction struct {
	Data any
}

func (mutationSuccessAction) ActionType() string { return "success" }

type mutationErrorAction struct {
	Error error
}

func (mutationErrorAction) ActionType() string { return "error" }

type mutationSetStateAction struct {
	State MutationState
}

func (mutationSetStateAction) ActionType() string { return "setState" }

// Mutation is one execution of a side-effectful operation: its state
// machine, retry orchestration, and lifecycle callbacks.
type Mutation struct {
	id     int
	cache  *MutationCache
	client *Client

	mu        sync.Mutex
	options   MutationOptions
	state     MutationState
	observers []*MutationObserver
	retryer   *retry.Retryer

	gc gcResource
}

func newMutation(client *Client, cache *MutationCache, id int, opts MutationOptions, state *MutationState) *Mutation {
	m := &Mutation{
		id:     id,
		cache:  cache,
		client: client,
	}
	m.options = opts
	if state != nil {
		m.state = *state
	} else {
		m.state = MutationState{Status: MutationStatusIdle}
	}
	m.gc.onExpire = m.optionalRemove
	m.gc.updateGCTime(opts.GCTime)
	m.gc.schedule()
	return m
}

// ID is the mutation's monotonically increasing identity in its cache.
func (m *Mutation) ID() int { return m.id }

// State returns a snapshot of the current state.
func (m *Mutation) State() MutationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Options returns the mutation's options.
func (m *Mutation) Options() MutationOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options
}

// Meta returns the mutation's metadata.
func (m *Mutation) Meta() Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.options.Meta
}

// SetOptions replaces the options and widens the gc countdown.
func (m *Mutation) SetOptions(opts MutationOptions) {
	m.mu.Lock()
	m.options = opts
	m.mu.Unlock()
	m.gc.updateGCTime(opts.GCTime)
}

// SetState replaces the state wholesale (hydration).
func (m *Mutation) SetState(state MutationState) {
	m.dispatch(mutationSetStateAction{State: state})
}

func (m *Mutation) scopeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.options.Scope != nil {
		return m.options.Scope.ID
	}
	return ""
}

// AddObserver attaches o and cancels any pending collection.
func (m *Mutation) AddObserver(o *MutationObserver) {
	m.mu.Lock()
	for _, existing := range m.observers {
		if existing == o {
			m.mu.Unlock()
			return
		}
	}
	m.observers = append(m.observers, o)
	m.mu.Unlock()
	m.gc.clear()
	m.cache.notify(MutationCacheEvent{Type: EventObserverAdded, Mutation: m, Observer: o})
}

// RemoveObserver detaches o and arms the gc countdown.
func (m *Mutation) RemoveObserver(o *MutationObserver) {
	m.mu.Lock()
	for i, existing := range m.observers {
		if existing == o {
			m.observers = append(m.observers[:i], m.observers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.gc.schedule()
	m.cache.notify(MutationCacheEvent{Type: EventObserverRemoved, Mutation: m, Observer: o})
}

// ObserverCount returns the number of attached observers.
func (m *Mutation) ObserverCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.observers)
}

// optionalRemove collects the entry unless it is still running.
func (m *Mutation) optionalRemove() {
	m.mu.Lock()
	removable := len(m.observers) == 0 && m.state.Status != MutationStatusPending
	m.mu.Unlock()
	if removable {
		m.cache.Remove(m)
	}
}

// ContinueExecution resumes a paused mutation and awaits its settlement; a
// mutation restored from a snapshot with no live retryer is re-executed
// with its stored variables.
func (m *Mutation) ContinueExecution(ctx context.Context) (any, error) {
	m.mu.Lock()
	r := m.retryer
	variables := m.state.Variables
	m.mu.Unlock()
	if r != nil {
		r.Continue()
		return r.Promise().Await(ctx)
	}
	return m.Execute(variables)
}

// Execute runs the mutation to settlement: onMutate, the mutation function
// through the retryer, then the outcome callbacks. An error returned by a
// success-path callback fails the mutation; error-path callback errors are
// swallowed in favor of the original error.
func (m *Mutation) Execute(variables any) (any, error) {
	m.mu.Lock()
	restored := m.state.Status == MutationStatusPending
	options := m.options
	m.mu.Unlock()

	retryPolicy := options.Retry
	if !retryPolicy.IsSet() {
		retryPolicy = retry.Never()
	}

	r := retry.New(retry.Config{
		Fn: func() (any, error) {
			m.mu.Lock()
			fn := m.options.MutationFn
			vars := m.state.Variables
			m.mu.Unlock()
			if fn == nil {
				return nil, ErrNoMutationFn
			}
			return fn(context.Background(), vars)
		},
		OnFail: func(failureCount int, err error) {
			m.dispatch(mutationFailedAction{Error: err, FailureCount: failureCount})
		},
		OnPause: func() {
			m.dispatch(mutationPauseAction{})
		},
		OnContinue: func() {
			m.dispatch(mutationContinueAction{})
		},
		Retry:       retryPolicy,
		RetryDelay:  options.RetryDelay,
		NetworkMode: options.NetworkMode,
		CanRun: func() bool {
			return m.cache.canRun(m)
		},
		IsOnline:  m.client.onlineManager().IsOnline,
		IsFocused: m.client.focusManager().IsFocused,
	})
	m.mu.Lock()
	m.retryer = r
	m.mu.Unlock()
	defer m.cache.runNext(m)

	cacheCfg := m.cache.Config()
	var execErr error
	var mctx any

	if !restored {
		m.dispatch(mutationPendingAction{Variables: variables, IsPaused: !r.CanStart()})
		if cacheCfg.OnMutate != nil {
			execErr = cacheCfg.OnMutate(variables, m)
		}
		if execErr == nil && options.OnMutate != nil {
			mctx, execErr = options.OnMutate(variables)
			if execErr == nil && mctx != nil {
				m.dispatch(mutationPendingAction{
					Variables:       variables,
					Context:         mctx,
					IsPaused:        m.State().IsPaused,
					keepSubmittedAt: true,
				})
			}
		}
	} else {
		m.mu.Lock()
		variables = m.state.Variables
		mctx = m.state.Context
		m.mu.Unlock()
	}

	var data any
	if execErr == nil {
		data, execErr = m.client.traceMutation(m, r).Await(context.Background())
		m.mu.Lock()
		mctx = m.state.Context
		m.mu.Unlock()
	}

	if execErr == nil {
		execErr = m.runSuccessCallbacks(data, variables, mctx, cacheCfg)
		if execErr == nil {
			m.dispatch(mutationSuccessAction{Data: data})
			return data, nil
		}
	}

	m.runErrorCallbacks(execErr, variables, mctx, cacheCfg)
	m.dispatch(mutationErrorAction{Error: execErr})
	if m.ObserverCount() == 0 {
		m.client.logger().Error("mutation failed with no observers: id=%d err=%v", m.id, execErr)
	}
	return nil, execErr
}

// runSuccessCallbacks runs the success-path callbacks; the first error any
// of them returns fails the mutation.
func (m *Mutation) runSuccessCallbacks(data, variables, mctx any, cacheCfg MutationCacheConfig) error {
	m.mu.Lock()
	options := m.options
	m.mu.Unlock()
	if cacheCfg.OnSuccess != nil {
		if err := cacheCfg.OnSuccess(data, variables, mctx, m); err != nil {
			return err
		}
	}
	if options.OnSuccess != nil {
		if err := options.OnSuccess(data, variables, mctx); err != nil {
			return err
		}
	}
	if cacheCfg.OnSettled != nil {
		if err := cacheCfg.OnSettled(data, nil, variables, mctx, m); err != nil {
			return err
		}
	}
	if options.OnSettled != nil {
		if err := options.OnSettled(data, nil, variables, mctx); err != nil {
			return err
		}
	}
	return nil
}

// runErrorCallbacks runs the error-path callbacks; their errors are
// swallowed so the original failure is reported.
func (m *Mutation) runErrorCallbacks(execErr error, variables, mctx any, cacheCfg MutationCacheConfig) {
	m.mu.Lock()
	options := m.options
	m.mu.Unlock()
	if cacheCfg.OnError != nil {
		_ = cacheCfg.OnError(execErr, variables, mctx, m)
	}
	if options.OnError != nil {
		_ = options.OnError(execErr, variables, mctx)
	}
	if cacheCfg.OnSettled != nil {
		_ = cacheCfg.OnSettled(nil, execErr, variables, mctx, m)
	}
	if options.OnSettled != nil {
		_ = options.OnSettled(nil, execErr, variables, mctx)
	}
}

func (m *Mutation) dispatch(a Action) {
	m.mu.Lock()
	m.state = mutationReduce(m.state, a)
	observers := make([]*MutationObserver, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()
	m.client.notifier().Batch(func() {
		for _, o := range observers {
			o.onMutationUpdate(m, a)
		}
		m.cache.notify(MutationCacheEvent{Type: EventUpdated, Mutation: m, Action: a})
	})
}

func mutationReduce(state MutationState, a Action) MutationState {
	switch act := a.(type) {
	case mutationPendingAction:
		next := MutationState{
			Context:     act.Context,
			IsPaused:    act.IsPaused,
			Status:      MutationStatusPending,
			Variables:   act.Variables,
			SubmittedAt: nowMs(),
		}
		if act.keepSubmittedAt {
			next.SubmittedAt = state.SubmittedAt
		}
		return next
	case mutationFailedAction:
		state.FailureCount = act.FailureCount
		state.FailureReason = act.Error
		return state
	case mutationPauseAction:
		state.IsPaused = true
		return state
	case mutationContinueAction:
		state.IsPaused = false
		return state
	case mutationSuccessAction:
		state.Data = act.Data
		state.Error = nil
		state.Status = MutationStatusSuccess
		state.IsPaused = false
		return state
	case mutationErrorAction:
		state.Data = nil
		state.Error = act.Error
		state.FailureCount++
		state.FailureReason = act.Error
		state.IsPaused = false
		state.Status = MutationStatusError
		return state
	case mutationSetStateAction:
		return act.State
	default:
		return state
	}
}
