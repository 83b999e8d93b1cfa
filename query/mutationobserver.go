package query

import (
	"sync"

	"github.com/querykit/go-querykit/retry"
	"github.com/querykit/go-querykit/subscribe"
)

// MutationObserverResult is the derived view of one mutation.
type MutationObserverResult struct {
	Data          any
	Error         error
	FailureCount  int
	FailureReason error
	Variables     any
	Context       any
	SubmittedAt   int64

	IsIdle    bool
	IsPending bool
	IsSuccess bool
	IsError   bool
	IsPaused  bool

	Status MutationStatus
}

// MutateCallbacks are supplied per-mutate call. When one observer fires
// several mutates, only the most recent caller's callbacks run; the
// mutation-level and cache-level callbacks still run for every execution.
type MutateCallbacks struct {
	OnSuccess func(data any, variables any, mctx any)
	OnError   func(err error, variables any, mctx any)
	OnSettled func(data any, err error, variables any, mctx any)
}

// MutationResultListener receives derived mutation results.
type MutationResultListener func(result MutationObserverResult)

// MutationObserver derives a result from the latest mutation it started and
// notifies listeners on change.
type MutationObserver struct {
	client *Client

	mu              sync.Mutex
	options         MutationOptions
	mutation        *Mutation
	result          MutationObserverResult
	mutateCallbacks *MutateCallbacks

	listeners *subscribe.Listeners[MutationResultListener]
}

// NewMutationObserver builds an observer with the given options.
func NewMutationObserver(client *Client, opts MutationOptions) *MutationObserver {
	o := &MutationObserver{
		client:  client,
		options: client.defaultMutationOptions(opts),
	}
	o.listeners = subscribe.New[MutationResultListener](subscribe.Hooks{})
	o.updateResult()
	return o
}

// SetOptions replaces the observer's options; the current mutation picks
// them up as well.
func (o *MutationObserver) SetOptions(opts MutationOptions) {
	defaulted := o.client.defaultMutationOptions(opts)
	o.mu.Lock()
	o.options = defaulted
	m := o.mutation
	o.mu.Unlock()
	if m != nil {
		m.SetOptions(defaulted)
	}
}

// Subscribe registers a listener and returns its unsubscribe function.
func (o *MutationObserver) Subscribe(listener MutationResultListener) func() {
	return o.listeners.Subscribe(listener)
}

// CurrentResult returns the last computed result.
func (o *MutationObserver) CurrentResult() MutationObserverResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.result
}

// Mutate starts an execution of the mutation with the given variables and
// returns its settlement future. Callbacks supplied here replace those of
// any earlier Mutate on this observer.
func (o *MutationObserver) Mutate(variables any, callbacks *MutateCallbacks) *retry.Future {
	o.mu.Lock()
	o.mutateCallbacks = callbacks
	options := o.options
	prev := o.mutation
	o.mu.Unlock()

	if prev != nil {
		prev.RemoveObserver(o)
	}

	m := o.client.mutationCache().Build(o.client, options, nil)
	o.mu.Lock()
	o.mutation = m
	o.mu.Unlock()
	m.AddObserver(o)

	future := retry.NewFuture()
	go func() {
		data, err := m.Execute(variables)
		if err != nil {
			future.Reject(err)
			return
		}
		future.Resolve(data)
	}()
	return future
}

// Reset detaches the observer from its current mutation and returns the
// result to idle.
func (o *MutationObserver) Reset() {
	o.mu.Lock()
	m := o.mutation
	o.mutation = nil
	o.mu.Unlock()
	if m != nil {
		m.RemoveObserver(o)
	}
	o.updateResult()
	o.notifyListeners()
}

// onMutationUpdate recomputes the result and fires per-mutate callbacks on
// terminal transitions of the observer's current mutation.
func (o *MutationObserver) onMutationUpdate(m *Mutation, a Action) {
	o.mu.Lock()
	current := o.mutation
	callbacks := o.mutateCallbacks
	o.mu.Unlock()
	if m != current {
		return
	}
	o.updateResult()

	if callbacks != nil {
		state := m.State()
		switch a.(type) {
		case mutationSuccessAction:
			if callbacks.OnSuccess != nil {
				callbacks.OnSuccess(state.Data, state.Variables, state.Context)
			}
			if callbacks.OnSettled != nil {
				callbacks.OnSettled(state.Data, nil, state.Variables, state.Context)
			}
		case mutationErrorAction:
			if callbacks.OnError != nil {
				callbacks.OnError(state.Error, state.Variables, state.Context)
			}
			if callbacks.OnSettled != nil {
				callbacks.OnSettled(nil, state.Error, state.Variables, state.Context)
			}
		}
	}
	o.notifyListeners()
}

func (o *MutationObserver) updateResult() {
	o.mu.Lock()
	m := o.mutation
	o.mu.Unlock()

	state := MutationState{Status: MutationStatusIdle}
	if m != nil {
		state = m.State()
	}
	result := MutationObserverResult{
		Data:          state.Data,
		Error:         state.Error,
		FailureCount:  state.FailureCount,
		FailureReason: state.FailureReason,
		Variables:     state.Variables,
		Context:       state.Context,
		SubmittedAt:   state.SubmittedAt,
		IsIdle:        state.Status == MutationStatusIdle,
		IsPending:     state.Status == MutationStatusPending,
		IsSuccess:     state.Status == MutationStatusSuccess,
		IsError:       state.Status == MutationStatusError,
		IsPaused:      state.IsPaused,
		Status:        state.Status,
	}
	o.mu.Lock()
	o.result = result
	o.mu.Unlock()
}

func (o *MutationObserver) notifyListeners() {
	result := o.CurrentResult()
	o.client.notifier().Schedule(func() {
		o.listeners.Each(func(l MutationResultListener) { l(result) })
	})
}
