package capflow

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/machinefabric/capflow-go/syncstore"
)

// pendingCall holds an invocation parked behind human approval.
type pendingCall struct {
	def   *Definition
	input any
	spec  ContextSpec
}

// Invoker ties the Dispatcher to the result store: it creates entries,
// runs invocations asynchronously, completes them through the
// optimistic version guard, and drives the human-in-the-loop state
// machine for confirmation-gated capabilities.
type Invoker struct {
	dispatcher *Dispatcher
	registry   *Registry
	store      *syncstore.Store
	logger     zerolog.Logger

	mu      sync.Mutex
	pending map[string]pendingCall
}

// NewInvoker creates an invoker over a dispatcher, a registry, and the
// session's result store.
func NewInvoker(dispatcher *Dispatcher, registry *Registry, store *syncstore.Store) *Invoker {
	return &Invoker{
		dispatcher: dispatcher,
		registry:   registry,
		store:      store,
		logger:     zerolog.Nop(),
		pending:    make(map[string]pendingCall),
	}
}

// NewInvokerWithLogger creates an invoker with structured logging.
func NewInvokerWithLogger(dispatcher *Dispatcher, registry *Registry, store *syncstore.Store, logger zerolog.Logger) *Invoker {
	iv := NewInvoker(dispatcher, registry, store)
	iv.logger = logger
	return iv
}

// Store returns the session's result store.
func (iv *Invoker) Store() *syncstore.Store { return iv.store }

// Invoke starts a capability invocation under a fresh identifier and
// returns it. Execution is asynchronous: results, partial frames, and
// failures land in the store under the returned identifier. The error
// return covers only what fails before execution starts (unknown
// capability, input validation).
func (iv *Invoker) Invoke(ctx context.Context, capability string, rawInput any, spec ContextSpec) (string, error) {
	return iv.InvokeWithID(ctx, syncstore.NewID(), capability, rawInput, spec)
}

// InvokeWithID starts an invocation under a caller-chosen identifier.
// Re-invoking an identifier supersedes any in-flight invocation for
// it: the store's version guard discards the older call's result when
// it eventually resolves.
func (iv *Invoker) InvokeWithID(ctx context.Context, id, capability string, rawInput any, spec ContextSpec) (string, error) {
	def, err := iv.registry.Get(capability)
	if err != nil {
		return "", err
	}
	input, err := def.ValidateInput(rawInput)
	if err != nil {
		return "", err
	}

	entityID := def.EntityKey(input)

	if def.ConfirmationNeeded(input) {
		iv.mu.Lock()
		iv.pending[id] = pendingCall{def: def, input: input, spec: spec}
		iv.mu.Unlock()

		iv.store.Set(id, syncstore.Entry{
			Loading:    false,
			Capability: def.Name(),
			Status:     syncstore.StatusPending,
			EntityID:   entityID,
		})
		iv.logger.Debug().Str("id", id).Str("capability", def.Name()).Msg("awaiting confirmation")
		return id, nil
	}

	status := syncstore.StatusNone
	if def.RequiresConfirmation() {
		// The per-input predicate waived approval; record the
		// auto-transition so observers see a decided state.
		status = syncstore.StatusConfirmed
	}
	iv.execute(ctx, id, def, input, spec, entityID, status)
	return id, nil
}

// Confirm approves a pending invocation and starts its execution.
func (iv *Invoker) Confirm(ctx context.Context, id string) error {
	iv.mu.Lock()
	call, ok := iv.pending[id]
	if ok {
		delete(iv.pending, id)
	}
	iv.mu.Unlock()

	if !ok {
		return &ConfirmationError{ID: id, Message: "no invocation awaiting confirmation"}
	}

	iv.execute(ctx, id, call.def, call.input, call.spec, call.def.EntityKey(call.input), syncstore.StatusConfirmed)
	return nil
}

// Reject declines a pending invocation. Rejection is terminal: the
// parked call is dropped and its handler never runs.
func (iv *Invoker) Reject(id string) error {
	iv.mu.Lock()
	_, ok := iv.pending[id]
	if ok {
		delete(iv.pending, id)
	}
	iv.mu.Unlock()

	if !ok {
		return &ConfirmationError{ID: id, Message: "no invocation awaiting confirmation"}
	}

	entry, _ := iv.store.Get(id)
	entry.Loading = false
	entry.Status = syncstore.StatusRejected
	iv.store.Set(id, entry)
	return nil
}

// Reset clears the result store and drops parked confirmations. Used
// on session and thread boundaries.
func (iv *Invoker) Reset() {
	iv.mu.Lock()
	iv.pending = make(map[string]pendingCall)
	iv.mu.Unlock()
	iv.store.Clear()
}

// execute writes the loading entry, acquires the version guard, and
// runs the invocation in the background. Completion goes through
// SetIfVersion so a superseding invocation for the same identifier
// wins over this one's late result.
func (iv *Invoker) execute(ctx context.Context, id string, def *Definition, input any, spec ContextSpec, entityID string, status syncstore.Status) {
	prev, _ := iv.store.Get(id)
	iv.store.Set(id, syncstore.Entry{
		Output:     prev.Output,
		Loading:    true,
		Capability: def.Name(),
		Status:     status,
		EntityID:   entityID,
	})
	version := iv.store.AcquireVersion(id)

	go func() {
		if def.HasStream() {
			iv.runStreaming(ctx, id, def, input, spec, version)
			return
		}
		out, err := iv.dispatcher.Run(ctx, def, input, spec)
		if err != nil {
			iv.completeFailure(id, version, err)
			return
		}
		iv.completeSuccess(id, version, out)
	}()
}

// runStreaming forwards partial frames into the store as they arrive,
// then completes with the validated final output. Every write goes
// through the version guard; once superseded, remaining frames are
// drained without writing so the producer is never left blocked.
func (iv *Invoker) runStreaming(ctx context.Context, id string, def *Definition, input any, spec ContextSpec, version int64) {
	frames, err := iv.dispatcher.RunStream(ctx, def, input, spec)
	if err != nil {
		iv.completeFailure(id, version, err)
		return
	}

	stale := false
	for frame := range frames {
		if stale {
			continue
		}
		switch {
		case frame.Err != nil:
			iv.completeFailure(id, version, frame.Err)
			stale = true
		case frame.Done:
			iv.completeSuccess(id, version, frame.Value)
			stale = true
		default:
			entry, _ := iv.store.Get(id)
			entry.Output = frame.Value
			entry.Loading = true
			stale = !iv.store.SetIfVersion(id, entry, version)
		}
	}
}

// completeSuccess records a finished invocation's output.
func (iv *Invoker) completeSuccess(id string, version int64, output any) {
	entry, _ := iv.store.Get(id)
	entry.Output = output
	entry.Loading = false
	entry.Error = ""
	iv.store.SetIfVersion(id, entry, version)
}

// completeFailure records a failed invocation. The entry keeps its
// prior output so the client can offer a retry without losing the last
// known good state.
func (iv *Invoker) completeFailure(id string, version int64, err error) {
	entry, _ := iv.store.Get(id)
	entry.Loading = false
	entry.Error = err.Error()
	if iv.store.SetIfVersion(id, entry, version) {
		iv.logger.Debug().Str("id", id).Err(err).Msg("invocation failed")
	}
}
