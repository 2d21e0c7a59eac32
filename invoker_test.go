package capflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/machinefabric/capflow-go/syncstore"
)

func newTestInvoker(t *testing.T, defs ...*Definition) *Invoker {
	t.Helper()
	reg := NewRegistry()
	reg.MustRegister(defs...)
	return NewInvoker(NewDispatcher(true), reg, syncstore.NewStore())
}

func waitSettled(t *testing.T, store *syncstore.Store, id string) syncstore.Entry {
	t.Helper()
	require.Eventually(t, func() bool {
		entry, ok := store.Get(id)
		return ok && !entry.Loading
	}, time.Second, 5*time.Millisecond)
	entry, _ := store.Get(id)
	return entry
}

func TestInvokeWritesResultToStore(t *testing.T) {
	iv := newTestInvoker(t, NewEchoCapability())

	id, err := iv.Invoke(context.Background(), StandardEcho, map[string]any{"message": "hi"}, ContextSpec{})
	require.NoError(t, err)

	entry := waitSettled(t, iv.Store(), id)
	assert.Equal(t, map[string]any{"message": "hi"}, entry.Output)
	assert.Empty(t, entry.Error)
	assert.Equal(t, StandardEcho, entry.Capability)
}

func TestInvokeUnknownCapability(t *testing.T) {
	iv := newTestInvoker(t)
	_, err := iv.Invoke(context.Background(), "missing", map[string]any{}, ContextSpec{})
	require.Error(t, err)
}

func TestInvokeInvalidInputFailsBeforeStore(t *testing.T) {
	iv := newTestInvoker(t, NewEchoCapability())

	_, err := iv.Invoke(context.Background(), StandardEcho, map[string]any{"message": 5}, ContextSpec{})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, 0, iv.Store().Len())
}

func TestFailurePreservesPriorOutput(t *testing.T) {
	def := NewBuilder("sometimes").
		InputSchema(MustSchema(map[string]any{
			"type":     "object",
			"required": []string{"fail"},
			"properties": map[string]any{
				"fail": map[string]any{"type": "boolean"},
			},
		})).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			if input.(map[string]any)["fail"].(bool) {
				return nil, errors.New("backend unavailable")
			}
			return map[string]any{"ok": true}, nil
		}).
		MustBuild()

	iv := newTestInvoker(t, def)
	id := "slot-1"

	_, err := iv.InvokeWithID(context.Background(), id, "sometimes", map[string]any{"fail": false}, ContextSpec{})
	require.NoError(t, err)
	first := waitSettled(t, iv.Store(), id)
	require.Equal(t, map[string]any{"ok": true}, first.Output)

	_, err = iv.InvokeWithID(context.Background(), id, "sometimes", map[string]any{"fail": true}, ContextSpec{})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		entry, _ := iv.Store().Get(id)
		return !entry.Loading && entry.Error != ""
	}, time.Second, 5*time.Millisecond)

	entry, _ := iv.Store().Get(id)
	assert.Contains(t, entry.Error, "backend unavailable")
	assert.Equal(t, map[string]any{"ok": true}, entry.Output, "failure keeps the last known output")
}

func TestSupersedingInvocationWinsOverSlowOne(t *testing.T) {
	gate := make(chan struct{})
	def := NewBuilder("racer").
		InputSchema(MustSchema(map[string]any{
			"type":     "object",
			"required": []string{"mode"},
			"properties": map[string]any{
				"mode": map[string]any{"type": "string"},
			},
		})).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			mode := input.(map[string]any)["mode"].(string)
			if mode == "slow" {
				<-gate
			}
			return map[string]any{"mode": mode}, nil
		}).
		MustBuild()

	iv := newTestInvoker(t, def)
	id := "slot"

	_, err := iv.InvokeWithID(context.Background(), id, "racer", map[string]any{"mode": "slow"}, ContextSpec{})
	require.NoError(t, err)

	_, err = iv.InvokeWithID(context.Background(), id, "racer", map[string]any{"mode": "fast"}, ContextSpec{})
	require.NoError(t, err)

	entry := waitSettled(t, iv.Store(), id)
	require.Equal(t, map[string]any{"mode": "fast"}, entry.Output)

	// Releasing the superseded call must not clobber the newer result.
	close(gate)
	time.Sleep(50 * time.Millisecond)
	entry, _ = iv.Store().Get(id)
	assert.Equal(t, map[string]any{"mode": "fast"}, entry.Output)
}

func TestConfirmationGatesExecution(t *testing.T) {
	calls := 0
	def := NewBuilder("deploy").
		InputSchema(anySchema(t)).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			calls++
			return map[string]any{"deployed": true}, nil
		}).
		RequireConfirmation(nil).
		MustBuild()

	iv := newTestInvoker(t, def)

	id, err := iv.Invoke(context.Background(), "deploy", map[string]any{}, ContextSpec{})
	require.NoError(t, err)

	entry, ok := iv.Store().Get(id)
	require.True(t, ok)
	assert.Equal(t, syncstore.StatusPending, entry.Status)
	assert.Equal(t, 0, calls, "handler must not run before approval")

	require.NoError(t, iv.Confirm(context.Background(), id))
	entry = waitSettled(t, iv.Store(), id)
	assert.Equal(t, syncstore.StatusConfirmed, entry.Status)
	assert.Equal(t, map[string]any{"deployed": true}, entry.Output)
	assert.Equal(t, 1, calls)
}

func TestRejectionIsTerminal(t *testing.T) {
	calls := 0
	def := NewBuilder("deploy").
		InputSchema(anySchema(t)).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			calls++
			return nil, nil
		}).
		RequireConfirmation(nil).
		MustBuild()

	iv := newTestInvoker(t, def)

	id, err := iv.Invoke(context.Background(), "deploy", map[string]any{}, ContextSpec{})
	require.NoError(t, err)
	require.NoError(t, iv.Reject(id))

	entry, _ := iv.Store().Get(id)
	assert.Equal(t, syncstore.StatusRejected, entry.Status)
	assert.Equal(t, 0, calls)

	// The decision cannot be revisited.
	require.Error(t, iv.Confirm(context.Background(), id))
	require.Error(t, iv.Reject(id))
}

func TestConfirmationExemptInputRunsImmediately(t *testing.T) {
	def := NewBuilder("deploy").
		InputSchema(MustSchema(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dry_run": map[string]any{"type": "boolean"},
			},
		})).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			return map[string]any{"deployed": false}, nil
		}).
		RequireConfirmation(func(input any) bool {
			return input.(map[string]any)["dry_run"] == true
		}).
		MustBuild()

	iv := newTestInvoker(t, def)

	id, err := iv.Invoke(context.Background(), "deploy", map[string]any{"dry_run": true}, ContextSpec{})
	require.NoError(t, err)

	entry := waitSettled(t, iv.Store(), id)
	assert.Equal(t, syncstore.StatusConfirmed, entry.Status, "exempt inputs auto-transition to confirmed")
	assert.Equal(t, map[string]any{"deployed": false}, entry.Output)
}

func TestConfirmWithoutPendingInvocation(t *testing.T) {
	iv := newTestInvoker(t, NewEchoCapability())

	err := iv.Confirm(context.Background(), "nope")
	var cerr *ConfirmationError
	require.ErrorAs(t, err, &cerr)
}

func TestStreamingInvocationForwardsPartials(t *testing.T) {
	def := NewBuilder("progressive").
		InputSchema(anySchema(t)).
		StreamHandler(func(ctx context.Context, input any, ec *ExecContext, emit EmitFunc) (any, error) {
			emit(map[string]any{"step": 1.0})
			emit(map[string]any{"step": 2.0})
			return map[string]any{"done": true}, nil
		}).
		MustBuild()

	iv := newTestInvoker(t, def)

	id, err := iv.Invoke(context.Background(), "progressive", map[string]any{}, ContextSpec{})
	require.NoError(t, err)

	entry := waitSettled(t, iv.Store(), id)
	assert.Equal(t, map[string]any{"done": true}, entry.Output)
	assert.Empty(t, entry.Error)
}

func TestEntityGroupingThroughInvoker(t *testing.T) {
	def := NewBuilder("weather").
		InputSchema(MustSchema(map[string]any{
			"type":     "object",
			"required": []string{"city"},
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
		})).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			return map[string]any{"fetched": true}, nil
		}).
		GroupKey(func(input any) string {
			return input.(map[string]any)["city"].(string)
		}).
		MustBuild()

	iv := newTestInvoker(t, def)

	first, err := iv.Invoke(context.Background(), "weather", map[string]any{"city": "london"}, ContextSpec{})
	require.NoError(t, err)
	waitSettled(t, iv.Store(), first)

	second, err := iv.Invoke(context.Background(), "weather", map[string]any{"city": "london"}, ContextSpec{})
	require.NoError(t, err)
	waitSettled(t, iv.Store(), second)

	anchorID, anchor, ok := iv.Store().FindAnchor("weather/london")
	require.True(t, ok)
	assert.Equal(t, first, anchorID, "the earliest entry is the anchor")
	assert.Equal(t, map[string]any{"fetched": true}, anchor.Output)

	followup, _ := iv.Store().Get(second)
	assert.Nil(t, followup.Output)
	assert.False(t, followup.Loading)
}

func TestResetClearsStoreAndPending(t *testing.T) {
	def := NewBuilder("deploy").
		InputSchema(anySchema(t)).
		PrivilegedHandler(func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			return nil, nil
		}).
		RequireConfirmation(nil).
		MustBuild()

	iv := newTestInvoker(t, def)

	id, err := iv.Invoke(context.Background(), "deploy", map[string]any{}, ContextSpec{})
	require.NoError(t, err)

	iv.Reset()
	assert.Equal(t, 0, iv.Store().Len())
	require.Error(t, iv.Confirm(context.Background(), id), "parked confirmations do not survive a session reset")
}
