package capflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// invokeFunc is a resolved invocation path: a local handler bound to
// its environment, or the remote fallback transport.
type invokeFunc func(ctx context.Context, input any, ec *ExecContext) (any, error)

// Dispatcher executes capability definitions: validation, environment
// selection, trust-boundary enforcement, cache lookup, retry, and
// handler or fallback-transport invocation.
type Dispatcher struct {
	privileged bool
	logger     zerolog.Logger
}

// NewDispatcher creates a dispatcher whose environment default is
// privileged or restricted. Individual invocations may override the
// default through ContextSpec.Privileged.
func NewDispatcher(privileged bool) *Dispatcher {
	return &Dispatcher{privileged: privileged, logger: zerolog.Nop()}
}

// NewDispatcherWithLogger creates a dispatcher with structured logging.
func NewDispatcherWithLogger(privileged bool, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{privileged: privileged, logger: logger}
}

// Run executes a capability to completion.
//
// Order of operations: validate input, resolve the environment, build
// the execution context (stripping trust-boundary fields), consult the
// cache, select the handler or fallback transport, invoke under the
// retry and timeout policies, validate the output, write the cache.
// Validation failures short-circuit before any handler or cache access.
func (d *Dispatcher) Run(ctx context.Context, def *Definition, rawInput any, spec ContextSpec) (any, error) {
	input, err := def.ValidateInput(rawInput)
	if err != nil {
		return nil, err
	}

	privileged := d.privileged
	if spec.Privileged != nil {
		privileged = *spec.Privileged
	}
	ec := buildExecContext(spec, privileged)

	var key string
	if def.cache != nil {
		key, err = cacheKey(def, input)
		if err != nil {
			return nil, err
		}
		if cached, ok := ec.Cache.Get(key); ok {
			d.logger.Debug().Str("capability", def.Name()).Msg("cache hit")
			return cached, nil
		}
	}

	invoke, err := d.resolveInvocation(def, privileged)
	if err != nil {
		return nil, err
	}

	out, err := runWithRetry(ctx, def.retry, func() (any, error) {
		return d.invokeWithTimeout(ctx, def, input, ec, invoke)
	})
	if err != nil {
		d.logger.Debug().Str("capability", def.Name()).Err(err).Msg("invocation failed")
		return nil, err
	}

	if err := def.ValidateOutput(out); err != nil {
		return nil, err
	}

	if def.cache != nil {
		ec.Cache.Put(key, out, def.cache.TTL)
	}

	return out, nil
}

// RunStream executes a streaming capability, returning its lazy frame
// sequence. The sequence is finite and not restartable: partial frames
// arrive in emission order, then exactly one Done frame carrying the
// validated final output, or a frame whose Err terminates the sequence
// after the partials already delivered.
func (d *Dispatcher) RunStream(ctx context.Context, def *Definition, rawInput any, spec ContextSpec) (<-chan StreamFrame, error) {
	if def.stream == nil {
		return nil, &NotImplementedError{Capability: def.Name(), Environment: "streaming"}
	}

	input, err := def.ValidateInput(rawInput)
	if err != nil {
		return nil, err
	}

	privileged := d.privileged
	if spec.Privileged != nil {
		privileged = *spec.Privileged
	}
	ec := buildExecContext(spec, privileged)

	frames := make(chan StreamFrame)
	go func() {
		defer close(frames)

		send := func(f StreamFrame) bool {
			select {
			case frames <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		out, err := def.stream(ctx, input, ec, func(partial any) {
			send(StreamFrame{Value: partial})
		})
		if err != nil {
			send(StreamFrame{Err: err})
			return
		}
		if verr := def.ValidateOutput(out); verr != nil {
			send(StreamFrame{Err: verr})
			return
		}

		if def.cache != nil {
			if key, kerr := cacheKey(def, input); kerr == nil {
				ec.Cache.Put(key, out, def.cache.TTL)
			}
		}

		send(StreamFrame{Value: out, Done: true})
	}()

	return frames, nil
}

// resolveInvocation picks the execution path for the environment.
// The privileged handler never runs while privileged=false: in the
// restricted environment its presence routes the call through the
// fallback transport instead.
func (d *Dispatcher) resolveInvocation(def *Definition, privileged bool) (invokeFunc, error) {
	if privileged {
		if def.privileged == nil {
			return nil, &NotImplementedError{Capability: def.Name(), Environment: "privileged"}
		}
		return invokeFunc(def.privileged), nil
	}

	if def.restricted != nil {
		return invokeFunc(def.restricted), nil
	}
	if def.privileged != nil {
		return func(ctx context.Context, input any, ec *ExecContext) (any, error) {
			return remoteCall(ctx, def, input, ec)
		}, nil
	}
	return nil, &NotImplementedError{Capability: def.Name(), Environment: "restricted"}
}

// invokeWithTimeout runs the invocation, racing it against the
// capability's deadline when one is configured. A lost race surfaces
// as TimeoutError; the handler's own work is not stopped.
func (d *Dispatcher) invokeWithTimeout(ctx context.Context, def *Definition, input any, ec *ExecContext, invoke invokeFunc) (any, error) {
	if def.timeout <= 0 {
		return invoke(ctx, input, ec)
	}

	type outcome struct {
		out any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		out, err := invoke(ctx, input, ec)
		done <- outcome{out: out, err: err}
	}()

	timer := time.NewTimer(def.timeout)
	defer timer.Stop()
	select {
	case result := <-done:
		return result.out, result.err
	case <-timer.C:
		return nil, &TimeoutError{Capability: def.Name(), Timeout: def.timeout}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// remoteCall performs the restricted-side fallback: POST the validated
// input to the capability's privileged-side endpoint. Network-level
// failures propagate verbatim; server failures are normalized into
// RemoteCallError with the server's message when the body carried one.
func remoteCall(ctx context.Context, def *Definition, input any, ec *ExecContext) (any, error) {
	if ec.Request == nil {
		return nil, &NotImplementedError{Capability: def.Name(), Environment: "restricted"}
	}

	body, err := json.Marshal(executeRequest{Tool: def.Name(), Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to encode remote request for capability %q: %w", def.Name(), err)
	}

	resp, err := ec.Request(ctx, def.Endpoint(), body)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, remoteCallError(def.Name(), resp)
	}
	return decodeRemoteResult(resp.Body)
}
