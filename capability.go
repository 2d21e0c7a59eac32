// Package capflow implements a capability invocation engine: named,
// schema-validated operations dispatched into one of two trust
// environments (privileged or restricted), with caching, retry,
// streaming, and human-in-the-loop gating.
package capflow

import (
	"context"
	"time"
)

// Handler executes a capability in a single environment. Input is the
// validated, normalized input value; the ExecContext carries the
// environment-appropriate capabilities.
type Handler func(ctx context.Context, input any, ec *ExecContext) (any, error)

// EmitFunc delivers a partial output fragment from a streaming handler.
// Partial fragments are exempt from output-schema validation.
type EmitFunc func(partial any)

// StreamHandler executes a capability that produces chunked progress.
// The returned value is the final output and is validated against the
// output schema; fragments passed to emit are forwarded as-is.
type StreamHandler func(ctx context.Context, input any, ec *ExecContext, emit EmitFunc) (any, error)

// ViewHook maps a capability's output plus presentation state to a
// render value. Presence is observable metadata; the engine never calls it.
type ViewHook func(output any, renderState map[string]any) any

// KeyFunc derives a cache key from a validated input.
type KeyFunc func(input any) string

// GroupKeyFunc derives an entity grouping key from a validated input.
// Invocations of the same capability whose inputs map to the same key
// describe the same logical subject and collapse in the result store.
type GroupKeyFunc func(input any) string

// ConfirmPredicate reports whether a particular input is exempt from
// human approval for a confirmation-gated capability.
type ConfirmPredicate func(input any) bool

// CachePolicy configures result caching for a capability.
// A nil Key falls back to a structural key derived from the capability
// name and a deterministic serialization of the validated input.
type CachePolicy struct {
	TTL time.Duration
	Key KeyFunc
}

// RetryPolicy configures bounded retry for handler failures.
// MaxAttempts counts additional attempts after the first failure, so a
// capability with MaxAttempts=2 invokes its handler at most 3 times.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Definition is an immutable capability: identity, validation
// contracts, per-environment handlers, and cross-cutting policies.
// Definitions are produced by a Builder and never mutated afterwards.
type Definition struct {
	name        string
	description string
	tags        []string

	inputSchema  *Schema
	outputSchema *Schema

	privileged Handler
	restricted Handler
	stream     StreamHandler
	view       ViewHook

	cache    *CachePolicy
	retry    *RetryPolicy
	groupKey GroupKeyFunc
	timeout  time.Duration
	endpoint string

	requiresConfirmation bool
	confirmExempt        ConfirmPredicate
}

// Name returns the capability's unique identity.
func (d *Definition) Name() string { return d.name }

// Description returns the capability's human-readable description.
func (d *Definition) Description() string { return d.description }

// Tags returns a copy of the capability's metadata tags.
func (d *Definition) Tags() []string {
	out := make([]string, len(d.tags))
	copy(out, d.tags)
	return out
}

// HasPrivilegedHandler reports whether a privileged-side handler is attached.
func (d *Definition) HasPrivilegedHandler() bool { return d.privileged != nil }

// HasRestrictedHandler reports whether a restricted-side handler is attached.
func (d *Definition) HasRestrictedHandler() bool { return d.restricted != nil }

// HasStream reports whether a streaming handler is attached.
func (d *Definition) HasStream() bool { return d.stream != nil }

// HasView reports whether a view hook is attached.
func (d *Definition) HasView() bool { return d.view != nil }

// HasCache reports whether a cache policy is configured.
func (d *Definition) HasCache() bool { return d.cache != nil }

// RequiresConfirmation reports whether invocations are gated on
// explicit human approval.
func (d *Definition) RequiresConfirmation() bool { return d.requiresConfirmation }

// Timeout returns the per-invocation deadline, zero when unset.
func (d *Definition) Timeout() time.Duration { return d.timeout }

// Endpoint returns the remote execution endpoint used by the
// restricted-side fallback transport.
func (d *Definition) Endpoint() string {
	if d.endpoint == "" {
		return DefaultExecuteEndpoint
	}
	return d.endpoint
}

// View invokes the attached view hook, or returns the output unchanged
// when none is attached.
func (d *Definition) View(output any, renderState map[string]any) any {
	if d.view == nil {
		return output
	}
	return d.view(output, renderState)
}

// ValidateInput normalizes raw against the input schema (stripping
// unknown fields) and validates the result.
func (d *Definition) ValidateInput(raw any) (any, error) {
	normalized := d.inputSchema.Normalize(raw)
	if err := d.inputSchema.Validate("input", d.name, normalized); err != nil {
		return nil, err
	}
	return normalized, nil
}

// ValidateOutput validates a final output value. Capabilities without
// an output schema accept any value.
func (d *Definition) ValidateOutput(candidate any) error {
	if d.outputSchema == nil {
		return nil
	}
	return d.outputSchema.Validate("output", d.name, candidate)
}

// EntityKey computes the grouping key for a validated input, or ""
// when the capability does not group invocations.
func (d *Definition) EntityKey(input any) string {
	if d.groupKey == nil {
		return ""
	}
	return d.name + "/" + d.groupKey(input)
}

// ConfirmationNeeded reports whether this particular input requires
// explicit approval before the handler may run. Always false for
// capabilities that are not confirmation-gated; gated capabilities may
// exempt individual inputs via their predicate.
func (d *Definition) ConfirmationNeeded(input any) bool {
	if !d.requiresConfirmation {
		return false
	}
	if d.confirmExempt != nil && d.confirmExempt(input) {
		return false
	}
	return true
}
