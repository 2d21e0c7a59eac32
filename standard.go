package capflow

import "context"

// Standard capabilities available to every deployment. They double as
// liveness probes for the execution path: echo proves round-tripping
// through validation and dispatch, discard proves invocation without
// observable output.

// StandardEcho is the name of the built-in echo capability.
const StandardEcho = "echo"

// StandardDiscard is the name of the built-in discard capability.
const StandardDiscard = "discard"

// NewEchoCapability builds the echo capability: returns its message
// input unchanged. Registered with handlers for both environments so
// it never crosses the fallback transport.
func NewEchoCapability() *Definition {
	schema := MustSchema(map[string]any{
		"type":     "object",
		"required": []string{"message"},
		"properties": map[string]any{
			"message": map[string]any{"type": "string"},
		},
	})
	echo := func(ctx context.Context, input any, ec *ExecContext) (any, error) {
		return input, nil
	}
	return NewBuilder(StandardEcho).
		Description("Returns its input message unchanged.").
		Tags("standard").
		InputSchema(schema).
		OutputSchema(schema).
		PrivilegedHandler(echo).
		RestrictedHandler(echo).
		MustBuild()
}

// NewDiscardCapability builds the discard capability: accepts any
// object and acknowledges it without producing output data.
func NewDiscardCapability() *Definition {
	discard := func(ctx context.Context, input any, ec *ExecContext) (any, error) {
		return map[string]any{"discarded": true}, nil
	}
	return NewBuilder(StandardDiscard).
		Description("Accepts and discards its input.").
		Tags("standard").
		InputSchema(MustSchema(map[string]any{"type": "object"})).
		OutputSchema(MustSchema(map[string]any{
			"type":     "object",
			"required": []string{"discarded"},
			"properties": map[string]any{
				"discarded": map[string]any{"type": "boolean"},
			},
		})).
		PrivilegedHandler(discard).
		RestrictedHandler(discard).
		MustBuild()
}

// RegisterStandardCapabilities adds the standard capabilities to a registry.
func RegisterStandardCapabilities(r *Registry) {
	r.MustRegister(NewEchoCapability(), NewDiscardCapability())
}
