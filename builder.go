package capflow

import (
	"fmt"
	"time"
)

// Builder assembles an immutable Definition. Handlers and policies may
// be attached in any order; attaching the same slot twice replaces the
// earlier value. Build performs the finalize step and is the only way
// to obtain a Definition.
type Builder struct {
	def Definition
}

// NewBuilder starts a builder for a capability with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{def: Definition{name: name}}
}

// Description sets the human-readable description.
func (b *Builder) Description(description string) *Builder {
	b.def.description = description
	return b
}

// Tags sets the metadata tags.
func (b *Builder) Tags(tags ...string) *Builder {
	b.def.tags = tags
	return b
}

// InputSchema sets the required input validation contract.
func (b *Builder) InputSchema(s *Schema) *Builder {
	b.def.inputSchema = s
	return b
}

// OutputSchema sets the optional output validation contract.
func (b *Builder) OutputSchema(s *Schema) *Builder {
	b.def.outputSchema = s
	return b
}

// PrivilegedHandler attaches the handler that runs in the privileged
// environment.
func (b *Builder) PrivilegedHandler(h Handler) *Builder {
	b.def.privileged = h
	return b
}

// RestrictedHandler attaches the handler that runs in the restricted
// environment.
func (b *Builder) RestrictedHandler(h Handler) *Builder {
	b.def.restricted = h
	return b
}

// StreamHandler attaches the chunked-progress handler.
func (b *Builder) StreamHandler(h StreamHandler) *Builder {
	b.def.stream = h
	return b
}

// View attaches the presentation hook.
func (b *Builder) View(v ViewHook) *Builder {
	b.def.view = v
	return b
}

// Cache configures result caching. A nil key uses the default
// structural key over the validated input.
func (b *Builder) Cache(ttl time.Duration, key KeyFunc) *Builder {
	b.def.cache = &CachePolicy{TTL: ttl, Key: key}
	return b
}

// Retry configures bounded retry: maxAttempts additional attempts
// after the first failure, separated by delay.
func (b *Builder) Retry(maxAttempts int, delay time.Duration) *Builder {
	b.def.retry = &RetryPolicy{MaxAttempts: maxAttempts, Delay: delay}
	return b
}

// GroupKey configures entity grouping for the result store.
func (b *Builder) GroupKey(fn GroupKeyFunc) *Builder {
	b.def.groupKey = fn
	return b
}

// Timeout sets the per-invocation deadline.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.def.timeout = d
	return b
}

// Endpoint overrides the remote execution endpoint used by the
// restricted-side fallback transport.
func (b *Builder) Endpoint(path string) *Builder {
	b.def.endpoint = path
	return b
}

// RequireConfirmation gates invocation on explicit human approval.
// A non-nil exempt predicate can waive approval for individual inputs.
func (b *Builder) RequireConfirmation(exempt ConfirmPredicate) *Builder {
	b.def.requiresConfirmation = true
	b.def.confirmExempt = exempt
	return b
}

// Build finalizes the Definition. The builder remains usable; each
// call returns an independent copy.
func (b *Builder) Build() (*Definition, error) {
	if b.def.name == "" {
		return nil, fmt.Errorf("capability name is required")
	}
	if b.def.inputSchema == nil {
		return nil, fmt.Errorf("capability %q requires an input schema", b.def.name)
	}
	def := b.def
	def.tags = append([]string(nil), b.def.tags...)
	return &def, nil
}

// MustBuild finalizes the Definition and panics on failure. Intended
// for package-level capability tables.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}
