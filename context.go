package capflow

// ExecContext is the per-invocation bag of capabilities handed to a
// handler. It is constructed fresh for every invocation; the only
// field shared across invocations is the caller-owned Cache.
//
// Privileged-only fields are nil outside the privileged environment,
// regardless of what the caller supplied. Handlers must treat their
// absence as the trust boundary, not as missing configuration.
type ExecContext struct {
	Cache        *SharedCache
	Request      RequestFunc
	IsPrivileged bool

	// Privileged-only.
	Env      map[string]string
	Headers  map[string]string
	Cookies  map[string]string
	Identity any
	Session  any

	// Restricted-only.
	OptimisticUpdate func(value any)
}

// ContextSpec carries caller-supplied overrides for building an
// ExecContext. Privileged overrides the dispatcher's environment
// default when non-nil. Fields that do not belong to the resolved
// environment are discarded during the build, never passed through.
type ContextSpec struct {
	Cache      *SharedCache
	Request    RequestFunc
	Privileged *bool

	Env      map[string]string
	Headers  map[string]string
	Cookies  map[string]string
	Identity any
	Session  any

	OptimisticUpdate func(value any)
}

// buildExecContext merges the caller's spec with environment defaults
// and enforces the trust boundary. A missing cache gets a fresh
// short-lived one scoped to this invocation.
func buildExecContext(spec ContextSpec, privileged bool) *ExecContext {
	cache := spec.Cache
	if cache == nil {
		cache = NewSharedCache()
	}

	ec := &ExecContext{
		Cache:        cache,
		Request:      spec.Request,
		IsPrivileged: privileged,
	}

	if privileged {
		ec.Env = spec.Env
		ec.Headers = spec.Headers
		ec.Cookies = spec.Cookies
		ec.Identity = spec.Identity
		ec.Session = spec.Session
	} else {
		ec.OptimisticUpdate = spec.OptimisticUpdate
	}

	return ec
}
