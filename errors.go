package capflow

import (
	"fmt"
	"strings"
	"time"
)

// ValidationError represents an input or output schema violation.
// Messages name the failing constraint but never echo raw values,
// since inputs may carry credentials or other sensitive data.
type ValidationError struct {
	Stage      string // "input" or "output"
	Capability string
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s validation failed for capability %q: %s",
		e.Stage, e.Capability, strings.Join(e.Problems, "; "))
}

// NotImplementedError indicates a capability has no handler (and no
// usable fallback transport) for the environment it was invoked in.
type NotImplementedError struct {
	Capability  string
	Environment string
}

func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("capability %q has no %s implementation", e.Capability, e.Environment)
}

// RemoteCallError represents a non-2xx response from the fallback
// transport. Message carries the server-provided error text when the
// response body had one, otherwise the transport's status text.
type RemoteCallError struct {
	Capability string
	StatusCode int
	Message    string
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("remote call for capability %q failed: %s", e.Capability, e.Message)
}

// TimeoutError indicates a capability's handler lost the race against
// its configured deadline. The underlying handler work is not stopped.
type TimeoutError struct {
	Capability string
	Timeout    time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("capability %q timed out after %s", e.Capability, e.Timeout)
}

// RegistryError represents errors raised by capability registry operations.
type RegistryError struct {
	Type    string
	Message string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// NewDuplicateCapabilityError creates an error for a name collision on Register.
func NewDuplicateCapabilityError(name string) *RegistryError {
	return &RegistryError{
		Type:    "DuplicateCapability",
		Message: fmt.Sprintf("capability %q is already registered", name),
	}
}

// ConfirmationError represents a violation of the human-in-the-loop
// contract: confirming an invocation that never asked for approval, or
// re-deciding one that already reached a terminal state.
type ConfirmationError struct {
	ID      string
	Message string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("confirmation for %q: %s", e.ID, e.Message)
}

// NewUnknownCapabilityError creates an error for a failed registry lookup.
func NewUnknownCapabilityError(name string) *RegistryError {
	return &RegistryError{
		Type:    "UnknownCapability",
		Message: fmt.Sprintf("no capability registered under %q", name),
	}
}
