// Package errors defines the structured error type shared across
// flowtree. Every error carries a stable kind tag so operators can
// automate around failures without parsing messages.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorises an error. The tags are stable; scripts may match on
// them.
type Kind string

const (
	KindConfig        Kind = "config"
	KindIO            Kind = "io"
	KindSkeleton      Kind = "skeleton-missing"
	KindPlugin        Kind = "plugin"
	KindClaimConflict Kind = "field-claim-conflict"
	KindTransient     Kind = "remote-transient"
	KindConflict      Kind = "remote-conflict"
	KindRateLimited   Kind = "rate-limited"
	KindOscillation   Kind = "oscillation"
	KindVerify        Kind = "verify"
	KindInternal      Kind = "internal"
)

// FlowError is the structured error type with context.
type FlowError struct {
	Kind        Kind
	Message     string
	Cause       error
	Node        string // node id, when the error is node-scoped
	Plugin      string // plugin name, when plugin-scoped
	Path        string // file path, when file-scoped
	Recoverable bool
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Plugin != "" {
		parts = append(parts, "plugin:"+e.Plugin)
	}
	if e.Node != "" {
		parts = append(parts, "node:"+e.Node)
	}
	if e.Path != "" {
		parts = append(parts, e.Path)
	}
	parts = append(parts, e.Message)

	result := strings.Join(parts, " ")
	if e.Cause != nil {
		result += fmt.Sprintf(": %v", e.Cause)
	}
	return result
}

// Unwrap returns the underlying cause error.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// Is matches on kind so callers can compare against sentinel kinds.
func (e *FlowError) Is(target error) bool {
	var t *FlowError
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// WithNode attaches a node id.
func (e *FlowError) WithNode(id string) *FlowError {
	e.Node = id
	return e
}

// WithPath attaches a file path.
func (e *FlowError) WithPath(path string) *FlowError {
	e.Path = path
	return e
}

// NewConfig creates a fatal configuration error.
func NewConfig(message string) *FlowError {
	return &FlowError{Kind: KindConfig, Message: message}
}

// NewIO creates a file I/O error.
func NewIO(message string, cause error) *FlowError {
	return &FlowError{Kind: KindIO, Message: message, Cause: cause}
}

// NewSkeletonMissing creates the fatal rebuild-without-skeleton error.
func NewSkeletonMissing(path string) *FlowError {
	return &FlowError{
		Kind:    KindSkeleton,
		Message: "skeleton file not found; rebuild would lose sibling order and wiring",
		Path:    path,
	}
}

// NewPlugin creates an isolated plugin failure.
func NewPlugin(plugin, message string, cause error) *FlowError {
	return &FlowError{
		Kind:        KindPlugin,
		Plugin:      plugin,
		Message:     message,
		Cause:       cause,
		Recoverable: true,
	}
}

// NewClaimConflict records two plugins claiming the same field. The
// first claimant keeps the field.
func NewClaimConflict(field, first, second string) *FlowError {
	return &FlowError{
		Kind:        KindClaimConflict,
		Plugin:      second,
		Message:     fmt.Sprintf("field %q already claimed by plugin %q", field, first),
		Recoverable: true,
	}
}

// NewTransient creates a retryable remote error.
func NewTransient(message string, cause error) *FlowError {
	return &FlowError{Kind: KindTransient, Message: message, Cause: cause, Recoverable: true}
}

// NewConflict creates the optimistic-lock conflict error.
func NewConflict(message string) *FlowError {
	return &FlowError{Kind: KindConflict, Message: message}
}

// NewRateLimited creates a rate-limit error.
func NewRateLimited(message string) *FlowError {
	return &FlowError{Kind: KindRateLimited, Message: message, Recoverable: true}
}

// NewOscillation creates the convergence-failure error.
func NewOscillation(message string) *FlowError {
	return &FlowError{Kind: KindOscillation, Message: message}
}

// NewVerify creates a round-trip inequality report.
func NewVerify(message string) *FlowError {
	return &FlowError{Kind: KindVerify, Message: message, Recoverable: true}
}

// NewInternal wraps an unexpected failure.
func NewInternal(message string, cause error) *FlowError {
	return &FlowError{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the kind tag, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsConflict reports whether err is an optimistic-lock conflict.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool { return KindOf(err) == KindRateLimited }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }

// IsSkeletonMissing reports whether err is the missing-skeleton failure.
func IsSkeletonMissing(err error) bool { return KindOf(err) == KindSkeleton }

// IsRecoverable reports whether the operation may continue past err.
func IsRecoverable(err error) bool {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Recoverable
	}
	return false
}
