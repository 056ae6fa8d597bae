package domain

import (
	"errors"
	"fmt"
)

// ErrStoreNotAuthorized means no usable access token exists for a store.
var ErrStoreNotAuthorized = errors.New("store not authorized")

// ExecErrorKind is the enumerable contract between the executor and the
// remote execution collaborators.
type ExecErrorKind string

const (
	// ExecCapabilityUnavailable means the primary analytics endpoint is not
	// supported on this store tier.
	ExecCapabilityUnavailable ExecErrorKind = "capability_unavailable"
	ExecTransport             ExecErrorKind = "transport"
	ExecRateLimited           ExecErrorKind = "rate_limited"
	ExecAuth                  ExecErrorKind = "auth"
	ExecMalformedQuery        ExecErrorKind = "malformed_query"
)

// Retryable reports whether the kind is eligible for the bounded retry policy.
func (k ExecErrorKind) Retryable() bool {
	return k == ExecTransport || k == ExecRateLimited
}

// ExecError is returned by execution collaborators.
type ExecError struct {
	Kind ExecErrorKind
	Op   string
	Err  error
}

func (e *ExecError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewExecError builds an ExecError.
func NewExecError(kind ExecErrorKind, op string, err error) *ExecError {
	return &ExecError{Kind: kind, Op: op, Err: err}
}

// ExecKind extracts the kind from err. Errors outside the contract are
// treated as transport failures.
func ExecKind(err error) ExecErrorKind {
	var ee *ExecError
	if errors.As(err, &ee) {
		return ee.Kind
	}
	return ExecTransport
}
