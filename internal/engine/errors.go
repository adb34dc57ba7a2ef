package engine

import (
	"errors"
	"fmt"
)

// ValidationError is a cross-record invariant violation, tagged with
// the offending record key and the rule that failed.
type ValidationError struct {
	Key  string
	Rule string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Key, e.Rule)
}

func Invalidf(key, format string, args ...any) error {
	return &ValidationError{Key: key, Rule: fmt.Sprintf(format, args...)}
}

// SnapshotError aborts the whole adapter run for one tenant: planning
// against a partial remote read would produce destructive diffs.
type SnapshotError struct {
	Adapter string
	Err     error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot failed for %s: %s", e.Adapter, e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// CredentialError means a tenant has no usable credential; every
// operation for that tenant is blocked.
type CredentialError struct {
	Tenant string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("no credential for %s", e.Tenant)
	}
	return fmt.Sprintf("credential for %s: %s", e.Tenant, e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// TransientOpError is retryable: network timeouts, rate limits, 5xx.
type TransientOpError struct {
	Err error
}

func (e *TransientOpError) Error() string {
	return fmt.Sprintf("transient: %s", e.Err)
}

func (e *TransientOpError) Unwrap() error {
	return e.Err
}

// FatalOpError is not retryable (4xx except 429). The operation is
// marked fatal_failed and its dependents are blocked.
type FatalOpError struct {
	Err error
}

func (e *FatalOpError) Error() string {
	return fmt.Sprintf("fatal: %s", e.Err)
}

func (e *FatalOpError) Unwrap() error {
	return e.Err
}

func Transientf(format string, args ...any) error {
	return &TransientOpError{Err: fmt.Errorf(format, args...)}
}

func Fatalf(format string, args ...any) error {
	return &FatalOpError{Err: fmt.Errorf(format, args...)}
}

func IsTransient(err error) bool {
	var t *TransientOpError
	return errors.As(err, &t)
}

func IsCredentialError(err error) bool {
	var c *CredentialError
	return errors.As(err, &c)
}
