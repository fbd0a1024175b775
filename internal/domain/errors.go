package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPolicyRejection   = errors.New("policy rejection")
	ErrTransient         = errors.New("transient gateway error")
	ErrConfiguration     = errors.New("configuration error")
	ErrDataInconsistency = errors.New("data inconsistency")
	ErrNotFound          = errors.New("not found")
	// ErrFatal marks failures that must stop the owning engine loop, e.g. the store is gone.
	ErrFatal = errors.New("fatal")
)

// PolicyRejection is returned by the risk gate when a limit blocks a trade. Never retried.
type PolicyRejection struct {
	Reason string
}

func (e *PolicyRejection) Error() string {
	return "policy rejection: " + e.Reason
}

func (e *PolicyRejection) Is(target error) bool {
	return target == ErrPolicyRejection
}

// TransientError wraps a gateway failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

func (e *TransientError) Is(target error) bool {
	return target == ErrTransient
}

// ConfigError rejects invalid configuration before anything is persisted.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// IsRetryable reports whether a submission error should go through the backoff loop.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPolicyRejection) || errors.Is(err, ErrFatal) {
		return false
	}
	return errors.Is(err, ErrTransient)
}

// Fatal wraps err so that loop runners stop the owning engine.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrFatal, err)
}
