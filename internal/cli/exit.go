package cli

import (
	"context"
	"errors"
	"fmt"

	"artifactcache/internal/fingerprint"
	"artifactcache/internal/memo"
	"artifactcache/internal/store"
)

const (
	ExitSuccess           = 0
	ExitComputeFailure    = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
	ExitCacheCorrupt      = 5
)

// InvocationError is a command line the tool cannot act on.
type InvocationError struct {
	ExitCode int
	Message  string
	Err      error
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error { return e.Err }

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// ConfigError wraps failures loading or applying configuration.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return "config: " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// ComputationError marks an error returned by the wrapped computation
// itself, as opposed to the cache around it.
type ComputationError struct {
	Err error
}

func (e *ComputationError) Error() string { return e.Err.Error() }
func (e *ComputationError) Unwrap() error { return e.Err }

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfigError
	}
	var compErr *ComputationError
	if errors.As(err, &compErr) {
		return ExitComputeFailure
	}

	switch {
	case errors.Is(err, store.ErrCacheCorrupt):
		return ExitCacheCorrupt
	case errors.Is(err, store.ErrEntryNotFound),
		errors.Is(err, memo.ErrOutputOverlapsRoot),
		errors.Is(err, fingerprint.ErrInvalidFingerprint),
		errors.Is(err, fingerprint.ErrFileNotFound),
		errors.Is(err, fingerprint.ErrMalformedValue),
		errors.Is(err, fingerprint.ErrUnsupportedValueKind):
		return ExitInvalidInvocation
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ExitComputeFailure
	default:
		return ExitInternalError
	}
}
