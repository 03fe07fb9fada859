// Package common provides shared constants, types, and utilities
// used across the Tunnel Manager application.
package common

import "errors"

// Sentinel errors for tunnel operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// Prerequisite errors. Not retryable without a user or environment fix.
	ErrNotInstalled         = errors.New("tunnel tool not installed")
	ErrInstallationFailed   = errors.New("tunnel tool installation failed")
	ErrAuthenticationFailed = errors.New("authentication failed")

	// Transient connection errors. Safe to retry.
	ErrConnectionFailed      = errors.New("connection failed")
	ErrUnexpectedTermination = errors.New("tunnel process terminated unexpectedly")
	ErrTimeout               = errors.New("operation timed out")

	// ErrUserActionRequired means a human has to act in an external
	// application before the tunnel can come up. An expected branch,
	// not a failure.
	ErrUserActionRequired = errors.New("user action required")

	// Lifecycle errors.
	ErrAlreadyConnecting = errors.New("connection attempt already in progress")
	ErrNotConnected      = errors.New("no active connection")

	// Credential errors.
	ErrCredentialNotFound = errors.New("credential not found")
	ErrCredentialStorage  = errors.New("failed to store credential")

	// Configuration errors.
	ErrConfigLoad = errors.New("failed to load configuration")
	ErrConfigSave = errors.New("failed to save configuration")
)

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
