// Package tunnel provides tunnel provider management functionality.
// This file contains the structured error type returned by Connect.
package tunnel

import (
	"fmt"

	"github.com/adlara/tunnel-manager/common"
)

// Error is a structured tunnel failure. It always unwraps to one of the
// sentinel errors in the common package, so callers can branch with
// errors.Is while still getting provider id, exit code, or instructions.
type Error struct {
	// Sentinel is the common package sentinel this error matches.
	Sentinel error
	// ProviderID identifies the provider that produced the error.
	ProviderID string
	// Reason is an optional human-readable detail.
	Reason string
	// ExitCode is set for ErrUnexpectedTermination.
	ExitCode int
	// Instruction is set for ErrUserActionRequired and tells the user what
	// to do in the external application.
	Instruction string
}

// Error returns the error message.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.ProviderID, e.Sentinel)
	if e.Sentinel == common.ErrUnexpectedTermination {
		msg = fmt.Sprintf("%s (exit code %d)", msg, e.ExitCode)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Instruction != "" {
		msg += ": " + e.Instruction
	}
	return msg
}

// Unwrap returns the matching sentinel for errors.Is checks.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

func notInstalledErr(providerID string) *Error {
	return &Error{Sentinel: common.ErrNotInstalled, ProviderID: providerID}
}

func authFailedErr(providerID, reason string) *Error {
	return &Error{Sentinel: common.ErrAuthenticationFailed, ProviderID: providerID, Reason: reason}
}

func connectionFailedErr(providerID, reason string) *Error {
	return &Error{Sentinel: common.ErrConnectionFailed, ProviderID: providerID, Reason: reason}
}

func terminationErr(providerID string, exitCode int) *Error {
	return &Error{Sentinel: common.ErrUnexpectedTermination, ProviderID: providerID, ExitCode: exitCode}
}

func timeoutErr(providerID string) *Error {
	return &Error{Sentinel: common.ErrTimeout, ProviderID: providerID}
}

func userActionErr(providerID, instruction string) *Error {
	return &Error{Sentinel: common.ErrUserActionRequired, ProviderID: providerID, Instruction: instruction}
}
