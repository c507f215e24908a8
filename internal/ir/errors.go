package ir

import (
	"errors"
	"fmt"
)

// RelayError is the error type surfaced by backends, relays and static callers.
//
// All errors propagate synchronously to the immediate caller. None are
// retried or swallowed, and administrative errors leave relay state unchanged.
type RelayError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Signature is the operation involved, if any.
	Signature string

	// Target is the handle involved, if any.
	Target Handle

	// Details contains additional context.
	Details map[string]string
}

// ErrorCode categorizes relay errors.
type ErrorCode string

const (
	// ErrCodeInvalidTarget indicates an empty, unreachable or self-referencing handle.
	ErrCodeInvalidTarget ErrorCode = "INVALID_TARGET"

	// ErrCodeUnknownOperation indicates the backend does not expose the operation.
	ErrCodeUnknownOperation ErrorCode = "UNKNOWN_OPERATION"

	// ErrCodeDecodeSizeMismatch indicates fewer result bytes than expected.
	ErrCodeDecodeSizeMismatch ErrorCode = "DECODE_SIZE_MISMATCH"

	// ErrCodeMissingSizeRegistration indicates no expected size for a relayed operation.
	ErrCodeMissingSizeRegistration ErrorCode = "MISSING_SIZE_REGISTRATION"

	// ErrCodeInvalidSize indicates a non-positive expected size.
	ErrCodeInvalidSize ErrorCode = "INVALID_SIZE"

	// ErrCodeInvalidSignature indicates a malformed operation signature.
	ErrCodeInvalidSignature ErrorCode = "INVALID_SIGNATURE"
)

// Error implements the error interface.
func (e *RelayError) Error() string {
	switch {
	case e.Signature != "" && e.Target != "":
		return fmt.Sprintf("%s: %s (signature=%s, target=%s)", e.Code, e.Message, e.Signature, e.Target)
	case e.Signature != "":
		return fmt.Sprintf("%s: %s (signature=%s)", e.Code, e.Message, e.Signature)
	case e.Target != "":
		return fmt.Sprintf("%s: %s (target=%s)", e.Code, e.Message, e.Target)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf returns the ErrorCode of err, or "" if err is not a RelayError.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var re *RelayError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsInvalidTarget returns true if err is an INVALID_TARGET error.
func IsInvalidTarget(err error) bool {
	return CodeOf(err) == ErrCodeInvalidTarget
}

// IsUnknownOperation returns true if err is an UNKNOWN_OPERATION error.
func IsUnknownOperation(err error) bool {
	return CodeOf(err) == ErrCodeUnknownOperation
}

// IsDecodeSizeMismatch returns true if err is a DECODE_SIZE_MISMATCH error.
func IsDecodeSizeMismatch(err error) bool {
	return CodeOf(err) == ErrCodeDecodeSizeMismatch
}

// IsMissingSizeRegistration returns true if err is a MISSING_SIZE_REGISTRATION error.
func IsMissingSizeRegistration(err error) bool {
	return CodeOf(err) == ErrCodeMissingSizeRegistration
}

// NewInvalidTargetError creates a RelayError for a handle that cannot be used.
func NewInvalidTargetError(target Handle, reason string) *RelayError {
	return &RelayError{
		Code:    ErrCodeInvalidTarget,
		Message: reason,
		Target:  target,
	}
}

// NewUnknownOperationError creates a RelayError for an operation the backend lacks.
func NewUnknownOperationError(target Handle, signature string, sel Selector) *RelayError {
	return &RelayError{
		Code:      ErrCodeUnknownOperation,
		Message:   fmt.Sprintf("operation %s not exposed by backend", sel),
		Signature: signature,
		Target:    target,
		Details: map[string]string{
			"selector": sel.String(),
		},
	}
}

// NewDecodeSizeMismatchError creates a RelayError for a short result buffer.
func NewDecodeSizeMismatchError(signature string, expected, actual int) *RelayError {
	return &RelayError{
		Code:      ErrCodeDecodeSizeMismatch,
		Message:   fmt.Sprintf("result has %d bytes, expected at least %d", actual, expected),
		Signature: signature,
		Details: map[string]string{
			"expected": fmt.Sprintf("%d", expected),
			"actual":   fmt.Sprintf("%d", actual),
		},
	}
}

// NewMissingSizeRegistrationError creates a RelayError for an unregistered relayed operation.
func NewMissingSizeRegistrationError(target Handle, signature string) *RelayError {
	return &RelayError{
		Code:      ErrCodeMissingSizeRegistration,
		Message:   "no expected result size registered",
		Signature: signature,
		Target:    target,
	}
}

// NewInvalidSizeError creates a RelayError for a non-positive expected size.
func NewInvalidSizeError(signature string, size int) *RelayError {
	return &RelayError{
		Code:      ErrCodeInvalidSize,
		Message:   fmt.Sprintf("expected size must be positive, got %d", size),
		Signature: signature,
	}
}

// NewInvalidSignatureError creates a RelayError for a malformed signature.
func NewInvalidSignatureError(signature, reason string) *RelayError {
	return &RelayError{
		Code:      ErrCodeInvalidSignature,
		Message:   reason,
		Signature: signature,
	}
}
