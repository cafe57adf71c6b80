// Package domain contains the core business entities and domain logic for the
// WIP weather protocol. This package defines the fundamental types and
// business rules that are independent of external frameworks and
// infrastructure concerns.
package domain

import "fmt"

// ErrorCode identifies a WIP error response's machine-readable cause, as
// carried in the first body byte of a type=7 ErrorResponse packet.
type ErrorCode uint8

const (
	// ErrInvalidPacketFormat indicates a bit layout, reserved-bit, or
	// range violation was found while decoding.
	ErrInvalidPacketFormat ErrorCode = 1

	// ErrChecksumError indicates the header's 12-bit checksum failed
	// verification.
	ErrChecksumError ErrorCode = 2

	// ErrUnsupportedVersion indicates the version field does not match
	// the implementation's supported version.
	ErrUnsupportedVersion ErrorCode = 3

	// ErrUnknownPacketType indicates the type field is not one of the
	// recognized packet types.
	ErrUnknownPacketType ErrorCode = 4

	// ErrMissingRequiredData indicates a required extended field was
	// absent, or the requested area is unknown.
	ErrMissingRequiredData ErrorCode = 5

	// ErrAuthFailure indicates the auth_hash record was missing,
	// invalid, or its timestamp was outside the accepted skew window.
	ErrAuthFailure ErrorCode = 6

	// ErrTimeout indicates an upstream deadline expired.
	ErrTimeout ErrorCode = 7

	// ErrServerError indicates an unclassified internal fault.
	ErrServerError ErrorCode = 8
)

// String returns a short human-readable name for the error code, used in
// logs and the optional error_message extended field.
func (c ErrorCode) String() string {
	switch c {
	case ErrInvalidPacketFormat:
		return "InvalidPacketFormat"
	case ErrChecksumError:
		return "ChecksumError"
	case ErrUnsupportedVersion:
		return "UnsupportedVersion"
	case ErrUnknownPacketType:
		return "UnknownPacketType"
	case ErrMissingRequiredData:
		return "MissingRequiredData"
	case ErrAuthFailure:
		return "AuthFailure"
	case ErrTimeout:
		return "Timeout"
	case ErrServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// ProtocolError represents a WIP-specific error with a wire-level error
// code and an optional underlying cause. It is the error type every
// codec, auth, and pipeline operation returns so that handlers can map it
// directly onto an ErrorResponse packet without re-classifying it.
type ProtocolError struct {
	// Code is the wire error code sent back to the peer.
	Code ErrorCode

	// Message is a human-readable description, optionally echoed in the
	// error_message extended field.
	Message string

	// Cause wraps an underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap allows errors.As/errors.Is to reach the underlying cause.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError builds a ProtocolError with the given code and message.
func NewProtocolError(code ErrorCode, message string, cause error) *ProtocolError {
	return &ProtocolError{Code: code, Message: message, Cause: cause}
}
