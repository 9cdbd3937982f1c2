// Package errors provides structured error handling for routing and
// extension orchestration.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Registration errors
	CodeServiceAlreadyRegistered Code = "SERVICE_ALREADY_REGISTERED"
	CodeMethodAlreadyRegistered  Code = "METHOD_ALREADY_REGISTERED"
	CodeServiceNameInvalid       Code = "SERVICE_NAME_INVALID"
	CodeMethodNameInvalid        Code = "METHOD_NAME_INVALID"

	// Routing errors
	CodeServiceNotFound      Code = "SERVICE_NOT_FOUND"
	CodeServiceNotDiscovered Code = "SERVICE_NOT_DISCOVERED"
	CodeMethodNotFound       Code = "METHOD_NOT_FOUND"
	CodeTransportFailed      Code = "TRANSPORT_FAILED"
	CodeEncodingFailed       Code = "ENCODING_FAILED"

	// Extension errors
	CodeCallbackFailed          Code = "CALLBACK_FAILED"
	CodeExtensionUnknown        Code = "EXTENSION_UNKNOWN"
	CodeExtensionNoStandalone   Code = "EXTENSION_NO_STANDALONE"
	CodeExtensionAlreadyCreated Code = "EXTENSION_ALREADY_CREATED"
	CodeExtensionNotCreated     Code = "EXTENSION_NOT_CREATED"
	CodeExtensionInitFailed     Code = "EXTENSION_INIT_FAILED"

	// Client-facing request errors
	CodeInvalidRequest Code = "INVALID_REQUEST"
	CodePlayerUnknown  Code = "PLAYER_UNKNOWN"
	CodeUnauthorized   Code = "UNAUTHORIZED"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeServiceNameInvalid,
		CodeMethodNameInvalid,
		CodeInvalidRequest,
		CodeEncodingFailed:
		return codes.InvalidArgument

	// NotFound - routing target doesn't exist
	case CodeServiceNotFound,
		CodeMethodNotFound,
		CodeExtensionUnknown,
		CodePlayerUnknown:
		return codes.NotFound

	// Unavailable - caller may retry once discovery catches up
	case CodeServiceNotDiscovered,
		CodeTransportFailed:
		return codes.Unavailable

	// AlreadyExists - unique registration constraint
	case CodeServiceAlreadyRegistered,
		CodeMethodAlreadyRegistered,
		CodeExtensionAlreadyCreated:
		return codes.AlreadyExists

	// FailedPrecondition - lifecycle doesn't allow operation
	case CodeExtensionNoStandalone,
		CodeExtensionNotCreated,
		CodeExtensionInitFailed:
		return codes.FailedPrecondition

	case CodeUnauthorized:
		return codes.Unauthenticated

	default:
		return codes.Internal
	}
}

// Retryable reports whether the code describes a condition that may clear
// without any configuration change.
func (c Code) Retryable() bool {
	return c == CodeServiceNotDiscovered || c == CodeTransportFailed
}

// Routing reports whether the code describes how a call reached (or failed
// to reach) its target rather than what the target did.
func (c Code) Routing() bool {
	switch c {
	case CodeServiceNotFound,
		CodeServiceNotDiscovered,
		CodeMethodNotFound,
		CodeTransportFailed,
		CodeEncodingFailed:
		return true
	default:
		return false
	}
}

// ClientVisible reports whether the message of an error with this code may be
// shown to untrusted callers. Extension-logic and transport failures keep
// their detail in the logs only.
func (c Code) ClientVisible() bool {
	switch c {
	case CodeCallbackFailed, CodeUnknown, CodeEncodingFailed, CodeTransportFailed:
		return false
	default:
		return true
	}
}
