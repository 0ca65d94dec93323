package errors

// ErrorCode represents a unique error identifier
type ErrorCode int

// Error code ranges allocation:
// 10000-10999: System & Common errors
// 20000-20999: Interface definition (IDL) errors
// 21000-21999: Protocol & session errors
// 22000-22999: Sandbox errors

const (
	// ========== System & Common Errors (10000-10999) ==========

	// Success
	Success ErrorCode = 10000

	// Generic errors (10000-10099)
	InternalServerError ErrorCode = 10001
	InvalidParams       ErrorCode = 10002
	NotFound            ErrorCode = 10003
	TooManyRequests     ErrorCode = 10006
	ServiceUnavailable  ErrorCode = 10007
	Timeout             ErrorCode = 10008

	// Validation errors (10300-10399)
	ValidationFailed   ErrorCode = 10300
	InvalidFormat      ErrorCode = 10301
	InvalidValue       ErrorCode = 10302
	RequiredFieldEmpty ErrorCode = 10303

	// ========== Interface Definition Errors (20000-20999) ==========

	// Source (20000-20099)
	ParseError       ErrorCode = 20000
	SourceTooLarge   ErrorCode = 20001
	InterfaceInvalid ErrorCode = 20002

	// ========== Protocol & Session Errors (21000-21999) ==========

	// Protocol (21000-21099)
	InterfaceError      ErrorCode = 21000
	CommunicationBroken ErrorCode = 21001
	UnresolvedValue     ErrorCode = 21002
	IndexOutOfBounds    ErrorCode = 21003
	DriverStopped       ErrorCode = 21004

	// Session (21100-21199)
	SessionFailed     ErrorCode = 21100
	SessionTimeout    ErrorCode = 21101
	StepLimitExceeded ErrorCode = 21102

	// ========== Sandbox Errors (22000-22999) ==========

	SandboxSpawnFailed ErrorCode = 22000
	SandboxLimitFailed ErrorCode = 22001
	SandboxUnsupported ErrorCode = 22002
)

// errorMessages maps error codes to their default English messages
var errorMessages = map[ErrorCode]string{
	// System & Common
	Success:             "Success",
	InternalServerError: "Internal server error",
	InvalidParams:       "Invalid parameters",
	NotFound:            "Resource not found",
	TooManyRequests:     "Too many requests, please try again later",
	ServiceUnavailable:  "Service temporarily unavailable",
	Timeout:             "Request timeout",

	// Validation
	ValidationFailed:   "Validation failed",
	InvalidFormat:      "Invalid format",
	InvalidValue:       "Invalid value",
	RequiredFieldEmpty: "Required field is empty",

	// Interface definition
	ParseError:       "Interface source could not be parsed",
	SourceTooLarge:   "Interface source is too large",
	InterfaceInvalid: "Interface definition is not valid",

	// Protocol
	InterfaceError:      "Interface protocol violated",
	CommunicationBroken: "Communication with the process is broken",
	UnresolvedValue:     "Value is not resolved",
	IndexOutOfBounds:    "Array index out of bounds",
	DriverStopped:       "Driver stopped the session",

	// Session
	SessionFailed:     "Session failed",
	SessionTimeout:    "Session timed out",
	StepLimitExceeded: "Session exceeded its step budget",

	// Sandbox
	SandboxSpawnFailed: "Failed to start sandboxed process",
	SandboxLimitFailed: "Failed to apply resource limits",
	SandboxUnsupported: "Sandbox is not supported on this platform",
}

// Message returns the default message for the error code
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "Unknown error"
}

// HTTPStatus returns the recommended HTTP status code for the error code
func (c ErrorCode) HTTPStatus() int {
	switch {
	case c == Success:
		return 200
	case c == NotFound:
		return 404
	case c == TooManyRequests:
		return 429
	case c == ServiceUnavailable, c == SandboxUnsupported:
		return 503
	case c == SourceTooLarge:
		return 413
	case c >= 10300 && c < 10400: // Validation errors
		return 400
	case c == InvalidParams, c == ParseError, c == InterfaceInvalid:
		return 400
	case c >= 21000 && c < 21100, c == StepLimitExceeded: // Caused by the submitted scripts
		return 422
	default:
		return 500
	}
}
