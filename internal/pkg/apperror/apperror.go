package apperror

import (
	"fmt"
	"strings"
)

/*
 *  Error taxonomy shared by every workflow.  Errors travel as *Error values
 *  (or as plain errors following the CODE:message convention) and are
 *  normalized exactly once, at the top of the dispatcher.
 */

// Type is the coarse class of a failure
type Type string

const (
	TypeValidation Type = "validation_error"
	TypeAuth       Type = "auth_error"
	TypeNetwork    Type = "network_error"
	TypePlatform   Type = "platform_error"
	TypeUnknown    Type = "unknown_error"
)

// Well known error codes
const (
	CodeMissingAction     = "MISSING_ACTION"
	CodeInvalidAction     = "INVALID_ACTION"
	CodeMissingArg        = "MISSING_ARG"
	CodeInvalidArg        = "INVALID_ARG"
	CodeInvalidJSON       = "INVALID_JSON"
	CodeMissingEnv        = "MISSING_ENV"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeWriteGuardBlocked = "WRITE_GUARD_BLOCKED"
	CodeWriteDisabled     = "WRITE_DISABLED"
	CodeWriteNightBlocked = "WRITE_NIGHT_BLOCKED"
	CodeConfirmRequired   = "SENSITIVE_ACTION_CONFIRM_REQUIRED"
	CodeAuthFailed        = "AUTH_FAILED"
	CodeReadTimeout       = "READ_TIMEOUT"
	CodeNetworkError      = "NETWORK_ERROR"
	CodeAPIFailed         = "API_FAILED"
	CodeUnexpected        = "UNEXPECTED_ERROR"
)

var codeTypes = map[string]Type{
	CodeMissingAction:     TypeValidation,
	CodeInvalidAction:     TypeValidation,
	CodeMissingArg:        TypeValidation,
	CodeInvalidArg:        TypeValidation,
	CodeInvalidJSON:       TypeValidation,
	CodeMissingEnv:        TypeValidation,
	CodeInvalidConfig:     TypeValidation,
	CodeWriteGuardBlocked: TypeValidation,
	CodeWriteDisabled:     TypeValidation,
	CodeWriteNightBlocked: TypeValidation,
	CodeConfirmRequired:   TypeValidation,
	CodeAuthFailed:        TypeAuth,
	CodeReadTimeout:       TypeNetwork,
	CodeNetworkError:      TypeNetwork,
	CodeAPIFailed:         TypePlatform,
	CodeUnexpected:        TypeUnknown,
}

// TypeOf returns the class registered for an error code
func TypeOf(code string) Type {
	if t, ok := codeTypes[code]; ok {
		return t
	}

	return TypeUnknown
}

// Error is a classified failure
type Error struct {
	Code    string
	Type    Type
	Message string
	cause   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s:%s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Cause is for github.com/pkg/errors
func (e *Error) Cause() error {
	return e.cause
}

// New builds an error whose type is derived from the code
func New(code string, format string, args ...interface{}) *Error {
	return &Error{
		Code:    code,
		Type:    TypeOf(code),
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an underlying error under a code, keeping it reachable
// through errors.Is / errors.As
func Wrap(err error, code string, format string, args ...interface{}) *Error {
	e := New(code, format, args...)
	e.cause = err
	return e
}

func MissingArg(field string) *Error {
	return New(CodeMissingArg, "%s must not be empty", field)
}

func InvalidArg(format string, args ...interface{}) *Error {
	return New(CodeInvalidArg, format, args...)
}

func InvalidJSON(field string, err error) *Error {
	return Wrap(err, CodeInvalidJSON, "%s must be valid JSON", field)
}

func Platform(message string) *Error {
	if strings.TrimSpace(message) == "" {
		message = "platform call failed"
	}
	return New(CodeAPIFailed, "%s", message)
}

func Auth(err error, format string, args ...interface{}) *Error {
	return Wrap(err, CodeAuthFailed, format, args...)
}

func Network(err error, format string, args ...interface{}) *Error {
	return Wrap(err, CodeNetworkError, format, args...)
}
