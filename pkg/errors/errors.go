package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"lanrelay/internal/core/domain"
)

// ErrorCode represents relay error codes as they appear on the wire
type ErrorCode string

const (
	ErrCodeProtocolViolation   ErrorCode = "PROTOCOL_VIOLATION"
	ErrCodeUnrecognizedCommand ErrorCode = "UNRECOGNIZED_COMMAND"
	ErrCodeUnknownSession      ErrorCode = "UNKNOWN_SESSION"
	ErrCodeUnknownRecipient    ErrorCode = "UNKNOWN_RECIPIENT"
	ErrCodeFileNotFound        ErrorCode = "FILE_NOT_FOUND"
	ErrCodeTransferInterrupted ErrorCode = "TRANSFER_INTERRUPTED"
	ErrCodeResourceExhausted   ErrorCode = "RESOURCE_EXHAUSTED"
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeRateLimit           ErrorCode = "RATE_LIMITED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// RelayError represents a relay error with code and context
type RelayError struct {
	Code    ErrorCode
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements error interface
func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *RelayError) WithContext(key string, value interface{}) *RelayError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new relay error
func New(code ErrorCode, message string) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// Wrap wraps an existing error with a relay error
func Wrap(err error, code ErrorCode, message string) *RelayError {
	return &RelayError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

func ProtocolViolation(message string) *RelayError {
	return Wrap(domain.ErrProtocolViolation, ErrCodeProtocolViolation, message)
}

func UnrecognizedCommand(command string) *RelayError {
	return Wrap(domain.ErrUnrecognizedCommand, ErrCodeUnrecognizedCommand, fmt.Sprintf("unrecognized command %q", command))
}

func UnknownRecipient(target string) *RelayError {
	return Wrap(domain.ErrUnknownRecipient, ErrCodeUnknownRecipient, target).WithContext("target", target)
}

func InvalidInput(message string) *RelayError {
	return New(ErrCodeInvalidInput, message)
}

var sentinelCodes = []struct {
	err  error
	code ErrorCode
}{
	{domain.ErrProtocolViolation, ErrCodeProtocolViolation},
	{domain.ErrFrameTooLarge, ErrCodeProtocolViolation},
	{domain.ErrAlreadyRegistered, ErrCodeProtocolViolation},
	{domain.ErrUnrecognizedCommand, ErrCodeUnrecognizedCommand},
	{domain.ErrUnknownSession, ErrCodeUnknownSession},
	{domain.ErrUnknownRecipient, ErrCodeUnknownRecipient},
	{domain.ErrFileNotFound, ErrCodeFileNotFound},
	{domain.ErrTransferInterrupted, ErrCodeTransferInterrupted},
	{domain.ErrResourceExhausted, ErrCodeResourceExhausted},
	{domain.ErrInvalidFilename, ErrCodeInvalidInput},
	{domain.ErrInvalidDisplayName, ErrCodeInvalidInput},
}

// CodeOf maps any error in the chain to its wire code. Unknown errors map to
// ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var re *RelayError
	if stderrors.As(err, &re) {
		return re.Code
	}
	for _, sc := range sentinelCodes {
		if stderrors.Is(err, sc.err) {
			return sc.code
		}
	}
	return ErrCodeInternal
}

// GetRelayError extracts RelayError from error chain
func GetRelayError(err error) *RelayError {
	var re *RelayError
	if stderrors.As(err, &re) {
		return re
	}
	return nil
}

// HTTPStatus maps an error code to the status the admin API answers with.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeUnknownSession, ErrCodeUnknownRecipient, ErrCodeFileNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidInput, ErrCodeProtocolViolation, ErrCodeUnrecognizedCommand:
		return http.StatusBadRequest
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeResourceExhausted:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
