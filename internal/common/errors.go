package common

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Error kinds. The kind is stored on failed documents and drives the
// status category returned to callers.
const (
	KindValidation    = "ValidationError"
	KindAuthorization = "AuthorizationError"
	KindExtraction    = "ExtractionError"
	KindAIProvider    = "AIProviderError"
	KindParse         = "ParseError"
	KindTransport     = "TransportError"
	KindTimeout       = "TimeoutError"
	KindNotFound      = "NotFound"
	KindConflict      = "Conflict"
	KindInternal      = "InternalError"
	KindConfig        = "ConfigError"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

// Error leaves out sentinel causes; the code already names them.
func (e *AppError) Error() string {
	if e.Cause != nil && !isSentinel(e.Cause) {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrConflict        = errors.New("conflict")
	ErrStaleWrite      = errors.New("stale write")
	ErrInternal        = errors.New("internal error")
	ErrDatabase        = errors.New("database error")
	ErrValidation      = errors.New("validation failed")
)

func isSentinel(err error) bool {
	switch err {
	case ErrNotFound, ErrInvalidInput, ErrUnauthenticated, ErrForbidden, ErrConflict,
		ErrStaleWrite, ErrInternal, ErrDatabase, ErrValidation:
		return true
	}
	return false
}

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func Unauthenticated(message string) *AppError {
	return NewAppError(KindAuthorization, message, ErrUnauthenticated)
}

func Forbidden(message string) *AppError {
	return NewAppError(KindAuthorization, message, ErrForbidden)
}

func InvalidInput(message string) *AppError {
	return NewAppError(KindValidation, message, ErrInvalidInput)
}

func NotFound(message string) *AppError {
	return NewAppError(KindNotFound, message, ErrNotFound)
}

func Conflict(message string) *AppError {
	return NewAppError(KindConflict, message, ErrConflict)
}

// KindOf returns the kind of the outermost AppError in the chain.
// Context errors classify as timeouts; everything else is internal.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	var k interface{ ErrorKind() string }
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.InvalidArgument {
		return KindValidation
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrStaleWrite):
		return KindConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	}
	return KindInternal
}

// GRPCCode maps an error onto the canonical status code used by both the
// HTTP surface and the health service.
func GRPCCode(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return st.Code()
	}
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return codes.Unauthenticated
	case errors.Is(err, ErrForbidden):
		return codes.PermissionDenied
	}
	switch KindOf(err) {
	case KindValidation:
		return codes.InvalidArgument
	case KindAuthorization:
		return codes.PermissionDenied
	case KindNotFound:
		return codes.NotFound
	case KindConflict:
		return codes.FailedPrecondition
	case KindTimeout:
		return codes.DeadlineExceeded
	case KindTransport, KindAIProvider:
		return codes.Unavailable
	}
	return codes.Internal
}

// gRPC error helpers
func InvalidArgumentError(message string) error {
	return status.Error(codes.InvalidArgument, message)
}

func InvalidArgumentErrorf(format string, args ...interface{}) error {
	return InvalidArgumentError(fmt.Sprintf(format, args...))
}
