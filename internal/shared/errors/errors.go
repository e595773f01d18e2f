package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal error")
	ErrValidation   = errors.New("validation error")
)

// Reason codes surfaced to callers. Every authorization or lifecycle
// failure maps to exactly one of these.
const (
	CodeActorInactive       = "ACTOR_INACTIVE"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeInsufficientRank    = "INSUFFICIENT_RANK"
	CodeCrossCompany        = "CROSS_COMPANY"
	CodeSelfActionForbidden = "SELF_ACTION_FORBIDDEN"
	CodeNotFound            = "NOT_FOUND"
	CodeValidation          = "VALIDATION_ERROR"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeAlreadyDispatched   = "ALREADY_DISPATCHED"
	CodeReportClosed        = "REPORT_CLOSED"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL_ERROR"
)

// AppError represents an application error with context
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// CodeOf returns the reason code of err, or CodeInternal for unknown errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// NotFound creates a not found error
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       CodeNotFound,
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// Unauthorized creates an unauthorized error (missing or invalid principal)
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    message,
		Code:       CodeUnauthorized,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// ActorInactive creates an error for a non-active acting principal
func ActorInactive() *AppError {
	return &AppError{
		Err:        ErrUnauthorized,
		Message:    "acting principal is not active",
		Code:       CodeActorInactive,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InsufficientRank creates an error for acting on a same-or-higher ranked principal
func InsufficientRank(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       CodeInsufficientRank,
		HTTPStatus: http.StatusForbidden,
	}
}

// CrossCompany creates an error for acting outside the actor's company scope
func CrossCompany(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       CodeCrossCompany,
		HTTPStatus: http.StatusForbidden,
	}
}

// SelfActionForbidden creates an error for a principal locking itself out
func SelfActionForbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       CodeSelfActionForbidden,
		HTTPStatus: http.StatusForbidden,
	}
}

// BadRequest creates a validation error without field details
func BadRequest(message string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       CodeValidation,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Validation creates a validation error with field details
func Validation(message string, details map[string]string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       CodeValidation,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// InvalidTransition creates an error for an illegal state machine edge
func InvalidTransition(from, to string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    fmt.Sprintf("cannot transition from %s to %s", from, to),
		Code:       CodeInvalidTransition,
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"from": from, "to": to},
	}
}

// AlreadyDispatched creates an error for a report with an active dispatch record
func AlreadyDispatched(reportID string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    "report already has an active dispatch",
		Code:       CodeAlreadyDispatched,
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"report_id": reportID},
	}
}

// ReportClosed creates an error for dispatching a terminally resolved report
func ReportClosed(reportID string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    "report is closed",
		Code:       CodeReportClosed,
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"report_id": reportID},
	}
}

// Conflict creates a conflict error (optimistic-concurrency loss, unique violations)
func Conflict(message string) *AppError {
	return &AppError{
		Err:        ErrConflict,
		Message:    message,
		Code:       CodeConflict,
		HTTPStatus: http.StatusConflict,
	}
}

// Internal creates an internal error. The underlying cause is kept for
// logging but never serialized to the caller.
func Internal(err error) *AppError {
	return &AppError{
		Err:        err,
		Message:    "internal server error",
		Code:       CodeInternal,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) *AppError {
	if appErr, ok := err.(*AppError); ok {
		appErr.Message = fmt.Sprintf("%s: %s", message, appErr.Message)
		return appErr
	}
	return &AppError{
		Err:        err,
		Message:    message,
		Code:       CodeInternal,
		HTTPStatus: http.StatusInternalServerError,
	}
}
