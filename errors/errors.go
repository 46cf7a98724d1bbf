package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableCode(code),
	}
}

// NotFound creates a new AppError for a resource that was not found.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Code: ErrCodeNotFound, Message: fmt.Sprintf("The requested %s was not found.", resource),
		HTTPStatus: http.StatusNotFound, Details: details,
	}
}

// Conflict creates a new AppError for a conflict with the current state of the resource.
func Conflict(reason string) *AppError {
	return &AppError{
		Code: ErrCodeConflict, Message: reason,
		HTTPStatus: http.StatusConflict,
	}
}

// AlreadyRunning reports that a schedule's run lock is held by an in-flight run.
func AlreadyRunning(scheduleID string) *AppError {
	return &AppError{
		Code: ErrCodeAlreadyRunning, Message: fmt.Sprintf("Schedule %s is already running.", scheduleID),
		HTTPStatus: http.StatusConflict, Retryable: true,
		Details: map[string]any{"schedule_id": scheduleID},
	}
}

// InvalidInput creates a new AppError for invalid input.
func InvalidInput(field, reason string) *AppError {
	details := make(map[string]any)
	if field != "" {
		details["field"] = field
	}
	return &AppError{
		Code: ErrCodeInvalidInput, Message: fmt.Sprintf("Invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Details: details,
	}
}

// Validation creates a new AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Code: ErrCodeInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// MissingField creates a new AppError for a missing required field.
func MissingField(field string) *AppError {
	return &AppError{
		Code: ErrCodeMissingField, Message: fmt.Sprintf("Missing required field: %s", field),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{"field": field},
	}
}

// InvalidCron reports an expression rejected by the cron parser.
func InvalidCron(expr string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInvalidCron, Message: fmt.Sprintf("Invalid cron expression %q.", expr),
		HTTPStatus: http.StatusBadRequest,
		Details: map[string]any{"expression": expr}, Cause: cause,
	}
}

// WorkflowCycle reports steps that can never become ready because they sit on a cycle.
func WorkflowCycle(workflowID string, stuck []string) *AppError {
	return &AppError{
		Code:       ErrCodeWorkflowCycle,
		Message:    fmt.Sprintf("Workflow %s has a dependency cycle among steps [%s].", workflowID, strings.Join(stuck, ", ")),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"workflow_id": workflowID, "steps": stuck},
	}
}

// UnknownStep reports a reference from one step to an id that is not defined.
func UnknownStep(workflowID, from, ref string) *AppError {
	return &AppError{
		Code:       ErrCodeUnknownStep,
		Message:    fmt.Sprintf("Step %s references unknown step %s.", from, ref),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"workflow_id": workflowID, "step_id": from, "ref": ref},
	}
}

// NestingTooDeep reports sub-workflow recursion beyond the configured depth.
func NestingTooDeep(workflowID string, depth int) *AppError {
	return &AppError{
		Code:       ErrCodeNestingTooDeep,
		Message:    fmt.Sprintf("Workflow %s exceeds the nesting limit of %d.", workflowID, depth),
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"workflow_id": workflowID, "depth": depth},
	}
}

// Internal creates a new AppError for an internal error.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		HTTPStatus: http.StatusInternalServerError, Cause: cause,
	}
}

// StoreError wraps a failure of the persistence layer.
func StoreError(op string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeStoreError, Message: fmt.Sprintf("Store operation %s failed.", op),
		HTTPStatus: http.StatusInternalServerError, Retryable: true,
		Details: map[string]any{"operation": op}, Cause: cause,
	}
}

// ExternalServiceError creates a new AppError for an error from an injected collaborator.
func ExternalServiceError(service string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeExternalService, Message: fmt.Sprintf("The %s collaborator returned an error.", service),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"service": service}, Cause: cause,
	}
}

// Unavailable reports a capability the host process did not wire.
func Unavailable(capability string) *AppError {
	return &AppError{
		Code: ErrCodeUnavailable, Message: fmt.Sprintf("No %s is configured.", capability),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"capability": capability},
	}
}
