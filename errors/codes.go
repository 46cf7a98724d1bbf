package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Resource errors
const (
	// ErrCodeNotFound indicates the requested resource was not found.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrCodeConflict indicates a conflict with the current state of the resource.
	ErrCodeConflict ErrorCode = "CONFLICT"
	// ErrCodeAlreadyRunning indicates a schedule already has a run in flight.
	ErrCodeAlreadyRunning ErrorCode = "ALREADY_RUNNING"
)

// Validation errors
const (
	// ErrCodeInvalidInput indicates the input is invalid.
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrCodeMissingField indicates a required field is missing.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"
	// ErrCodeInvalidCron indicates a cron expression could not be parsed.
	ErrCodeInvalidCron ErrorCode = "INVALID_CRON"
)

// Workflow graph errors
const (
	// ErrCodeWorkflowCycle indicates the step graph contains a cycle.
	ErrCodeWorkflowCycle ErrorCode = "WORKFLOW_CYCLE"
	// ErrCodeUnknownStep indicates a step references an undefined step id.
	ErrCodeUnknownStep ErrorCode = "UNKNOWN_STEP"
	// ErrCodeNestingTooDeep indicates sub-workflow recursion exceeded its limit.
	ErrCodeNestingTooDeep ErrorCode = "NESTING_TOO_DEEP"
)

// Infrastructure errors
const (
	// ErrCodeInternal indicates an internal error.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	// ErrCodeStoreError indicates the persistence layer failed.
	ErrCodeStoreError ErrorCode = "STORE_ERROR"
	// ErrCodeExternalService indicates an injected collaborator failed.
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
	// ErrCodeUnavailable indicates a required capability was not wired.
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeAlreadyRunning:  true,
	ErrCodeStoreError:      true,
	ErrCodeExternalService: true,
	ErrCodeUnavailable:     true,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
