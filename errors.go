package strata

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "validation"
	ErrorTypeExecution   ErrorType = "execution"
	ErrorTypeTimeout     ErrorType = "timeout"
	ErrorTypePermission  ErrorType = "permission"
	ErrorTypeNotFound    ErrorType = "not_found"
	ErrorTypeInternal    ErrorType = "internal"
	ErrorTypeTransaction ErrorType = "transaction"
	ErrorTypePool        ErrorType = "pool"
)

// Error codes used across the store, transaction manager and entity engine.
const (
	ErrCodePoolTimeout       = "POOL_TIMEOUT"
	ErrCodePoolClosed        = "POOL_CLOSED"
	ErrCodeQueryFailed       = "QUERY_FAILED"
	ErrCodeQueryTimeout      = "QUERY_TIMEOUT"
	ErrCodeTransactionFailed = "TRANSACTION_FAILED"
	ErrCodeEntityNotFound    = "ENTITY_NOT_FOUND"
	ErrCodePermissionDenied  = "PERMISSION_DENIED"
	ErrCodeValidationFailed  = "VALIDATION_FAILED"
	ErrCodeInternalError     = "INTERNAL_ERROR"
)

// StrataError is the unified error returned by every layer of the module.
// SQLState carries the database diagnostic code for query failures; raw
// driver errors never cross this boundary except as the wrapped Cause.
type StrataError struct {
	Type     ErrorType      `json:"type"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Entity   string         `json:"entity,omitempty"`
	Op       string         `json:"op,omitempty"`
	SQLState string         `json:"sql_state,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
	Cause    error          `json:"-"`
}

func (e *StrataError) Error() string {
	if e.Entity != "" && e.Op != "" {
		return fmt.Sprintf("[%s:%s] %s %s: %s", e.Type, e.Code, e.Entity, e.Op, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("[%s:%s] entity %s: %s", e.Type, e.Code, e.Entity, e.Message)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

func (e *StrataError) Unwrap() error {
	return e.Cause
}

// WithEntity adds entity context to the error
func (e *StrataError) WithEntity(entity string) *StrataError {
	e.Entity = entity
	return e
}

// WithOp adds operation context to the error
func (e *StrataError) WithOp(op string) *StrataError {
	e.Op = op
	return e
}

// WithCause adds a cause to the error
func (e *StrataError) WithCause(cause error) *StrataError {
	e.Cause = cause
	return e
}

// WithDetail adds a single detail to the error
func (e *StrataError) WithDetail(key string, value any) *StrataError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// ============================================================================
// Constructors
// ============================================================================

// NewStrataError creates a new StrataError
func NewStrataError(errorType ErrorType, code, message string) *StrataError {
	return &StrataError{
		Type:    errorType,
		Code:    code,
		Message: message,
	}
}

// NewPoolTimeoutError reports that no connection became free within the
// configured acquire window.
func NewPoolTimeoutError(wait string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeTimeout,
		Code:    ErrCodePoolTimeout,
		Message: "no connection became available within " + wait,
	}
}

// NewPoolClosedError reports a checkout attempt against a closed store.
func NewPoolClosedError() *StrataError {
	return &StrataError{
		Type:    ErrorTypePool,
		Code:    ErrCodePoolClosed,
		Message: "connection pool is closed",
	}
}

// NewQueryError wraps a statement failure. The database diagnostic code is
// extracted when the cause is a postgres error.
func NewQueryError(message string, cause error) *StrataError {
	e := &StrataError{
		Type:    ErrorTypeExecution,
		Code:    ErrCodeQueryFailed,
		Message: message,
		Cause:   cause,
	}
	var pgErr *pgconn.PgError
	if errors.As(cause, &pgErr) {
		e.SQLState = pgErr.Code
		e.Message = message + ": " + pgErr.Message
	}
	return e
}

// NewQueryTimeoutError reports a statement that exceeded the configured
// per-query execution time.
func NewQueryTimeoutError(message string, cause error) *StrataError {
	return &StrataError{
		Type:    ErrorTypeTimeout,
		Code:    ErrCodeQueryTimeout,
		Message: message,
		Cause:   cause,
	}
}

// NewTransactionError creates a transaction error
func NewTransactionError(message string, cause error) *StrataError {
	return &StrataError{
		Type:    ErrorTypeTransaction,
		Code:    ErrCodeTransactionFailed,
		Message: message,
		Cause:   cause,
	}
}

// NewNotFoundError reports that zero rows matched the restricted lookup.
// An ownership mismatch produces the same error as a missing row.
func NewNotFoundError(entity string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeEntityNotFound,
		Message: "entity not found",
		Entity:  entity,
	}
}

// NewPermissionDeniedError creates a permission error
func NewPermissionDeniedError(message string) *StrataError {
	return &StrataError{
		Type:    ErrorTypePermission,
		Code:    ErrCodePermissionDenied,
		Message: message,
	}
}

// NewValidationError creates a payload validation error
func NewValidationError(message string) *StrataError {
	return &StrataError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *StrataError {
	return &StrataError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
	}
}

// ============================================================================
// Error checking utilities
// ============================================================================

func hasCode(err error, code string) bool {
	var se *StrataError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsPoolTimeout checks if an error is a pool acquire timeout
func IsPoolTimeout(err error) bool {
	return hasCode(err, ErrCodePoolTimeout)
}

// IsPoolClosed checks if an error is a closed-pool error
func IsPoolClosed(err error) bool {
	return hasCode(err, ErrCodePoolClosed)
}

// IsQueryError checks if an error is a statement execution error
func IsQueryError(err error) bool {
	return hasCode(err, ErrCodeQueryFailed) || hasCode(err, ErrCodeQueryTimeout)
}

// IsTransactionError checks if an error is a transaction error
func IsTransactionError(err error) bool {
	return hasCode(err, ErrCodeTransactionFailed)
}

// IsNotFound checks if an error is an entity not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeEntityNotFound)
}

// IsPermissionDenied checks if an error is a permission error
func IsPermissionDenied(err error) bool {
	return hasCode(err, ErrCodePermissionDenied)
}

// IsValidationError checks if an error is a payload validation error
func IsValidationError(err error) bool {
	return hasCode(err, ErrCodeValidationFailed)
}
