// Package apperror provides structured error handling following RFC 7807 Problem Details.
// All business errors must use AppError for consistent API responses.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes following domain-driven design
const (
	// Infrastructure errors (5xx)
	CodeInternal = "INTERNAL_ERROR"
	CodeDatabase = "DATABASE_ERROR"
	CodeTimeout  = "TIMEOUT_ERROR"

	// Validation errors (400)
	CodeInvalidArgument = "INVALID_ARGUMENT"

	// Business rule violations (422)
	CodeInsufficientStock = "INSUFFICIENT_STOCK"
	CodeBatchNotEmpty     = "BATCH_NOT_EMPTY"

	// Not found (404)
	CodeBatchNotFound   = "BATCH_NOT_FOUND"
	CodeProductNotFound = "PRODUCT_NOT_FOUND"

	// Conflict (409)
	CodeDuplicateBatchNumber   = "DUPLICATE_BATCH_NUMBER"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeIdempotencyConflict    = "IDEMPOTENCY_CONFLICT"

	// Idempotency key reused with a different request (422)
	CodeIdempotencyMismatch = "IDEMPOTENCY_KEY_REUSED"
)

// AppError is the standard error type for the service.
// It implements error interface and provides structured details for API responses.
type AppError struct {
	// Code is a machine-readable error identifier
	Code string `json:"code"`

	// Message is a human-readable error description
	Message string `json:"message"`

	// Details contains additional context (field errors, quantities, etc.)
	Details map[string]any `json:"details,omitempty"`

	// HTTPStatus is the suggested HTTP status code
	HTTPStatus int `json:"-"`

	// Err is the underlying error (not exposed in JSON)
	Err error `json:"-"`
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail adds a key-value pair to error details
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying error
func (e *AppError) WithCause(err error) *AppError {
	e.Err = err
	return e
}

// --- Factory functions ---

// NewInvalidArgument creates a validation error (400).
// Raised before any mutation takes place.
func NewInvalidArgument(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidArgument,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewBatchNotFound creates a not found error for a batch (404)
func NewBatchNotFound(id any) *AppError {
	return &AppError{
		Code:       CodeBatchNotFound,
		Message:    "batch not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"batch_id": id},
	}
}

// NewProductNotFound creates a not found error for a product (404)
func NewProductNotFound(id any) *AppError {
	return &AppError{
		Code:       CodeProductNotFound,
		Message:    "product not found",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]any{"product_id": id},
	}
}

// NewDuplicateBatchNumber creates a batch number conflict error (409)
func NewDuplicateBatchNumber(productID any, batchNumber string) *AppError {
	return &AppError{
		Code:       CodeDuplicateBatchNumber,
		Message:    fmt.Sprintf("batch number %q already exists for this product", batchNumber),
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"product_id": productID, "batch_number": batchNumber},
	}
}

// NewInsufficientStock creates a stock shortage error.
// unfulfilled is the part of the request that could not be sourced from batches.
func NewInsufficientStock(productID string, requested, available, unfulfilled int64) *AppError {
	return &AppError{
		Code:       CodeInsufficientStock,
		Message:    "Insufficient stock",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details: map[string]any{
			"product_id":  productID,
			"requested":   requested,
			"available":   available,
			"unfulfilled": unfulfilled,
		},
	}
}

// NewBatchNotEmpty is returned when deleting a batch that still holds stock.
func NewBatchNotEmpty(batchID any, quantity int64) *AppError {
	return &AppError{
		Code:       CodeBatchNotEmpty,
		Message:    "batch still has quantity on hand",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"batch_id": batchID, "quantity_on_hand": quantity},
	}
}

// NewConcurrentModification creates an optimistic locking error
func NewConcurrentModification(entity string, id any) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "Record was modified concurrently. Retry the operation.",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"entity": entity, "id": id},
	}
}

// NewIdempotencyConflict is returned while the first request with the key is still running.
func NewIdempotencyConflict(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyConflict,
		Message:    "A request with this idempotency key is in progress",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewIdempotencyMismatch is returned when a key is replayed with another payload or caller.
func NewIdempotencyMismatch(key string) *AppError {
	return &AppError{
		Code:       CodeIdempotencyMismatch,
		Message:    "Idempotency key was used for a different request",
		HTTPStatus: http.StatusUnprocessableEntity,
		Details:    map[string]any{"idempotency_key": key},
	}
}

// NewTimeout is returned when a lock could not be acquired in time.
func NewTimeout(resource string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    "Timed out waiting for " + resource,
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"resource": resource},
	}
}

// NewInternal creates an internal server error (hides details from client)
func NewInternal(err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// NewDatabase wraps a storage failure.
func NewDatabase(err error) *AppError {
	return &AppError{
		Code:       CodeDatabase,
		Message:    "Storage unavailable",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// --- Helper functions ---

// IsAppError checks if error is AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError extracts AppError from error chain
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetHTTPStatus returns appropriate HTTP status for any error
func GetHTTPStatus(err error) int {
	if appErr, ok := AsAppError(err); ok {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}

// HasCode reports whether err is an AppError with the given code.
func HasCode(err error, code string) bool {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if error is a batch or product not-found error
func IsNotFound(err error) bool {
	return HasCode(err, CodeBatchNotFound) || HasCode(err, CodeProductNotFound)
}

// IsConcurrentModification checks if error is CodeConcurrentModification
func IsConcurrentModification(err error) bool {
	return HasCode(err, CodeConcurrentModification)
}

// IsInsufficientStock checks if error is CodeInsufficientStock
func IsInsufficientStock(err error) bool {
	return HasCode(err, CodeInsufficientStock)
}

// IsTimeout checks if error is CodeTimeout
func IsTimeout(err error) bool {
	return HasCode(err, CodeTimeout)
}

// IsRetryable reports whether the caller may retry the operation with backoff.
func IsRetryable(err error) bool {
	return IsConcurrentModification(err) || IsTimeout(err)
}
