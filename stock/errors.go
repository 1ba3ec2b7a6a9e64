/*
errors.go - Error taxonomy for the stock engine

PURPOSE:
  All error types in one place. Every structured error unwraps to a sentinel
  so callers can branch with errors.Is and still read details with errors.As.

ERROR CATEGORIES:
  1. Stock errors      - InsufficientStock, OverReceipt, OverReturn
  2. Workflow errors   - InvalidTransition, AlreadyFulfilled
  3. Lookup errors     - NotFound
  4. Infrastructure    - Busy (lock wait timeout, retryable)
  5. Input errors      - Validation

PROPAGATION:
  Errors returned from inside Store.WithTx always roll the transaction back.
  The engine never formats user-facing messages; the api package does.
*/
package stock

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOverReceipt       = errors.New("receipt exceeds ordered quantity")
	ErrOverReturn        = errors.New("return exceeds sold quantity")
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnsupportedTransition marks transitions with no defined policy yet,
	// such as cancelling a purchase order after stock was received.
	ErrUnsupportedTransition = errors.New("unsupported status transition")

	ErrAlreadyFulfilled = errors.New("already fulfilled")
	ErrNotFound         = errors.New("not found")

	// ErrBusy is returned when a row lock could not be acquired in time.
	// Callers may retry with backoff.
	ErrBusy = errors.New("resource busy")

	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError names the product and the shortfall.
type InsufficientStockError struct {
	ProductID ProductID
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Shortfall is how many units are missing.
func (e *InsufficientStockError) Shortfall() int64 {
	return e.Requested - e.Available
}

type OverReceiptError struct {
	ItemID    PurchaseOrderItemID
	Requested int64
	Remaining int64
}

func (e *OverReceiptError) Error() string {
	return fmt.Sprintf("over receipt on item %s: requested %d, remaining %d",
		e.ItemID, e.Requested, e.Remaining)
}

func (e *OverReceiptError) Unwrap() error { return ErrOverReceipt }

type OverReturnError struct {
	SaleID     SaleID
	ProductID  ProductID
	Requested  int64
	Returnable int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("over return on sale %s product %s: requested %d, returnable %d",
		e.SaleID, e.ProductID, e.Requested, e.Returnable)
}

func (e *OverReturnError) Unwrap() error { return ErrOverReturn }

// InvalidTransitionError is returned for status changes the state machine
// does not allow. Unsupported is set when the move is not forbidden in
// principle but has no reversal policy defined.
type InvalidTransitionError struct {
	From        string
	To          string
	Reason      string
	Unsupported bool
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() []error {
	if e.Unsupported {
		return []error{ErrInvalidTransition, ErrUnsupportedTransition}
	}
	return []error{ErrInvalidTransition}
}

// AlreadyFulfilledError is returned when an idempotency key (order id or
// point-of-sale token) already produced a sale.
type AlreadyFulfilledError struct {
	Key    string
	SaleID SaleID
}

func (e *AlreadyFulfilledError) Error() string {
	if e.SaleID == "" {
		return fmt.Sprintf("already fulfilled: %s", e.Key)
	}
	return fmt.Sprintf("already fulfilled: %s (sale %s)", e.Key, e.SaleID)
}

func (e *AlreadyFulfilledError) Unwrap() error { return ErrAlreadyFulfilled }

type NotFoundError struct {
	Kind string // "product", "purchase_order", "sale", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// BusyError wraps the driver error (or deadline) that caused a lock wait to
// give up.
type BusyError struct {
	Err error
}

func (e *BusyError) Error() string {
	if e.Err == nil {
		return ErrBusy.Error()
	}
	return fmt.Sprintf("%s: %v", ErrBusy, e.Err)
}

func (e *BusyError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrBusy}
	}
	return []error{ErrBusy, e.Err}
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrOverReceipt) ||
		errors.Is(err, ErrOverReturn) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrAlreadyFulfilled) ||
		errors.Is(err, ErrInvalidInput)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
