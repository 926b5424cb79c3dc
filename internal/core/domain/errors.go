package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("item not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrDuplicateItem     = errors.New("item code already exists")
	ErrDuplicateRequest  = errors.New("duplicate request")
	ErrBillNotFound      = errors.New("bill not found")
)

// FieldError describes one rejected field. Line is 1-based; zero refers to
// the bill header.
type FieldError struct {
	Line     int    `json:"line,omitempty"`
	ItemCode string `json:"item_code,omitempty"`
	Field    string `json:"field"`
	Message  string `json:"message"`
}

func (f FieldError) String() string {
	if f.Line == 0 {
		return fmt.Sprintf("%s: %s", f.Field, f.Message)
	}
	return fmt.Sprintf("line %d %s: %s", f.Line, f.Field, f.Message)
}

// ValidationError lists every offending field of a rejected request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.String()
	}
	return "invalid bill: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(line int, code, field, msg string) {
	e.Fields = append(e.Fields, FieldError{Line: line, ItemCode: code, Field: field, Message: msg})
}

// AddLine records a problem with line item n (1-based).
func (e *ValidationError) AddLine(n int, code, field, msg string) {
	e.add(n, code, field, msg)
}

// AddHeader records a problem with a bill-level field.
func (e *ValidationError) AddHeader(field, msg string) {
	e.add(0, "", field, msg)
}

// Err returns e as an error, or nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

type NotFoundError struct {
	ItemCode string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("item %q not found", e.ItemCode)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError reports a reservation the ledger refused.
// Available is -1 when the ledger could not report it.
type InsufficientStockError struct {
	ItemCode  string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("insufficient stock for %q: requested %d", e.ItemCode, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for %q: requested %d, available %d", e.ItemCode, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

type StockFailure struct {
	ItemCode string `json:"item_code"`
	ItemName string `json:"item_name"`
	Quantity int    `json:"qty"`
	Err      error  `json:"-"`
}

// StockError names every line of a sale whose stock could not be reserved.
type StockError struct {
	Failures []StockFailure
}

func (e *StockError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = fmt.Sprintf("%s (code: %s)", f.ItemName, f.ItemCode)
	}
	return "not enough stock for: " + strings.Join(names, ", ")
}

func (e *StockError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}

// ItemCodes lists the failing item codes in line order.
func (e *StockError) ItemCodes() []string {
	codes := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		codes[i] = f.ItemCode
	}
	return codes
}

// PersistenceError is a durable-store failure during a sale. Nothing was
// committed when it is returned, so the caller may resubmit.
type PersistenceError struct {
	Stage string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("sale %s failed: %v", e.Stage, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Retryable() bool { return true }
