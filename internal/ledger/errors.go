package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cleaver-pos/cleaver/internal/inventory"
)

var (
	// ErrValidation is wrapped by *ValidationError.
	ErrValidation = errors.New("ledger: validation failed")
	// ErrStockInsufficient is wrapped by *inventory.StockInsufficientError.
	ErrStockInsufficient = inventory.ErrStockInsufficient
	// ErrProductNotFound indicates an invoice line references a missing product.
	ErrProductNotFound = inventory.ErrProductNotFound
	// ErrCounterpartyNotFound indicates the counterparty does not exist.
	ErrCounterpartyNotFound = errors.New("ledger: counterparty not found")
	// ErrStoreConflict is returned once the store gave up retrying a conflicting transaction.
	ErrStoreConflict = errors.New("ledger: store conflict")
	// ErrFetch is matched by *FetchError.
	ErrFetch = errors.New("ledger: fetch failed")
)

// ValidationError lists the offending fields and the rule each one broke.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s: %s", name, e.Fields[name]))
	}
	return "ledger: validation failed: " + strings.Join(parts, ", ")
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// FetchError reports which history source could not be read.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("ledger: fetch %s: %v", e.Source, e.Err)
}

// Unwrap exposes the underlying store error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrFetch
}

// IsTransient reports whether retrying the whole operation may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreConflict) || errors.Is(err, context.DeadlineExceeded)
}

// IsBusinessRule reports whether err is a rejection the caller must fix
// rather than retry.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStockInsufficient) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrCounterpartyNotFound)
}
