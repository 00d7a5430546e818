package escrow

import (
	"errors"
	"fmt"
)

// Sentinel targets for errors.Is. Every failure surfaced by the client
// unwraps to exactly one of these.
var (
	// ErrValidation marks bad local input, rejected before any network call.
	ErrValidation = errors.New("escrow: invalid input")
	// ErrPrecondition marks an operation that is illegal against the most
	// recently read state. Advisory only; the ledger remains authoritative.
	ErrPrecondition = errors.New("escrow: precondition failed")
	// ErrNotFound marks a referenced escrow that does not exist.
	ErrNotFound = errors.New("escrow: not found")
	// ErrExtraction marks a confirmed receipt missing an expected event.
	ErrExtraction = errors.New("escrow: event extraction failed")
	// ErrLedgerRejected marks a refusal or revert by the ledger itself.
	ErrLedgerRejected = errors.New("escrow: ledger rejected operation")
)

// ValidationError reports a locally invalid input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("escrow: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PreconditionError reports that the local state snapshot forbids the
// operation. A passing check can still be rejected by the ledger if another
// party acted first.
type PreconditionError struct {
	Op     string
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("escrow: %s not allowed: %s", e.Op, e.Reason)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// NotFoundError reports a missing escrow record.
type NotFoundError struct {
	EscrowID uint64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("escrow: escrow %d not found", e.EscrowID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ExtractionError reports a confirmed receipt that did not contain the
// expected event. This indicates a ledger behavioural change or a malformed
// receipt and is never silently defaulted.
type ExtractionError struct {
	EventType string
	TxHash    string
	Reason    string
}

func (e *ExtractionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("escrow: extract %s from %s: %s", e.EventType, e.TxHash, e.Reason)
	}
	return fmt.Sprintf("escrow: event %s not found in receipt %s", e.EventType, e.TxHash)
}

func (e *ExtractionError) Unwrap() error { return ErrExtraction }

// LedgerRejectionError reports that the ledger refused or reverted the
// operation. It is always authoritative over local precondition checks.
type LedgerRejectionError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *LedgerRejectionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("escrow: %s rejected by ledger (tx %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("escrow: %s rejected by ledger: %v", e.Op, e.Err)
}

func (e *LedgerRejectionError) Unwrap() error { return ErrLedgerRejected }

// Cause exposes the underlying ledger error for callers that need the raw
// rejection detail.
func (e *LedgerRejectionError) Cause() error { return e.Err }
