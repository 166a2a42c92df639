package interfaces

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a claim for a name is already in flight in this client.
var ErrBusy = errors.New("a registration for this name is already in progress")

// ErrNoSigner is returned when a transaction is attempted without a signer.
var ErrNoSigner = errors.New("no signer available")

// ValidationError reports malformed input caught before any ledger call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// QueryError reports a read the ledger rejected. Message is the ledger's own text.
type QueryError struct {
	Op      string
	Name    string
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("query %s(%q) failed: %s", e.Op, e.Name, e.Message)
	}
	return fmt.Sprintf("query %s failed: %s", e.Op, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// TransactionRejected reports a transaction that failed to sign, submit or execute.
type TransactionRejected struct {
	Op      string
	Phase   string
	Name    string
	Message string
	Err     error
}

func (e *TransactionRejected) Error() string {
	msg := "transaction " + e.Op + " rejected"
	if e.Phase != "" {
		msg += " during " + e.Phase
	}
	if e.Name != "" {
		msg += fmt.Sprintf(" for %q", e.Name)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *TransactionRejected) Unwrap() error {
	return e.Err
}

// TimingReason tells which commit-age bound was violated.
type TimingReason string

const (
	TimingTooEarly TimingReason = "commitment younger than minimum commit age"
	TimingExpired  TimingReason = "commitment older than maximum commit age"
)

// TimingViolation reports a register attempt outside the commit-age window.
// It is always detected locally; no transaction is sent.
type TimingViolation struct {
	Name    string
	Reason  TimingReason
	Elapsed string
	Bound   string
}

func (e *TimingViolation) Error() string {
	return fmt.Sprintf("cannot register %q: %s (elapsed %s, bound %s)", e.Name, e.Reason, e.Elapsed, e.Bound)
}

// ConcurrencyConflict reports a second claim for a name already in flight.
type ConcurrencyConflict struct {
	Name     string
	IntentID string
}

func (e *ConcurrencyConflict) Error() string {
	return fmt.Sprintf("name %q is busy with intent %s", e.Name, e.IntentID)
}

func (e *ConcurrencyConflict) Is(target error) bool {
	return target == ErrBusy
}
