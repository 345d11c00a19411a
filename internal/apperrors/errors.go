// Package apperrors defines the settlement error taxonomy. Handlers map these
// onto HTTP statuses; the orchestrator and sweeper branch on them to decide
// whether an operation may be retried.
package apperrors

import (
	"errors"
	"fmt"
)

// RailErrorCode classifies rail failures. Raw transport errors never cross
// the rail boundary.
type RailErrorCode string

const (
	// RailUnavailable is retriable: the rail could not be reached or answered
	// with a transient failure, and reconciliation confirmed nothing landed.
	RailUnavailable RailErrorCode = "rail_unavailable"
	// RailInsufficientFunds is fatal to the attempt; the escrow stays locked
	// until the custodial account is funded.
	RailInsufficientFunds RailErrorCode = "insufficient_funds"
	// RailInvalidRecipient is fatal until the operator corrects the address.
	RailInvalidRecipient RailErrorCode = "invalid_recipient"
	// RailAlreadyFinalized means rail-side state already shows the transfer;
	// callers treat it as success and converge local state.
	RailAlreadyFinalized RailErrorCode = "already_finalized"
)

// RailError is a classified settlement-rail failure.
type RailError struct {
	Code  RailErrorCode
	Rail  string // "token" | "contract"
	TxID  string // populated on AlreadyFinalized when the rail knows the tx
	Phase string // on AlreadyFinalized, the rail-side terminal phase ("released" | "refunded")
	Cause error
}

func (e *RailError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("rail %s: %s: %v", e.Rail, e.Code, e.Cause)
	}
	return fmt.Sprintf("rail %s: %s", e.Rail, e.Code)
}

func (e *RailError) Unwrap() error { return e.Cause }

// Retriable reports whether the same call may be retried without operator
// intervention.
func (e *RailError) Retriable() bool { return e.Code == RailUnavailable }

// NewRailError builds a classified rail error.
func NewRailError(rail string, code RailErrorCode, cause error) *RailError {
	return &RailError{Code: code, Rail: rail, Cause: cause}
}

// AsRailError unwraps err into a *RailError if one is in the chain.
func AsRailError(err error) (*RailError, bool) {
	var re *RailError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsAlreadyFinalized reports whether err carries the AlreadyFinalized code.
func IsAlreadyFinalized(err error) bool {
	if re, ok := AsRailError(err); ok {
		return re.Code == RailAlreadyFinalized
	}
	return false
}

// ValidationError: bad input, no state change.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError: missing task/escrow/submission/dispute.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }

func NewNotFoundError(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// ConflictError: a state precondition was not met (e.g. releasing a
// non-locked escrow). Not retriable as-is.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// ErrVerificationUnavailable is returned when the judge cannot be reached or
// returns garbage. The verdict is never defaulted; the submission stays in
// processing so the call can be retried.
var ErrVerificationUnavailable = errors.New("verification service unavailable")

// FatalError signals data corruption or an invariant violation. Logged
// loudly; should never occur in normal operation.
type FatalError struct {
	Msg   string
	Cause error
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fatal: %s: %v", e.Msg, e.Cause)
	}
	return "fatal: " + e.Msg
}

func (e *FatalError) Unwrap() error { return e.Cause }

func NewFatalError(msg string, cause error) *FatalError {
	return &FatalError{Msg: msg, Cause: cause}
}
