// Package errors defines the typed error taxonomy for the payment engine.
//
// Every operation in the engine returns one of these types (or a wrapped
// form of one); nothing in the engine panics across a package boundary.
// Callers are expected to match with errors.Is / errors.As and translate
// into whatever surface they own.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Sentinel errors for conditions that carry no extra data.
var (
	// ErrAuthentication is returned when a wallet secret fails to decrypt.
	// It deliberately carries no detail: a decryption failure is a security
	// event, logged internally and never surfaced verbatim to an end user.
	ErrAuthentication = stderrors.New("authentication failed")

	// ErrIdempotencyTimeout is returned to a duplicate submitter whose
	// original operation did not reach a terminal state in time.
	ErrIdempotencyTimeout = stderrors.New("idempotent operation timed out")

	// ErrPreviousAttemptFailed is returned when a key's first execution
	// already failed; retrying requires an explicitly new key.
	ErrPreviousAttemptFailed = stderrors.New("previous attempt with this key failed")

	// ErrEscrowExpired is returned when a claim arrives after expiry.
	ErrEscrowExpired = stderrors.New("escrow has expired")

	// ErrEscrowAlreadyProcessed is returned for any operation on an escrow
	// that already reached a terminal state.
	ErrEscrowAlreadyProcessed = stderrors.New("escrow already processed")

	// ErrRateLimited is returned when an operation is rejected by admission
	// control before it reaches the engine.
	ErrRateLimited = stderrors.New("rate limit exceeded")

	// ErrFeeTooLarge is returned when a computed network fee would equal or
	// exceed the transfer principal.
	ErrFeeTooLarge = stderrors.New("fee equals or exceeds transfer amount")
)

// ValidationError reports user-correctable input problems: a bad amount, an
// unknown token, a malformed address. The message is safe to show verbatim.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validation constructs a ValidationError.
func Validation(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InsufficientFunds reports that a sender cannot cover the total debit.
// Figures are in raw units of the token being checked.
type InsufficientFunds struct {
	Mint      string
	Required  uint64
	Available uint64
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: required %d, available %d (%s)",
		e.Required, e.Available, e.Mint)
}

// TransferRejected reports a ledger-level rejection of a submitted
// transaction. Terminal: the engine never retries it.
type TransferRejected struct {
	Signature string
	Details   string
}

func (e *TransferRejected) Error() string {
	return fmt.Sprintf("transfer rejected by ledger: %s", e.Details)
}

// SubmissionFailed reports a network-level failure while submitting or
// confirming. The outcome is indeterminate: the transaction may still land,
// so the caller must poll status rather than resubmit.
type SubmissionFailed struct {
	Stage string // "submit" or "confirm"
	// Signature is set when the transaction made it onto the wire before
	// the failure.
	Signature string
	Err       error
}

func (e *SubmissionFailed) Error() string {
	return fmt.Sprintf("transfer %s failed: %v", e.Stage, e.Err)
}

func (e *SubmissionFailed) Unwrap() error { return e.Err }

// Indeterminate reports whether err leaves the on-ledger outcome unknown.
func Indeterminate(err error) bool {
	var sf *SubmissionFailed
	return stderrors.As(err, &sf)
}
