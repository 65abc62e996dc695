package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_Message(t *testing.T) {
	assert.Equal(t, "validation: amount: must be positive",
		Validation("amount", "must be positive").Error())
	assert.Equal(t, "validation: no active wallet",
		Validation("", "no active wallet").Error())
}

func TestValidationError_MatchesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("pay: %w", Validation("token", "unknown ticker"))

	var verr *ValidationError
	require.True(t, stderrors.As(err, &verr))
	assert.Equal(t, "token", verr.Field)
}

func TestInsufficientFunds_Message(t *testing.T) {
	err := &InsufficientFunds{Mint: "native", Required: 10_150, Available: 9_000}
	assert.Equal(t, "insufficient funds: required 10150, available 9000 (native)", err.Error())
}

func TestSubmissionFailed_Unwrap(t *testing.T) {
	cause := stderrors.New("connection reset")
	err := &SubmissionFailed{Stage: "submit", Err: cause}

	assert.True(t, stderrors.Is(err, cause))
	assert.Contains(t, err.Error(), "submit")
}

func TestIndeterminate(t *testing.T) {
	sub := &SubmissionFailed{Stage: "confirm", Signature: "sig", Err: stderrors.New("timeout")}

	assert.True(t, Indeterminate(sub))
	assert.True(t, Indeterminate(fmt.Errorf("execute: %w", sub)))
	assert.False(t, Indeterminate(&TransferRejected{Details: "custom program error"}))
	assert.False(t, Indeterminate(ErrRateLimited))
	assert.False(t, Indeterminate(nil))
}

func TestSentinels_Distinct(t *testing.T) {
	sentinels := []error{
		ErrAuthentication,
		ErrIdempotencyTimeout,
		ErrPreviousAttemptFailed,
		ErrEscrowExpired,
		ErrEscrowAlreadyProcessed,
		ErrRateLimited,
		ErrFeeTooLarge,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j {
				assert.NotErrorIs(t, a, b)
			}
		}
	}
}
