// Package transfer builds, validates, signs, and submits on-chain value
// transfers with up to three legs: the recipient principal, the network-fee
// treasury leg, and the service-fee treasury leg.
package transfer

import (
	"github.com/gagliardetto/solana-go"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/token"
)

// Mode selects special transfer behavior.
type Mode string

const (
	// ModeStandard applies both fee legs.
	ModeStandard Mode = "standard"
	// ModeWithdrawal moves only the principal; both fee legs are
	// suppressed.
	ModeWithdrawal Mode = "withdrawal"
	// ModeRefund moves only the principal back to a payer.
	ModeRefund Mode = "refund"
	// ModeEscrowFund moves principal plus fee into the escrow-holding
	// address without charging fees; fees are charged at release.
	ModeEscrowFund Mode = "escrow_fund"
)

// Intent is the ephemeral description of one transfer. AmountRaw is exactly
// what the recipient must receive; fees stack on top of the sender's debit.
type Intent struct {
	From           solana.PublicKey
	To             solana.PublicKey
	Mint           token.Mint
	AmountRaw      uint64
	FeeRaw         uint64
	ServiceFeeRaw  uint64
	ServiceFeeMint token.Mint
	Mode           Mode
	// Reference ties logs and metrics back to a payment or escrow record.
	Reference string
}

// FeesApply reports whether the fee legs are charged for this mode.
func (i Intent) FeesApply() bool {
	return i.Mode == ModeStandard || i.Mode == ""
}

// Validate checks structural invariants before any ledger round-trip.
func (i Intent) Validate() error {
	if i.From.IsZero() {
		return payerr.Validation("from", "sender address is required")
	}
	if i.To.IsZero() {
		return payerr.Validation("to", "recipient address is required")
	}
	if i.From == i.To {
		return payerr.Validation("to", "sender and recipient are the same address")
	}
	if i.Mint.IsZero() {
		return payerr.Validation("mint", "mint is required")
	}
	if i.AmountRaw == 0 {
		return payerr.Validation("amount", "amount must be positive")
	}
	if i.ServiceFeeRaw > 0 && i.ServiceFeeMint.IsZero() {
		return payerr.Validation("service_fee_mint", "service fee mint is required")
	}
	return nil
}

func (i Intent) mode() Mode {
	if i.Mode == "" {
		return ModeStandard
	}
	return i.Mode
}
