// Package escrow holds funds for recipients who cannot receive directly
// yet. Funds move payer → custodial holding wallet at creation, then
// holding wallet → claimer on claim, or back to the payer on refund or
// expiry.
//
// State machine: open → claimed (happy path), open → refunded (explicit or
// automatic after expiry), open → expired (refund attempt itself failed;
// needs manual intervention). Terminal states stay terminal.
package escrow

import (
	"context"
	"time"
)

// Status is the escrow lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClaimed  Status = "claimed"
	StatusRefunded Status = "refunded"
	StatusExpired  Status = "expired"
)

// Escrow is the persisted escrow record.
type Escrow struct {
	ID            string `db:"id" json:"id"`
	PayerWalletID string `db:"payer_wallet_id" json:"payer_wallet_id"`
	PayerAddress  string `db:"payer_address" json:"payer_address"`
	// PayeeHandle is the chat handle the payment was addressed to.
	PayeeHandle string `db:"payee_handle" json:"payee_handle"`
	// PayeeTelegramID, when set, restricts claiming to that identity;
	// when nil anyone holding the claim reference may claim.
	PayeeTelegramID  *int64    `db:"payee_telegram_id" json:"payee_telegram_id,omitempty"`
	Mint             string    `db:"mint" json:"mint"`
	AmountRaw        uint64    `db:"amount_raw" json:"amount_raw"`
	FeeRaw           uint64    `db:"fee_raw" json:"fee_raw"`
	Status           Status    `db:"status" json:"status"`
	ExpiresAt        time.Time `db:"expires_at" json:"expires_at"`
	FundingSignature string    `db:"funding_signature" json:"funding_signature"`
	ReleaseSignature string    `db:"release_signature" json:"release_signature,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the escrow reached a final state.
func (e Escrow) IsTerminal() bool {
	switch e.Status {
	case StatusClaimed, StatusRefunded, StatusExpired:
		return true
	}
	return false
}

// Store is the persistence surface the manager needs.
type Store interface {
	CreateEscrow(ctx context.Context, e *Escrow) error
	GetEscrow(ctx context.Context, id string) (*Escrow, error)
	// UpdateEscrowStatus records a state transition and, when non-empty,
	// the release transaction signature.
	UpdateEscrowStatus(ctx context.Context, id string, status Status, releaseSignature string) error
	// ListExpiredOpen returns open escrows whose expiry passed before the
	// given instant, oldest first, capped at limit.
	ListExpiredOpen(ctx context.Context, before time.Time, limit int) ([]*Escrow, error)
}
