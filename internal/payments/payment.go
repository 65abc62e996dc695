// Package payments exposes the engine's mutating operation API: Pay,
// Withdraw, CreateEscrowPayment, ClaimEscrow. Every operation passes
// admission control first and runs under an idempotency key, so duplicate
// submissions collapse onto one execution.
package payments

import (
	"context"
	"time"
)

// Status tracks one executor invocation from intent to terminal outcome.
type Status string

const (
	StatusPending              Status = "pending"
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	// StatusSent marks a submitted transaction whose confirmation is
	// unknown; it is resolved later by a status poll, never by resubmit.
	StatusSent      Status = "sent"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Payment is the persisted record of one transfer attempt.
type Payment struct {
	ID               string    `db:"id" json:"id"`
	SenderID         string    `db:"sender_id" json:"sender_id"`
	SenderWalletID   string    `db:"sender_wallet_id" json:"sender_wallet_id"`
	RecipientAddress string    `db:"recipient_address" json:"recipient_address"`
	Mint             string    `db:"mint" json:"mint"`
	AmountRaw        uint64    `db:"amount_raw" json:"amount_raw"`
	FeeRaw           uint64    `db:"fee_raw" json:"fee_raw"`
	ServiceFeeRaw    uint64    `db:"service_fee_raw" json:"service_fee_raw"`
	ServiceFeeMint   string    `db:"service_fee_mint" json:"service_fee_mint"`
	Status           Status    `db:"status" json:"status"`
	Signature        string    `db:"signature" json:"signature,omitempty"`
	Detail           string    `db:"detail" json:"detail,omitempty"`
	Note             string    `db:"note" json:"note,omitempty"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Store is the persistence surface for payment records.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, id string) (*Payment, error)
	UpdatePaymentStatus(ctx context.Context, id string, status Status, signature, detail string) error
}
