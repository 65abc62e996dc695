// Package ledger abstracts the blockchain RPC surface the engine depends
// on. The engine treats the ledger as a remote collaborator with its own
// timeout semantics; everything money-moving goes through the Ledger
// interface so tests can substitute a recording fake.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"
)

// Confirmation is the terminal outcome of waiting on a submitted signature.
type Confirmation struct {
	Signature solana.Signature
	// Rejected is true when the ledger executed and rejected the
	// transaction (instruction error). Terminal; never retried.
	Rejected bool
	// Details carries the ledger's rejection reason when Rejected.
	Details string
}

// Ledger is the RPC surface the transfer executor consumes.
type Ledger interface {
	// NativeBalance returns the address's balance in native raw units.
	// A missing account reports zero with no error.
	NativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error)

	// TokenBalance returns the owner's balance of mint in raw units,
	// probing the owner's associated token account. A missing account
	// reports zero with no error.
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)

	// AccountExists reports whether an account is present on-chain.
	AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error)

	// RentExemptMinimum returns the minimum native balance a fresh
	// zero-data account must hold to persist.
	RentExemptMinimum(ctx context.Context) (uint64, error)

	// LatestBlockhash fetches a fresh recent blockhash for signing.
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// Submit sends a signed transaction. Submission, once accepted by the
	// ledger, is irrevocable.
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// AwaitConfirmation blocks until the signature reaches confirmed
	// commitment, the ledger rejects it, or ctx ends. A ctx error means
	// the outcome is unknown, not failed.
	AwaitConfirmation(ctx context.Context, sig solana.Signature) (Confirmation, error)
}
