// Package wallet manages custodial wallets: creation, import, activation,
// and sealed secret custody. Private keys exist in plaintext only inside
// the narrow window a transfer needs them.
package wallet

import (
	"context"
	"time"
)

// Wallet is the persisted custodial wallet record. EncryptedSecret is the
// keyvault ciphertext of the ed25519 private key; the master key never
// travels with the record.
type Wallet struct {
	ID              string    `db:"id" json:"id"`
	OwnerID         string    `db:"owner_id" json:"owner_id"`
	Address         string    `db:"address" json:"address"`
	EncryptedSecret []byte    `db:"encrypted_secret" json:"-"`
	Label           string    `db:"label" json:"label"`
	IsActive        bool      `db:"is_active" json:"is_active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Store is the persistence surface the wallet service needs. The relational
// store behind it is externally owned.
type Store interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	// FindActiveWallet returns the owner's single active wallet.
	FindActiveWallet(ctx context.Context, ownerID string) (*Wallet, error)
	// FindWalletByAddress resolves a wallet by its base58 address.
	FindWalletByAddress(ctx context.Context, address string) (*Wallet, error)
	// DeactivateWallets clears the active flag on the owner's wallets,
	// sparing exceptID when non-empty. Records are never hard-deleted.
	DeactivateWallets(ctx context.Context, ownerID, exceptID string) error
	// SetWalletActive marks one wallet active.
	SetWalletActive(ctx context.Context, id string, active bool) error
}
