package wallet

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/keyvault"
	"github.com/tipforge/payengine/internal/logging"
)

// Service owns the custodial wallet lifecycle. At most one wallet per owner
// is active at a time; replaced wallets are deactivated, never deleted.
type Service struct {
	store  Store
	vault  *keyvault.Vault
	logger *logging.Logger
}

// NewService creates a wallet service.
func NewService(store Store, vault *keyvault.Vault) *Service {
	return &Service{
		store:  store,
		vault:  vault,
		logger: logging.New("wallet"),
	}
}

// Create generates a fresh custodial keypair for the owner, seals the
// secret, persists the record, and makes it the owner's active wallet.
func (s *Service) Create(ctx context.Context, ownerID, label string) (*Wallet, error) {
	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	defer keyvault.Zero(priv)

	return s.adopt(ctx, ownerID, label, priv)
}

// Import adopts an externally generated wallet from its base58-encoded
// private key.
func (s *Service) Import(ctx context.Context, ownerID, label, secretBase58 string) (*Wallet, error) {
	priv, err := solana.PrivateKeyFromBase58(secretBase58)
	if err != nil {
		return nil, payerr.Validation("secret", "malformed private key")
	}
	defer keyvault.Zero(priv)

	return s.adopt(ctx, ownerID, label, priv)
}

func (s *Service) adopt(ctx context.Context, ownerID, label string, priv solana.PrivateKey) (*Wallet, error) {
	sealed, err := s.vault.Encrypt(priv)
	if err != nil {
		return nil, fmt.Errorf("seal wallet secret: %w", err)
	}

	now := time.Now().UTC()
	w := &Wallet{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Address:         priv.PublicKey().String(),
		EncryptedSecret: sealed,
		Label:           label,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	// Insert before deactivating the predecessor: a failed insert then
	// leaves the old wallet active instead of the owner with none.
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, fmt.Errorf("persist wallet: %w", err)
	}
	if err := s.store.DeactivateWallets(ctx, ownerID, w.ID); err != nil {
		return nil, fmt.Errorf("deactivate previous wallets: %w", err)
	}

	s.logger.Info().
		Str("wallet_id", w.ID).
		Str("owner_id", ownerID).
		Str("address", w.Address).
		Msg("wallet adopted")
	return w, nil
}

// Active returns the owner's active wallet.
func (s *Service) Active(ctx context.Context, ownerID string) (*Wallet, error) {
	return s.store.FindActiveWallet(ctx, ownerID)
}

// SigningKey unseals a wallet's private key for immediate use. The caller
// must zero the returned key as soon as the signature is produced.
func (s *Service) SigningKey(w *Wallet) (solana.PrivateKey, error) {
	secret, err := s.vault.Decrypt(w.EncryptedSecret)
	if err != nil {
		s.logger.SecurityEvent("wallet_key_decrypt_failed", map[string]interface{}{
			"wallet_id": w.ID,
			"owner_id":  w.OwnerID,
		})
		return nil, payerr.ErrAuthentication
	}
	return solana.PrivateKey(secret), nil
}
