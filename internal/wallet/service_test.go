package wallet_test

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/keyvault"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/storage/memory"
	"github.com/tipforge/payengine/internal/wallet"
)

func newService(t *testing.T) (*wallet.Service, *memory.Store, *keyvault.Vault) {
	t.Helper()
	vault, err := keyvault.New(make([]byte, keyvault.KeySize))
	if err != nil {
		t.Fatalf("keyvault.New: %v", err)
	}
	store := memory.New()
	return wallet.NewService(store, vault), store, vault
}

func TestCreate_ActiveRoundTrip(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, "user:1", "main")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !w.IsActive {
		t.Fatal("expected a fresh wallet to be active")
	}
	if w.Address == "" || len(w.EncryptedSecret) == 0 {
		t.Fatalf("incomplete wallet record: %+v", w)
	}
	if _, err := solana.PublicKeyFromBase58(w.Address); err != nil {
		t.Fatalf("expected a base58 address, got %q", w.Address)
	}

	active, err := svc.Active(ctx, "user:1")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != w.ID {
		t.Fatal("expected the created wallet to be the active one")
	}
}

func TestCreate_ReplacesActiveWallet(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user:1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := svc.Create(ctx, "user:1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err := svc.Active(ctx, "user:1")
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != second.ID {
		t.Fatal("expected the newest wallet to be active")
	}

	old, err := store.GetWallet(ctx, first.ID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if old.IsActive {
		t.Fatal("expected the replaced wallet to be deactivated, not deleted")
	}
}

type insertFailingStore struct {
	wallet.Store
}

func (s *insertFailingStore) CreateWallet(context.Context, *wallet.Wallet) error {
	return errors.New("unique constraint violated")
}

func TestCreate_FailedInsertKeepsPredecessorActive(t *testing.T) {
	svc, store, vault := newService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, "user:1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	broken := wallet.NewService(&insertFailingStore{Store: store}, vault)
	if _, err := broken.Create(ctx, "user:1", ""); err == nil {
		t.Fatal("expected the insert failure to surface")
	}

	active, err := svc.Active(ctx, "user:1")
	if err != nil {
		t.Fatalf("expected an active wallet to survive: %v", err)
	}
	if active.ID != first.ID {
		t.Fatalf("expected %s to stay active, got %s", first.ID, active.ID)
	}
}

func TestImport_KnownKey(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	priv, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	w, err := svc.Import(ctx, "user:2", "imported", priv.String())
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if w.Address != priv.PublicKey().String() {
		t.Fatalf("expected address %s, got %s", priv.PublicKey(), w.Address)
	}

	key, err := svc.SigningKey(w)
	if err != nil {
		t.Fatalf("SigningKey: %v", err)
	}
	if !key.PublicKey().Equals(priv.PublicKey()) {
		t.Fatal("unsealed key does not match the imported key")
	}
}

func TestImport_MalformedSecret(t *testing.T) {
	svc, _, _ := newService(t)

	_, err := svc.Import(context.Background(), "user:3", "", "not a key")
	var verr *payerr.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSigningKey_TamperedCiphertext(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	w, err := svc.Create(ctx, "user:4", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.EncryptedSecret[len(w.EncryptedSecret)-1] ^= 0x01

	if _, err := svc.SigningKey(w); !errors.Is(err, payerr.ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
}

func TestActive_NoWallet(t *testing.T) {
	svc, _, _ := newService(t)

	if _, err := svc.Active(context.Background(), "nobody"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
