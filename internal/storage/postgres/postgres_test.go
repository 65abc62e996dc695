package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/payments"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/wallet"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	store := New(sqlx.NewDb(db, "postgres"))
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unmet expectations: %v", err)
		}
		store.Close()
	})
	return store, mock
}

func TestCreateWallet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	w := &wallet.Wallet{
		ID: "w1", OwnerID: "o1", Address: "addr", EncryptedSecret: []byte{1, 2},
		IsActive: true, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO wallets`).
		WithArgs(w.ID, w.OwnerID, w.Address, w.EncryptedSecret, w.Label, w.IsActive, w.CreatedAt, w.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.CreateWallet(context.Background(), w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}
}

func TestDeactivateWallets_SparesException(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE wallets SET is_active = FALSE, updated_at = NOW\(\)\s+WHERE owner_id = \$1 AND is_active AND id <> \$2`).
		WithArgs("o1", "w-new").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DeactivateWallets(context.Background(), "o1", "w-new"); err != nil {
		t.Fatalf("DeactivateWallets: %v", err)
	}
}

func TestFindActiveWallet(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "address", "encrypted_secret", "label", "is_active", "created_at", "updated_at",
	}).AddRow("w1", "o1", "addr", []byte{1}, "main", true, now, now)
	mock.ExpectQuery(`FROM wallets WHERE owner_id = \$1 AND is_active`).
		WithArgs("o1").
		WillReturnRows(rows)

	w, err := store.FindActiveWallet(context.Background(), "o1")
	if err != nil {
		t.Fatalf("FindActiveWallet: %v", err)
	}
	if w.ID != "w1" || !w.IsActive {
		t.Fatalf("unexpected wallet %+v", w)
	}
}

func TestFindActiveWallet_NotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`FROM wallets WHERE owner_id = \$1 AND is_active`).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.FindActiveWallet(context.Background(), "nobody")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindToken(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"mint", "ticker", "decimals", "enabled"}).
		AddRow("native", "SOL", 9, true)
	mock.ExpectQuery(`SELECT mint, ticker, decimals, enabled\s+FROM tokens`).
		WithArgs("sol").
		WillReturnRows(rows)

	rec, err := store.FindToken(context.Background(), "sol")
	if err != nil {
		t.Fatalf("FindToken: %v", err)
	}
	if rec.Ticker != "SOL" || rec.Decimals != 9 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestUpdatePaymentStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE payments`).
		WithArgs("p1", payments.StatusConfirmed, "sig-1", "").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdatePaymentStatus(context.Background(), "p1", payments.StatusConfirmed, "sig-1", "")
	if err != nil {
		t.Fatalf("UpdatePaymentStatus: %v", err)
	}
}

func TestUpdatePaymentStatus_MissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE payments`).
		WithArgs("missing", payments.StatusFailed, "", "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdatePaymentStatus(context.Background(), "missing", payments.StatusFailed, "", "gone")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateEscrow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	payee := int64(42)
	e := &escrow.Escrow{
		ID: "e1", PayerWalletID: "w1", PayerAddress: "payer", PayeeHandle: "@bob",
		PayeeTelegramID: &payee, Mint: "native", AmountRaw: 100, FeeRaw: 5,
		Status: escrow.StatusOpen, ExpiresAt: now.Add(time.Hour),
		FundingSignature: "fund-sig", CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO escrows`).
		WithArgs(e.ID, e.PayerWalletID, e.PayerAddress, e.PayeeHandle, e.PayeeTelegramID,
			e.Mint, e.AmountRaw, e.FeeRaw, e.Status, e.ExpiresAt,
			e.FundingSignature, e.ReleaseSignature, e.CreatedAt, e.UpdatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.CreateEscrow(context.Background(), e); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
}

func TestGetEscrow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "payer_wallet_id", "payer_address", "payee_handle", "payee_telegram_id",
		"mint", "amount_raw", "fee_raw", "status", "expires_at",
		"funding_signature", "release_signature", "created_at", "updated_at",
	}).AddRow("e1", "w1", "payer", "@bob", nil, "native", 100, 5, "open", now, "fund-sig", "", now, now)
	mock.ExpectQuery(`FROM escrows WHERE id = \$1`).
		WithArgs("e1").
		WillReturnRows(rows)

	e, err := store.GetEscrow(context.Background(), "e1")
	if err != nil {
		t.Fatalf("GetEscrow: %v", err)
	}
	if e.Status != escrow.StatusOpen || e.PayeeTelegramID != nil {
		t.Fatalf("unexpected escrow %+v", e)
	}
}

func TestListExpiredOpen(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "payer_wallet_id", "payer_address", "payee_handle", "payee_telegram_id",
		"mint", "amount_raw", "fee_raw", "status", "expires_at",
		"funding_signature", "release_signature", "created_at", "updated_at",
	}).
		AddRow("e1", "w1", "p1", "@a", nil, "native", 1, 1, "open", now.Add(-time.Hour), "s1", "", now, now).
		AddRow("e2", "w2", "p2", "@b", nil, "native", 2, 1, "open", now.Add(-time.Minute), "s2", "", now, now)
	mock.ExpectQuery(`FROM escrows\s+WHERE status = 'open' AND expires_at < \$1`).
		WithArgs(now, 25).
		WillReturnRows(rows)

	out, err := store.ListExpiredOpen(context.Background(), now, 25)
	if err != nil {
		t.Fatalf("ListExpiredOpen: %v", err)
	}
	if len(out) != 2 || out[0].ID != "e1" {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestUpdateEscrowStatus(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE escrows`).
		WithArgs("e1", escrow.StatusClaimed, "release-sig").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateEscrowStatus(context.Background(), "e1", escrow.StatusClaimed, "release-sig")
	if err != nil {
		t.Fatalf("UpdateEscrowStatus: %v", err)
	}
}
