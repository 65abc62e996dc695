// Package postgres implements the engine's store interfaces against
// PostgreSQL. The schema is owned by the surrounding application; this
// package only reads and writes the agreed tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/payments"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/token"
	"github.com/tipforge/payengine/internal/wallet"
)

// Store implements the store interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var (
	_ wallet.Store   = (*Store)(nil)
	_ token.Store    = (*Store)(nil)
	_ payments.Store = (*Store)(nil)
	_ escrow.Store   = (*Store)(nil)
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing handle; used by tests with sqlmock.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- wallet.Store -----------------------------------------------------------

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, owner_id, address, encrypted_secret, label, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, w.ID, w.OwnerID, w.Address, w.EncryptedSecret, w.Label, w.IsActive, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

func (s *Store) GetWallet(ctx context.Context, id string) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := s.db.GetContext(ctx, &w, `
		SELECT id, owner_id, address, encrypted_secret, label, is_active, created_at, updated_at
		FROM wallets WHERE id = $1
	`, id)
	if err != nil {
		return nil, mapNotFound(err, "get wallet")
	}
	return &w, nil
}

func (s *Store) FindActiveWallet(ctx context.Context, ownerID string) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := s.db.GetContext(ctx, &w, `
		SELECT id, owner_id, address, encrypted_secret, label, is_active, created_at, updated_at
		FROM wallets WHERE owner_id = $1 AND is_active
	`, ownerID)
	if err != nil {
		return nil, mapNotFound(err, "find active wallet")
	}
	return &w, nil
}

func (s *Store) FindWalletByAddress(ctx context.Context, address string) (*wallet.Wallet, error) {
	var w wallet.Wallet
	err := s.db.GetContext(ctx, &w, `
		SELECT id, owner_id, address, encrypted_secret, label, is_active, created_at, updated_at
		FROM wallets WHERE address = $1
	`, address)
	if err != nil {
		return nil, mapNotFound(err, "find wallet by address")
	}
	return &w, nil
}

func (s *Store) DeactivateWallets(ctx context.Context, ownerID, exceptID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET is_active = FALSE, updated_at = NOW()
		WHERE owner_id = $1 AND is_active AND id <> $2
	`, ownerID, exceptID)
	if err != nil {
		return fmt.Errorf("deactivate wallets: %w", err)
	}
	return nil
}

func (s *Store) SetWalletActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET is_active = $2, updated_at = NOW() WHERE id = $1
	`, id, active)
	if err != nil {
		return fmt.Errorf("set wallet active: %w", err)
	}
	return requireRow(res)
}

// --- token.Store ------------------------------------------------------------

func (s *Store) FindToken(ctx context.Context, tickerOrMint string) (*token.Record, error) {
	var rec token.Record
	err := s.db.GetContext(ctx, &rec, `
		SELECT mint, ticker, decimals, enabled
		FROM tokens WHERE UPPER(ticker) = UPPER($1) OR mint = $1
	`, tickerOrMint)
	if err != nil {
		return nil, mapNotFound(err, "find token")
	}
	return &rec, nil
}

// --- payments.Store ---------------------------------------------------------

func (s *Store) CreatePayment(ctx context.Context, p *payments.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, sender_id, sender_wallet_id, recipient_address, mint,
			amount_raw, fee_raw, service_fee_raw, service_fee_mint,
			status, signature, detail, note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, p.ID, p.SenderID, p.SenderWalletID, p.RecipientAddress, p.Mint,
		p.AmountRaw, p.FeeRaw, p.ServiceFeeRaw, p.ServiceFeeMint,
		p.Status, p.Signature, p.Detail, p.Note, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*payments.Payment, error) {
	var p payments.Payment
	err := s.db.GetContext(ctx, &p, `
		SELECT id, sender_id, sender_wallet_id, recipient_address, mint,
			amount_raw, fee_raw, service_fee_raw, service_fee_mint,
			status, signature, detail, note, created_at, updated_at
		FROM payments WHERE id = $1
	`, id)
	if err != nil {
		return nil, mapNotFound(err, "get payment")
	}
	return &p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, status payments.Status, signature, detail string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $2,
			signature = CASE WHEN $3 = '' THEN signature ELSE $3 END,
			detail = $4,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, signature, detail)
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return requireRow(res)
}

// --- escrow.Store -----------------------------------------------------------

func (s *Store) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escrows (id, payer_wallet_id, payer_address, payee_handle, payee_telegram_id,
			mint, amount_raw, fee_raw, status, expires_at,
			funding_signature, release_signature, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.PayerWalletID, e.PayerAddress, e.PayeeHandle, e.PayeeTelegramID,
		e.Mint, e.AmountRaw, e.FeeRaw, e.Status, e.ExpiresAt,
		e.FundingSignature, e.ReleaseSignature, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func (s *Store) GetEscrow(ctx context.Context, id string) (*escrow.Escrow, error) {
	var e escrow.Escrow
	err := s.db.GetContext(ctx, &e, `
		SELECT id, payer_wallet_id, payer_address, payee_handle, payee_telegram_id,
			mint, amount_raw, fee_raw, status, expires_at,
			funding_signature, release_signature, created_at, updated_at
		FROM escrows WHERE id = $1
	`, id)
	if err != nil {
		return nil, mapNotFound(err, "get escrow")
	}
	return &e, nil
}

func (s *Store) UpdateEscrowStatus(ctx context.Context, id string, status escrow.Status, releaseSignature string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE escrows
		SET status = $2,
			release_signature = CASE WHEN $3 = '' THEN release_signature ELSE $3 END,
			updated_at = NOW()
		WHERE id = $1
	`, id, status, releaseSignature)
	if err != nil {
		return fmt.Errorf("update escrow status: %w", err)
	}
	return requireRow(res)
}

func (s *Store) ListExpiredOpen(ctx context.Context, before time.Time, limit int) ([]*escrow.Escrow, error) {
	var out []*escrow.Escrow
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, payer_wallet_id, payer_address, payee_handle, payee_telegram_id,
			mint, amount_raw, fee_raw, status, expires_at,
			funding_signature, release_signature, created_at, updated_at
		FROM escrows
		WHERE status = 'open' AND expires_at < $1
		ORDER BY expires_at ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired escrows: %w", err)
	}
	return out, nil
}

func mapNotFound(err error, op string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
