package escrow

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/keyvault"
	"github.com/tipforge/payengine/internal/logging"
	"github.com/tipforge/payengine/internal/metrics"
	"github.com/tipforge/payengine/internal/token"
	"github.com/tipforge/payengine/internal/transfer"
	"github.com/tipforge/payengine/internal/wallet"
)

// Config tunes the escrow manager.
type Config struct {
	// HoldingOwnerID is the system owner whose active wallet holds
	// escrowed funds.
	HoldingOwnerID string
	// DefaultTTL is how long an escrow stays claimable. Default 7 days.
	DefaultTTL time.Duration
	// SweepSchedule is a cron expression for the expiry sweep. Default
	// hourly.
	SweepSchedule string
	// SweepBatchSize bounds how many escrows one sweep iteration
	// processes. Default 25.
	SweepBatchSize int
	// SweepBatchPause spaces ledger submissions between batch items.
	// Default 500ms.
	SweepBatchPause time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 7 * 24 * time.Hour
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = "@hourly"
	}
	if c.SweepBatchSize <= 0 {
		c.SweepBatchSize = 25
	}
	if c.SweepBatchPause <= 0 {
		c.SweepBatchPause = 500 * time.Millisecond
	}
}

// Manager drives the escrow lifecycle.
type Manager struct {
	store    Store
	exec     *transfer.Executor
	wallets  *wallet.Service
	cfg      Config
	logger   *logging.Logger
	cron     *cron.Cron
	sweeping atomic.Bool
	stopOnce sync.Once

	locksMu sync.Mutex
	locks   map[string]*escrowLock
}

type escrowLock struct {
	mu   sync.Mutex
	refs int
}

// lockEscrow serializes lifecycle transitions per escrow. A release that is
// mid-confirmation holds the lock, so a concurrent claim or sweep refund
// waits and then observes the recorded terminal status instead of
// re-reading open and paying out a second time.
func (m *Manager) lockEscrow(id string) func() {
	m.locksMu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &escrowLock{}
		m.locks[id] = l
	}
	l.refs++
	m.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.locksMu.Unlock()
	}
}

// NewManager creates an escrow manager. StartSweep must be called to
// activate the expiry sweep.
func NewManager(store Store, exec *transfer.Executor, wallets *wallet.Service, cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		store:   store,
		exec:    exec,
		wallets: wallets,
		cfg:     cfg,
		logger:  logging.New("escrow"),
		locks:   make(map[string]*escrowLock),
	}
}

// Create funds a new escrow: amountRaw + feeRaw move from the payer to the
// custodial holding wallet in escrow-funding mode (no fees at fund time),
// and an open record is persisted only after funding confirms. The returned
// escrow's ID is the claim reference.
func (m *Manager) Create(ctx context.Context, payer *wallet.Wallet, payerKey solana.PrivateKey, payeeHandle string, payeeTelegramID *int64, mint token.Mint, amountRaw, feeRaw uint64) (*Escrow, error) {
	if amountRaw == 0 {
		return nil, payerr.Validation("amount", "amount must be positive")
	}
	holding, err := m.holdingWallet(ctx)
	if err != nil {
		return nil, err
	}
	payerAddr, err := solana.PublicKeyFromBase58(payer.Address)
	if err != nil {
		return nil, payerr.Validation("payer", "malformed payer address")
	}
	holdingAddr, err := solana.PublicKeyFromBase58(holding.Address)
	if err != nil {
		return nil, fmt.Errorf("malformed holding address: %w", err)
	}

	id := uuid.NewString()
	receipt, err := m.exec.Execute(ctx, transfer.Intent{
		From:      payerAddr,
		To:        holdingAddr,
		Mint:      mint,
		AmountRaw: amountRaw + feeRaw,
		Mode:      transfer.ModeEscrowFund,
		Reference: id,
	}, payerKey)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := &Escrow{
		ID:               id,
		PayerWalletID:    payer.ID,
		PayerAddress:     payer.Address,
		PayeeHandle:      payeeHandle,
		PayeeTelegramID:  payeeTelegramID,
		Mint:             mint.String(),
		AmountRaw:        amountRaw,
		FeeRaw:           feeRaw,
		Status:           StatusOpen,
		ExpiresAt:        now.Add(m.cfg.DefaultTTL),
		FundingSignature: receipt.Signature.String(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateEscrow(ctx, e); err != nil {
		// Funding landed but the record did not; surface loudly, the
		// holding wallet now carries unaccounted funds.
		m.logger.Error().
			Str("escrow_id", id).
			Str("funding_signature", e.FundingSignature).
			Err(err).
			Msg("escrow funded but record not persisted")
		return nil, fmt.Errorf("persist escrow: %w", err)
	}

	m.logger.Info().
		Str("escrow_id", id).
		Str("payee_handle", payeeHandle).
		Uint64("amount_raw", amountRaw).
		Time("expires_at", e.ExpiresAt).
		Msg("escrow created")
	return e, nil
}

// Claim releases an open escrow to the claimer's address, applying the
// escrow's stored fee. An escrow bound to a specific identity rejects
// other claimers; an escrow past expiry is routed to Expire instead.
func (m *Manager) Claim(ctx context.Context, escrowID string, claimerTelegramID *int64, claimerAddress solana.PublicKey) (*Escrow, error) {
	unlock := m.lockEscrow(escrowID)
	defer unlock()

	e, err := m.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.Status != StatusOpen {
		return nil, payerr.ErrEscrowAlreadyProcessed
	}
	if time.Now().After(e.ExpiresAt) {
		if _, expireErr := m.expireLocked(ctx, e); expireErr != nil {
			m.logger.Warn().Str("escrow_id", escrowID).Err(expireErr).
				Msg("expiry during claim failed")
		}
		return nil, payerr.ErrEscrowExpired
	}
	if e.PayeeTelegramID != nil {
		if claimerTelegramID == nil || *claimerTelegramID != *e.PayeeTelegramID {
			return nil, payerr.Validation("claimer", "escrow is addressed to a different recipient")
		}
	}

	mint, err := token.ParseMint(e.Mint)
	if err != nil {
		return nil, err
	}
	holding, holdingKey, err := m.holdingSigner(ctx)
	if err != nil {
		return nil, err
	}
	defer keyvault.Zero(holdingKey)

	holdingAddr, err := solana.PublicKeyFromBase58(holding.Address)
	if err != nil {
		return nil, fmt.Errorf("malformed holding address: %w", err)
	}

	receipt, err := m.exec.Execute(ctx, transfer.Intent{
		From:      holdingAddr,
		To:        claimerAddress,
		Mint:      mint,
		AmountRaw: e.AmountRaw,
		FeeRaw:    e.FeeRaw,
		Mode:      transfer.ModeStandard,
		Reference: e.ID,
	}, holdingKey)
	if err != nil {
		return nil, err
	}

	if err := m.store.UpdateEscrowStatus(ctx, e.ID, StatusClaimed, receipt.Signature.String()); err != nil {
		return nil, fmt.Errorf("record claim: %w", err)
	}
	e.Status = StatusClaimed
	e.ReleaseSignature = receipt.Signature.String()

	m.logger.Info().
		Str("escrow_id", e.ID).
		Str("signature", e.ReleaseSignature).
		Msg("escrow claimed")
	return e, nil
}

// Expire refunds an open, past-expiry escrow: the full held amount
// (principal plus fee) returns to the payer with no fees. A successful
// refund transitions to refunded; a failed refund transitions to expired,
// which requires manual intervention.
func (m *Manager) Expire(ctx context.Context, escrowID string) (*Escrow, error) {
	unlock := m.lockEscrow(escrowID)
	defer unlock()

	e, err := m.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return m.expireLocked(ctx, e)
}

// expireLocked runs the refund with the escrow's lock already held.
func (m *Manager) expireLocked(ctx context.Context, e *Escrow) (*Escrow, error) {
	if e.Status != StatusOpen {
		return nil, payerr.ErrEscrowAlreadyProcessed
	}
	if time.Now().Before(e.ExpiresAt) {
		return nil, payerr.Validation("escrow", "escrow has not expired yet")
	}

	mint, err := token.ParseMint(e.Mint)
	if err != nil {
		return nil, err
	}
	payerAddr, err := solana.PublicKeyFromBase58(e.PayerAddress)
	if err != nil {
		return nil, fmt.Errorf("malformed payer address: %w", err)
	}
	holding, holdingKey, err := m.holdingSigner(ctx)
	if err != nil {
		return nil, err
	}
	defer keyvault.Zero(holdingKey)

	holdingAddr, err := solana.PublicKeyFromBase58(holding.Address)
	if err != nil {
		return nil, fmt.Errorf("malformed holding address: %w", err)
	}

	receipt, err := m.exec.Execute(ctx, transfer.Intent{
		From:      holdingAddr,
		To:        payerAddr,
		Mint:      mint,
		AmountRaw: e.AmountRaw + e.FeeRaw,
		Mode:      transfer.ModeRefund,
		Reference: e.ID,
	}, holdingKey)
	if err != nil {
		// The refund itself failed; park the escrow for manual ops
		// attention rather than retrying blindly.
		if updateErr := m.store.UpdateEscrowStatus(ctx, e.ID, StatusExpired, ""); updateErr != nil {
			m.logger.Error().Str("escrow_id", e.ID).Err(updateErr).
				Msg("failed to mark escrow expired")
		}
		metrics.EscrowsSwept.WithLabelValues("expired").Inc()
		m.logger.Error().Str("escrow_id", e.ID).Err(err).
			Msg("escrow refund failed, marked expired")
		e.Status = StatusExpired
		return e, err
	}

	if err := m.store.UpdateEscrowStatus(ctx, e.ID, StatusRefunded, receipt.Signature.String()); err != nil {
		return nil, fmt.Errorf("record refund: %w", err)
	}
	metrics.EscrowsSwept.WithLabelValues("refunded").Inc()
	e.Status = StatusRefunded
	e.ReleaseSignature = receipt.Signature.String()

	m.logger.Info().
		Str("escrow_id", e.ID).
		Str("signature", e.ReleaseSignature).
		Msg("escrow refunded after expiry")
	return e, nil
}

func (m *Manager) holdingWallet(ctx context.Context) (*wallet.Wallet, error) {
	holding, err := m.wallets.Active(ctx, m.cfg.HoldingOwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve holding wallet: %w", err)
	}
	return holding, nil
}

func (m *Manager) holdingSigner(ctx context.Context) (*wallet.Wallet, solana.PrivateKey, error) {
	holding, err := m.holdingWallet(ctx)
	if err != nil {
		return nil, nil, err
	}
	key, err := m.wallets.SigningKey(holding)
	if err != nil {
		return nil, nil, err
	}
	return holding, key, nil
}
