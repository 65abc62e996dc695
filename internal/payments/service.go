package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/fees"
	"github.com/tipforge/payengine/internal/idempotency"
	"github.com/tipforge/payengine/internal/keyvault"
	"github.com/tipforge/payengine/internal/ledger"
	"github.com/tipforge/payengine/internal/logging"
	"github.com/tipforge/payengine/internal/metrics"
	"github.com/tipforge/payengine/internal/ratelimit"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/token"
	"github.com/tipforge/payengine/internal/transfer"
	"github.com/tipforge/payengine/internal/wallet"
)

// Config tunes the operation layer.
type Config struct {
	// IdempotencyBucket is the time bucket duplicate submissions collapse
	// within. Default 2s.
	IdempotencyBucket time.Duration
	// HighValueUnit scales rate-limit cost: one extra token per started
	// multiple of this raw amount. Zero disables scaling.
	HighValueUnit uint64
	// MaxCost caps the scaled rate-limit cost. Default 3.
	MaxCost int
}

func (c *Config) applyDefaults() {
	if c.IdempotencyBucket <= 0 {
		c.IdempotencyBucket = 2 * time.Second
	}
	if c.MaxCost <= 0 {
		c.MaxCost = 3
	}
}

// Service is the engine's operation API. Construct once and inject into
// the chat-command layer.
type Service struct {
	store   Store
	tokens  token.Store
	wallets *wallet.Service
	fees    *fees.Engine
	exec    *transfer.Executor
	escrows *escrow.Manager
	limiter *ratelimit.Limiter
	idem    *idempotency.Manager
	chain   ledger.Ledger
	cfg     Config
	logger  *logging.Logger
}

// NewService wires the operation layer.
func NewService(store Store, tokens token.Store, wallets *wallet.Service, feeEngine *fees.Engine, exec *transfer.Executor, escrows *escrow.Manager, limiter *ratelimit.Limiter, idem *idempotency.Manager, chain ledger.Ledger, cfg Config) *Service {
	cfg.applyDefaults()
	return &Service{
		store:   store,
		tokens:  tokens,
		wallets: wallets,
		fees:    feeEngine,
		exec:    exec,
		escrows: escrows,
		limiter: limiter,
		idem:    idem,
		chain:   chain,
		cfg:     cfg,
		logger:  logging.New("payments"),
	}
}

// PayRequest describes one chat payment.
type PayRequest struct {
	ActorID string `json:"actor_id"`
	// ChatID, when set, adds a combined chat+user rate-limit check.
	ChatID string `json:"chat_id,omitempty"`
	// RecipientID is the resolved platform identity of the recipient;
	// empty when only a handle is known.
	RecipientID string `json:"recipient_id,omitempty"`
	// RecipientHandle addresses an escrow when the recipient has no
	// registered wallet.
	RecipientHandle     string `json:"recipient_handle,omitempty"`
	RecipientTelegramID *int64 `json:"recipient_telegram_id,omitempty"`
	AmountDisplay       string `json:"amount"`
	TickerOrMint        string `json:"token"`
	Note                string `json:"note,omitempty"`
}

// Outcome reports a completed operation.
type Outcome struct {
	PaymentID      string `json:"payment_id,omitempty"`
	EscrowID       string `json:"escrow_id,omitempty"`
	Signature      string `json:"signature,omitempty"`
	Status         Status `json:"status"`
	AmountRaw      uint64 `json:"amount_raw"`
	FeeRaw         uint64 `json:"fee_raw"`
	ServiceFeeRaw  uint64 `json:"service_fee_raw"`
	ServiceFeeMint string `json:"service_fee_mint,omitempty"`
}

// Pay sends tokens from the actor's active wallet. A recipient with a
// registered wallet receives directly; an unregistered recipient gets an
// escrow addressed to their handle instead.
func (s *Service) Pay(ctx context.Context, req PayRequest) (*Outcome, error) {
	tok, amountRaw, err := s.resolveTokenAmount(ctx, req.TickerOrMint, req.AmountDisplay)
	if err != nil {
		return nil, err
	}

	cost := ratelimit.CostForAmount(amountRaw, s.cfg.HighValueUnit, s.cfg.MaxCost)
	if !s.admit(req.ChatID, req.ActorID, "payment", cost) {
		return nil, payerr.ErrRateLimited
	}

	key := idempotency.Key(req.ActorID, "pay",
		[]string{req.RecipientID, req.RecipientHandle, req.AmountDisplay, req.TickerOrMint},
		s.cfg.IdempotencyBucket)

	result, err := s.idem.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		return s.executePay(ctx, req, tok, amountRaw)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Outcome), nil
}

func (s *Service) executePay(ctx context.Context, req PayRequest, tok *token.Token, amountRaw uint64) (*Outcome, error) {
	sender, err := s.wallets.Active(ctx, req.ActorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, payerr.Validation("sender", "no active wallet")
		}
		return nil, fmt.Errorf("resolve sender wallet: %w", err)
	}

	quote, err := s.fees.Quote(amountRaw, tok.Mint, nil)
	if err != nil {
		return nil, err
	}

	// Unregistered recipient: hold the funds in escrow instead.
	recipient, err := s.recipientAddress(ctx, req.RecipientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("resolve recipient wallet: %w", err)
		}
		return s.escrowFor(ctx, req, sender, tok, amountRaw, quote.FeeRaw)
	}

	return s.directTransfer(ctx, req, sender, recipient, tok, amountRaw, quote)
}

func (s *Service) directTransfer(ctx context.Context, req PayRequest, sender *wallet.Wallet, recipient solana.PublicKey, tok *token.Token, amountRaw uint64, quote fees.Quote) (*Outcome, error) {
	senderAddr, err := solana.PublicKeyFromBase58(sender.Address)
	if err != nil {
		return nil, fmt.Errorf("malformed sender address: %w", err)
	}

	now := time.Now().UTC()
	p := &Payment{
		ID:               uuid.NewString(),
		SenderID:         req.ActorID,
		SenderWalletID:   sender.ID,
		RecipientAddress: recipient.String(),
		Mint:             tok.Mint.String(),
		AmountRaw:        amountRaw,
		FeeRaw:           quote.FeeRaw,
		ServiceFeeRaw:    quote.ServiceFeeRaw,
		ServiceFeeMint:   quote.ServiceFeeMint.String(),
		Status:           StatusPending,
		Note:             req.Note,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("persist payment: %w", err)
	}

	key, err := s.wallets.SigningKey(sender)
	if err != nil {
		s.markPayment(ctx, p.ID, StatusFailed, "", "key unseal failed")
		return nil, err
	}
	defer keyvault.Zero(key)

	s.markPayment(ctx, p.ID, StatusAwaitingConfirmation, "", "")

	receipt, err := s.exec.Execute(ctx, transfer.Intent{
		From:           senderAddr,
		To:             recipient,
		Mint:           tok.Mint,
		AmountRaw:      amountRaw,
		FeeRaw:         quote.FeeRaw,
		ServiceFeeRaw:  quote.ServiceFeeRaw,
		ServiceFeeMint: quote.ServiceFeeMint,
		Mode:           transfer.ModeStandard,
		Reference:      p.ID,
	}, key)
	if err != nil {
		if payerr.Indeterminate(err) {
			// Submitted but unconfirmed; a status poll resolves it.
			s.markPayment(ctx, p.ID, StatusSent, signatureOf(err), err.Error())
			return nil, err
		}
		s.markPayment(ctx, p.ID, StatusFailed, "", err.Error())
		return nil, err
	}

	s.markPayment(ctx, p.ID, StatusConfirmed, receipt.Signature.String(), "")
	return &Outcome{
		PaymentID:      p.ID,
		Signature:      receipt.Signature.String(),
		Status:         StatusConfirmed,
		AmountRaw:      amountRaw,
		FeeRaw:         quote.FeeRaw,
		ServiceFeeRaw:  quote.ServiceFeeRaw,
		ServiceFeeMint: quote.ServiceFeeMint.String(),
	}, nil
}

func (s *Service) escrowFor(ctx context.Context, req PayRequest, sender *wallet.Wallet, tok *token.Token, amountRaw, feeRaw uint64) (*Outcome, error) {
	if req.RecipientHandle == "" {
		return nil, payerr.Validation("recipient", "recipient has no wallet and no handle to escrow for")
	}

	key, err := s.wallets.SigningKey(sender)
	if err != nil {
		return nil, err
	}
	defer keyvault.Zero(key)

	e, err := s.escrows.Create(ctx, sender, key, req.RecipientHandle,
		req.RecipientTelegramID, tok.Mint, amountRaw, feeRaw)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		EscrowID:  e.ID,
		Signature: e.FundingSignature,
		Status:    StatusConfirmed,
		AmountRaw: amountRaw,
		FeeRaw:    feeRaw,
	}, nil
}

// WithdrawRequest moves funds out of custody to an external address.
type WithdrawRequest struct {
	ActorID            string `json:"actor_id"`
	DestinationAddress string `json:"destination"`
	AmountDisplay      string `json:"amount"`
	TickerOrMint       string `json:"token"`
}

// Withdraw sends the principal to an external address with both fee legs
// suppressed.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (*Outcome, error) {
	tok, amountRaw, err := s.resolveTokenAmount(ctx, req.TickerOrMint, req.AmountDisplay)
	if err != nil {
		return nil, err
	}
	dest, err := solana.PublicKeyFromBase58(req.DestinationAddress)
	if err != nil {
		return nil, payerr.Validation("destination", "malformed destination address")
	}

	cost := ratelimit.CostForAmount(amountRaw, s.cfg.HighValueUnit, s.cfg.MaxCost)
	if !s.admit("", req.ActorID, "withdraw", cost) {
		return nil, payerr.ErrRateLimited
	}

	key := idempotency.Key(req.ActorID, "withdraw",
		[]string{req.DestinationAddress, req.AmountDisplay, req.TickerOrMint},
		s.cfg.IdempotencyBucket)

	result, err := s.idem.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		sender, err := s.wallets.Active(ctx, req.ActorID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, payerr.Validation("sender", "no active wallet")
			}
			return nil, fmt.Errorf("resolve sender wallet: %w", err)
		}
		senderAddr, err := solana.PublicKeyFromBase58(sender.Address)
		if err != nil {
			return nil, fmt.Errorf("malformed sender address: %w", err)
		}

		signingKey, err := s.wallets.SigningKey(sender)
		if err != nil {
			return nil, err
		}
		defer keyvault.Zero(signingKey)

		receipt, err := s.exec.Execute(ctx, transfer.Intent{
			From:      senderAddr,
			To:        dest,
			Mint:      tok.Mint,
			AmountRaw: amountRaw,
			Mode:      transfer.ModeWithdrawal,
			Reference: "withdraw:" + req.ActorID,
		}, signingKey)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			Signature: receipt.Signature.String(),
			Status:    StatusConfirmed,
			AmountRaw: amountRaw,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Outcome), nil
}

// EscrowRequest creates an escrow payment explicitly.
type EscrowRequest struct {
	ActorID             string `json:"actor_id"`
	ChatID              string `json:"chat_id,omitempty"`
	RecipientHandle     string `json:"recipient_handle"`
	RecipientTelegramID *int64 `json:"recipient_telegram_id,omitempty"`
	AmountDisplay       string `json:"amount"`
	TickerOrMint        string `json:"token"`
}

// CreateEscrowPayment escrows funds for a recipient who has not onboarded.
func (s *Service) CreateEscrowPayment(ctx context.Context, req EscrowRequest) (*Outcome, error) {
	tok, amountRaw, err := s.resolveTokenAmount(ctx, req.TickerOrMint, req.AmountDisplay)
	if err != nil {
		return nil, err
	}
	if !s.admit(req.ChatID, req.ActorID, "escrow", 1) {
		return nil, payerr.ErrRateLimited
	}

	key := idempotency.Key(req.ActorID, "escrow_create",
		[]string{req.RecipientHandle, req.AmountDisplay, req.TickerOrMint},
		s.cfg.IdempotencyBucket)

	result, err := s.idem.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		sender, err := s.wallets.Active(ctx, req.ActorID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, payerr.Validation("sender", "no active wallet")
			}
			return nil, fmt.Errorf("resolve sender wallet: %w", err)
		}
		quote, err := s.fees.Quote(amountRaw, tok.Mint, nil)
		if err != nil {
			return nil, err
		}
		return s.escrowFor(ctx, PayRequest{
			ActorID:             req.ActorID,
			RecipientHandle:     req.RecipientHandle,
			RecipientTelegramID: req.RecipientTelegramID,
		}, sender, tok, amountRaw, quote.FeeRaw)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Outcome), nil
}

// ClaimRequest claims an escrow into the actor's active wallet.
type ClaimRequest struct {
	ActorID         string `json:"actor_id"`
	EscrowID        string `json:"escrow_id"`
	ActorTelegramID *int64 `json:"actor_telegram_id,omitempty"`
}

// ClaimEscrow releases an open escrow to the claiming actor.
func (s *Service) ClaimEscrow(ctx context.Context, req ClaimRequest) (*Outcome, error) {
	if !s.admit("", req.ActorID, "escrow", 1) {
		return nil, payerr.ErrRateLimited
	}

	key := idempotency.Key(req.ActorID, "escrow_claim",
		[]string{req.EscrowID}, s.cfg.IdempotencyBucket)

	result, err := s.idem.Do(ctx, key, func(ctx context.Context) (interface{}, error) {
		claimer, err := s.wallets.Active(ctx, req.ActorID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, payerr.Validation("claimer", "no active wallet; onboard first")
			}
			return nil, fmt.Errorf("resolve claimer wallet: %w", err)
		}
		claimerAddr, err := solana.PublicKeyFromBase58(claimer.Address)
		if err != nil {
			return nil, fmt.Errorf("malformed claimer address: %w", err)
		}

		e, err := s.escrows.Claim(ctx, req.EscrowID, req.ActorTelegramID, claimerAddr)
		if err != nil {
			return nil, err
		}
		return &Outcome{
			EscrowID:  e.ID,
			Signature: e.ReleaseSignature,
			Status:    StatusConfirmed,
			AmountRaw: e.AmountRaw,
			FeeRaw:    e.FeeRaw,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Outcome), nil
}

// ResolvePayment re-checks a sent-but-unconfirmed payment against the
// ledger and settles its record. This is the "check status" path for
// indeterminate outcomes.
func (s *Service) ResolvePayment(ctx context.Context, paymentID string) (*Payment, error) {
	p, err := s.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusSent || p.Signature == "" {
		return p, nil
	}

	sig, err := solana.SignatureFromBase58(p.Signature)
	if err != nil {
		return nil, fmt.Errorf("malformed stored signature: %w", err)
	}
	conf, err := s.chain.AwaitConfirmation(ctx, sig)
	if err != nil {
		// Still unknown; leave the record as sent.
		return p, nil
	}
	if conf.Rejected {
		s.markPayment(ctx, p.ID, StatusFailed, p.Signature, conf.Details)
		p.Status = StatusFailed
		p.Detail = conf.Details
		return p, nil
	}
	s.markPayment(ctx, p.ID, StatusConfirmed, p.Signature, "")
	p.Status = StatusConfirmed
	return p, nil
}

func (s *Service) resolveTokenAmount(ctx context.Context, tickerOrMint, amountDisplay string) (*token.Token, uint64, error) {
	rec, err := s.tokens.FindToken(ctx, tickerOrMint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, payerr.Validation("token", fmt.Sprintf("unknown token %q", tickerOrMint))
		}
		return nil, 0, fmt.Errorf("resolve token: %w", err)
	}
	tok, err := rec.Resolve()
	if err != nil {
		return nil, 0, err
	}
	if !tok.Enabled {
		return nil, 0, payerr.Validation("token", fmt.Sprintf("token %s is disabled", tok.Ticker))
	}
	amountRaw, err := token.ParseAmount(amountDisplay, tok.Decimals)
	if err != nil {
		return nil, 0, err
	}
	return tok, amountRaw, nil
}

func (s *Service) recipientAddress(ctx context.Context, recipientID string) (solana.PublicKey, error) {
	if recipientID == "" {
		return solana.PublicKey{}, storage.ErrNotFound
	}
	w, err := s.wallets.Active(ctx, recipientID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	addr, err := solana.PublicKeyFromBase58(w.Address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("malformed recipient address: %w", err)
	}
	return addr, nil
}

func (s *Service) admit(chatID, actorID, class string, cost int) bool {
	var ok bool
	if chatID != "" {
		ok = s.limiter.AllowPair(chatID, actorID, class, cost)
	} else {
		ok = s.limiter.Allow(actorID, class, cost)
	}
	if !ok {
		metrics.RateLimitRejections.WithLabelValues(class).Inc()
	}
	return ok
}

func (s *Service) markPayment(ctx context.Context, id string, status Status, signature, detail string) {
	if err := s.store.UpdatePaymentStatus(ctx, id, status, signature, detail); err != nil {
		s.logger.Error().
			Str("payment_id", id).
			Str("status", string(status)).
			Err(err).
			Msg("failed to update payment record")
	}
}

// signatureOf digs the submitted signature out of an indeterminate error
// when present.
func signatureOf(err error) string {
	var sf *payerr.SubmissionFailed
	if errors.As(err, &sf) {
		return sf.Signature
	}
	return ""
}
