package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/tipforge/payengine/internal/logging"
)

// Config holds Solana RPC client configuration.
type Config struct {
	Endpoint string
	// Commitment used for balance probes and submissions. Defaults to
	// confirmed.
	Commitment rpc.CommitmentType
	// ConfirmPollInterval is how often AwaitConfirmation re-checks a
	// signature. Defaults to 2s.
	ConfirmPollInterval time.Duration
}

// Client implements Ledger against a Solana JSON-RPC node.
type Client struct {
	rpc    *rpc.Client
	cfg    Config
	logger *logging.Logger
}

// NewClient creates a Solana ledger client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("RPC endpoint required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmPollInterval <= 0 {
		cfg.ConfirmPollInterval = 2 * time.Second
	}
	return &Client{
		rpc:    rpc.New(cfg.Endpoint),
		cfg:    cfg,
		logger: logging.New("ledger"),
	}, nil
}

// NativeBalance returns the lamport balance of addr; zero for a missing
// account.
func (c *Client) NativeBalance(ctx context.Context, addr solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, addr, c.cfg.Commitment)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return out.Value, nil
}

// TokenBalance returns the raw balance of the owner's associated token
// account for mint; zero when the account does not exist yet.
func (c *Client) TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, fmt.Errorf("derive token account: %w", err)
	}

	out, err := c.rpc.GetTokenAccountBalance(ctx, ata, c.cfg.Commitment)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	if out.Value == nil {
		return 0, nil
	}

	raw, err := strconv.ParseUint(out.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", out.Value.Amount, err)
	}
	return raw, nil
}

// AccountExists probes for an on-chain account.
func (c *Client) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	out, err := c.rpc.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("get account info: %w", err)
	}
	return out != nil && out.Value != nil, nil
}

// RentExemptMinimum returns the rent-exemption floor for a zero-data
// account.
func (c *Client) RentExemptMinimum(ctx context.Context) (uint64, error) {
	lamports, err := c.rpc.GetMinimumBalanceForRentExemption(ctx, 0, c.cfg.Commitment)
	if err != nil {
		return 0, fmt.Errorf("get rent exemption: %w", err)
	}
	return lamports, nil
}

// LatestBlockhash fetches a fresh blockhash at finalized commitment.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := c.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return out.Value.Blockhash, nil
}

// Submit sends a signed transaction with preflight at the configured
// commitment.
func (c *Client) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

// AwaitConfirmation polls signature status until confirmed commitment, a
// ledger rejection, or ctx cancellation. Cancellation leaves the outcome
// unknown; the caller must poll later rather than resubmit.
func (c *Client) AwaitConfirmation(ctx context.Context, sig solana.Signature) (Confirmation, error) {
	ticker := time.NewTicker(c.cfg.ConfirmPollInterval)
	defer ticker.Stop()

	for {
		out, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
		if err == nil && len(out.Value) > 0 && out.Value[0] != nil {
			st := out.Value[0]
			if st.Err != nil {
				return Confirmation{
					Signature: sig,
					Rejected:  true,
					Details:   fmt.Sprintf("%v", st.Err),
				}, nil
			}
			switch st.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return Confirmation{Signature: sig}, nil
			}
		}
		if err != nil {
			c.logger.Debug().Err(err).Str("signature", sig.String()).Msg("status poll failed")
		}

		select {
		case <-ctx.Done():
			return Confirmation{Signature: sig}, ctx.Err()
		case <-ticker.C:
		}
	}
}

var _ Ledger = (*Client)(nil)
