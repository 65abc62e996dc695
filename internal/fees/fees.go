// Package fees computes the network fee and service fee for a transfer.
//
// Fees are additive: the recipient always receives exactly the requested
// amount and the sender's debit grows by the fee legs. The service fee is
// charged in the transferred token only when that token is on the blue-chip
// allow-list the fee treasury is willing to accumulate; otherwise it falls
// back to a flat amount in the ledger's native coin, because the engine does
// no cross-token price conversion.
package fees

import (
	"sync"

	"github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/token"
)

const bpsDenominator = 10_000

// Config holds the fee policy. PerMintMinimum keys are mint strings as
// produced by token.Mint.String().
type Config struct {
	// FeeBps is the default network fee in basis points (50 = 0.50%).
	FeeBps uint32 `yaml:"fee_bps"`
	// ServiceFeeBps is the service fee in basis points (25 = 0.25%).
	ServiceFeeBps uint32 `yaml:"service_fee_bps"`
	// GlobalMinimum is the network-fee floor applied when a mint has no
	// override, in raw units of the transferred token.
	GlobalMinimum uint64 `yaml:"global_minimum"`
	// PerMintMinimum overrides the network-fee floor per mint.
	PerMintMinimum map[string]uint64 `yaml:"per_mint_minimum"`
	// BlueChipMints lists the mints the service-fee treasury accepts
	// directly.
	BlueChipMints []string `yaml:"blue_chip_mints"`
	// NativeFallbackFee is the flat service fee, in native raw units,
	// charged when the transferred token is not blue-chip.
	NativeFallbackFee uint64 `yaml:"native_fallback_fee"`
}

// Quote is the fee breakdown for one transfer.
type Quote struct {
	// FeeRaw is the network fee in the transferred token's raw units.
	FeeRaw uint64
	// ServiceFeeRaw is the service fee in ServiceFeeMint's raw units.
	ServiceFeeRaw uint64
	// ServiceFeeMint is the token the service fee is charged in.
	ServiceFeeMint token.Mint
	// NetToRecipient is always the requested amount; the recipient is
	// insulated from fees.
	NetToRecipient uint64
}

// TotalDebitSameMint returns the sender's debit in the transferred token,
// excluding any native-denominated fallback service fee.
func (q Quote) TotalDebitSameMint(amountRaw uint64, transferMint token.Mint) uint64 {
	total := amountRaw + q.FeeRaw
	if q.ServiceFeeMint == transferMint {
		total += q.ServiceFeeRaw
	}
	return total
}

// Engine computes fee quotes. Pure aside from reading its configuration;
// safe for concurrent use.
type Engine struct {
	mu       sync.RWMutex
	cfg      Config
	blueChip map[token.Mint]struct{}
}

// NewEngine constructs an Engine from a fee policy.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.FeeBps >= bpsDenominator {
		return nil, errors.Validation("fee_bps", "must be below 10000")
	}
	blueChip := make(map[token.Mint]struct{}, len(cfg.BlueChipMints))
	for _, s := range cfg.BlueChipMints {
		m, err := token.ParseMint(s)
		if err != nil {
			return nil, err
		}
		blueChip[m] = struct{}{}
	}
	return &Engine{cfg: cfg, blueChip: blueChip}, nil
}

// Quote computes the fee legs for transferring amountRaw of mint.
// overrideBps, when non-nil, replaces the configured network fee rate for
// this quote only (withdrawals and promotions use this).
func (e *Engine) Quote(amountRaw uint64, mint token.Mint, overrideBps *uint32) (Quote, error) {
	if amountRaw == 0 {
		return Quote{}, errors.Validation("amount", "amount must be positive")
	}

	e.mu.RLock()
	cfg := e.cfg
	_, blueChip := e.blueChip[mint]
	e.mu.RUnlock()

	bps := cfg.FeeBps
	if overrideBps != nil {
		if *overrideBps >= bpsDenominator {
			return Quote{}, errors.Validation("fee_bps", "override must be below 10000")
		}
		bps = *overrideBps
	}

	fee := mulBps(amountRaw, bps)
	if min := e.minimumFor(cfg, mint); fee < min {
		fee = min
	}
	if fee >= amountRaw {
		return Quote{}, errors.ErrFeeTooLarge
	}

	q := Quote{
		FeeRaw:         fee,
		NetToRecipient: amountRaw,
	}
	if blueChip {
		q.ServiceFeeRaw = mulBps(amountRaw, cfg.ServiceFeeBps)
		q.ServiceFeeMint = mint
	} else {
		q.ServiceFeeRaw = cfg.NativeFallbackFee
		q.ServiceFeeMint = token.Native()
	}
	return q, nil
}

// Update replaces the fee policy at runtime.
func (e *Engine) Update(cfg Config) error {
	fresh, err := NewEngine(cfg)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = fresh.cfg
	e.blueChip = fresh.blueChip
	e.mu.Unlock()
	return nil
}

func (e *Engine) minimumFor(cfg Config, mint token.Mint) uint64 {
	if min, ok := cfg.PerMintMinimum[mint.String()]; ok {
		return min
	}
	return cfg.GlobalMinimum
}

// mulBps computes amount*bps/10000 without intermediate overflow.
func mulBps(amount uint64, bps uint32) uint64 {
	hi := amount / bpsDenominator
	lo := amount % bpsDenominator
	return hi*uint64(bps) + lo*uint64(bps)/bpsDenominator
}
