package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	tokenprog "github.com/gagliardetto/solana-go/programs/token"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/ledger"
	"github.com/tipforge/payengine/internal/logging"
	"github.com/tipforge/payengine/internal/metrics"
)

// Config holds executor configuration.
type Config struct {
	// FeeTreasury receives the network-fee leg.
	FeeTreasury solana.PublicKey
	// ServiceFeeTreasury receives the service-fee leg.
	ServiceFeeTreasury solana.PublicKey
	// EstimatedTxFee is the fixed native transaction-fee estimate reserved
	// out of the sender's balance before the sufficiency check. Defaults
	// to 5000 lamports.
	EstimatedTxFee uint64
	// ConfirmTimeout bounds how long Execute waits for confirmation.
	// Defaults to 90s. Only the wait is bounded; a timed-out wait leaves
	// the outcome unknown.
	ConfirmTimeout time.Duration
}

// Receipt reports a confirmed transfer.
type Receipt struct {
	Signature solana.Signature
	// FundedRaw is the total rent-exemption top-up added across legs so
	// freshly created accounts stay viable.
	FundedRaw uint64
}

// Executor performs balance-checked atomic transfers. All ledger access
// goes through the injected Ledger; Execute never retries a submission.
type Executor struct {
	ledger ledger.Ledger
	cfg    Config
	logger *logging.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(l ledger.Ledger, cfg Config) (*Executor, error) {
	if cfg.FeeTreasury.IsZero() || cfg.ServiceFeeTreasury.IsZero() {
		return nil, fmt.Errorf("fee treasuries required")
	}
	if cfg.EstimatedTxFee == 0 {
		cfg.EstimatedTxFee = 5_000
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	return &Executor{
		ledger: l,
		cfg:    cfg,
		logger: logging.New("transfer"),
	}, nil
}

// plan is a fully balance-checked set of instructions. Nothing is submitted
// until a plan exists; a failed check therefore submits zero instructions.
type plan struct {
	instructions []solana.Instruction
	fundedRaw    uint64
}

// Execute runs the full transfer algorithm: resolve balances, compute rent
// top-ups, verify the sender covers the total debit, build one atomic
// multi-leg transaction, sign, submit, and await confirmed commitment.
func (e *Executor) Execute(ctx context.Context, intent Intent, signingKey solana.PrivateKey) (*Receipt, error) {
	if err := intent.Validate(); err != nil {
		return nil, err
	}
	if !signingKey.PublicKey().Equals(intent.From) {
		e.logger.SecurityEvent("signing_key_mismatch", map[string]interface{}{
			"from":      intent.From.String(),
			"reference": intent.Reference,
		})
		return nil, payerr.ErrAuthentication
	}

	mode := string(intent.mode())

	var (
		p   *plan
		err error
	)
	if intent.Mint.IsNative() {
		p, err = e.planNative(ctx, intent)
	} else {
		p, err = e.planSPL(ctx, intent)
	}
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(mode, "plan").Inc()
		return nil, err
	}

	blockhash, err := e.ledger.LatestBlockhash(ctx)
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(mode, "blockhash").Inc()
		return nil, fmt.Errorf("fetch blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(p.instructions, blockhash, solana.TransactionPayer(intent.From))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(intent.From) {
			return &signingKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	sig, err := e.ledger.Submit(ctx, tx)
	if err != nil {
		metrics.TransfersFailed.WithLabelValues(mode, "submit").Inc()
		// The signature is known from signing even when submission errors;
		// the transaction may still have reached the cluster, and status
		// polling needs it to settle the outcome.
		return nil, &payerr.SubmissionFailed{Stage: "submit", Signature: tx.Signatures[0].String(), Err: err}
	}
	metrics.TransfersSubmitted.WithLabelValues(mode).Inc()
	e.logger.Info().
		Str("signature", sig.String()).
		Str("mode", mode).
		Str("reference", intent.Reference).
		Uint64("amount_raw", intent.AmountRaw).
		Msg("transaction submitted")

	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	defer cancel()

	conf, err := e.ledger.AwaitConfirmation(confirmCtx, sig)
	if err != nil {
		// The transaction is in flight; the wait ended, not the transfer.
		metrics.TransfersFailed.WithLabelValues(mode, "confirm").Inc()
		return nil, &payerr.SubmissionFailed{Stage: "confirm", Signature: sig.String(), Err: err}
	}
	if conf.Rejected {
		metrics.TransfersRejected.WithLabelValues(mode).Inc()
		e.logger.Warn().
			Str("signature", sig.String()).
			Str("details", conf.Details).
			Msg("transaction rejected by ledger")
		return nil, &payerr.TransferRejected{Signature: sig.String(), Details: conf.Details}
	}

	metrics.TransfersConfirmed.WithLabelValues(mode).Inc()
	return &Receipt{Signature: sig, FundedRaw: p.fundedRaw}, nil
}

// planNative resolves balances and top-ups for a native-coin transfer. All
// legs and the transaction fee draw on the sender's single native balance.
func (e *Executor) planNative(ctx context.Context, intent Intent) (*plan, error) {
	if intent.FeesApply() && intent.ServiceFeeRaw > 0 && !intent.ServiceFeeMint.IsNative() {
		return nil, payerr.Validation("service_fee_mint",
			"native transfers carry a native service fee")
	}

	rentMin, err := e.ledger.RentExemptMinimum(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve rent floor: %w", err)
	}
	senderBal, err := e.ledger.NativeBalance(ctx, intent.From)
	if err != nil {
		return nil, fmt.Errorf("resolve sender balance: %w", err)
	}

	var funded uint64

	// Recipient principal, topped up for a brand-new account.
	principal := intent.AmountRaw
	recipBal, err := e.ledger.NativeBalance(ctx, intent.To)
	if err != nil {
		return nil, fmt.Errorf("resolve recipient balance: %w", err)
	}
	if recipBal == 0 {
		principal += rentMin
		funded += rentMin
	}

	feeAmt, topUp, err := e.nativeLegAmount(ctx, intent, intent.FeeRaw, e.cfg.FeeTreasury, rentMin)
	if err != nil {
		return nil, err
	}
	funded += topUp

	svcAmt, topUp, err := e.nativeLegAmount(ctx, intent, intent.ServiceFeeRaw, e.cfg.ServiceFeeTreasury, rentMin)
	if err != nil {
		return nil, err
	}
	funded += topUp

	required := principal + feeAmt + svcAmt
	available := uint64(0)
	if senderBal > e.cfg.EstimatedTxFee {
		available = senderBal - e.cfg.EstimatedTxFee
	}
	if available < required {
		return nil, &payerr.InsufficientFunds{
			Mint:      "native",
			Required:  required,
			Available: available,
		}
	}

	instrs := []solana.Instruction{
		system.NewTransferInstruction(principal, intent.From, intent.To).Build(),
	}
	if feeAmt > 0 {
		instrs = append(instrs,
			system.NewTransferInstruction(feeAmt, intent.From, e.cfg.FeeTreasury).Build())
	}
	if svcAmt > 0 {
		instrs = append(instrs,
			system.NewTransferInstruction(svcAmt, intent.From, e.cfg.ServiceFeeTreasury).Build())
	}
	return &plan{instructions: instrs, fundedRaw: funded}, nil
}

// nativeLegAmount sizes a native fee leg, topping the treasury up to the
// rent floor when it sits below it. Suppressed entirely for modes that do
// not charge fees.
func (e *Executor) nativeLegAmount(ctx context.Context, intent Intent, raw uint64, treasury solana.PublicKey, rentMin uint64) (amount, topUp uint64, err error) {
	if !intent.FeesApply() || raw == 0 {
		return 0, 0, nil
	}
	bal, err := e.ledger.NativeBalance(ctx, treasury)
	if err != nil {
		return 0, 0, fmt.Errorf("resolve treasury balance: %w", err)
	}
	amount = raw
	if bal < rentMin {
		topUp = rentMin - bal
		amount += topUp
	}
	return amount, topUp, nil
}

// planSPL resolves balances and account creation for an SPL-token transfer.
// The token legs draw on the sender's token balance; account creation, the
// transaction fee, and a native-denominated service fee draw on the
// sender's native balance.
func (e *Executor) planSPL(ctx context.Context, intent Intent) (*plan, error) {
	mint, _ := intent.Mint.Address()

	rentMin, err := e.ledger.RentExemptMinimum(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve rent floor: %w", err)
	}

	tokenBal, err := e.ledger.TokenBalance(ctx, intent.From, mint)
	if err != nil {
		return nil, fmt.Errorf("resolve sender token balance: %w", err)
	}
	nativeBal, err := e.ledger.NativeBalance(ctx, intent.From)
	if err != nil {
		return nil, fmt.Errorf("resolve sender native balance: %w", err)
	}

	feeRaw := uint64(0)
	svcSameMint := uint64(0)
	svcNative := uint64(0)
	if intent.FeesApply() {
		feeRaw = intent.FeeRaw
		if intent.ServiceFeeRaw > 0 {
			if intent.ServiceFeeMint == intent.Mint {
				svcSameMint = intent.ServiceFeeRaw
			} else if intent.ServiceFeeMint.IsNative() {
				svcNative = intent.ServiceFeeRaw
			} else {
				return nil, payerr.Validation("service_fee_mint",
					"service fee must be in the transferred token or native")
			}
		}
	}

	requiredToken := intent.AmountRaw + feeRaw + svcSameMint
	if tokenBal < requiredToken {
		return nil, &payerr.InsufficientFunds{
			Mint:      intent.Mint.String(),
			Required:  requiredToken,
			Available: tokenBal,
		}
	}

	fromATA, _, err := solana.FindAssociatedTokenAddress(intent.From, mint)
	if err != nil {
		return nil, fmt.Errorf("derive sender token account: %w", err)
	}

	var (
		creates   []solana.Instruction
		transfers []solana.Instruction
		funded    uint64
	)

	// destLeg derives the owner's token account, scheduling its creation
	// (rent paid by the sender) when it does not exist yet.
	destLeg := func(owner solana.PublicKey, amount uint64) error {
		if amount == 0 {
			return nil
		}
		destATA, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return fmt.Errorf("derive token account: %w", err)
		}
		exists, err := e.ledger.AccountExists(ctx, destATA)
		if err != nil {
			return fmt.Errorf("probe token account: %w", err)
		}
		if !exists {
			creates = append(creates,
				ata.NewCreateInstruction(intent.From, owner, mint).Build())
			funded += rentMin
		}
		transfers = append(transfers,
			tokenprog.NewTransferInstruction(amount, fromATA, destATA, intent.From, nil).Build())
		return nil
	}

	if err := destLeg(intent.To, intent.AmountRaw); err != nil {
		return nil, err
	}
	if err := destLeg(e.cfg.FeeTreasury, feeRaw); err != nil {
		return nil, err
	}
	if err := destLeg(e.cfg.ServiceFeeTreasury, svcSameMint); err != nil {
		return nil, err
	}

	requiredNative := e.cfg.EstimatedTxFee + funded + svcNative
	if nativeBal < requiredNative {
		return nil, &payerr.InsufficientFunds{
			Mint:      "native",
			Required:  requiredNative,
			Available: nativeBal,
		}
	}

	instrs := append(creates, transfers...)
	if svcNative > 0 {
		instrs = append(instrs,
			system.NewTransferInstruction(svcNative, intent.From, e.cfg.ServiceFeeTreasury).Build())
	}
	return &plan{instructions: instrs, fundedRaw: funded}, nil
}
