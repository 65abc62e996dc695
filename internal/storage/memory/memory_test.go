package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/payments"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/token"
	"github.com/tipforge/payengine/internal/wallet"
)

func TestFindToken_ByTickerAndMint(t *testing.T) {
	s := New()
	s.PutToken(token.Record{Mint: "native", Ticker: "SOL", Decimals: 9, Enabled: true})
	s.PutToken(token.Record{
		Mint: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Ticker: "USDC", Decimals: 6, Enabled: true,
	})
	ctx := context.Background()

	for _, lookup := range []string{"USDC", "usdc", "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"} {
		rec, err := s.FindToken(ctx, lookup)
		if err != nil {
			t.Fatalf("FindToken(%q): %v", lookup, err)
		}
		if rec.Ticker != "USDC" {
			t.Fatalf("FindToken(%q) resolved %q", lookup, rec.Ticker)
		}
	}

	if _, err := s.FindToken(ctx, "DOGE"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWalletLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := &wallet.Wallet{ID: "w1", OwnerID: "o1", Address: "addr1", IsActive: true}
	if err := s.CreateWallet(ctx, w); err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	byAddr, err := s.FindWalletByAddress(ctx, "addr1")
	if err != nil {
		t.Fatalf("FindWalletByAddress: %v", err)
	}
	if byAddr.ID != "w1" {
		t.Fatalf("expected w1, got %s", byAddr.ID)
	}

	// The exception ID spares the named wallet.
	if err := s.DeactivateWallets(ctx, "o1", "w1"); err != nil {
		t.Fatalf("DeactivateWallets: %v", err)
	}
	if _, err := s.FindActiveWallet(ctx, "o1"); err != nil {
		t.Fatalf("expected excepted wallet to stay active, got %v", err)
	}

	if err := s.DeactivateWallets(ctx, "o1", ""); err != nil {
		t.Fatalf("DeactivateWallets: %v", err)
	}
	if _, err := s.FindActiveWallet(ctx, "o1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected no active wallet, got %v", err)
	}

	if err := s.SetWalletActive(ctx, "w1", true); err != nil {
		t.Fatalf("SetWalletActive: %v", err)
	}
	active, err := s.FindActiveWallet(ctx, "o1")
	if err != nil {
		t.Fatalf("FindActiveWallet: %v", err)
	}
	if active.ID != "w1" {
		t.Fatalf("expected reactivated w1, got %s", active.ID)
	}

	if err := s.SetWalletActive(ctx, "missing", true); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePaymentStatus_EmptySignatureKeepsExisting(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := &payments.Payment{ID: "p1", Status: payments.StatusPending}
	if err := s.CreatePayment(ctx, p); err != nil {
		t.Fatalf("CreatePayment: %v", err)
	}

	if err := s.UpdatePaymentStatus(ctx, "p1", payments.StatusSent, "sig-1", "await"); err != nil {
		t.Fatalf("UpdatePaymentStatus: %v", err)
	}
	// A later status-only update must not erase the stored signature.
	if err := s.UpdatePaymentStatus(ctx, "p1", payments.StatusConfirmed, "", ""); err != nil {
		t.Fatalf("UpdatePaymentStatus: %v", err)
	}

	got, err := s.GetPayment(ctx, "p1")
	if err != nil {
		t.Fatalf("GetPayment: %v", err)
	}
	if got.Status != payments.StatusConfirmed || got.Signature != "sig-1" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if err := s.UpdatePaymentStatus(ctx, "missing", payments.StatusFailed, "", ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListExpiredOpen_OrderAndLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	mk := func(id string, expiresAt time.Time, status escrow.Status) {
		if err := s.CreateEscrow(ctx, &escrow.Escrow{ID: id, Status: status, ExpiresAt: expiresAt}); err != nil {
			t.Fatalf("CreateEscrow(%s): %v", id, err)
		}
	}
	mk("late", now.Add(-time.Minute), escrow.StatusOpen)
	mk("early", now.Add(-time.Hour), escrow.StatusOpen)
	mk("future", now.Add(time.Hour), escrow.StatusOpen)
	mk("claimed", now.Add(-time.Hour), escrow.StatusClaimed)

	out, err := s.ListExpiredOpen(ctx, now, 10)
	if err != nil {
		t.Fatalf("ListExpiredOpen: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 expired open escrows, got %d", len(out))
	}
	if out[0].ID != "early" || out[1].ID != "late" {
		t.Fatalf("expected oldest-first order, got %s, %s", out[0].ID, out[1].ID)
	}

	limited, err := s.ListExpiredOpen(ctx, now, 1)
	if err != nil {
		t.Fatalf("ListExpiredOpen: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "early" {
		t.Fatalf("expected the single oldest escrow, got %+v", limited)
	}
}

func TestGetEscrow_ReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.CreateEscrow(ctx, &escrow.Escrow{ID: "e1", Status: escrow.StatusOpen}); err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}

	first, _ := s.GetEscrow(ctx, "e1")
	first.Status = escrow.StatusClaimed

	second, _ := s.GetEscrow(ctx, "e1")
	if second.Status != escrow.StatusOpen {
		t.Fatal("mutating a returned escrow must not touch the store")
	}
}
