// Package memory provides an in-memory implementation of the engine's
// store interfaces. It is safe for concurrent use and is primarily
// intended for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tipforge/payengine/internal/escrow"
	"github.com/tipforge/payengine/internal/payments"
	"github.com/tipforge/payengine/internal/storage"
	"github.com/tipforge/payengine/internal/token"
	"github.com/tipforge/payengine/internal/wallet"
)

// Store holds all records in process memory.
type Store struct {
	mu       sync.RWMutex
	wallets  map[string]wallet.Wallet
	tokens   map[string]token.Record // keyed by upper-cased ticker
	payments map[string]payments.Payment
	escrows  map[string]escrow.Escrow
}

var (
	_ wallet.Store   = (*Store)(nil)
	_ token.Store    = (*Store)(nil)
	_ payments.Store = (*Store)(nil)
	_ escrow.Store   = (*Store)(nil)
)

// New creates an empty store.
func New() *Store {
	return &Store{
		wallets:  make(map[string]wallet.Wallet),
		tokens:   make(map[string]token.Record),
		payments: make(map[string]payments.Payment),
		escrows:  make(map[string]escrow.Escrow),
	}
}

// --- wallet.Store -----------------------------------------------------------

func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wallets[w.ID] = *w
	return nil
}

func (s *Store) GetWallet(ctx context.Context, id string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.wallets[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &w, nil
}

func (s *Store) FindActiveWallet(ctx context.Context, ownerID string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.OwnerID == ownerID && w.IsActive {
			out := w
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) FindWalletByAddress(ctx context.Context, address string) (*wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.wallets {
		if w.Address == address {
			out := w
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (s *Store) DeactivateWallets(ctx context.Context, ownerID, exceptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, w := range s.wallets {
		if w.OwnerID == ownerID && w.IsActive && id != exceptID {
			w.IsActive = false
			w.UpdatedAt = time.Now().UTC()
			s.wallets[id] = w
		}
	}
	return nil
}

func (s *Store) SetWalletActive(ctx context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[id]
	if !ok {
		return storage.ErrNotFound
	}
	w.IsActive = active
	w.UpdatedAt = time.Now().UTC()
	s.wallets[id] = w
	return nil
}

// --- token.Store ------------------------------------------------------------

// PutToken seeds a token record.
func (s *Store) PutToken(rec token.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[strings.ToUpper(rec.Ticker)] = rec
}

func (s *Store) FindToken(ctx context.Context, tickerOrMint string) (*token.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.tokens[strings.ToUpper(tickerOrMint)]; ok {
		return &rec, nil
	}
	for _, rec := range s.tokens {
		if rec.Mint == tickerOrMint {
			out := rec
			return &out, nil
		}
	}
	return nil, storage.ErrNotFound
}

// --- payments.Store ---------------------------------------------------------

func (s *Store) CreatePayment(ctx context.Context, p *payments.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = *p
	return nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (*payments.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payments[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id string, status payments.Status, signature, detail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return storage.ErrNotFound
	}
	p.Status = status
	if signature != "" {
		p.Signature = signature
	}
	p.Detail = detail
	p.UpdatedAt = time.Now().UTC()
	s.payments[id] = p
	return nil
}

// PaymentIDs lists the held payment IDs. Test helper.
func (s *Store) PaymentIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.payments))
	for id := range s.payments {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// --- escrow.Store -----------------------------------------------------------

func (s *Store) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escrows[e.ID] = *e
	return nil
}

func (s *Store) GetEscrow(ctx context.Context, id string) (*escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.escrows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &e, nil
}

func (s *Store) UpdateEscrowStatus(ctx context.Context, id string, status escrow.Status, releaseSignature string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[id]
	if !ok {
		return storage.ErrNotFound
	}
	e.Status = status
	if releaseSignature != "" {
		e.ReleaseSignature = releaseSignature
	}
	e.UpdatedAt = time.Now().UTC()
	s.escrows[id] = e
	return nil
}

func (s *Store) ListExpiredOpen(ctx context.Context, before time.Time, limit int) ([]*escrow.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*escrow.Escrow
	for _, e := range s.escrows {
		if e.Status == escrow.StatusOpen && e.ExpiresAt.Before(before) {
			cp := e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
