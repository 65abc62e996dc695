// Package idempotency collapses duplicate operation submissions into a
// single execution.
//
// A key is a deterministic fingerprint of (actor, operation kind, payload,
// time bucket). The first caller holding a key runs the operation; every
// concurrent duplicate polls the shared record until it reaches a terminal
// state, then observes the same result. Completed results are cached for
// the record's lifetime, giving financial operations an at-most-once
// guarantee.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"

	payerr "github.com/tipforge/payengine/internal/errors"
	"github.com/tipforge/payengine/internal/logging"
	"github.com/tipforge/payengine/internal/metrics"
)

type status uint8

const (
	statusPending status = iota
	statusCompleted
	statusFailed
)

type record struct {
	mu        sync.Mutex
	status    status
	result    interface{}
	err       error
	createdAt time.Time
}

func (r *record) snapshot() (status, interface{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.result, r.err
}

// Options tunes a Manager. Zero values take the documented defaults.
type Options struct {
	// PollInterval is how often duplicate callers re-check a pending
	// record. Default 100ms.
	PollInterval time.Duration
	// WaitTimeout is how long a duplicate caller waits for the original
	// operation before giving up. Default 5 minutes.
	WaitTimeout time.Duration
	// MaxAge bounds record retention; the sweep evicts older records.
	// Default 24 hours.
	MaxAge time.Duration
	// SweepInterval is how often eviction runs. Default 1 hour.
	SweepInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 100 * time.Millisecond
	}
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 5 * time.Minute
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 24 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = time.Hour
	}
}

// Manager is the process-scoped idempotency store. Construct once at
// startup and inject; call Close on shutdown.
type Manager struct {
	mu      sync.Mutex
	records map[string]*record
	opts    Options
	logger  *logging.Logger
	stop    chan struct{}
	stopped sync.Once
}

// NewManager creates a Manager and starts its eviction sweep.
func NewManager(opts Options) *Manager {
	opts.applyDefaults()
	m := &Manager{
		records: make(map[string]*record),
		opts:    opts,
		logger:  logging.New("idempotency"),
		stop:    make(chan struct{}),
	}
	go m.sweep()
	return m
}

// Key derives a deterministic idempotency key binding actor identity,
// operation kind, and the salient payload fields, truncated to a time
// bucket so only near-simultaneous duplicates collapse together.
func Key(actorID, kind string, parts []string, bucket time.Duration) string {
	if bucket <= 0 {
		bucket = time.Second
	}
	h := sha256.New()
	h.Write([]byte(actorID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(parts, "\x00")))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(time.Now().UnixNano()/int64(bucket), 10)))
	return hex.EncodeToString(h.Sum(nil))
}

// Do executes op at most once per key.
//
// The first caller inserts a pending record, runs op outside any lock, and
// records the terminal state. Duplicates poll until the record resolves:
// completed returns the cached result, failed returns
// ErrPreviousAttemptFailed, and a pending record that outlives the wait
// timeout returns ErrIdempotencyTimeout without ever running op again.
func (m *Manager) Do(ctx context.Context, key string, op func(context.Context) (interface{}, error)) (interface{}, error) {
	m.mu.Lock()
	rec, exists := m.records[key]
	if !exists {
		rec = &record{status: statusPending, createdAt: time.Now()}
		m.records[key] = rec
	}
	m.mu.Unlock()

	if exists {
		metrics.IdempotencyDuplicates.Inc()
		return m.await(ctx, key, rec)
	}

	result, err := op(ctx)

	rec.mu.Lock()
	if err != nil {
		rec.status = statusFailed
		rec.err = err
	} else {
		rec.status = statusCompleted
		rec.result = result
	}
	rec.mu.Unlock()

	return result, err
}

func (m *Manager) await(ctx context.Context, key string, rec *record) (interface{}, error) {
	deadline := time.Now().Add(m.opts.WaitTimeout)
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()

	for {
		st, result, _ := rec.snapshot()
		switch st {
		case statusCompleted:
			return result, nil
		case statusFailed:
			m.logger.Debug().Str("key", key).Msg("duplicate hit failed record")
			return nil, payerr.ErrPreviousAttemptFailed
		}

		if time.Now().After(deadline) {
			m.logger.Warn().Str("key", key).Msg("gave up waiting on pending record")
			return nil, payerr.ErrIdempotencyTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Len reports how many records are held. Intended for tests and metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Close stops the eviction sweep.
func (m *Manager) Close() {
	m.stopped.Do(func() { close(m.stop) })
}

func (m *Manager) sweep() {
	ticker := time.NewTicker(m.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.evict(now)
		}
	}
}

func (m *Manager) evict(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rec := range m.records {
		// A pending record past MaxAge has a dead executor behind it;
		// keeping it would pin the key for the process lifetime.
		if now.Sub(rec.createdAt) > m.opts.MaxAge {
			delete(m.records, key)
		}
	}
}
