// Package ratelimit provides per-identifier token-bucket admission control
// for the engine's mutating operations.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/tipforge/payengine/internal/logging"
)

// ClassConfig tunes one operation class. Capacity is the bucket burst;
// RefillPerSecond may be fractional (0.1 = one token every ten seconds).
type ClassConfig struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// DefaultClasses returns the stock operation classes: payments are scarcer
// than balance checks.
func DefaultClasses() map[string]ClassConfig {
	return map[string]ClassConfig{
		"payment":  {Capacity: 3, RefillPerSecond: 0.2},
		"withdraw": {Capacity: 2, RefillPerSecond: 0.1},
		"escrow":   {Capacity: 3, RefillPerSecond: 0.2},
		"query":    {Capacity: 10, RefillPerSecond: 2},
	}
}

type bucketKey struct {
	identifier string
	class      string
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter manages one token bucket per (identifier, operation class) pair.
type Limiter struct {
	mu      sync.Mutex
	classes map[string]ClassConfig
	buckets map[bucketKey]*bucket
	idleTTL time.Duration
	logger  *logging.Logger
	stop    chan struct{}
	stopped sync.Once
}

// New creates a Limiter with the given class table. Buckets idle longer
// than idleTTL are evicted by a background janitor.
func New(classes map[string]ClassConfig, idleTTL time.Duration) *Limiter {
	if idleTTL <= 0 {
		idleTTL = 30 * time.Minute
	}
	l := &Limiter{
		classes: classes,
		buckets: make(map[bucketKey]*bucket),
		idleTTL: idleTTL,
		logger:  logging.New("ratelimit"),
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

// Allow refills the (identifier, class) bucket for elapsed time, then either
// debits cost tokens and admits, or rejects without debiting. Unknown
// classes are rejected outright.
func (l *Limiter) Allow(identifier, class string, cost int) bool {
	b, ok := l.bucket(identifier, class)
	if !ok {
		return false
	}
	cost = l.clampCost(class, cost)
	admitted := b.AllowN(time.Now(), cost)
	if !admitted {
		l.logger.SecurityEvent("rate_limit_exceeded", map[string]interface{}{
			"identifier": identifier,
			"class":      class,
			"cost":       cost,
		})
	}
	return admitted
}

// AllowPair admits only when both the chat and the user bucket admit, and
// debits both or neither. This is the anti-spam check for group contexts.
func (l *Limiter) AllowPair(chatID, userID, class string, cost int) bool {
	cb, ok := l.bucket(chatID, class)
	if !ok {
		return false
	}
	ub, ok := l.bucket(userID, class)
	if !ok {
		return false
	}
	cost = l.clampCost(class, cost)

	now := time.Now()
	cr := cb.ReserveN(now, cost)
	if !cr.OK() || cr.DelayFrom(now) > 0 {
		if cr.OK() {
			cr.CancelAt(now)
		}
		return false
	}
	ur := ub.ReserveN(now, cost)
	if !ur.OK() || ur.DelayFrom(now) > 0 {
		if ur.OK() {
			ur.CancelAt(now)
		}
		cr.CancelAt(now)
		return false
	}
	return true
}

// CostForAmount scales an operation's cost with the requested amount: one
// token per started multiple of unit, capped at max. A coarse anti-burst
// heuristic for high-value operations.
func CostForAmount(amountRaw, unit uint64, max int) int {
	if unit == 0 {
		return 1
	}
	cost := int(amountRaw/unit) + 1
	if cost > max {
		return max
	}
	return cost
}

// clampCost bounds a cost to the class capacity. A cost above the burst
// could never be admitted, not even from a fully refilled bucket; an
// expensive operation costs the whole bucket instead.
func (l *Limiter) clampCost(class string, cost int) int {
	if cost < 1 {
		return 1
	}
	if cfg, ok := l.classes[class]; ok && cost > cfg.Capacity {
		return cfg.Capacity
	}
	return cost
}

// Reset drops a specific identifier's bucket for one class, or all classes
// when class is empty. Explicit admin operation.
func (l *Limiter) Reset(identifier, class string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if class != "" {
		delete(l.buckets, bucketKey{identifier, class})
		return
	}
	for k := range l.buckets {
		if k.identifier == identifier {
			delete(l.buckets, k)
		}
	}
}

// Close stops the eviction janitor.
func (l *Limiter) Close() {
	l.stopped.Do(func() { close(l.stop) })
}

func (l *Limiter) bucket(identifier, class string) (*rate.Limiter, bool) {
	cfg, ok := l.classes[class]
	if !ok {
		return nil, false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := bucketKey{identifier, class}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(cfg.RefillPerSecond), cfg.Capacity)}
		l.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.lim, true
}

func (l *Limiter) janitor() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for k, b := range l.buckets {
				if now.Sub(b.lastSeen) > l.idleTTL {
					delete(l.buckets, k)
				}
			}
			l.mu.Unlock()
		}
	}
}
