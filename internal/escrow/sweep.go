package escrow

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSweep schedules the periodic expiry sweep. The schedule comes from
// Config.SweepSchedule.
func (m *Manager) StartSweep() error {
	c := cron.New()
	if _, err := c.AddFunc(m.cfg.SweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		m.Sweep(ctx)
	}); err != nil {
		return err
	}
	c.Start()
	m.cron = c
	return nil
}

// Sweep expires open escrows past their deadline in small batches with an
// inter-item pause, so a backlog does not burst the ledger. Only one sweep
// runs at a time; overlapping invocations return immediately.
func (m *Manager) Sweep(ctx context.Context) {
	if !m.sweeping.CompareAndSwap(false, true) {
		return
	}
	defer m.sweeping.Store(false)

	expired, err := m.store.ListExpiredOpen(ctx, time.Now().UTC(), m.cfg.SweepBatchSize)
	if err != nil {
		m.logger.Error().Err(err).Msg("sweep: list expired escrows")
		return
	}
	if len(expired) == 0 {
		return
	}

	m.logger.Info().Int("count", len(expired)).Msg("sweeping expired escrows")
	for _, e := range expired {
		if ctx.Err() != nil {
			return
		}
		if _, err := m.Expire(ctx, e.ID); err != nil {
			// Expire already parked the escrow; keep sweeping the rest.
			m.logger.Warn().Str("escrow_id", e.ID).Err(err).
				Msg("sweep: expiry failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.SweepBatchPause):
		}
	}
}

// Close stops the sweep scheduler.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		if m.cron != nil {
			m.cron.Stop()
		}
	})
}
