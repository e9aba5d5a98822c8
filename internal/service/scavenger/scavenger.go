// Package scavenger enforces the retention period by periodically
// deleting notes past it.
package scavenger

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/0xMiden/miden-note-transport/internal/repository/notes"
	"github.com/0xMiden/miden-note-transport/internal/service/stats"
	"github.com/0xMiden/miden-note-transport/internal/utils/log"
)

const (
	DefaultPeriod    = time.Hour
	DefaultRetention = 30 * 24 * time.Hour

	settingLastSweepMS    = "scavenger_last_sweep_ms"
	settingLastSweepCount = "scavenger_last_sweep_count"
)

type (
	Config struct {
		Retention time.Duration
		Period    time.Duration
		// FinalSweep runs one last pass during shutdown.
		FinalSweep bool
		// Now is the server clock; defaults to time.Now.
		Now func() time.Time
	}

	Scavenger struct {
		store notes.Store
		stats *stats.Collector
		cfg   Config
	}
)

func New(store notes.Store, collector *stats.Collector, cfg Config) *Scavenger {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scavenger{store: store, stats: collector, cfg: cfg}
}

// Run sweeps every period until ctx is cancelled. Sweep failures are
// logged and retried next tick; they never propagate. Returns nil on
// clean shutdown.
func (s *Scavenger) Run(ctx context.Context) error {
	s.seed(ctx)

	ticker := time.NewTicker(s.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			if s.cfg.FinalSweep {
				// The request context is gone; bound the last pass.
				final, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.sweep(final)
				cancel()
			}
			return nil
		}
	}
}

// seed restores last-sweep figures persisted by an earlier run.
func (s *Scavenger) seed(ctx context.Context) {
	ms, err := s.store.Setting(ctx, settingLastSweepMS)
	if err != nil || ms == "" {
		return
	}
	count, _ := s.store.Setting(ctx, settingLastSweepCount)
	lastMS, err := strconv.ParseInt(ms, 10, 64)
	if err != nil {
		return
	}
	lastCount, _ := strconv.ParseUint(count, 10, 64)
	s.stats.SeedSweep(lastMS, lastCount)
}

// sweep is idempotent: a partial or repeated pass deletes the same
// records at most once.
func (s *Scavenger) sweep(ctx context.Context) {
	now := s.cfg.Now()
	cutoff := now.Add(-s.cfg.Retention).UnixMilli()

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		log.Error("retention sweep failed", zap.Error(err))
		return
	}
	s.stats.RecordSweep(deleted, now)
	if deleted > 0 {
		log.Info("retention sweep",
			zap.Int64("deleted", deleted), zap.Int64("cutoff_ms", cutoff))
	}

	if err := s.store.PutSetting(ctx, settingLastSweepMS, strconv.FormatInt(now.UnixMilli(), 10)); err == nil {
		_ = s.store.PutSetting(ctx, settingLastSweepCount, strconv.FormatInt(deleted, 10))
	}
}
