// Package expiry releases slots held by bookings that were never confirmed.
package expiry

import (
	"context"
	"log/slog"
	"time"
)

type Expirer interface {
	ExpirePending(ctx context.Context, before time.Time, limit int) (int, error)
}

type Worker struct {
	expirer   Expirer
	logger    *slog.Logger
	interval  time.Duration
	ttl       time.Duration
	batchSize int
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	TTL       time.Duration
	BatchSize int
}

func NewWorker(expirer Expirer, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		expirer:   expirer,
		logger:    logger,
		interval:  cfg.Interval,
		ttl:       cfg.TTL,
		batchSize: cfg.BatchSize,
		now:       time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("pending expiry failed", "err", err)
			}
		}
	}
}

// RunOnce expires batches until one comes back short.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.now().UTC().Add(-w.ttl)
	total := 0
	for {
		n, err := w.expirer.ExpirePending(ctx, cutoff, w.batchSize)
		total += n
		if err != nil {
			return total, err
		}
		if n < w.batchSize || ctx.Err() != nil {
			break
		}
	}
	if total > 0 {
		w.logger.Info("expired pending bookings", "count", total, "cutoff", cutoff)
	}
	return total, nil
}
