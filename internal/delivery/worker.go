// Package delivery drains the per-follower notification queue.
package delivery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signalrelay/internal/config"
	"signalrelay/internal/models"
)

type Store interface {
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.SignalDelivery, error)
	GetSignalByID(ctx context.Context, id uint64) (*models.Signal, error)
	MarkDeliveryDelivered(ctx context.Context, id uint64, attempts int) error
	MarkDeliveryRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, id uint64, attempts int, lastErr string) error
}

type Sender interface {
	SendSignal(ctx context.Context, chatID int64, signal *models.Signal) error
}

type Worker struct {
	Store  Store
	Sender Sender
	Logger *zap.Logger
	Config config.DeliveryConfig

	Now func() time.Time
}

func (w *Worker) Run(ctx context.Context) error {
	if w == nil || w.Store == nil || w.Sender == nil {
		return nil
	}
	interval := w.Config.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		w.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) Tick(ctx context.Context) {
	batch := w.Config.BatchSize
	if batch <= 0 {
		batch = 25
	}
	rows, err := w.Store.ListDueDeliveries(ctx, w.now(), batch)
	if err != nil {
		w.warn("delivery fetch failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		if err := w.deliver(ctx, row); err != nil {
			w.warn("delivery row failed", zap.Uint64("delivery_id", row.ID), zap.Error(err))
		}
	}
}

func (w *Worker) deliver(ctx context.Context, row models.SignalDelivery) error {
	signal, err := w.Store.GetSignalByID(ctx, row.SignalID)
	if err != nil {
		return err
	}
	if signal == nil {
		return w.Store.MarkDeliveryFailed(ctx, row.ID, row.Attempts, "SIGNAL_NOT_FOUND")
	}

	if err := w.Sender.SendSignal(ctx, row.FollowerID, signal); err != nil {
		return w.settleFailure(ctx, row, err)
	}
	return w.Store.MarkDeliveryDelivered(ctx, row.ID, row.Attempts+1)
}

func (w *Worker) settleFailure(ctx context.Context, row models.SignalDelivery, cause error) error {
	maxAttempts := w.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	attempts := row.Attempts + 1
	if attempts >= maxAttempts {
		w.warn("delivery exhausted retries",
			zap.Uint64("delivery_id", row.ID),
			zap.Int64("follower_id", row.FollowerID),
			zap.Error(cause))
		return w.Store.MarkDeliveryFailed(ctx, row.ID, attempts, cause.Error())
	}
	base := w.Config.BackoffBase
	if base <= 0 {
		base = 5 * time.Second
	}
	next := w.now().Add(backoffDelay(base, attempts))
	return w.Store.MarkDeliveryRetry(ctx, row.ID, attempts, cause.Error(), next)
}

// backoffDelay is the wait before attempt failures+1.
func backoffDelay(base time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 30 {
		failures = 30
	}
	return base << uint(failures-1)
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

func (w *Worker) warn(msg string, fields ...zap.Field) {
	if w.Logger != nil {
		w.Logger.Warn(msg, fields...)
	}
}
