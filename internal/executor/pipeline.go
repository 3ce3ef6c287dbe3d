// Package executor turns verified trade intents into execution records and
// drives them to a terminal state.
package executor

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"signalrelay/internal/canonical"
	"signalrelay/internal/config"
	"signalrelay/internal/ledger"
	"signalrelay/internal/models"
)

type Store interface {
	ListIntentsAwaitingExecution(ctx context.Context, limit int) ([]models.TradeIntent, error)
	GetTradeIntentByID(ctx context.Context, id uint64) (*models.TradeIntent, error)
	GetAnchoredSignalBySignalID(ctx context.Context, signalID uint64) (*models.AnchoredSignal, error)
	GetSignalByID(ctx context.Context, id uint64) (*models.Signal, error)
	ListFollowerIDs(ctx context.Context, traderID int64) ([]int64, error)
	InsertExecutedTrade(ctx context.Context, item *models.ExecutedTrade) (bool, error)
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]models.ExecutedTrade, error)
	ClaimExecution(ctx context.Context, id uint64) (bool, error)
	GetExecutedTradeByID(ctx context.Context, id uint64) (*models.ExecutedTrade, error)
	MarkExecutionDone(ctx context.Context, id uint64, status, txHash string, at time.Time) error
	MarkExecutionRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkExecutionFailed(ctx context.Context, id uint64, attempts int, errCode string) error
}

type Submitter interface {
	SubmitExecution(ctx context.Context, intentHash, planHash string, followerCount int) (ledger.ExecResult, error)
}

type Pipeline struct {
	Store  Store
	Submit Submitter
	Logger *zap.Logger
	Config config.ExecutorConfig

	Now func() time.Time
}

func (p *Pipeline) Run(ctx context.Context) error {
	if p == nil || p.Store == nil {
		return nil
	}
	interval := p.Config.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		p.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) Tick(ctx context.Context) {
	p.intake(ctx)
	p.progress(ctx)
}

// intake creates execution rows for intents whose anchor is verified. It is
// idempotent: an intent that already has a row is never listed, and the
// insert itself is a no-op on conflict.
func (p *Pipeline) intake(ctx context.Context) {
	batch := p.Config.IntakeBatch
	if batch <= 0 {
		batch = 50
	}
	intents, err := p.Store.ListIntentsAwaitingExecution(ctx, batch)
	if err != nil {
		p.warn("intent fetch failed", zap.Error(err))
		return
	}
	for _, intent := range intents {
		if ctx.Err() != nil {
			return
		}
		if err := p.intakeIntent(ctx, intent); err != nil {
			p.warn("execution intake failed", zap.Uint64("intent_id", intent.ID), zap.Error(err))
		}
	}
}

func (p *Pipeline) intakeIntent(ctx context.Context, intent models.TradeIntent) error {
	anchor, err := p.Store.GetAnchoredSignalBySignalID(ctx, intent.SignalID)
	if err != nil {
		return err
	}
	// Gate: only verified anchors proceed. Unverified rows are re-checked
	// next tick; a mismatch never reaches execution.
	if anchor == nil || anchor.VerificationStatus != models.VerificationVerified {
		return nil
	}

	signal, err := p.Store.GetSignalByID(ctx, intent.SignalID)
	if err != nil || signal == nil {
		return err
	}
	followerIDs, err := p.Store.ListFollowerIDs(ctx, signal.TraderID)
	if err != nil {
		return err
	}
	if followerIDs == nil {
		followerIDs = []int64{}
	}

	planHash, err := canonical.Fingerprint(map[string]any{
		"signal_id":  intent.SignalID,
		"size_value": intent.SizeValue,
		"followers":  followerIDs,
	})
	if err != nil {
		return err
	}
	snapshot, err := json.Marshal(map[string]any{"follower_ids": followerIDs})
	if err != nil {
		return err
	}

	created, err := p.Store.InsertExecutedTrade(ctx, &models.ExecutedTrade{
		TradeIntentID:     intent.ID,
		SignalID:          intent.SignalID,
		Status:            models.ExecStatusPending,
		IntentHash:        intent.IntentHash,
		PlanHash:          planHash,
		SizeValue:         intent.SizeValue,
		FollowersSnapshot: datatypes.JSON(snapshot),
		FollowerCount:     len(followerIDs),
	})
	if err != nil {
		return err
	}
	if created {
		p.info("execution row created",
			zap.Uint64("intent_id", intent.ID),
			zap.Int("followers", len(followerIDs)))
	}
	return nil
}

func (p *Pipeline) progress(ctx context.Context) {
	batch := p.Config.BatchSize
	if batch <= 0 {
		batch = 25
	}
	rows, err := p.Store.ListDueExecutions(ctx, p.now(), batch)
	if err != nil {
		p.warn("execution fetch failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		if err := p.progressRow(ctx, row); err != nil {
			p.warn("execution row failed", zap.Uint64("execution_id", row.ID), zap.Error(err))
		}
	}
}

func (p *Pipeline) progressRow(ctx context.Context, row models.ExecutedTrade) error {
	intent, err := p.Store.GetTradeIntentByID(ctx, row.TradeIntentID)
	if err != nil {
		return err
	}
	if intent == nil {
		return p.Store.MarkExecutionFailed(ctx, row.ID, row.Attempts, models.ErrCodeIntentNotFound)
	}
	if intent.DeadlineTs != nil && intent.DeadlineTs.Before(p.now()) {
		// Expired intents never hit the ledger.
		return p.Store.MarkExecutionFailed(ctx, row.ID, row.Attempts, models.ErrCodeDeadlineExpired)
	}

	// Claim-then-verify: only the tick holding the claim may submit.
	won, err := p.Store.ClaimExecution(ctx, row.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	claimed, err := p.Store.GetExecutedTradeByID(ctx, row.ID)
	if err != nil {
		return err
	}
	if claimed == nil || claimed.Status != models.ExecStatusSubmitting {
		return nil
	}

	result, err := p.Submit.SubmitExecution(ctx, row.IntentHash, row.PlanHash, row.FollowerCount)
	if err != nil {
		return p.settleFailure(ctx, row, err)
	}

	status := models.ExecStatusExecuted
	if result.Simulated {
		status = models.ExecStatusSimulated
	}
	if err := p.Store.MarkExecutionDone(ctx, row.ID, status, result.TxHash, p.now()); err != nil {
		return err
	}
	p.info("trade executed",
		zap.Uint64("execution_id", row.ID),
		zap.String("status", status),
		zap.String("tx_hash", result.TxHash))
	return nil
}

func (p *Pipeline) settleFailure(ctx context.Context, row models.ExecutedTrade, cause error) error {
	maxAttempts := p.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	attempts := row.Attempts + 1
	if attempts >= maxAttempts {
		p.warn("execution exhausted retries", zap.Uint64("execution_id", row.ID), zap.Error(cause))
		return p.Store.MarkExecutionFailed(ctx, row.ID, attempts, cause.Error())
	}
	base := p.Config.BackoffBase
	if base <= 0 {
		base = 2 * time.Second
	}
	ceil := p.Config.BackoffCap
	if ceil <= 0 {
		ceil = 60 * time.Second
	}
	next := p.now().Add(backoffDelay(base, ceil, attempts))
	return p.Store.MarkExecutionRetry(ctx, row.ID, attempts, cause.Error(), next)
}

// backoffDelay is the wait before attempt failures+1, capped.
func backoffDelay(base, ceil time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 30 {
		failures = 30
	}
	delay := base << uint(failures)
	if delay > ceil {
		return ceil
	}
	return delay
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) info(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Info(msg, fields...)
	}
}

func (p *Pipeline) warn(msg string, fields ...zap.Field) {
	if p.Logger != nil {
		p.Logger.Warn(msg, fields...)
	}
}
