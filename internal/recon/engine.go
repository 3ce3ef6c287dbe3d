// Package recon compares locally recorded executions against the events the
// ledger actually committed, and flags divergence instead of repairing it.
package recon

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"signalrelay/internal/config"
	"signalrelay/internal/ledger"
	"signalrelay/internal/models"
)

// CursorScope keys the engine's progress row in sync_state.
const CursorScope = "recon:executions"

type Store interface {
	ListExecutionsAwaitingConfirmation(ctx context.Context, limit int) ([]models.ExecutedTrade, error)
	SetExecutionOnchain(ctx context.Context, id uint64, verified bool, version uint64, txHash string, errCode *string) error
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
}

type Reader interface {
	AccountTransactions(ctx context.Context, address string, limit int) ([]ledger.Transaction, error)
}

type Engine struct {
	Store   Store
	Reader  Reader
	Logger  *zap.Logger
	Config  config.ReconConfig
	Address string

	Now func() time.Time

	cursorLoaded bool
	cursor       uint64
}

func (e *Engine) Run(ctx context.Context) error {
	if e == nil || e.Store == nil || e.Reader == nil {
		return nil
	}
	interval := e.Config.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		e.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick runs one reconciliation cycle. Any fetch error aborts the cycle
// without moving the cursor or touching execution rows; the next cycle
// re-scans the same window.
func (e *Engine) Tick(ctx context.Context) {
	if err := e.loadCursor(ctx); err != nil {
		e.warn("cursor load failed", zap.Error(err))
		return
	}

	batch := e.Config.BatchSize
	if batch <= 0 {
		batch = 100
	}
	rows, err := e.Store.ListExecutionsAwaitingConfirmation(ctx, batch)
	if err != nil {
		e.warn("execution fetch failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	window := e.Config.ScanWindow
	if window <= 0 {
		window = 100
	}
	txns, err := e.Reader.AccountTransactions(ctx, e.Address, window)
	if err != nil {
		e.warn("ledger scan failed", zap.Error(err))
		e.recordAttempt(ctx, err)
		return
	}

	byIntent := make(map[string]models.ExecutedTrade, len(rows))
	for _, row := range rows {
		byIntent[ledger.NormalizeHex(row.IntentHash)] = row
	}

	matched := 0
	maxVersion := e.cursor
	// Earliest version whose confirmation write failed. The cursor stays
	// below it so the next cycle re-scans that transaction.
	var retryFrom uint64
	for _, txn := range txns {
		if txn.Version <= e.cursor {
			continue
		}
		if txn.Version > maxVersion {
			maxVersion = txn.Version
		}
		for _, event := range txn.Events {
			intentHash, ok := ledger.HashField(event.Data, "intent_hash", "hash_bytes")
			if !ok {
				continue
			}
			row, ok := byIntent[ledger.NormalizeHex(intentHash)]
			if !ok {
				continue
			}
			if err := e.settle(ctx, row, event, txn); err != nil {
				e.warn("reconciliation write failed", zap.Uint64("execution_id", row.ID), zap.Error(err))
				if retryFrom == 0 || txn.Version < retryFrom {
					retryFrom = txn.Version
				}
				continue
			}
			delete(byIntent, ledger.NormalizeHex(intentHash))
			matched++
		}
	}

	next := maxVersion
	if retryFrom != 0 && retryFrom-1 < next {
		next = retryFrom - 1
	}
	if err := e.saveCursor(ctx, next); err != nil {
		e.warn("cursor save failed", zap.Error(err))
		return
	}
	if matched > 0 {
		e.info("executions reconciled",
			zap.Int("matched", matched),
			zap.Uint64("cursor", next))
	}
}

func (e *Engine) settle(ctx context.Context, row models.ExecutedTrade, event ledger.Event, txn ledger.Transaction) error {
	planHash, ok := ledger.HashField(event.Data, "plan_hash", "plan_hash_bytes")
	if ok && !ledger.SameHash(planHash, row.PlanHash) {
		e.warn("plan hash diverged on chain",
			zap.Uint64("execution_id", row.ID),
			zap.Uint64("version", txn.Version),
			zap.String("onchain", planHash),
			zap.String("local", row.PlanHash))
		code := models.ErrCodePlanHashMismatch
		return e.Store.SetExecutionOnchain(ctx, row.ID, false, txn.Version, txn.Hash, &code)
	}
	return e.Store.SetExecutionOnchain(ctx, row.ID, true, txn.Version, txn.Hash, nil)
}

func (e *Engine) loadCursor(ctx context.Context) error {
	if e.cursorLoaded {
		return nil
	}
	state, err := e.Store.GetSyncState(ctx, CursorScope)
	if err != nil {
		return err
	}
	if state != nil && state.Cursor != nil {
		v, err := strconv.ParseUint(*state.Cursor, 10, 64)
		if err != nil {
			return err
		}
		e.cursor = v
	}
	e.cursorLoaded = true
	return nil
}

func (e *Engine) saveCursor(ctx context.Context, version uint64) error {
	now := e.now()
	cursor := strconv.FormatUint(version, 10)
	if err := e.Store.SaveSyncState(ctx, &models.SyncState{
		Scope:         CursorScope,
		Cursor:        &cursor,
		LastSuccessAt: &now,
		LastAttemptAt: &now,
	}); err != nil {
		return err
	}
	e.cursor = version
	return nil
}

// recordAttempt notes a failed scan in sync_state without moving the cursor.
func (e *Engine) recordAttempt(ctx context.Context, cause error) {
	state, err := e.Store.GetSyncState(ctx, CursorScope)
	if err != nil {
		return
	}
	if state == nil {
		state = &models.SyncState{Scope: CursorScope}
	}
	now := e.now()
	msg := cause.Error()
	state.LastAttemptAt = &now
	state.LastError = &msg
	if err := e.Store.SaveSyncState(ctx, state); err != nil {
		e.warn("attempt record failed", zap.Error(err))
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now().UTC()
}

func (e *Engine) info(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Info(msg, fields...)
	}
}

func (e *Engine) warn(msg string, fields ...zap.Field) {
	if e.Logger != nil {
		e.Logger.Warn(msg, fields...)
	}
}
