// Package anchor submits signal payload fingerprints to the ledger and
// confirms them by reading the chain back.
package anchor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"signalrelay/internal/canonical"
	"signalrelay/internal/config"
	"signalrelay/internal/ledger"
	"signalrelay/internal/models"
)

type Store interface {
	ListDueAnchors(ctx context.Context, now time.Time, limit int) ([]models.AnchoredSignal, error)
	ClaimAnchor(ctx context.Context, id uint64) (bool, error)
	GetAnchoredSignalByID(ctx context.Context, id uint64) (*models.AnchoredSignal, error)
	MarkAnchorAnchored(ctx context.Context, id uint64, seq uint64, txHash, payloadHash string, verified bool, at time.Time) error
	MarkAnchorRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkAnchorFailed(ctx context.Context, id uint64, attempts int, lastErr string) error
	ListAnchorsAwaitingReadback(ctx context.Context, limit int) ([]models.AnchoredSignal, error)
	SetAnchorVerification(ctx context.Context, id uint64, status string, at time.Time) error
	GetSignalByID(ctx context.Context, id uint64) (*models.Signal, error)
	GetTraderByID(ctx context.Context, id int64) (*models.Trader, error)
	UpdateTraderLastSeq(ctx context.Context, id int64, seq uint64) error
}

type Submitter interface {
	SubmitAnchor(ctx context.Context, traderAddress string, lastKnownSeq uint64, payloadHash string) (ledger.AnchorResult, error)
}

// Reader is the chain read surface the verification phase needs.
type Reader interface {
	LastAnchor(ctx context.Context, address string) (ledger.AnchorMetadata, error)
	TransactionByHash(ctx context.Context, txHash string) (*ledger.Transaction, error)
}

type Pipeline struct {
	Store  Store
	Submit Submitter
	Reader Reader
	Logger *zap.Logger
	Config config.AnchorConfig

	// Now is overridable in tests; nil means time.Now.
	Now func() time.Time
}

func (p *Pipeline) Run(ctx context.Context) error {
	if p == nil || p.Store == nil {
		return nil
	}
	interval := p.Config.PollInterval
	if interval <= 0 {
		interval = 8 * time.Second
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

// Tick runs one submission pass and one verification pass. Row failures are
// isolated; a bad row never blocks the rest of the batch.
func (p *Pipeline) Tick(ctx context.Context) {
	p.submitDue(ctx)
	p.verifyAnchored(ctx)
}

func (p *Pipeline) submitDue(ctx context.Context) {
	batch := p.Config.BatchSize
	if batch <= 0 {
		batch = 25
	}
	rows, err := p.Store.ListDueAnchors(ctx, p.now(), batch)
	if err != nil {
		p.warn("anchor fetch failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		if err := p.processRow(ctx, row); err != nil {
			p.warn("anchor row failed", zap.Uint64("anchor_id", row.ID), zap.Error(err))
		}
	}
}

func (p *Pipeline) processRow(ctx context.Context, row models.AnchoredSignal) error {
	// Claim before touching the ledger so an overlapping tick cannot submit
	// the same row twice, then re-read to confirm the claim took effect.
	won, err := p.Store.ClaimAnchor(ctx, row.ID)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}
	claimed, err := p.Store.GetAnchoredSignalByID(ctx, row.ID)
	if err != nil {
		return err
	}
	if claimed == nil || claimed.Status != models.AnchorStatusSubmitting {
		return nil
	}

	signal, err := p.Store.GetSignalByID(ctx, row.SignalID)
	if err != nil {
		return err
	}
	if signal == nil {
		return p.Store.MarkAnchorFailed(ctx, row.ID, row.Attempts, "SIGNAL_NOT_FOUND")
	}
	trader, err := p.Store.GetTraderByID(ctx, signal.TraderID)
	if err != nil {
		return err
	}
	if trader == nil || trader.LedgerAddress == nil || *trader.LedgerAddress == "" {
		// Data precondition, terminal immediately, never retried.
		return p.Store.MarkAnchorFailed(ctx, row.ID, row.Attempts, "TRADER_LEDGER_ADDRESS_MISSING")
	}

	payloadHash := ""
	if row.PayloadHash != nil && *row.PayloadHash != "" {
		payloadHash = *row.PayloadHash
	} else {
		payloadHash, err = canonical.FingerprintJSON(signal.Payload)
		if err != nil {
			return p.Store.MarkAnchorFailed(ctx, row.ID, row.Attempts, "PAYLOAD_NOT_HASHABLE: "+err.Error())
		}
	}

	result, err := p.Submit.SubmitAnchor(ctx, *trader.LedgerAddress, trader.LastOnchainSeq, payloadHash)
	if err != nil {
		return p.settleFailure(ctx, row, err)
	}

	now := p.now()
	if err := p.Store.MarkAnchorAnchored(ctx, row.ID, result.Seq, result.TxHash, payloadHash, result.Verified, now); err != nil {
		return err
	}
	if err := p.Store.UpdateTraderLastSeq(ctx, trader.ID, result.Seq); err != nil {
		p.warn("trader seq update failed", zap.Int64("trader_id", trader.ID), zap.Error(err))
	}
	p.info("signal anchored",
		zap.Uint64("anchor_id", row.ID),
		zap.Uint64("seq", result.Seq),
		zap.String("tx_hash", result.TxHash))
	return nil
}

func (p *Pipeline) settleFailure(ctx context.Context, row models.AnchoredSignal, cause error) error {
	maxAttempts := p.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	attempts := row.Attempts + 1
	if attempts >= maxAttempts {
		p.warn("anchor exhausted retries", zap.Uint64("anchor_id", row.ID), zap.Error(cause))
		return p.Store.MarkAnchorFailed(ctx, row.ID, attempts, cause.Error())
	}
	base := p.Config.BackoffBase
	if base <= 0 {
		base = 5 * time.Second
	}
	next := p.now().Add(backoffDelay(base, attempts))
	return p.Store.MarkAnchorRetry(ctx, row.ID, attempts, cause.Error(), next)
}

func (p *Pipeline) verifyAnchored(ctx context.Context) {
	if p.Reader == nil {
		return
	}
	batch := p.Config.VerifyBatchSize
	if batch <= 0 {
		batch = 25
	}
	rows, err := p.Store.ListAnchorsAwaitingReadback(ctx, batch)
	if err != nil {
		p.warn("anchor readback fetch failed", zap.Error(err))
		return
	}
	for _, row := range rows {
		if ctx.Err() != nil {
			return
		}
		if err := p.verifyRow(ctx, row); err != nil {
			p.warn("anchor readback failed", zap.Uint64("anchor_id", row.ID), zap.Error(err))
		}
	}
}

// verifyRow confirms a submitted anchor against independently observed chain
// state. Unconfirmable rows stay unverified and are retried next tick.
func (p *Pipeline) verifyRow(ctx context.Context, row models.AnchoredSignal) error {
	if row.PayloadHash == nil || row.TxHash == nil {
		return nil
	}
	signal, err := p.Store.GetSignalByID(ctx, row.SignalID)
	if err != nil || signal == nil {
		return err
	}
	trader, err := p.Store.GetTraderByID(ctx, signal.TraderID)
	if err != nil || trader == nil || trader.LedgerAddress == nil {
		return err
	}

	meta, err := p.Reader.LastAnchor(ctx, *trader.LedgerAddress)
	if err != nil {
		return err
	}
	if meta.Exists && row.Seq != nil && meta.LastSeq == *row.Seq {
		return p.settleVerification(ctx, row, ledger.SameHash(meta.LastHash, *row.PayloadHash))
	}

	// The last-anchor resource has moved past this row; fall back to the
	// submitted transaction's own events.
	txn, err := p.Reader.TransactionByHash(ctx, *row.TxHash)
	if err == ledger.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	for _, ev := range txn.Events {
		observed, ok := ledger.HashField(ev.Data, "payload_hash", "hash", "hash_bytes")
		if !ok {
			continue
		}
		return p.settleVerification(ctx, row, ledger.SameHash(observed, *row.PayloadHash))
	}
	return nil
}

func (p *Pipeline) settleVerification(ctx context.Context, row models.AnchoredSignal, matched bool) error {
	status := models.VerificationVerified
	if !matched {
		status = models.VerificationMismatch
		p.warn("anchor hash mismatch on chain", zap.Uint64("anchor_id", row.ID))
	}
	return p.Store.SetAnchorVerification(ctx, row.ID, status, p.now())
}

// backoffDelay is the wait before attempt failures+1.
func backoffDelay(base time.Duration, failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 30 {
		failures = 30
	}
	return base << uint(failures)
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
