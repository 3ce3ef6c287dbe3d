package gormrepository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"signalrelay/internal/models"
	"signalrelay/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- traders & follows ------------------------------------------------------

func (s *Store) UpsertTrader(ctx context.Context, item *models.Trader) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "ledger_address", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetTraderByID(ctx context.Context, id int64) (*models.Trader, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Trader
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateTraderLastSeq(ctx context.Context, id int64, seq uint64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.Trader{}).
		Where("id = ?", id).
		Update("last_onchain_seq", seq).Error
}

func (s *Store) UpsertFollow(ctx context.Context, traderID, followerID int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trader_id"}, {Name: "follower_id"}},
		DoNothing: true,
	}).Create(&models.Follow{TraderID: traderID, FollowerID: followerID}).Error
}

func (s *Store) DeleteFollow(ctx context.Context, traderID, followerID int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Where("trader_id = ? AND follower_id = ?", traderID, followerID).
		Delete(&models.Follow{}).Error
}

func (s *Store) ListFollowerIDs(ctx context.Context, traderID int64) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var ids []int64
	err := s.db.WithContext(ctx).Model(&models.Follow{}).
		Where("trader_id = ?", traderID).
		Order("follower_id asc").
		Pluck("follower_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// --- signals & intents ------------------------------------------------------

func (s *Store) InsertSignal(ctx context.Context, item *models.Signal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetSignalByID(ctx context.Context, id uint64) (*models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Signal
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSignals(ctx context.Context, params repository.ListSignalsParams) ([]models.Signal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Signal{})
	if params.TraderID != nil {
		query = query.Where("trader_id = ?", *params.TraderID)
	}
	var items []models.Signal
	err := query.Order("id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) InsertTradeIntent(ctx context.Context, item *models.TradeIntent) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetTradeIntentByID(ctx context.Context, id uint64) (*models.TradeIntent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.TradeIntent
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListIntentsAwaitingExecution(ctx context.Context, limit int) ([]models.TradeIntent, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.TradeIntent
	err := s.db.WithContext(ctx).
		Where("NOT EXISTS (SELECT 1 FROM executed_trades et WHERE et.trade_intent_id = trade_intents.id)").
		Order("id asc").
		Limit(normalizeLimit(limit, 50)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- anchors ----------------------------------------------------------------

func (s *Store) InsertAnchoredSignal(ctx context.Context, item *models.AnchoredSignal) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if item.Status == "" {
		item.Status = models.AnchorStatusPending
	}
	if item.VerificationStatus == "" {
		item.VerificationStatus = models.VerificationUnverified
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}},
		DoNothing: true,
	}).Create(item).Error
}

func (s *Store) GetAnchoredSignalByID(ctx context.Context, id uint64) (*models.AnchoredSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AnchoredSignal
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetAnchoredSignalBySignalID(ctx context.Context, signalID uint64) (*models.AnchoredSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AnchoredSignal
	err := s.db.WithContext(ctx).First(&item, "signal_id = ?", signalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListDueAnchors(ctx context.Context, now time.Time, limit int) ([]models.AnchoredSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AnchoredSignal
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.AnchorStatusPending, models.AnchorStatusRetry}).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("id asc").
		Limit(normalizeLimit(limit, 25)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimAnchor wins the row only if it is still pending/retry.
func (s *Store) ClaimAnchor(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.AnchoredSignal{}).
		Where("id = ? AND status IN ?", id, []string{models.AnchorStatusPending, models.AnchorStatusRetry}).
		Update("status", models.AnchorStatusSubmitting)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) MarkAnchorAnchored(ctx context.Context, id uint64, seq uint64, txHash, payloadHash string, verified bool, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"status":          models.AnchorStatusAnchored,
		"seq":             seq,
		"tx_hash":         txHash,
		"payload_hash":    payloadHash,
		"next_attempt_at": nil,
		"last_error":      nil,
	}
	if verified {
		updates["verification_status"] = models.VerificationVerified
		updates["verified_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.AnchoredSignal{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (s *Store) MarkAnchorRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.AnchoredSignal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          models.AnchorStatusRetry,
			"attempts":        attempts,
			"last_error":      lastErr,
			"next_attempt_at": nextAttemptAt,
		}).Error
}

func (s *Store) MarkAnchorFailed(ctx context.Context, id uint64, attempts int, lastErr string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.AnchoredSignal{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     models.AnchorStatusFailed,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error
}

func (s *Store) ListAnchorsAwaitingReadback(ctx context.Context, limit int) ([]models.AnchoredSignal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AnchoredSignal
	err := s.db.WithContext(ctx).
		Where("status = ? AND verification_status = ?", models.AnchorStatusAnchored, models.VerificationUnverified).
		Order("id asc").
		Limit(normalizeLimit(limit, 25)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetAnchorVerification(ctx context.Context, id uint64, status string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{"verification_status": status}
	if status == models.VerificationVerified {
		updates["verified_at"] = at
	}
	return s.db.WithContext(ctx).Model(&models.AnchoredSignal{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// --- executions -------------------------------------------------------------

// InsertExecutedTrade is idempotent on trade_intent_id; it reports whether a
// new row was created.
func (s *Store) InsertExecutedTrade(ctx context.Context, item *models.ExecutedTrade) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	if item.Status == "" {
		item.Status = models.ExecStatusPending
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trade_intent_id"}},
		DoNothing: true,
	}).Create(item)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) GetExecutedTradeByID(ctx context.Context, id uint64) (*models.ExecutedTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ExecutedTrade
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListExecutedTrades(ctx context.Context, params repository.ListExecutedTradesParams) ([]models.ExecutedTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.ExecutedTrade{})
	if params.Status != nil && *params.Status != "" {
		query = query.Where("status = ?", *params.Status)
	}
	var items []models.ExecutedTrade
	err := query.Order("id desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]models.ExecutedTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ExecutedTrade
	err := s.db.WithContext(ctx).
		Where("status = ?", models.ExecStatusPending).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("id asc").
		Limit(normalizeLimit(limit, 25)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimExecution wins the row only if it is still pending.
func (s *Store) ClaimExecution(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.ExecutedTrade{}).
		Where("id = ? AND status = ?", id, models.ExecStatusPending).
		Update("status", models.ExecStatusSubmitting)
	return res.RowsAffected == 1, res.Error
}

func (s *Store) MarkExecutionDone(ctx context.Context, id uint64, status, txHash string, at time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ExecutedTrade{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          status,
			"tx_hash":         txHash,
			"executed_at":     at,
			"next_attempt_at": nil,
			"error":           nil,
		}).Error
}

// MarkExecutionRetry reverts a claimed row to pending with backoff applied.
func (s *Store) MarkExecutionRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ExecutedTrade{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":          models.ExecStatusPending,
			"attempts":        attempts,
			"error":           lastErr,
			"next_attempt_at": nextAttemptAt,
		}).Error
}

func (s *Store) MarkExecutionFailed(ctx context.Context, id uint64, attempts int, errCode string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.ExecutedTrade{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   models.ExecStatusFailed,
			"attempts": attempts,
			"error":    errCode,
		}).Error
}

func (s *Store) ListExecutionsAwaitingConfirmation(ctx context.Context, limit int) ([]models.ExecutedTrade, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ExecutedTrade
	err := s.db.WithContext(ctx).
		Where("onchain_verified IS NULL").
		Where("status <> ?", models.ExecStatusFailed).
		Order("id asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SetExecutionOnchain(ctx context.Context, id uint64, verified bool, version uint64, txHash string, errCode *string) error {
	if s == nil || s.db == nil {
		return nil
	}
	updates := map[string]any{
		"onchain_verified":      verified,
		"onchain_event_version": version,
		"onchain_event_tx_hash": txHash,
	}
	if errCode != nil {
		updates["error"] = *errCode
	}
	return s.db.WithContext(ctx).Model(&models.ExecutedTrade{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// ResetExecutedTrade is the external remediation entry point: it clears the
// attempt and confirmation fields of a terminal row so the pipelines pick it
// up again. Rows that are neither failed nor flagged are left untouched.
func (s *Store) ResetExecutedTrade(ctx context.Context, id uint64) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.ExecutedTrade{}).
		Where("id = ?", id).
		Where("status = ? OR onchain_verified = ?", models.ExecStatusFailed, false).
		Updates(map[string]any{
			"status":                models.ExecStatusPending,
			"attempts":              0,
			"next_attempt_at":       nil,
			"error":                 nil,
			"onchain_verified":      nil,
			"onchain_event_version": nil,
			"onchain_event_tx_hash": nil,
		})
	return res.RowsAffected == 1, res.Error
}

// --- deliveries -------------------------------------------------------------

func (s *Store) EnqueueDeliveries(ctx context.Context, items []models.SignalDelivery) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "signal_id"}, {Name: "follower_id"}},
		DoNothing: true,
	}).Create(&items).Error
}

func (s *Store) ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.SignalDelivery, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SignalDelivery
	err := s.db.WithContext(ctx).
		Where("status = ?", models.DeliveryStatusQueued).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("id asc").
		Limit(normalizeLimit(limit, 25)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) MarkDeliveryDelivered(ctx context.Context, id uint64, attempts int) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.SignalDelivery{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     models.DeliveryStatusDelivered,
			"attempts":   attempts,
			"last_error": nil,
		}).Error
}

func (s *Store) MarkDeliveryRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.SignalDelivery{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":        attempts,
			"last_error":      lastErr,
			"next_attempt_at": nextAttemptAt,
		}).Error
}

func (s *Store) MarkDeliveryFailed(ctx context.Context, id uint64, attempts int, lastErr string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Model(&models.SignalDelivery{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     models.DeliveryStatusFailed,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error
}

func (s *Store) PruneSettledDeliveries(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("status IN ?", []string{models.DeliveryStatusDelivered, models.DeliveryStatusFailed}).
		Where("updated_at < ?", before).
		Delete(&models.SignalDelivery{})
	return res.RowsAffected, res.Error
}

// --- sync state -------------------------------------------------------------

func (s *Store) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncState
	err := s.db.WithContext(ctx).First(&item, "scope = ?", scope).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		UpdateAll: true,
	}).Create(state).Error
}

func (s *Store) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SyncState
	if err := s.db.WithContext(ctx).Order("scope asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
