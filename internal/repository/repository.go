package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"signalrelay/internal/models"
)

type ListSignalsParams struct {
	TraderID *int64
	Limit    int
	Offset   int
}

type ListExecutedTradesParams struct {
	Status *string
	Limit  int
	Offset int
}

// Repository is the persistence surface shared by the pipelines and the HTTP
// layer. Claim methods are conditional updates scoped to the expected current
// status; they report whether this caller won the row.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Traders and follows.
	UpsertTrader(ctx context.Context, item *models.Trader) error
	GetTraderByID(ctx context.Context, id int64) (*models.Trader, error)
	UpdateTraderLastSeq(ctx context.Context, id int64, seq uint64) error
	UpsertFollow(ctx context.Context, traderID, followerID int64) error
	DeleteFollow(ctx context.Context, traderID, followerID int64) error
	ListFollowerIDs(ctx context.Context, traderID int64) ([]int64, error)

	// Signals and intents.
	InsertSignal(ctx context.Context, item *models.Signal) error
	GetSignalByID(ctx context.Context, id uint64) (*models.Signal, error)
	ListSignals(ctx context.Context, params ListSignalsParams) ([]models.Signal, error)
	InsertTradeIntent(ctx context.Context, item *models.TradeIntent) error
	GetTradeIntentByID(ctx context.Context, id uint64) (*models.TradeIntent, error)
	ListIntentsAwaitingExecution(ctx context.Context, limit int) ([]models.TradeIntent, error)

	// Anchor pipeline.
	InsertAnchoredSignal(ctx context.Context, item *models.AnchoredSignal) error
	GetAnchoredSignalByID(ctx context.Context, id uint64) (*models.AnchoredSignal, error)
	GetAnchoredSignalBySignalID(ctx context.Context, signalID uint64) (*models.AnchoredSignal, error)
	ListDueAnchors(ctx context.Context, now time.Time, limit int) ([]models.AnchoredSignal, error)
	ClaimAnchor(ctx context.Context, id uint64) (bool, error)
	MarkAnchorAnchored(ctx context.Context, id uint64, seq uint64, txHash, payloadHash string, verified bool, at time.Time) error
	MarkAnchorRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkAnchorFailed(ctx context.Context, id uint64, attempts int, lastErr string) error
	ListAnchorsAwaitingReadback(ctx context.Context, limit int) ([]models.AnchoredSignal, error)
	SetAnchorVerification(ctx context.Context, id uint64, status string, at time.Time) error

	// Execution pipeline.
	InsertExecutedTrade(ctx context.Context, item *models.ExecutedTrade) (bool, error)
	GetExecutedTradeByID(ctx context.Context, id uint64) (*models.ExecutedTrade, error)
	ListExecutedTrades(ctx context.Context, params ListExecutedTradesParams) ([]models.ExecutedTrade, error)
	ListDueExecutions(ctx context.Context, now time.Time, limit int) ([]models.ExecutedTrade, error)
	ClaimExecution(ctx context.Context, id uint64) (bool, error)
	MarkExecutionDone(ctx context.Context, id uint64, status, txHash string, at time.Time) error
	MarkExecutionRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkExecutionFailed(ctx context.Context, id uint64, attempts int, errCode string) error
	ListExecutionsAwaitingConfirmation(ctx context.Context, limit int) ([]models.ExecutedTrade, error)
	SetExecutionOnchain(ctx context.Context, id uint64, verified bool, version uint64, txHash string, errCode *string) error
	ResetExecutedTrade(ctx context.Context, id uint64) (bool, error)

	// Delivery queue.
	EnqueueDeliveries(ctx context.Context, items []models.SignalDelivery) error
	ListDueDeliveries(ctx context.Context, now time.Time, limit int) ([]models.SignalDelivery, error)
	MarkDeliveryDelivered(ctx context.Context, id uint64, attempts int) error
	MarkDeliveryRetry(ctx context.Context, id uint64, attempts int, lastErr string, nextAttemptAt time.Time) error
	MarkDeliveryFailed(ctx context.Context, id uint64, attempts int, lastErr string) error
	PruneSettledDeliveries(ctx context.Context, before time.Time) (int64, error)

	// Worker state.
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
}
