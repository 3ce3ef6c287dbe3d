package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	ExecStatusPending    = "pending"
	ExecStatusSubmitting = "submitting"
	ExecStatusExecuted   = "executed"
	ExecStatusSimulated  = "simulated"
	ExecStatusFailed     = "failed"
)

// Terminal error codes surfaced on executed trades.
const (
	ErrCodeDeadlineExpired  = "DEADLINE_EXPIRED"
	ErrCodeIntentNotFound   = "INTENT_NOT_FOUND"
	ErrCodePlanHashMismatch = "PLAN_HASH_MISMATCH"
)

// ExecutedTrade is the at-most-one execution record per trade intent.
// PlanHash and FollowersSnapshot are immutable snapshots taken at row
// creation; the reconciliation engine compares on-chain events against them.
type ExecutedTrade struct {
	ID                  uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TradeIntentID       uint64          `gorm:"not null;uniqueIndex" json:"trade_intent_id"`
	SignalID            uint64          `gorm:"not null;index" json:"signal_id"`
	Status              string          `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	Attempts            int             `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt       *time.Time      `gorm:"type:timestamptz;index" json:"next_attempt_at,omitempty"`
	TxHash              *string         `gorm:"type:varchar(80)" json:"tx_hash,omitempty"`
	IntentHash          string          `gorm:"type:varchar(80);not null;index" json:"intent_hash"`
	PlanHash            string          `gorm:"type:varchar(80);not null" json:"plan_hash"`
	SizeValue           decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"size_value"`
	FollowersSnapshot   datatypes.JSON  `gorm:"type:jsonb" json:"followers_snapshot"`
	FollowerCount       int             `gorm:"not null;default:0" json:"follower_count"`
	OnchainVerified     *bool           `gorm:"index" json:"onchain_verified,omitempty"`
	OnchainEventVersion *uint64         `json:"onchain_event_version,omitempty"`
	OnchainEventTxHash  *string         `gorm:"type:varchar(80)" json:"onchain_event_tx_hash,omitempty"`
	Error               *string         `gorm:"type:text" json:"error,omitempty"`
	ExecutedAt          *time.Time      `gorm:"type:timestamptz" json:"executed_at,omitempty"`
	CreatedAt           time.Time       `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time       `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (ExecutedTrade) TableName() string {
	return "executed_trades"
}
