package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeIntent is the normalized, hashable description of the trade a signal
// asks for. At most one per signal. IntentHash is computed once at creation
// and never recomputed.
type TradeIntent struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SignalID       uint64          `gorm:"not null;uniqueIndex" json:"signal_id"`
	Action         string          `gorm:"type:varchar(10);not null" json:"action"`
	Market         string          `gorm:"type:varchar(50);not null" json:"market"`
	SizeMode       string          `gorm:"type:varchar(20);not null" json:"size_mode"`
	SizeValue      decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"size_value"`
	MaxSlippageBps *int            `json:"max_slippage_bps,omitempty"`
	DeadlineTs     *time.Time      `gorm:"type:timestamptz" json:"deadline_ts,omitempty"`
	IntentHash     string          `gorm:"type:varchar(80);not null;index" json:"intent_hash"`
	CreatedAt      time.Time       `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (TradeIntent) TableName() string {
	return "trade_intents"
}
