package models

import (
	"time"

	"gorm.io/datatypes"
)

// Signal is a trader broadcast. Immutable once created; the payload bytes are
// what the anchor fingerprint commits to.
type Signal struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	TraderID  int64          `gorm:"not null;index" json:"trader_id"`
	Payload   datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time      `gorm:"type:timestamptz;autoCreateTime;index" json:"created_at"`
}

func (Signal) TableName() string {
	return "signals"
}
