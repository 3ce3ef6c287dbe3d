package models

import "time"

const (
	DeliveryStatusQueued    = "queued"
	DeliveryStatusDelivered = "delivered"
	DeliveryStatusFailed    = "failed"
)

// SignalDelivery is one queued notification of a signal to one follower.
type SignalDelivery struct {
	ID            uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SignalID      uint64     `gorm:"not null;uniqueIndex:idx_delivery_pair;index" json:"signal_id"`
	FollowerID    int64      `gorm:"not null;uniqueIndex:idx_delivery_pair" json:"follower_id"`
	Status        string     `gorm:"type:varchar(20);not null;default:queued;index" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time `gorm:"type:timestamptz;index" json:"next_attempt_at,omitempty"`
	LastError     *string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt     time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (SignalDelivery) TableName() string {
	return "signal_deliveries"
}
