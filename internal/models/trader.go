package models

import "time"

// Trader keys off the messaging-platform user id. LedgerAddress presence is
// what enables anchoring for the trader's signals; LastOnchainSeq is an
// advisory cache of the chain-side sequence.
type Trader struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	Handle         string    `gorm:"type:varchar(100)" json:"handle"`
	LedgerAddress  *string   `gorm:"type:varchar(80);index" json:"ledger_address,omitempty"`
	LastOnchainSeq uint64    `gorm:"not null;default:0" json:"last_onchain_seq"`
	CreatedAt      time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (Trader) TableName() string {
	return "traders"
}

// Follow links a follower to a trader. The pair is unique.
type Follow struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	TraderID   int64     `gorm:"not null;uniqueIndex:idx_follows_pair;index" json:"trader_id"`
	FollowerID int64     `gorm:"not null;uniqueIndex:idx_follows_pair" json:"follower_id"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (Follow) TableName() string {
	return "follows"
}
