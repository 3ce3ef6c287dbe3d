package models

import "time"

// SyncState persists per-worker progress. The reconciliation engine stores
// its cursor (highest fully scanned ledger version) here; the persisted value
// is authoritative across restarts.
type SyncState struct {
	Scope         string     `gorm:"primaryKey;type:text"`
	Cursor        *string    `gorm:"type:text"`
	LastSuccessAt *time.Time `gorm:"type:timestamptz"`
	LastAttemptAt *time.Time `gorm:"type:timestamptz"`
	LastError     *string    `gorm:"type:text"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
