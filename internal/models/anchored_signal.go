package models

import "time"

// Anchor pipeline states. "submitting" is the transient claim state; a row in
// it belongs to exactly one tick until the tick settles it.
const (
	AnchorStatusPending    = "pending"
	AnchorStatusRetry      = "retry"
	AnchorStatusSubmitting = "submitting"
	AnchorStatusAnchored   = "anchored"
	AnchorStatusFailed     = "failed"
)

const (
	VerificationUnverified = "unverified"
	VerificationVerified   = "verified"
	VerificationMismatch   = "mismatch"
)

// AnchoredSignal tracks the on-ledger commitment of one signal's payload hash.
// PayloadHash is set once and never recomputed. Mutated only by the anchor
// pipeline.
type AnchoredSignal struct {
	ID                 uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	SignalID           uint64     `gorm:"not null;uniqueIndex" json:"signal_id"`
	Status             string     `gorm:"type:varchar(20);not null;default:pending;index" json:"status"`
	Attempts           int        `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt      *time.Time `gorm:"type:timestamptz;index" json:"next_attempt_at,omitempty"`
	Seq                *uint64    `json:"seq,omitempty"`
	TxHash             *string    `gorm:"type:varchar(80)" json:"tx_hash,omitempty"`
	PayloadHash        *string    `gorm:"type:varchar(80)" json:"payload_hash,omitempty"`
	VerificationStatus string     `gorm:"type:varchar(20);not null;default:unverified;index" json:"verification_status"`
	VerifiedAt         *time.Time `gorm:"type:timestamptz" json:"verified_at,omitempty"`
	LastError          *string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt          time.Time  `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"type:timestamptz;autoUpdateTime" json:"updated_at"`
}

func (AnchoredSignal) TableName() string {
	return "anchored_signals"
}
