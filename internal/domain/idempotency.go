package domain

import "time"

// Idempotency records the outcome of a create-reply request keyed by
// (user_id, profile_id, key), so that a retried POST with the same
// Idempotency-Key does not post the same reply twice.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	UserID    string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_profile_key,priority:1"`
	ProfileID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_profile_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_user_profile_key,priority:3"`
	ReplyID   string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
