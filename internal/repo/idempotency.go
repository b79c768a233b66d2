// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the Idempotency
// model used to make reply creation safe to retry.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/internal/domain"
)

// ErrDuplicate indicates that an idempotency record already exists for the
// given (user_id, profile_id, key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetIdempotency returns a non-expired record or ErrNotFound.
func GetIdempotency(ctx context.Context, db *gorm.DB, userID, profileID, key string, now time.Time) (*domain.Idempotency, error) {
	if strings.TrimSpace(profileID) == "" {
		return nil, ErrNotFound
	}
	var rec domain.Idempotency
	err := db.WithContext(ctx).
		Where("user_id = ? AND profile_id = ? AND key = ? AND expires_at > ?", userID, profileID, key, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// CreateIdempotency inserts a record and returns ErrDuplicate when a live
// record already holds the (user_id, profile_id, key) tuple. An expired record
// that the janitor has not purged yet is replaced.
func CreateIdempotency(ctx context.Context, db *gorm.DB, userID, profileID, key, replyID string, status int, ttl time.Duration) (*domain.Idempotency, error) {
	now := time.Now().UTC()
	rec := &domain.Idempotency{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProfileID: profileID,
		Key:       key,
		ReplyID:   replyID,
		Status:    status,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Savepoint so Postgres can keep using tx after the violation.
		err := tx.Transaction(func(sp *gorm.DB) error { return sp.Create(rec).Error })
		if err == nil || !isUniqueViolation(err) {
			return err
		}
		res := tx.Where("user_id = ? AND profile_id = ? AND key = ? AND expires_at <= ?", userID, profileID, key, now).
			Delete(&domain.Idempotency{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrDuplicate
		}
		return tx.Create(rec).Error
	})
	if err != nil {
		if errors.Is(err, ErrDuplicate) || isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// PurgeExpiredIdempotency deletes records whose ExpiresAt is not after now and
// returns the number of rows removed.
func PurgeExpiredIdempotency(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.Idempotency{})
	return res.RowsAffected, res.Error
}
