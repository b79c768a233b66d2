// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for discussion
// replies. Functions are thin: they persist and query, and leave
// authorization and validation to services.CommentService.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/internal/domain"
)

// FindReply fetches a reply by id, or ErrNotFound.
func FindReply(ctx context.Context, db *gorm.DB, id string) (*domain.Reply, error) {
	var r domain.Reply
	if err := db.WithContext(ctx).Where("id = ?", id).First(&r).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateReply inserts a reply on profileID authored by userID. A nil
// replyingToID starts a new thread. Unknown profile, user, or parent ids are
// rejected by the store's foreign keys and the raw error is returned.
func CreateReply(ctx context.Context, db *gorm.DB, profileID, userID string, replyingToID *string, message string) (*domain.Reply, error) {
	now := time.Now().UTC()
	r := &domain.Reply{
		ID:           uuid.NewString(),
		Message:      message,
		UserID:       userID,
		ProfileID:    profileID,
		ReplyingToID: replyingToID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := db.WithContext(ctx).Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// UpdateReplyMessage replaces the message of reply id and returns the stored
// row. It returns ErrNotFound if no row matched.
func UpdateReplyMessage(ctx context.Context, db *gorm.DB, id, message string) (*domain.Reply, error) {
	var out *domain.Reply
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Reply{}).
			Where("id = ?", id).
			Updates(map[string]any{"message": message, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		r, err := FindReply(ctx, tx, id)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteReply removes reply id. Replies answering it are removed by the
// cascading foreign key. It returns ErrNotFound if no row matched.
func DeleteReply(ctx context.Context, db *gorm.DB, id string) error {
	res := db.WithContext(ctx).Where("id = ?", id).Delete(&domain.Reply{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
