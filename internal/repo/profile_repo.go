// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the profile read path, including the
// typed expansion used to fetch a profile with its discussion graph in one
// logical read.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// Expand selects which associations FindProfile resolves alongside the
// profile row. Flags combine with bitwise OR.
type Expand uint8

const (
	// ExpandDiscussion loads every reply posted on the profile.
	ExpandDiscussion Expand = 1 << iota
	// ExpandReplies loads, for each discussion entry, the entries answering it.
	ExpandReplies
	// ExpandReplyingTo loads, for each discussion entry, its parent entry.
	ExpandReplyingTo
	// ExpandAuthor loads the author of each discussion entry and of each
	// loaded reply.
	ExpandAuthor

	// ExpandNone fetches the bare profile row.
	ExpandNone Expand = 0
	// ExpandThread is the full discussion graph rendered by the comments view.
	ExpandThread = ExpandDiscussion | ExpandReplies | ExpandReplyingTo | ExpandAuthor
)

// Has reports whether every flag in f is set in e.
func (e Expand) Has(f Expand) bool { return e&f == f }

// chronological orders discussion rows oldest first, with id as tiebreaker so
// entries created within the same clock tick keep a stable order.
func chronological(db *gorm.DB) *gorm.DB {
	return db.Order("created_at ASC, id ASC")
}

// FindProfile fetches a profile by id, resolving the associations selected by
// expand. It returns ErrNotFound when the profile does not exist.
//
// Expansion flags that depend on the discussion (replies, parent, author) are
// ignored unless ExpandDiscussion is also set.
func FindProfile(ctx context.Context, db *gorm.DB, id string, expand Expand) (*domain.Profile, error) {
	q := db.WithContext(ctx)
	if expand.Has(ExpandDiscussion) {
		q = q.Preload("Discussion", chronological)
		if expand.Has(ExpandReplies) {
			q = q.Preload("Discussion.Replies", chronological)
			if expand.Has(ExpandAuthor) {
				q = q.Preload("Discussion.Replies.User")
			}
		}
		if expand.Has(ExpandReplyingTo) {
			q = q.Preload("Discussion.ReplyingTo")
		}
		if expand.Has(ExpandAuthor) {
			q = q.Preload("Discussion.User")
		}
	}

	var p domain.Profile
	if err := q.Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

// ProfileExists reports whether a profile row with id exists.
func ProfileExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&domain.Profile{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
