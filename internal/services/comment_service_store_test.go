package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/offers-comments/internal/domain"
	"github.com/tbourn/offers-comments/internal/repo"
)

// storeRepo binds ReplyRepo to the real repo functions.
type storeRepo struct{}

func (storeRepo) FindProfile(ctx context.Context, db *gorm.DB, id string, expand repo.Expand) (*domain.Profile, error) {
	return repo.FindProfile(ctx, db, id, expand)
}
func (storeRepo) FindReply(ctx context.Context, db *gorm.DB, id string) (*domain.Reply, error) {
	return repo.FindReply(ctx, db, id)
}
func (storeRepo) CreateReply(ctx context.Context, db *gorm.DB, profileID, userID string, replyingToID *string, message string) (*domain.Reply, error) {
	return repo.CreateReply(ctx, db, profileID, userID, replyingToID, message)
}
func (storeRepo) UpdateReplyMessage(ctx context.Context, db *gorm.DB, id, message string) (*domain.Reply, error) {
	return repo.UpdateReplyMessage(ctx, db, id, message)
}
func (storeRepo) DeleteReply(ctx context.Context, db *gorm.DB, id string) error {
	return repo.DeleteReply(ctx, db, id)
}

func newStoreService(t *testing.T) (*CommentService, *gorm.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	require.NoError(t, repo.AutoMigrate(db))

	tok := "tok1"
	for _, row := range []any{
		&domain.User{ID: "u1", Name: "Ann"},
		&domain.User{ID: "u2", Name: "Bob"},
		&domain.Profile{ID: "p1", ProfileName: "Bike", EditToken: &tok},
		&domain.Profile{ID: "p2", ProfileName: "Sofa"},
	} {
		require.NoError(t, db.Create(row).Error)
	}
	return NewCommentService(db, storeRepo{}), db
}

// Seeds N roots on p1, each with M replies, with strictly increasing times.
func seedThreads(t *testing.T, db *gorm.DB, roots, repliesPer int) {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	n := 0
	for i := 0; i < roots; i++ {
		rootID := fmt.Sprintf("root-%d", i)
		at := base.Add(time.Duration(n) * time.Second)
		n++
		require.NoError(t, db.Create(&domain.Reply{ID: rootID, Message: "q", UserID: "u1", ProfileID: "p1", CreatedAt: at, UpdatedAt: at}).Error)
		for j := 0; j < repliesPer; j++ {
			parent := rootID
			at := base.Add(time.Duration(n) * time.Second)
			n++
			require.NoError(t, db.Create(&domain.Reply{
				ID: fmt.Sprintf("%s-reply-%d", rootID, j), Message: "a", UserID: "u2", ProfileID: "p1",
				ReplyingToID: &parent, CreatedAt: at, UpdatedAt: at,
			}).Error)
		}
	}
}

func TestStore_ListDiscussion_ReturnsRootsWithReplies(t *testing.T) {
	for _, shape := range []struct{ roots, replies int }{{0, 0}, {1, 0}, {3, 2}, {5, 1}} {
		t.Run(fmt.Sprintf("%dx%d", shape.roots, shape.replies), func(t *testing.T) {
			s, db := newStoreService(t)
			seedThreads(t, db, shape.roots, shape.replies)

			roots, found, err := s.ListDiscussion(context.Background(), "p1")
			require.NoError(t, err)
			require.True(t, found)
			require.Len(t, roots, shape.roots)
			for i, r := range roots {
				assert.Nil(t, r.ReplyingToID)
				assert.Equal(t, fmt.Sprintf("root-%d", i), r.ID, "roots are oldest first")
				assert.Len(t, r.Replies, shape.replies)
				require.NotNil(t, r.User)
				assert.Equal(t, "Ann", r.User.Name)
				for _, rep := range r.Replies {
					require.NotNil(t, rep.User)
					assert.Equal(t, "Bob", rep.User.Name)
				}
			}
		})
	}
}

func TestStore_ListDiscussion_UnknownProfileIsAbsent(t *testing.T) {
	s, _ := newStoreService(t)
	roots, found, err := s.ListDiscussion(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, roots)
}

func TestStore_CreateReply_TopLevelThenNested(t *testing.T) {
	s, _ := newStoreService(t)
	ctx := context.Background()

	root, err := s.CreateReply(ctx, sess, CreateReplyInput{ProfileID: "p1", Message: "available?", UserID: strp("u1")})
	require.NoError(t, err)

	roots, _, err := s.ListDiscussion(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, root.ID, roots[0].ID)
	assert.Nil(t, roots[0].ReplyingToID)

	_, err = s.CreateReply(ctx, Session{UserID: "u2"}, CreateReplyInput{ProfileID: "p1", Message: "yes", ReplyingToID: &root.ID})
	require.NoError(t, err)

	roots, _, err = s.ListDiscussion(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	require.Len(t, roots[0].Replies, 1)
	assert.Equal(t, "yes", roots[0].Replies[0].Message)
	assert.Equal(t, "u2", roots[0].Replies[0].UserID)
}

func TestStore_CreateReply_UnknownReferencesAreStorageErrors(t *testing.T) {
	s, _ := newStoreService(t)
	ctx := context.Background()

	for name, in := range map[string]CreateReplyInput{
		"profile": {ProfileID: "p404", Message: "x"},
		"user":    {ProfileID: "p1", Message: "x", UserID: strp("u404")},
		"parent":  {ProfileID: "p1", Message: "x", ReplyingToID: strp("ghost")},
	} {
		_, err := s.CreateReply(ctx, sess, in)
		require.Error(t, err, name)
		assert.True(t, repo.IsForeignKeyViolation(err), "%s: %v", name, err)
	}
}

func TestStore_CreateReply_ParentOnOtherProfileRejected(t *testing.T) {
	s, _ := newStoreService(t)
	ctx := context.Background()

	other, err := s.CreateReply(ctx, sess, CreateReplyInput{ProfileID: "p2", Message: "sofa?"})
	require.NoError(t, err)

	_, err = s.CreateReply(ctx, sess, CreateReplyInput{ProfileID: "p1", Message: "x", ReplyingToID: &other.ID})
	assert.ErrorIs(t, err, ErrParentProfileMismatch)
}

func TestStore_UpdateReply_TokenAndUserChecks(t *testing.T) {
	s, db := newStoreService(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&domain.Reply{ID: "e1", Message: "orig", UserID: "u1", ProfileID: "p1"}).Error)

	// Token path.
	out, err := s.UpdateReply(ctx, sess, UpdateReplyInput{ID: "e1", Message: "hi", ProfileID: "p1", Token: strp("tok1")})
	require.NoError(t, err)
	assert.Equal(t, "hi", out.Message)

	_, err = s.UpdateReply(ctx, sess, UpdateReplyInput{ID: "e1", Message: "x", ProfileID: "p1", Token: strp("tok2")})
	assert.ErrorIs(t, err, ErrUnauthorized)

	// User path.
	out, err = s.UpdateReply(ctx, sess, UpdateReplyInput{ID: "e1", Message: "by author", ProfileID: "p1", UserID: strp("u1")})
	require.NoError(t, err)
	assert.Equal(t, "by author", out.Message)

	_, err = s.UpdateReply(ctx, sess, UpdateReplyInput{ID: "e1", Message: "no", ProfileID: "p1", UserID: strp("u2")})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.EqualError(t, err, "Wrong userId or token.")

	stored, err := repo.FindReply(ctx, db, "e1")
	require.NoError(t, err)
	assert.Equal(t, "by author", stored.Message, "rejected updates must not write")
}

func TestStore_UpdateReply_NonexistentIsUnauthorized(t *testing.T) {
	s, _ := newStoreService(t)
	ctx := context.Background()

	for _, in := range []UpdateReplyInput{
		{ID: "missing", Message: "m", ProfileID: "p1", Token: strp("tok1")},
		{ID: "missing", Message: "m", ProfileID: "p1", UserID: strp("u1")},
		{ID: "missing", Message: "m", ProfileID: "p404"},
	} {
		_, err := s.UpdateReply(ctx, sess, in)
		assert.ErrorIs(t, err, ErrUnauthorized)
	}
}

func TestStore_DeleteReply_RemovesThread(t *testing.T) {
	s, db := newStoreService(t)
	ctx := context.Background()
	seedThreads(t, db, 2, 2)

	require.NoError(t, s.DeleteReply(ctx, sess, DeleteReplyInput{ID: "root-0", ProfileID: "p1", UserID: strp("u1")}))

	roots, _, err := s.ListDiscussion(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "root-1", roots[0].ID)

	_, err = repo.FindReply(ctx, db, "root-0-reply-0")
	assert.ErrorIs(t, err, repo.ErrNotFound, "replies cascade with their root")
}

// Legacy mode keeps the historical contract: the entry is removed and the
// call still reports Unauthorized. This documents a known defect.
func TestStore_DeleteReply_LegacyFallthroughDeletesThenFails(t *testing.T) {
	s, db := newStoreService(t)
	s.LegacyDeleteFallthrough = true
	ctx := context.Background()
	require.NoError(t, db.Create(&domain.Reply{ID: "e1", Message: "m", UserID: "u1", ProfileID: "p1"}).Error)

	err := s.DeleteReply(ctx, sess, DeleteReplyInput{ID: "e1", ProfileID: "p1", UserID: strp("u1")})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = repo.FindReply(ctx, db, "e1")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestStore_DeleteReply_UnauthorizedKeepsEntry(t *testing.T) {
	s, db := newStoreService(t)
	ctx := context.Background()
	require.NoError(t, db.Create(&domain.Reply{ID: "e1", Message: "m", UserID: "u1", ProfileID: "p1"}).Error)

	err := s.DeleteReply(ctx, sess, DeleteReplyInput{ID: "e1", ProfileID: "p1", UserID: strp("u2")})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = repo.FindReply(ctx, db, "e1")
	assert.NoError(t, err)
}
