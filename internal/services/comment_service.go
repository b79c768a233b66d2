// Package services – CommentService
//
// This file implements CommentService, which owns the threaded discussion
// attached to an offer profile: listing top-level comments with their
// replies, posting a reply, and editing or deleting a reply. Mutations are
// authorized per call by either the profile's edit token or the reply's
// author id, resolved once into a domain.Credential.
//
// Observability: every public method opens an OpenTelemetry span and counts
// its outcome in comments_operations_total.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/internal/domain"
	"github.com/tbourn/offers-comments/internal/repo"
)

const tracerName = "services/CommentService"

// DefaultMaxMessageRunes caps reply length when no explicit limit is set.
const DefaultMaxMessageRunes = 4000

// ReplyRepo defines the storage contract required by CommentService.
type ReplyRepo interface {
	// FindProfile fetches a profile with the associations selected by expand.
	FindProfile(ctx context.Context, db *gorm.DB, id string, expand repo.Expand) (*domain.Profile, error)

	// FindReply fetches a single discussion entry.
	FindReply(ctx context.Context, db *gorm.DB, id string) (*domain.Reply, error)

	// CreateReply inserts an entry; replyingToID nil starts a thread.
	CreateReply(ctx context.Context, db *gorm.DB, profileID, userID string, replyingToID *string, message string) (*domain.Reply, error)

	// UpdateReplyMessage replaces an entry's message and returns the stored row.
	UpdateReplyMessage(ctx context.Context, db *gorm.DB, id, message string) (*domain.Reply, error)

	// DeleteReply removes an entry and, by cascade, its replies.
	DeleteReply(ctx context.Context, db *gorm.DB, id string) error
}

// EventPublisher receives reply lifecycle events after a mutation commits.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.ReplyEvent) error
}

// Session is the authorization context proven by the routing layer. An empty
// UserID means the caller is anonymous.
type Session struct {
	UserID string
}

// Authenticated reports whether the session carries a user.
func (s Session) Authenticated() bool { return strings.TrimSpace(s.UserID) != "" }

// CreateReplyInput is the payload of CreateReply. A nil UserID posts as the
// session user.
type CreateReplyInput struct {
	ProfileID    string
	Message      string
	UserID       *string
	ReplyingToID *string
}

// UpdateReplyInput is the payload of UpdateReply. Token and UserID are the
// two optional credentials; either may authorize.
type UpdateReplyInput struct {
	ID        string
	ProfileID string
	Message   string
	Token     *string
	UserID    *string
}

// DeleteReplyInput is the payload of DeleteReply.
type DeleteReplyInput struct {
	ID        string
	ProfileID string
	Token     *string
	UserID    *string
}

// CommentService provides the discussion operations.
type CommentService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the storage contract used by this service.
	Repo ReplyRepo
	// Events, when non-nil, receives an event after each successful mutation.
	Events EventPublisher

	// MaxMessageRunes caps message length; <= 0 disables the cap.
	MaxMessageRunes int

	// LegacyDeleteFallthrough reports ErrUnauthorized even after a successful
	// delete, as older clients expect.
	LegacyDeleteFallthrough bool

	// FlatThreads rejects a reply whose parent is itself a reply. Off by
	// default, threads may nest to any depth.
	FlatThreads bool

	now func() time.Time
}

// NewCommentService constructs a CommentService with default limits.
func NewCommentService(db *gorm.DB, r ReplyRepo) *CommentService {
	return &CommentService{
		DB:              db,
		Repo:            r,
		MaxMessageRunes: DefaultMaxMessageRunes,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// ListDiscussion returns the top-level entries of a profile's discussion,
// each carrying its replies, parent reference, and author. found is false
// (with a nil error) when the profile does not exist.
func (s *CommentService) ListDiscussion(ctx context.Context, profileID string) (roots []domain.Reply, found bool, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "ListDiscussion",
		trace.WithAttributes(attribute.String("profile.id", profileID)),
	)
	defer func() { finish(span, "list", err) }()

	if strings.TrimSpace(profileID) == "" {
		return nil, false, ErrInvalidInput
	}

	p, err := s.Repo.FindProfile(ctx, s.DB, profileID, repo.ExpandThread)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetAttributes(attribute.Bool("profile.found", false))
			return nil, false, nil
		}
		return nil, false, err
	}

	roots = make([]domain.Reply, 0, len(p.Discussion))
	for _, r := range p.Discussion {
		if r.IsTopLevel() {
			roots = append(roots, r)
		}
	}
	span.SetAttributes(attribute.Int("discussion.roots", len(roots)))
	return roots, true, nil
}

// CreateReply posts a new entry on a profile. Unknown profile, user, or parent
// ids surface as the store's foreign key error.
func (s *CommentService) CreateReply(ctx context.Context, sess Session, in CreateReplyInput) (out *domain.Reply, err error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CreateReply",
		trace.WithAttributes(
			attribute.String("profile.id", in.ProfileID),
			attribute.String("session.user_id", sess.UserID),
			attribute.Bool("reply.nested", in.ReplyingToID != nil),
		),
	)
	defer func() { finish(span, "create", err) }()

	if !sess.Authenticated() {
		return nil, ErrNoSession
	}
	if strings.TrimSpace(in.ProfileID) == "" {
		return nil, ErrInvalidInput
	}
	msg, err := s.checkMessage(in.Message)
	if err != nil {
		return nil, err
	}

	userID := strings.TrimSpace(sess.UserID)
	if in.UserID != nil && strings.TrimSpace(*in.UserID) != "" {
		userID = strings.TrimSpace(*in.UserID)
	}

	var parentID *string
	if in.ReplyingToID != nil && strings.TrimSpace(*in.ReplyingToID) != "" {
		id := strings.TrimSpace(*in.ReplyingToID)
		parentID = &id
		parent, ferr := s.Repo.FindReply(ctx, s.DB, id)
		switch {
		case ferr == nil:
			if parent.ProfileID != in.ProfileID {
				return nil, ErrParentProfileMismatch
			}
			if s.FlatThreads && !parent.IsTopLevel() {
				return nil, ErrParentNotTopLevel
			}
		case errors.Is(ferr, gorm.ErrRecordNotFound):
			// Left to the foreign key.
		default:
			return nil, ferr
		}
	}

	out, err = s.Repo.CreateReply(ctx, s.DB, in.ProfileID, userID, parentID, msg)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, span, domain.ReplyCreated, out, sess.UserID)
	return out, nil
}

// UpdateReply replaces the message of an entry the caller may edit. Missing
// entries and profiles are reported as ErrUnauthorized, like a failed check.
func (s *CommentService) UpdateReply(ctx context.Context, sess Session, in UpdateReplyInput) (out *domain.Reply, err error) {
	cred := domain.NewCredential(in.Token, in.UserID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "UpdateReply",
		trace.WithAttributes(
			attribute.String("reply.id", in.ID),
			attribute.String("profile.id", in.ProfileID),
			attribute.String("credential.kind", cred.Kind().String()),
		),
	)
	defer func() { finish(span, "update", err) }()

	if !sess.Authenticated() {
		return nil, ErrNoSession
	}
	if strings.TrimSpace(in.ID) == "" {
		return nil, ErrInvalidInput
	}
	msg, err := s.checkMessage(in.Message)
	if err != nil {
		return nil, err
	}

	reply, err := s.authorize(ctx, in.ID, in.ProfileID, cred)
	if err != nil {
		return nil, err
	}

	out, err = s.Repo.UpdateReplyMessage(ctx, s.DB, reply.ID, msg)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Deleted between the check and the write.
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	s.publish(ctx, span, domain.ReplyUpdated, out, sess.UserID)
	return out, nil
}

// DeleteReply removes an entry the caller may edit, together with its replies.
//
// With LegacyDeleteFallthrough set, a successful delete still returns
// ErrUnauthorized.
func (s *CommentService) DeleteReply(ctx context.Context, sess Session, in DeleteReplyInput) (err error) {
	cred := domain.NewCredential(in.Token, in.UserID)
	ctx, span := otel.Tracer(tracerName).Start(ctx, "DeleteReply",
		trace.WithAttributes(
			attribute.String("reply.id", in.ID),
			attribute.String("profile.id", in.ProfileID),
			attribute.String("credential.kind", cred.Kind().String()),
			attribute.Bool("delete.legacy_fallthrough", s.LegacyDeleteFallthrough),
		),
	)
	defer func() { finish(span, "delete", err) }()

	if !sess.Authenticated() {
		return ErrNoSession
	}
	if strings.TrimSpace(in.ID) == "" {
		return ErrInvalidInput
	}

	reply, err := s.authorize(ctx, in.ID, in.ProfileID, cred)
	if err != nil {
		return err
	}

	if err := s.Repo.DeleteReply(ctx, s.DB, reply.ID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	s.publish(ctx, span, domain.ReplyDeleted, reply, sess.UserID)

	if s.LegacyDeleteFallthrough {
		span.SetAttributes(attribute.Bool("reply.deleted", true))
		return ErrUnauthorized
	}
	return nil
}

// authorize looks up the entry and the named profile and checks cred against
// them. Absent rows never satisfy the check; storage failures propagate.
func (s *CommentService) authorize(ctx context.Context, replyID, profileID string, cred domain.Credential) (*domain.Reply, error) {
	reply, err := s.Repo.FindReply(ctx, s.DB, replyID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var profile *domain.Profile
	if strings.TrimSpace(profileID) != "" {
		profile, err = s.Repo.FindProfile(ctx, s.DB, profileID, repo.ExpandNone)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}

	if reply == nil || !cred.Authorizes(profile, reply) {
		return nil, ErrUnauthorized
	}
	return reply, nil
}

// checkMessage rejects blank messages and enforces the length cap, counting
// runes of the NFC form so combining sequences count once. The message is
// stored exactly as sent.
func (s *CommentService) checkMessage(msg string) (string, error) {
	if strings.TrimSpace(msg) == "" {
		return "", ErrEmptyMessage
	}
	if s.MaxMessageRunes > 0 && utf8.RuneCountInString(norm.NFC.String(msg)) > s.MaxMessageRunes {
		return "", ErrMessageTooLong
	}
	return msg, nil
}

func (s *CommentService) publish(ctx context.Context, span trace.Span, typ domain.ReplyEventType, r *domain.Reply, actor string) {
	if s.Events == nil || r == nil {
		return
	}
	ev := domain.ReplyEvent{
		Type:         typ,
		ReplyID:      r.ID,
		ProfileID:    r.ProfileID,
		UserID:       r.UserID,
		ActorID:      actor,
		ReplyingToID: r.ReplyingToID,
		OccurredAt:   s.clock(),
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		// The mutation is committed; delivery is best effort.
		span.RecordError(err, trace.WithAttributes(attribute.String("event.type", string(typ))))
	}
}

func (s *CommentService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// finish records the outcome on span and in the operations counter.
func finish(span trace.Span, op string, err error) {
	result := outcome(err)
	operations.WithLabelValues(op, result).Inc()
	span.SetAttributes(attribute.String("result", result))
	if err != nil && result == resultError {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
