// Discussion HTTP handlers.
//
// This file exposes REST endpoints for the comment thread of an offer profile:
//   - GET    /profiles/{profileId}/comments        (list, ETag support)
//   - POST   /profiles/{profileId}/comments        (create, idempotent)
//   - PATCH  /profiles/{profileId}/comments/{id}   (edit)
//   - DELETE /profiles/{profileId}/comments/{id}   (delete)
//
// Handlers are transport-thin: they bind input, build the authorization
// context from the session established by middleware, call the service, and
// translate results into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/internal/domain"
	"github.com/tbourn/offers-comments/internal/http/middleware"
	"github.com/tbourn/offers-comments/internal/repo"
	"github.com/tbourn/offers-comments/internal/services"
)

// HeaderEditToken carries a profile edit token as an alternative to the
// request body field.
const HeaderEditToken = "X-Edit-Token"

// defaultIdempotencyTTL bounds how long a create can be replayed.
const defaultIdempotencyTTL = 24 * time.Hour

// CommentService defines the discussion operations consumed by the handlers.
//
// Implementations must be safe for concurrent use and honor ctx.
type CommentService interface {
	// ListDiscussion returns the top-level entries of a profile; found is
	// false when the profile does not exist.
	ListDiscussion(ctx context.Context, profileID string) ([]domain.Reply, bool, error)
	// CreateReply posts a new entry.
	CreateReply(ctx context.Context, sess services.Session, in services.CreateReplyInput) (*domain.Reply, error)
	// UpdateReply edits an entry the caller may edit.
	UpdateReply(ctx context.Context, sess services.Session, in services.UpdateReplyInput) (*domain.Reply, error)
	// DeleteReply removes an entry the caller may edit.
	DeleteReply(ctx context.Context, sess services.Session, in services.DeleteReplyInput) error
}

// Handlers groups the discussion endpoints.
type Handlers struct {
	svc     CommentService
	idemTTL time.Duration
}

// Option customizes Handlers.
type Option func(*Handlers)

// WithIdempotencyTTL sets how long an Idempotency-Key replays a create.
func WithIdempotencyTTL(d time.Duration) Option {
	return func(h *Handlers) {
		if d > 0 {
			h.idemTTL = d
		}
	}
}

// New constructs Handlers bound to svc.
func New(svc CommentService, opts ...Option) *Handlers {
	h := &Handlers{svc: svc, idemTTL: defaultIdempotencyTTL}
	for _, o := range opts {
		o(h)
	}
	return h
}

// userID extracts the session user id set by RequireSession. It falls back to
// the "X-User-ID" header for handlers mounted without that middleware and
// returns "" when neither is present. It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		return strings.TrimSpace(c.GetHeader("X-User-ID"))
	}
	return ""
}

func session(c *gin.Context) services.Session {
	return services.Session{UserID: userID(c)}
}

// storeDB returns the service's database handle when the concrete service is
// in use. Conditional GETs and idempotency are skipped otherwise.
func (h *Handlers) storeDB() *gorm.DB {
	if svc, ok := h.svc.(*services.CommentService); ok {
		return svc.DB
	}
	return nil
}

//
// DTOs
//

// DiscussionResponse is the body of a successful list call.
type DiscussionResponse struct {
	ProfileID string         `json:"profile_id" example:"p1"`
	Comments  []domain.Reply `json:"comments"`
}

// CreateReplyRequest is the JSON payload for posting an entry.
type CreateReplyRequest struct {
	// Message is the entry text.
	Message string `json:"message" binding:"required" example:"Is this still available?"`
	// UserID optionally names the author; defaults to the session user.
	UserID *string `json:"user_id,omitempty" example:"u1"`
	// ReplyingToID makes the entry a reply to a top-level entry.
	ReplyingToID *string `json:"replying_to_id,omitempty" example:"0b9c6a4e-6f73-4d7e-9a0c-3e2b2b1f5a10"`
}

// UpdateReplyRequest is the JSON payload for editing an entry. One of Token
// or UserID authorizes the edit.
type UpdateReplyRequest struct {
	Message string  `json:"message" binding:"required" example:"Price lowered"`
	Token   *string `json:"token,omitempty" example:"edit-token"`
	UserID  *string `json:"user_id,omitempty" example:"u1"`
}

// DeleteReplyRequest is the optional JSON payload for deleting an entry.
type DeleteReplyRequest struct {
	Token  *string `json:"token,omitempty" example:"edit-token"`
	UserID *string `json:"user_id,omitempty" example:"u1"`
}

// editToken prefers the body token and falls back to the X-Edit-Token header.
func editToken(c *gin.Context, body *string) *string {
	if body != nil && *body != "" {
		return body
	}
	if h := c.GetHeader(HeaderEditToken); h != "" {
		return &h
	}
	return body
}

//
// Endpoints
//

// ListDiscussion godoc
// @ID          listDiscussion
// @Summary     List a profile's discussion
// @Description Returns the top-level entries of the profile's discussion, oldest first, each with its replies and author. Returns `null` when the profile does not exist.
// @Tags        Comments
// @Produce     json
// @Param       X-User-ID      header  string  true   "Session user id"
// @Param       profileId      path    string  true   "Profile ID"
// @Param       If-None-Match  header  string  false  "ETag from a previous response"
// @Success     200  {object}  handlers.DiscussionResponse
// @Success     304  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "No session"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /profiles/{profileId}/comments [get]
func (h *Handlers) ListDiscussion(c *gin.Context) {
	ctx := c.Request.Context()
	profileID := strings.TrimSpace(c.Param("profileId"))
	if profileID == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "profile id required")
		return
	}

	// ETag pre-check (best effort). Absent profiles get no validator, so a
	// cached null is never revalidated once the profile appears.
	if etag := h.discussionETag(ctx, profileID); etag != "" {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	roots, found, err := h.svc.ListDiscussion(ctx, profileID)
	if err != nil {
		failFor(c, err)
		return
	}
	if !found {
		c.Writer.Header().Del("ETag")
		ok(c, http.StatusOK, nil)
		return
	}
	if roots == nil {
		roots = []domain.Reply{}
	}
	ok(c, http.StatusOK, DiscussionResponse{ProfileID: profileID, Comments: roots})
}

// discussionETag returns the weak validator for an existing profile's
// discussion, or "" when the profile is absent or the store is unavailable.
func (h *Handlers) discussionETag(ctx context.Context, profileID string) string {
	db := h.storeDB()
	if db == nil {
		return ""
	}
	exists, err := repo.ProfileExists(ctx, db, profileID)
	if err != nil || !exists {
		return ""
	}
	count, maxTS, err := repo.DiscussionStats(ctx, db, profileID)
	if err != nil {
		return ""
	}
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	return fmt.Sprintf(`W/"discussion:%s:%d:%d"`, profileID, count, ts)
}

// CreateReply godoc
// @ID          createReply
// @Summary     Post an entry on a profile
// @Description Creates a top-level entry, or a reply when `replying_to_id` is set. Supports `Idempotency-Key` for safe retries.
// @Tags        Comments
// @Accept      json
// @Param       X-User-ID        header  string                       true   "Session user id"
// @Param       Idempotency-Key  header  string                       false  "Idempotency key for safe retries"
// @Param       profileId        path    string                       true   "Profile ID"
// @Param       payload          body    handlers.CreateReplyRequest  true   "Entry"
// @Success     204  "Created"
// @Header      204  {string}  Idempotency-Replayed  "true when served from a previous request"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "No session"
// @Failure     422  {object}  handlers.ErrorResponse "Unknown profile, user, or parent"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /profiles/{profileId}/comments [post]
func (h *Handlers) CreateReply(c *gin.Context) {
	ctx := c.Request.Context()
	profileID := strings.TrimSpace(c.Param("profileId"))

	var req CreateReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	sess := session(c)
	db := h.storeDB()

	// Idempotency (replay path). The validator middleware may have already
	// done the lookup.
	idemKey, _ := middlewareGetIdempotencyKey(c)
	if idemKey != "" && sess.Authenticated() {
		replay := middleware.IsReplay(c)
		if !replay && db != nil {
			rec, err := repo.GetIdempotency(ctx, db, sess.UserID, profileID, idemKey, time.Now().UTC())
			replay = err == nil && rec != nil
		}
		if replay {
			c.Header("Idempotency-Replayed", "true")
			noContent(c)
			return
		}
	}

	r, err := h.svc.CreateReply(ctx, sess, services.CreateReplyInput{
		ProfileID:    profileID,
		Message:      req.Message,
		UserID:       req.UserID,
		ReplyingToID: req.ReplyingToID,
	})
	if err != nil {
		failFor(c, err)
		return
	}

	// Idempotency (store path), best effort.
	if idemKey != "" && db != nil {
		if _, err := repo.CreateIdempotency(ctx, db, sess.UserID, profileID, idemKey, r.ID, http.StatusNoContent, h.idemTTL); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Str("reply_id", r.ID).Msg("idempotency record not stored")
		}
	}

	noContent(c)
}

// UpdateReply godoc
// @ID          updateReply
// @Summary     Edit an entry
// @Description Replaces the message of an entry. Authorized by the profile edit token (body `token` or `X-Edit-Token`) or by the author's user id.
// @Tags        Comments
// @Accept      json
// @Produce     json
// @Param       X-User-ID     header  string                       true   "Session user id"
// @Param       X-Edit-Token  header  string                       false  "Profile edit token"
// @Param       profileId     path    string                       true   "Profile ID"
// @Param       id            path    string                       true   "Entry ID"
// @Param       payload       body    handlers.UpdateReplyRequest  true   "New message and credential"
// @Success     200  {object}  domain.Reply
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Wrong userId or token."
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /profiles/{profileId}/comments/{id} [patch]
func (h *Handlers) UpdateReply(c *gin.Context) {
	var req UpdateReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	r, err := h.svc.UpdateReply(c.Request.Context(), session(c), services.UpdateReplyInput{
		ID:        strings.TrimSpace(c.Param("id")),
		ProfileID: strings.TrimSpace(c.Param("profileId")),
		Message:   req.Message,
		Token:     editToken(c, req.Token),
		UserID:    req.UserID,
	})
	if err != nil {
		failFor(c, err)
		return
	}
	ok(c, http.StatusOK, r)
}

// DeleteReply godoc
// @ID          deleteReply
// @Summary     Delete an entry
// @Description Deletes an entry and its replies. Authorized like updateReply; the body is optional.
// @Tags        Comments
// @Accept      json
// @Param       X-User-ID     header  string                       true   "Session user id"
// @Param       X-Edit-Token  header  string                       false  "Profile edit token"
// @Param       profileId     path    string                       true   "Profile ID"
// @Param       id            path    string                       true   "Entry ID"
// @Param       payload       body    handlers.DeleteReplyRequest  false  "Credential"
// @Success     204  "Deleted"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse "Wrong userId or token."
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /profiles/{profileId}/comments/{id} [delete]
func (h *Handlers) DeleteReply(c *gin.Context) {
	var req DeleteReplyRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid body")
			return
		}
	}

	err := h.svc.DeleteReply(c.Request.Context(), session(c), services.DeleteReplyInput{
		ID:        strings.TrimSpace(c.Param("id")),
		ProfileID: strings.TrimSpace(c.Param("profileId")),
		Token:     editToken(c, req.Token),
		UserID:    req.UserID,
	})
	if err != nil {
		failFor(c, err)
		return
	}
	noContent(c)
}

// failFor maps a service error to a status and stable code.
func failFor(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrUnauthorized):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, services.ErrUnauthorized.Error())
	case errors.Is(err, services.ErrNoSession):
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "session required")
	case errors.Is(err, services.ErrEmptyMessage):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
	case errors.Is(err, services.ErrMessageTooLong):
		fail(c, http.StatusBadRequest, ErrCodeMessageTooLong, err.Error())
	case errors.Is(err, services.ErrParentProfileMismatch),
		errors.Is(err, services.ErrParentNotTopLevel),
		errors.Is(err, services.ErrInvalidInput):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case repo.IsForeignKeyViolation(err):
		fail(c, http.StatusUnprocessableEntity, ErrCodeInvalidReference, "unknown profile, user, or parent entry")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// middlewareGetIdempotencyKey extracts an idempotency key if an upstream
// middleware has already validated/stashed it. The fallback behavior reads
// the "Idempotency-Key" header directly when no dedicated middleware exists.
func middlewareGetIdempotencyKey(c *gin.Context) (string, bool) {
	if v, ok := c.Get("idem.key"); ok {
		if s, _ := v.(string); s != "" {
			return s, true
		}
	}
	if v := strings.TrimSpace(c.GetHeader("Idempotency-Key")); v != "" {
		return v, true
	}
	return "", false
}
