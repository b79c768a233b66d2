package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/offers-comments/internal/http/middleware"
	"github.com/tbourn/offers-comments/internal/services"
)

// envelopeRouter stamps a request id and a buffered request logger, then
// mounts h at GET /x.
func envelopeRouter(rid string, buf *bytes.Buffer, h gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	lg := zerolog.New(buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Set("logger", &lg)
		c.Next()
	})
	r.GET("/x", h)
	return r
}

func serveEnvelope(t *testing.T, r *gin.Engine) (*httptest.ResponseRecorder, ErrorResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v (%s)", err, w.Body.String())
	}
	return w, er
}

func Test_failFor_WrongCredentialsEnvelope(t *testing.T) {
	var buf bytes.Buffer
	r := envelopeRouter("rid-401", &buf, func(c *gin.Context) {
		failFor(c, fmt.Errorf("delete r1: %w", services.ErrUnauthorized))
	})

	w, er := serveEnvelope(t, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	if er.RequestID != "rid-401" || er.Code != ErrCodeUnauthorized || er.Message != "Wrong userId or token." {
		t.Fatalf("unexpected body: %+v", er)
	}
	if buf.Len() != 0 {
		t.Fatalf("client errors must not be logged: %s", buf.String())
	}
}

func Test_failFor_UnknownReferenceIs422(t *testing.T) {
	var buf bytes.Buffer
	r := envelopeRouter("rid-422", &buf, func(c *gin.Context) {
		failFor(c, fmt.Errorf("insert reply: %w", gorm.ErrForeignKeyViolated))
	})

	w, er := serveEnvelope(t, r)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", w.Code)
	}
	if er.RequestID != "rid-422" || er.Code != ErrCodeInvalidReference || ErrCodeInvalidReference != "invalid_reference" {
		t.Fatalf("unexpected body: %+v", er)
	}
}

func Test_failFor_StoreErrorLogsAndIs500(t *testing.T) {
	var buf bytes.Buffer
	r := envelopeRouter("rid-500", &buf, func(c *gin.Context) {
		failFor(c, fmt.Errorf("load discussion: %w", gorm.ErrInvalidDB))
	})

	w, er := serveEnvelope(t, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	if er.RequestID != "rid-500" || er.Code != ErrCodeInternal {
		t.Fatalf("unexpected body: %+v", er)
	}
	if !strings.Contains(buf.String(), `"level":"error"`) || !strings.Contains(buf.String(), `"code":"internal_error"`) {
		t.Fatalf("expected error log, got: %s", buf.String())
	}
}

func Test_SuccessHelpers_NullDiscussionAndNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/profiles/p9/comments", func(c *gin.Context) { ok(c, http.StatusOK, nil) })
	r.POST("/profiles/p1/comments", func(c *gin.Context) { noContent(c) })

	// An unknown profile lists as a bare JSON null, not an envelope.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/profiles/p9/comments", nil))
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "null" {
		t.Fatalf("null list: %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/profiles/p1/comments", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("create: %d %q", w.Code, w.Body.String())
	}
}

func Test_MiddlewareAbortsUseHandlerCodes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.RequireSession())
	r.GET("/profiles/:profileId/comments", func(c *gin.Context) { ok(c, http.StatusOK, nil) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/profiles/p1/comments", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	var er ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil {
		t.Fatalf("json: %v", err)
	}
	if er.Code != ErrCodeUnauthorized || er.RequestID == "" {
		t.Fatalf("unexpected body: %+v", er)
	}
}
