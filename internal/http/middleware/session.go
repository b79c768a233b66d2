package middleware

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// HeaderUserID carries the session user established by the upstream gateway.
const HeaderUserID = "X-User-ID"

// sessionKey is the Gin context key read by handlers as the session user.
const sessionKey = "userID"

var userIDPattern = regexp.MustCompile(`^[A-Za-z0-9._@:\-]{1,64}$`)

// sessionUser returns the session user from the context, or from a
// well-formed X-User-ID header. It returns "" for anonymous requests.
func sessionUser(c *gin.Context) string {
	if s, ok := c.Value(sessionKey).(string); ok && s != "" {
		return s
	}
	if c.Request == nil {
		return ""
	}
	h := strings.TrimSpace(c.GetHeader(HeaderUserID))
	if !userIDPattern.MatchString(h) {
		return ""
	}
	return h
}

// RequireSession rejects requests without a session user with 401 and stores
// the user under "userID" otherwise. Mount it on every route group whose
// handlers mutate or read discussions.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := sessionUser(c)
		if uid == "" {
			abortJSON(c, http.StatusUnauthorized, codeUnauthorized, "session required")
			return
		}
		c.Set(sessionKey, uid)
		c.Next()
	}
}
