package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/auth"
	"github.com/sumanyunandwani/AnalyzeAI/internal/common"
)

const (
	RequestIDKey    = "request_id"
	RequestIDHeader = "X-Request-ID"
	UserIDKey       = "user_id"
	TokenKey        = "access_token"
	AdminKeyHeader  = "X-Admin-Key"
)

func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("request_id", c.GetString(RequestIDKey)).
					Str("path", c.Request.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("handler panicked")
				common.Fail(c, http.StatusInternalServerError, 50000, "internal error")
			}
		}()
		c.Next()
	}
}

func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := log.Info()
		if status >= http.StatusInternalServerError {
			ev = log.Error()
		} else if status >= http.StatusBadRequest {
			ev = log.Warn()
		}
		ev.Str("request_id", c.GetString(RequestIDKey)).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("http request")
	}
}

// tokenFrom reads the access token from the cookie, then the bearer header.
func tokenFrom(c *gin.Context) string {
	if v, err := c.Cookie(auth.CookieName); err == nil && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	h := c.GetHeader("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return ""
}

// OptionalAuth lets anonymous requests through. A token that is present
// must verify; its user id and raw form are stored on the context.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := tokenFrom(c)
		if tok == "" {
			c.Next()
			return
		}
		claims, err := auth.ParseJWT(tok, secret)
		if err != nil {
			common.Fail(c, http.StatusUnauthorized, 40101, "invalid token")
			return
		}
		c.Set(UserIDKey, claims.UserID)
		c.Set(TokenKey, tok)
		c.Next()
	}
}

// AdminKeyRequired checks X-Admin-Key against a bcrypt hash. An empty hash
// disables the guarded routes.
func AdminKeyRequired(hash string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if hash == "" {
			common.Fail(c, http.StatusForbidden, 40302, "administration disabled")
			return
		}
		key := c.GetHeader(AdminKeyHeader)
		if key == "" || !auth.CheckPassword(hash, key) {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid admin key")
			return
		}
		c.Next()
	}
}
