package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumanyunandwani/AnalyzeAI/internal/auth"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/x", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString(UserIDKey), "request_id": c.GetString(RequestIDKey)})
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func TestRecovery(t *testing.T) {
	r := newEngine(Recovery())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"code":50000`)
}

func TestRequestID(t *testing.T) {
	r := newEngine(RequestID())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeader))
}

func TestOptionalAuth(t *testing.T) {
	r := newEngine(OptionalAuth("secret"))
	tok, err := auth.SignJWT(auth.NewClaims("Ada", "ada@example.com", "google"), "secret", time.Hour)
	require.NoError(t, err)

	// anonymous
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"user_id":""`)

	// cookie
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tok})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), `"user_id":""`)

	// bearer with a bad token
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminKeyRequired(t *testing.T) {
	hash, err := auth.HashPassword("k3y")
	require.NoError(t, err)

	r := newEngine(AdminKeyRequired(hash))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(AdminKeyHeader, "k3y")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(AdminKeyHeader, "wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	newEngine(AdminKeyRequired("")).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
