package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumanyunandwani/AnalyzeAI/internal/auth"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/config"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/handlers"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/middleware"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/filestore"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeQueue struct {
	mu   sync.Mutex
	msgs []rabbitmq.JobMessage
	err  error
}

func (q *fakeQueue) PublishJob(ctx context.Context, m rabbitmq.JobMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, m)
	return nil
}

type env struct {
	router *gin.Engine
	repo   *bdoc.Repo
	ledger *quota.Ledger
	files  *filestore.Store
	queue  *fakeQueue
	cfg    config.Config
}

const adminKey = "let-me-in"

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := strings.NewReplacer("/", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&bdoc.Business{}, &bdoc.Job{}, &quota.UserCapacity{}, &quota.IPCapacity{}))

	hash, err := auth.HashPassword(adminKey)
	require.NoError(t, err)
	cfg := config.Config{JWTSecret: "secret", AdminKeyHash: hash, QuotaUserDefault: 4, QuotaIPDefault: 3}

	repo := bdoc.NewRepo(db)
	require.NoError(t, repo.SeedBusinesses(context.Background(), []string{"Acme", "Globex"}))
	ledger := quota.NewLedger(quota.NewRepo(db), quota.Options{})
	files := filestore.New(afero.NewMemMapFs())
	q := &fakeQueue{}

	h := handlers.NewHandler(cfg, repo, ledger, files, q)
	return &env{router: NewRouter(h), repo: repo, ledger: ledger, files: files, queue: q, cfg: cfg}
}

func (e *env) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func postPrompt(tag, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/prompt/"+tag, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestEnqueuePrompt_Validation(t *testing.T) {
	e := newEnv(t)

	w := e.do(postPrompt("sql", `{"script":"SELECT 1"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Missing or null key: business", decode(t, w).Message)

	w = e.do(postPrompt("sql", `{"script":null,"business":"Acme"}`))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "Missing or null key: script", decode(t, w).Message)

	w = e.do(postPrompt("poem", `{"script":"x","business":"Acme"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(postPrompt("sql", `not json`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, e.queue.msgs)
}

func TestEnqueuePrompt_QueuesAndPolls(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tok, err := auth.SignJWT(auth.NewClaims("Ada", "ada@example.com", "google"), "secret", time.Hour)
	require.NoError(t, err)
	req := postPrompt("sql", `{"script":"SELECT 1","business":"Acme"}`)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tok})

	w := e.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		TaskID string `json:"task_id"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(decode(t, w).Data, &data))
	assert.Equal(t, "queued", data.Status)
	assert.Len(t, data.TaskID, 26)

	require.Len(t, e.queue.msgs, 1)
	assert.Equal(t, data.TaskID, e.queue.msgs[0].JobID)
	assert.Equal(t, tok, e.queue.msgs[0].Token)

	j, err := e.repo.GetJobByID(ctx, data.TaskID)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", j.Script)
	assert.Equal(t, "192.0.2.1", j.ClientIP)

	w = e.do(httptest.NewRequest(http.MethodGet, "/task/"+data.TaskID, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(decode(t, w).Data), `"status":"pending"`)

	w = e.do(httptest.NewRequest(http.MethodGet, "/task/"+data.TaskID+"/pdf", nil))
	assert.Equal(t, http.StatusConflict, w.Code)
	conflict := decode(t, w)
	assert.Equal(t, 40901, conflict.Code)
	assert.JSONEq(t, `{"task_id":"`+data.TaskID+`","status":"pending"}`, string(conflict.Data))

	path, err := e.files.WritePDF([]byte("%PDF-1.3 test"))
	require.NoError(t, err)
	require.NoError(t, e.repo.MarkJobSucceeded(ctx, data.TaskID, bdoc.ArtifactRef{PDFID: 1, Path: path}))

	w = e.do(httptest.NewRequest(http.MethodGet, "/task/"+data.TaskID, nil))
	body := string(decode(t, w).Data)
	assert.Contains(t, body, `"status":"completed"`)
	assert.Contains(t, body, `"download_url":"/task/`+data.TaskID+`/pdf"`)

	w = e.do(httptest.NewRequest(http.MethodGet, "/task/"+data.TaskID+"/pdf", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.3 test", w.Body.String())
}

func TestEnqueuePrompt_InvalidTokenIsRejected(t *testing.T) {
	e := newEnv(t)
	req := postPrompt("sql", `{"script":"SELECT 1","business":"Acme"}`)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "forged"})

	w := e.do(req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, e.queue.msgs)
}

func TestEnqueuePrompt_PublishFailureMarksJobFailed(t *testing.T) {
	e := newEnv(t)
	e.queue.err = errors.New("broker down")

	w := e.do(postPrompt("sql", `{"script":"SELECT 1","business":"Acme"}`))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 50002, decode(t, w).Code)
}

func TestGetTask_NotFound(t *testing.T) {
	e := newEnv(t)
	w := e.do(httptest.NewRequest(http.MethodGet, "/task/01NOPE", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTask_Failed(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.repo.CreateJob(ctx, &bdoc.Job{ID: "01FAILED000000000000000000", Tag: "sql", Script: "x", Business: "Acme", Status: bdoc.JobQueued}))
	require.NoError(t, e.repo.MarkJobFailed(ctx, "01FAILED000000000000000000", bdoc.Outcome{
		ErrorKind: bdoc.KindQuotaExhausted, StatusCode: http.StatusForbidden, Message: "No More Requests Left",
	}))

	w := e.do(httptest.NewRequest(http.MethodGet, "/task/01FAILED000000000000000000", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := string(decode(t, w).Data)
	assert.Contains(t, body, `"status":"failed"`)
	assert.Contains(t, body, `"kind":"quota_exhausted"`)
	assert.Contains(t, body, `"status_code":403`)
	assert.Contains(t, body, "No More Requests Left")
}

func TestListBusinessNames(t *testing.T) {
	e := newEnv(t)
	w := e.do(httptest.NewRequest(http.MethodGet, "/business/names", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"names":["Acme","Globex"]}`, string(decode(t, w).Data))
}

func TestQuotaRoutes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	w := e.do(httptest.NewRequest(http.MethodGet, "/quota", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"kind":"ip","remaining":3}`, string(decode(t, w).Data))

	// no admin key
	w = e.do(httptest.NewRequest(http.MethodPut, "/update/user/count/10?ip=9.9.9.9", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPut, "/update/user/count/10?ip=9.9.9.9", nil)
	req.Header.Set(middleware.AdminKeyHeader, adminKey)
	w = e.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	n, found, err := e.ledger.Remaining(ctx, identity.IP("9.9.9.9"))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 10, n)

	// user named by the token
	claims := auth.NewClaims("Ada", "ada@example.com", "google")
	tok, err := auth.SignJWT(claims, "secret", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPut, "/update/user/count/7", nil)
	req.Header.Set(middleware.AdminKeyHeader, adminKey)
	req.Header.Set("Authorization", "Bearer "+tok)
	w = e.do(req)
	require.Equal(t, http.StatusOK, w.Code)
	n, _, err = e.ledger.Remaining(ctx, identity.User(claims.UserID))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	req = httptest.NewRequest(http.MethodPut, "/update/user/count/-1?ip=9.9.9.9", nil)
	req.Header.Set(middleware.AdminKeyHeader, adminKey)
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(req).Code)

	req = httptest.NewRequest(http.MethodPut, "/update/user/count/5", nil)
	req.Header.Set(middleware.AdminKeyHeader, adminKey)
	assert.Equal(t, http.StatusUnprocessableEntity, e.do(req).Code)
}

func TestRouter_NotFoundEnvelope(t *testing.T) {
	e := newEnv(t)
	w := e.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, decode(t, w).Code)

	w = e.do(httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
