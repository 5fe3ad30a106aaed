package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/sumanyunandwani/AnalyzeAI/internal/auth"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*bdoc.Job
}

func newMemJobs(jobs ...*bdoc.Job) *memJobs {
	m := &memJobs{jobs: map[string]*bdoc.Job{}}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) GetJobByID(ctx context.Context, id string) (*bdoc.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, bdoc.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) MarkJobRunning(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = bdoc.JobRunning
	m.jobs[id].Attempts++
	return nil
}

func (m *memJobs) MarkJobRetrying(ctx context.Context, id string, o bdoc.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = bdoc.JobQueued
	return nil
}

func (m *memJobs) MarkJobSucceeded(ctx context.Context, id string, ref bdoc.ArtifactRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = bdoc.JobSucceeded
	m.jobs[id].PDFID = &ref.PDFID
	return nil
}

func (m *memJobs) MarkJobFailed(ctx context.Context, id string, o bdoc.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[id].Status = bdoc.JobFailed
	kind := string(o.ErrorKind)
	m.jobs[id].ErrorKind = &kind
	return nil
}

func (m *memJobs) status(id string) bdoc.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id].Status
}

type execFunc func(ctx context.Context, req bdoc.Request) bdoc.Outcome

func (f execFunc) Handle(ctx context.Context, req bdoc.Request) bdoc.Outcome { return f(ctx, req) }

type recordingRetrier struct {
	msgs []rabbitmq.JobMessage
	err  error
}

func (r *recordingRetrier) PublishRetry(ctx context.Context, m rabbitmq.JobMessage, delay time.Duration) error {
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, m)
	return nil
}

func queuedJob(id string) *bdoc.Job {
	return &bdoc.Job{ID: id, Tag: "sql", Script: "SELECT 1", Business: "Acme", ClientIP: "9.9.9.9", Status: bdoc.JobQueued}
}

func failWith(kind bdoc.ErrorKind, status int) execFunc {
	return func(context.Context, bdoc.Request) bdoc.Outcome {
		return bdoc.Outcome{Status: bdoc.StatusFailed, ErrorKind: kind, StatusCode: status, Message: string(kind)}
	}
}

func newTestHandler(jobs jobStore, svc executor, r retrier) *jobHandler {
	return &jobHandler{jobs: jobs, svc: svc, retry: r, jwtSecret: "secret", maxAttempts: 3, retryDelay: time.Second}
}

func TestHandle_SuccessUsesClientIP(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	var got bdoc.Request
	h := newTestHandler(jobs, execFunc(func(ctx context.Context, req bdoc.Request) bdoc.Outcome {
		got = req
		return bdoc.Outcome{Status: bdoc.StatusCompleted, Artifact: &bdoc.ArtifactRef{PDFID: 3}}
	}), &recordingRetrier{})

	assert.Equal(t, ack, h.handle(context.Background(), rabbitmq.JobMessage{JobID: "j1"}))
	assert.Equal(t, bdoc.JobSucceeded, jobs.status("j1"))
	assert.Equal(t, identity.IP("9.9.9.9"), got.Identity)
	assert.Equal(t, "Acme", got.Business)
}

func TestHandle_TokenSelectsUser(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	claims := auth.NewClaims("Ada", "ada@example.com", "google")
	tok, err := auth.SignJWT(claims, "secret", time.Hour)
	require.NoError(t, err)

	var got bdoc.Request
	h := newTestHandler(jobs, execFunc(func(ctx context.Context, req bdoc.Request) bdoc.Outcome {
		got = req
		return bdoc.Outcome{Status: bdoc.StatusCompleted, Artifact: &bdoc.ArtifactRef{PDFID: 1}}
	}), &recordingRetrier{})

	h.handle(context.Background(), rabbitmq.JobMessage{JobID: "j1", Token: tok})
	assert.Equal(t, identity.User(claims.UserID), got.Identity)
}

func TestHandle_InvalidTokenFailsWithoutExecuting(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	called := false
	h := newTestHandler(jobs, execFunc(func(context.Context, bdoc.Request) bdoc.Outcome {
		called = true
		return bdoc.Outcome{}
	}), &recordingRetrier{})

	assert.Equal(t, ack, h.handle(context.Background(), rabbitmq.JobMessage{JobID: "j1", Token: "forged"}))
	assert.False(t, called)
	assert.Equal(t, bdoc.JobFailed, jobs.status("j1"))
}

func TestHandle_NonRetryableFailureIsFinal(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	r := &recordingRetrier{}
	h := newTestHandler(jobs, failWith(bdoc.KindQuotaExhausted, http.StatusForbidden), r)

	assert.Equal(t, ack, h.handle(context.Background(), rabbitmq.JobMessage{JobID: "j1"}))
	assert.Equal(t, bdoc.JobFailed, jobs.status("j1"))
	assert.Empty(t, r.msgs)
}

func TestHandle_RetryableFailureRetriesThenDeadLetters(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	r := &recordingRetrier{}
	h := newTestHandler(jobs, failWith(bdoc.KindModelCall, http.StatusBadGateway), r)
	m := rabbitmq.JobMessage{JobID: "j1"}

	assert.Equal(t, ack, h.handle(context.Background(), m))
	assert.Equal(t, ack, h.handle(context.Background(), m))
	assert.Len(t, r.msgs, 2)
	assert.Equal(t, bdoc.JobQueued, jobs.status("j1"))

	assert.Equal(t, deadLetter, h.handle(context.Background(), m))
	assert.Len(t, r.msgs, 2)
	assert.Equal(t, bdoc.JobFailed, jobs.status("j1"))
}

func TestHandle_RetryPublishFailureDeadLetters(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	h := newTestHandler(jobs, failWith(bdoc.KindPersistence, http.StatusInternalServerError), &recordingRetrier{err: errors.New("closed")})

	assert.Equal(t, deadLetter, h.handle(context.Background(), rabbitmq.JobMessage{JobID: "j1"}))
	assert.Equal(t, bdoc.JobFailed, jobs.status("j1"))
}

func TestHandle_FinishedJobRedeliveryIsDropped(t *testing.T) {
	j := queuedJob("j1")
	j.Status = bdoc.JobSucceeded
	jobs := newMemJobs(j)
	called := false
	h := newTestHandler(jobs, execFunc(func(context.Context, bdoc.Request) bdoc.Outcome {
		called = true
		return bdoc.Outcome{}
	}), &recordingRetrier{})

	assert.Equal(t, ack, h.handle(context.Background(), rabbitmq.JobMessage{JobID: "j1"}))
	assert.False(t, called)
}

func TestHandle_MissingJobDeadLetters(t *testing.T) {
	h := newTestHandler(newMemJobs(), failWith(bdoc.KindInternal, 500), &recordingRetrier{})
	assert.Equal(t, deadLetter, h.handle(context.Background(), rabbitmq.JobMessage{JobID: "nope"}))
}

func TestHandle_ShutdownRequeues(t *testing.T) {
	jobs := newMemJobs(queuedJob("j1"))
	ctx, cancel := context.WithCancel(context.Background())
	h := newTestHandler(jobs, execFunc(func(context.Context, bdoc.Request) bdoc.Outcome {
		cancel()
		return bdoc.Outcome{Status: bdoc.StatusFailed, ErrorKind: bdoc.KindModelCall, StatusCode: http.StatusGatewayTimeout}
	}), &recordingRetrier{})

	assert.Equal(t, requeue, h.handle(ctx, rabbitmq.JobMessage{JobID: "j1"}))
	assert.Equal(t, bdoc.JobRunning, jobs.status("j1"))
}
