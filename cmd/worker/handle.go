package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/auth"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
)

type jobStore interface {
	GetJobByID(ctx context.Context, id string) (*bdoc.Job, error)
	MarkJobRunning(ctx context.Context, id string) error
	MarkJobRetrying(ctx context.Context, id string, o bdoc.Outcome) error
	MarkJobSucceeded(ctx context.Context, id string, ref bdoc.ArtifactRef) error
	MarkJobFailed(ctx context.Context, id string, o bdoc.Outcome) error
}

type executor interface {
	Handle(ctx context.Context, req bdoc.Request) bdoc.Outcome
}

type retrier interface {
	PublishRetry(ctx context.Context, m rabbitmq.JobMessage, delay time.Duration) error
}

// disposition says what to do with the delivery once a job is handled.
type disposition int

const (
	ack        disposition = iota
	deadLetter             // nack without requeue, routed to the DLQ
	requeue                // shutdown interrupted the job
)

type jobHandler struct {
	jobs        jobStore
	svc         executor
	retry       retrier
	jwtSecret   string
	maxAttempts int
	retryDelay  time.Duration
}

func (h *jobHandler) identityFor(token, clientIP string) (identity.Identity, error) {
	if token != "" {
		return auth.UserIdentity(token, h.jwtSecret)
	}
	return identity.IP(clientIP), nil
}

func (h *jobHandler) handle(ctx context.Context, m rabbitmq.JobMessage) disposition {
	logger := log.With().Str("job_id", m.JobID).Logger()
	// bookkeeping must finish even when shutdown cancels ctx
	bg := context.WithoutCancel(ctx)

	j, err := h.jobs.GetJobByID(bg, m.JobID)
	if err != nil {
		if errors.Is(err, bdoc.ErrNotFound) {
			logger.Warn().Msg("job not found")
		} else {
			logger.Error().Err(err).Msg("load job")
		}
		return deadLetter
	}
	if j.Status == bdoc.JobSucceeded || j.Status == bdoc.JobFailed {
		logger.Info().Str("status", string(j.Status)).Msg("job already finished, dropping redelivery")
		return ack
	}
	if err := h.jobs.MarkJobRunning(bg, j.ID); err != nil {
		logger.Error().Err(err).Msg("mark job running")
		return deadLetter
	}
	attempt := j.Attempts + 1

	id, err := h.identityFor(m.Token, j.ClientIP)
	if err != nil {
		out := bdoc.Outcome{
			Status:     bdoc.StatusFailed,
			ErrorKind:  bdoc.KindValidation,
			StatusCode: http.StatusUnauthorized,
			Message:    "invalid token",
		}
		h.markFailed(bg, j.ID, out)
		return ack
	}

	start := time.Now()
	out := h.svc.Handle(ctx, bdoc.Request{Tag: j.Tag, Script: j.Script, Business: j.Business, Identity: id})
	cost := time.Since(start)

	if out.Status == bdoc.StatusCompleted {
		if err := h.jobs.MarkJobSucceeded(bg, j.ID, *out.Artifact); err != nil {
			logger.Error().Err(err).Msg("mark job succeeded")
		}
		logger.Info().Dur("cost", cost).Bool("cached", out.Artifact.Cached).Int("attempt", attempt).Msg("job succeeded")
		return ack
	}

	if ctx.Err() != nil {
		logger.Warn().Str("error_kind", string(out.ErrorKind)).Msg("job interrupted by shutdown")
		return requeue
	}

	ev := logger.Warn().
		Str("error_kind", string(out.ErrorKind)).
		Int("status_code", out.StatusCode).
		Int("attempt", attempt).
		Dur("cost", cost)

	if !out.ErrorKind.Retryable() {
		ev.Msg("job failed")
		h.markFailed(bg, j.ID, out)
		return ack
	}
	if attempt >= h.maxAttempts {
		ev.Msg("job failed, retries exhausted")
		h.markFailed(bg, j.ID, out)
		return deadLetter
	}

	if err := h.jobs.MarkJobRetrying(bg, j.ID, out); err != nil {
		logger.Error().Err(err).Msg("mark job retrying")
	}
	if err := h.retry.PublishRetry(bg, m, h.retryDelay); err != nil {
		logger.Error().Err(err).Msg("publish retry")
		h.markFailed(bg, j.ID, out)
		return deadLetter
	}
	ev.Dur("retry_in", h.retryDelay).Msg("job failed, retry scheduled")
	return ack
}

func (h *jobHandler) markFailed(ctx context.Context, id string, out bdoc.Outcome) {
	if err := h.jobs.MarkJobFailed(ctx, id, out); err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("mark job failed")
	}
}
