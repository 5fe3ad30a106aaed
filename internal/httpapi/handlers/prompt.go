package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/common"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/middleware"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
)

var requiredPromptKeys = []string{"script", "business"}

// requireStrings returns the trimmed-non-empty string values of keys, or the
// first key that is missing, null or not a string.
func requireStrings(body map[string]any, keys []string) (map[string]string, string) {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		s, ok := body[k].(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, k
		}
		out[k] = s
	}
	return out, ""
}

// EnqueuePrompt validates the request, stores a job and queues it.
func (h *Handler) EnqueuePrompt(c *gin.Context) {
	tag := c.Param("tag")
	if _, err := bdoc.ResolveTag(tag); err != nil {
		common.Fail(c, http.StatusBadRequest, 10003, "invalid tag: "+tag)
		return
	}

	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	vals, missing := requireStrings(body, requiredPromptKeys)
	if missing != "" {
		common.Fail(c, http.StatusUnprocessableEntity, 10022, "Missing or null key: "+missing)
		return
	}

	jobID, err := common.NewULID()
	if err != nil {
		log.Error().Err(err).Msg("new job id")
		internalError(c)
		return
	}
	j := &bdoc.Job{
		ID:       jobID,
		Tag:      tag,
		Script:   vals["script"],
		Business: vals["business"],
		ClientIP: c.ClientIP(),
		Status:   bdoc.JobQueued,
	}
	ctx := c.Request.Context()
	if err := h.Repo.CreateJob(ctx, j); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("create job")
		internalError(c)
		return
	}

	msg := rabbitmq.JobMessage{JobID: jobID, Token: c.GetString(middleware.TokenKey)}
	if err := h.Queue.PublishJob(ctx, msg); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("publish job")
		_ = h.Repo.MarkJobFailed(ctx, jobID, bdoc.Outcome{
			Status:     bdoc.StatusFailed,
			ErrorKind:  bdoc.KindInternal,
			StatusCode: http.StatusInternalServerError,
			Message:    "enqueue failed",
		})
		common.Fail(c, http.StatusInternalServerError, 50002, "enqueue failed")
		return
	}

	log.Info().
		Str("request_id", c.GetString(middleware.RequestIDKey)).
		Str("job_id", jobID).
		Str("tag", tag).
		Bool("authenticated", msg.Token != "").
		Msg("prompt queued")
	common.OK(c, gin.H{"task_id": jobID, "status": "queued"})
}

func taskStatus(s bdoc.JobStatus) string {
	switch s {
	case bdoc.JobSucceeded:
		return "completed"
	case bdoc.JobFailed:
		return "failed"
	default:
		return "pending"
	}
}

func (h *Handler) GetTask(c *gin.Context) {
	id := c.Param("task_id")
	j, err := h.Repo.GetJobByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, bdoc.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "task not found")
			return
		}
		internalError(c)
		return
	}

	resp := gin.H{"task_id": j.ID, "status": taskStatus(j.Status), "attempts": j.Attempts}
	switch j.Status {
	case bdoc.JobSucceeded:
		resp["result"] = gin.H{
			"pdf_id":       j.PDFID,
			"cached":       j.Cached,
			"download_url": "/task/" + j.ID + "/pdf",
		}
	case bdoc.JobFailed:
		resp["error"] = gin.H{
			"kind":        j.ErrorKind,
			"status_code": j.StatusCode,
			"message":     j.Error,
		}
	}
	common.OK(c, resp)
}

func (h *Handler) DownloadTaskPDF(c *gin.Context) {
	id := c.Param("task_id")
	j, err := h.Repo.GetJobByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, bdoc.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "task not found")
			return
		}
		internalError(c)
		return
	}
	if j.Status != bdoc.JobSucceeded || j.FilePath == nil {
		common.FailData(c, http.StatusConflict, 40901, "task has no document",
			gin.H{"task_id": j.ID, "status": taskStatus(j.Status)})
		return
	}

	rc, size, err := h.Files.Open(*j.FilePath)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("open pdf")
		common.Fail(c, http.StatusNotFound, 40403, "document not found")
		return
	}
	defer rc.Close()
	c.DataFromReader(http.StatusOK, size, "application/pdf", rc, map[string]string{
		"Content-Disposition": `attachment; filename="` + j.ID + `.pdf"`,
	})
}
