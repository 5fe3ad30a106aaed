package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sumanyunandwani/AnalyzeAI/internal/bdoc"
	"github.com/sumanyunandwani/AnalyzeAI/internal/common"
	"github.com/sumanyunandwani/AnalyzeAI/internal/config"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/middleware"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
	"github.com/sumanyunandwani/AnalyzeAI/internal/quota"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/filestore"
	"github.com/sumanyunandwani/AnalyzeAI/internal/store/rabbitmq"
)

// JobPublisher enqueues prompt jobs; *rabbitmq.Publisher satisfies it.
type JobPublisher interface {
	PublishJob(ctx context.Context, m rabbitmq.JobMessage) error
}

type Handler struct {
	Cfg    config.Config
	Repo   *bdoc.Repo
	Ledger *quota.Ledger
	Files  *filestore.Store
	Queue  JobPublisher
}

func NewHandler(cfg config.Config, repo *bdoc.Repo, ledger *quota.Ledger, files *filestore.Store, queue JobPublisher) *Handler {
	return &Handler{Cfg: cfg, Repo: repo, Ledger: ledger, Files: files, Queue: queue}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// callerIdentity is the signed-in user when a token verified, otherwise the
// client address.
func callerIdentity(c *gin.Context) identity.Identity {
	if uid := c.GetString(middleware.UserIDKey); uid != "" {
		return identity.User(uid)
	}
	return identity.IP(c.ClientIP())
}

func internalError(c *gin.Context) {
	common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
}
