package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/sumanyunandwani/AnalyzeAI/internal/common"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/middleware"
	"github.com/sumanyunandwani/AnalyzeAI/internal/identity"
)

func (h *Handler) ListBusinessNames(c *gin.Context) {
	names, err := h.Repo.ListBusinessNames(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("list businesses")
		internalError(c)
		return
	}
	common.OK(c, gin.H{"names": names})
}

// GetQuota reports the caller's remaining budget; an unseen caller gets the
// class default.
func (h *Handler) GetQuota(c *gin.Context) {
	id := callerIdentity(c)
	n, found, err := h.Ledger.Remaining(c.Request.Context(), id)
	if err != nil {
		internalError(c)
		return
	}
	if !found {
		n = h.Cfg.QuotaIPDefault
		if id.Kind == identity.KindUser {
			n = h.Cfg.QuotaUserDefault
		}
	}
	common.OK(c, gin.H{"kind": id.Kind, "remaining": n})
}

// UpdateCount sets the counter of the user named by the request token, or
// of the ip given as a query parameter.
func (h *Handler) UpdateCount(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("count"))
	if err != nil || n < 0 {
		common.Fail(c, http.StatusUnprocessableEntity, 10004, "count must be a non-negative integer")
		return
	}

	var id identity.Identity
	switch {
	case c.GetString(middleware.UserIDKey) != "":
		id = identity.User(c.GetString(middleware.UserIDKey))
	case c.Query("ip") != "":
		id = identity.IP(c.Query("ip"))
	default:
		common.Fail(c, http.StatusUnprocessableEntity, 10005, "Missing or null key: access_token")
		return
	}

	if err := h.Ledger.Replenish(c.Request.Context(), id, n); err != nil {
		log.Error().Err(err).Str("identity_kind", string(id.Kind)).Msg("replenish quota")
		internalError(c)
		return
	}
	log.Info().Str("identity_kind", string(id.Kind)).Int("count", n).Msg("quota replenished")
	common.OK(c, gin.H{"success": true, "message": "User count updated successfully.", "remaining": n})
}
