package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sumanyunandwani/AnalyzeAI/internal/common"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/handlers"
	"github.com/sumanyunandwani/AnalyzeAI/internal/httpapi/middleware"
)

func NewRouter(h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/business/names", h.ListBusinessNames)
	r.GET("/task/:task_id", h.GetTask)
	r.GET("/task/:task_id/pdf", h.DownloadTaskPDF)

	// token optional: anonymous callers are budgeted by ip
	withIdentity := r.Group("/")
	withIdentity.Use(middleware.OptionalAuth(h.Cfg.JWTSecret))
	withIdentity.POST("/prompt/:tag", h.EnqueuePrompt)
	withIdentity.GET("/quota", h.GetQuota)

	admin := withIdentity.Group("/")
	admin.Use(middleware.AdminKeyRequired(h.Cfg.AdminKeyHash))
	admin.PUT("/update/user/count/:count", h.UpdateCount)
	return r
}
