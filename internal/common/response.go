package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every JSON endpoint returns. Code 0 is success.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Response{Code: 0, Message: "ok", Data: data})
}

func Fail(c *gin.Context, status, code int, msg string) {
	c.AbortWithStatusJSON(status, Response{Code: code, Message: msg})
}

// FailData is Fail with a payload, for errors the caller can act on.
func FailData(c *gin.Context, status, code int, msg string, data any) {
	c.AbortWithStatusJSON(status, Response{Code: code, Message: msg, Data: data})
}
