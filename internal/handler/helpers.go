package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/evote/internal/middleware"
	"github.com/xxxsen/evote/internal/pkg/errcode"
	appErr "github.com/xxxsen/evote/internal/pkg/errors"
	"github.com/xxxsen/evote/internal/pkg/response"
)

func handleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := c.GetString(middleware.ContextRequestIDKey)
	logutil.GetLogger(c.Request.Context()).Warn("request failed",
		zap.String("request_id", requestID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, appErr.ErrNotFound):
		response.Error(c, errcode.ErrNotFound, "not found")
	case errors.Is(err, appErr.ErrInvalid):
		response.Error(c, errcode.ErrInvalid, "invalid request")
	case errors.Is(err, appErr.ErrConflict):
		response.Error(c, errcode.ErrConflict, "conflict")
	case errors.Is(err, appErr.ErrTooMany):
		response.Error(c, errcode.ErrTooMany, http.StatusText(http.StatusTooManyRequests))
	case errors.Is(err, appErr.ErrNotActive):
		response.Error(c, errcode.ErrNotActive, "election not active")
	case errors.Is(err, appErr.ErrTokenUsed):
		response.Error(c, errcode.ErrTokenUsed, "token already used")
	default:
		response.Error(c, errcode.ErrInternal, "internal error")
	}
}

func badRequest(c *gin.Context, msg string) {
	response.Error(c, errcode.ErrInvalid, msg)
}
