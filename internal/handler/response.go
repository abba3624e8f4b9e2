// Package handler 暴露日记助手的 HTTP 接口。
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/easeaico/project-kairos/internal/apperr"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.Unauthenticated:
		return http.StatusUnauthorized
	case apperr.PermissionDenied:
		return http.StatusForbidden
	case apperr.InvalidState:
		return http.StatusConflict
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.RateLimited:
		return http.StatusTooManyRequests
	case apperr.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes err using its apperr kind. Internal details stay in the log.
func RespondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	msg := "internal error"
	var appErr *apperr.Error
	if errors.As(err, &appErr) && kind != apperr.Internal {
		msg = appErr.Message
		if msg == "" {
			msg = appErr.Error()
		}
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err.Error())
	}
	c.AbortWithStatusJSON(status, ErrorEnvelope{Error: APIError{
		Message:   msg,
		Code:      kind.String(),
		Retryable: apperr.IsRetryable(err),
	}})
}

func badRequest(c *gin.Context, err error) {
	RespondError(c, apperr.New(apperr.InvalidArgument, c.FullPath(), err.Error()))
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
