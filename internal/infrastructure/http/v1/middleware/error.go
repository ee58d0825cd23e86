package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"portalid/internal/core/apperror"
	appctx "portalid/internal/core/context"
	"portalid/internal/infrastructure/http/v1/dto"
	"portalid/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		status, body := renderError(c, c.Errors.Last().Err)
		finishIdempotencyWithError(c, status, body)
		c.JSON(status, body)
	}
}

func renderError(c *gin.Context, err error) (int, dto.ErrorResponse) {
	ctx := c.Request.Context()

	if appErr, ok := apperror.AsAppError(err); ok {
		if appErr.Err != nil || appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Error(ctx, "request error",
				"code", appErr.Code,
				"message", appErr.Message,
				"cause", appErr.Err,
			)
		}
		return appErr.HTTPStatus, dto.ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Details: appErr.Details,
		}
	}

	logger.Error(ctx, "unhandled error", "error", err)
	return http.StatusInternalServerError, dto.ErrorResponse{
		Code:    apperror.CodeInternal,
		Message: "Internal server error",
		Details: map[string]any{"request_id": appctx.GetRequestID(ctx)},
	}
}

// finishIdempotencyWithError caches client errors for replay. Conflicts and
// server errors release the key instead, so retrying with it can succeed.
func finishIdempotencyWithError(c *gin.Context, status int, body dto.ErrorResponse) {
	key, store, ok := idempotencyFrom(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if status == http.StatusConflict || status >= http.StatusInternalServerError {
		if err := store.ReleaseKey(ctx, key); err != nil {
			logger.Warn(ctx, "release idempotency key failed", "key", key, "error", err)
		}
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		raw = []byte(`{"code":"` + apperror.CodeInternal + `"}`)
	}
	if err := store.FailKey(ctx, key, status, "application/json", raw); err != nil {
		logger.Warn(ctx, "fail idempotency key failed", "key", key, "error", err)
	}
}
