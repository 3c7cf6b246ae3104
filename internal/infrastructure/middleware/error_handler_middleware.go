package middleware

import (
	"errors"
	"net/http"

	"meshcall/internal/core/domain"
	"meshcall/pkg/circuitbreaker"
	apperrors "meshcall/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		appErr := toAppError(c.Errors.Last().Err)
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Errorw("request failed",
				"code", appErr.Code,
				"error", appErr.Error(),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)
		} else {
			logger.Debugw("request rejected",
				"code", appErr.Code,
				"message", appErr.Message,
				"path", c.Request.URL.Path,
			)
		}

		c.JSON(appErr.HTTPStatus, appErr.Response())
	}
}

// toAppError maps domain errors onto HTTP statuses.
func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}

	switch {
	case errors.Is(err, domain.ErrUnauthorized):
		return apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, domain.ErrMeetingExists):
		return apperrors.NewConflictError("meeting already exists in history").WithCause(err)
	case errors.Is(err, domain.ErrInvalidRoomID):
		return apperrors.WrapError(err, apperrors.ErrCodeInvalidInput, "invalid meeting code", http.StatusBadRequest)
	case errors.Is(err, domain.ErrRoomFull):
		return apperrors.NewConflictError("room is full").WithCause(err)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return apperrors.NewServiceUnavailableError("history store unavailable").WithCause(err)
	}
	return apperrors.WrapError(err, apperrors.ErrCodeInternal, "Internal server error", http.StatusInternalServerError)
}

func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError,
					apperrors.NewInternalError("Internal server error").Response())
			}
		}()

		c.Next()
	}
}
