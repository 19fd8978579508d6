package handler

import (
	"errors"
	"net/http"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/dto"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ErrorHandler maps service errors onto HTTP responses.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := statusFor(err)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Warn("write error response", zap.Error(err))
		}
	}
}

func statusFor(err error) (int, *dto.ErrorResponse) {
	var (
		validationErr *apperr.ValidationError
		notFoundErr   *apperr.NotFoundError
		transitionErr *apperr.InvalidTransitionError
		authErr       *apperr.AuthenticityError
		conflictErr   *apperr.ReconciliationConflictError
		gatewayErr    *apperr.GatewayError
		fieldErrs     validator.ValidationErrors
		httpErr       *echo.HTTPError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, &dto.ErrorResponse{Error: validationErr.Reason, Field: validationErr.Field}
	case errors.As(err, &fieldErrs):
		fe := fieldErrs[0]
		return http.StatusBadRequest, &dto.ErrorResponse{Error: "failed on " + fe.Tag(), Field: fe.Namespace()}
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, &dto.ErrorResponse{Error: notFoundErr.Error()}
	case errors.As(err, &transitionErr):
		return http.StatusConflict, &dto.ErrorResponse{Error: transitionErr.Error()}
	case errors.As(err, &conflictErr):
		return http.StatusConflict, &dto.ErrorResponse{Error: conflictErr.Error()}
	case errors.As(err, &authErr):
		return http.StatusBadRequest, &dto.ErrorResponse{Error: "webhook authenticity check failed"}
	case errors.As(err, &gatewayErr):
		return http.StatusBadGateway, &dto.ErrorResponse{Error: gatewayErr.Error()}
	case errors.As(err, &httpErr):
		msg, ok := httpErr.Message.(string)
		if !ok {
			msg = http.StatusText(httpErr.Code)
		}
		return httpErr.Code, &dto.ErrorResponse{Error: msg}
	}
	return http.StatusInternalServerError, &dto.ErrorResponse{Error: "internal error"}
}
