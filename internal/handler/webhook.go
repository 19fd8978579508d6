package handler

import (
	"errors"
	"io"
	"net/http"

	"freshness-orders/internal/apperr"
	"freshness-orders/internal/dto"
	"freshness-orders/internal/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	webhookService service.WebhookService
	logger         *zap.Logger
}

func NewWebhookHandler(webhookService service.WebhookService, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		webhookService: webhookService,
		logger:         logger,
	}
}

func (h *WebhookHandler) Handle(c echo.Context) error {
	ctx := c.Request().Context()
	provider := c.Param("provider")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	result, err := h.webhookService.Handle(ctx, provider, c.Request().Header, body)

	// a conflict is stored for review; the provider retrying would not
	// change the outcome, so it is acknowledged
	var conflictErr *apperr.ReconciliationConflictError
	if errors.As(err, &conflictErr) {
		h.logger.Warn("reconciliation conflict recorded",
			zap.String("provider", provider),
			zap.String("reference", conflictErr.Reference),
			zap.String("existing", conflictErr.Existing),
			zap.String("attempted", conflictErr.Attempted),
		)
		return c.JSON(http.StatusOK, &dto.WebhookResponse{
			Status:  string(service.WebhookConflict),
			EventID: eventID(result),
		})
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, &dto.WebhookResponse{
		Status:  string(result.Status),
		EventID: result.EventID,
	})
}

func eventID(result *service.WebhookResult) string {
	if result == nil {
		return ""
	}
	return result.EventID
}
