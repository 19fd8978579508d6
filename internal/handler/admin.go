package handler

import (
	"context"
	"net/http"
	"strconv"

	"freshness-orders/internal/scheduler"
	"freshness-orders/internal/service"

	"github.com/labstack/echo/v4"
)

// DeliveryTrigger starts a delivery pass outside the cron schedule.
type DeliveryTrigger interface {
	RunNow(ctx context.Context) (*scheduler.TickResult, error)
}

type AdminHandler struct {
	trigger       DeliveryTrigger
	ledgerService service.LedgerService
}

func NewAdminHandler(trigger DeliveryTrigger, ledgerService service.LedgerService) *AdminHandler {
	return &AdminHandler{
		trigger:       trigger,
		ledgerService: ledgerService,
	}
}

func (h *AdminHandler) RunScheduler(c echo.Context) error {
	result, err := h.trigger.RunNow(c.Request().Context())
	if err != nil {
		return err
	}
	if result.Skipped {
		return c.JSON(http.StatusAccepted, result)
	}
	return c.JSON(http.StatusOK, result)
}

func (h *AdminHandler) ListConflicts(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, 500)
	}

	conflicts, err := h.ledgerService.ListConflicts(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conflicts)
}
