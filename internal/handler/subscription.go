package handler

import (
	"net/http"

	"freshness-orders/internal/dto"
	"freshness-orders/internal/middleware"
	"freshness-orders/internal/service"

	"github.com/labstack/echo/v4"
)

type SubscriptionHandler struct {
	subscriptionService service.SubscriptionService
}

func NewSubscriptionHandler(subscriptionService service.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subscriptionService: subscriptionService,
	}
}

func (h *SubscriptionHandler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CreateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	sub, err := h.subscriptionService.Create(ctx, dto.ToSubscriptionInput(middleware.UserID(c), &req))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, dto.FromSubscription(sub))
}

func (h *SubscriptionHandler) Get(c echo.Context) error {
	sub, err := h.subscriptionService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromSubscription(sub))
}

func (h *SubscriptionHandler) Pause(c echo.Context) error {
	sub, err := h.subscriptionService.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromSubscription(sub))
}

func (h *SubscriptionHandler) Resume(c echo.Context) error {
	sub, err := h.subscriptionService.Resume(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromSubscription(sub))
}

func (h *SubscriptionHandler) Cancel(c echo.Context) error {
	sub, err := h.subscriptionService.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromSubscription(sub))
}
