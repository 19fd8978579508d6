package handler

import (
	"bytes"
	"html/template"
	"net/http"

	"freshness-orders/internal/client"
	"freshness-orders/internal/dto"
	"freshness-orders/internal/middleware"
	"freshness-orders/internal/model"
	"freshness-orders/internal/service"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orderService    service.OrderService
	checkoutService service.CheckoutService
	logger          *zap.Logger
}

func NewOrderHandler(orderService service.OrderService, checkoutService service.CheckoutService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orderService:    orderService,
		checkoutService: checkoutService,
		logger:          logger,
	}
}

func (h *OrderHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	result, err := h.checkoutService.Checkout(ctx, dto.ToCheckoutInput(middleware.UserID(c), &req))
	if err != nil && (result == nil || result.Order == nil) {
		return err
	}
	if err != nil {
		// the order exists and its attempt stays pending until the provider
		// reports back, so the caller still gets the order
		h.logger.Warn("checkout payment not settled",
			zap.String("order_id", result.Order.ID),
			zap.Error(err),
		)
		return c.JSON(http.StatusAccepted, checkoutResponse(result))
	}

	return c.JSON(http.StatusCreated, checkoutResponse(result))
}

func checkoutResponse(result *service.CheckoutResult) *dto.CheckoutResponse {
	return &dto.CheckoutResponse{
		Order:            dto.FromOrder(result.Order),
		AttemptID:        result.AttemptID,
		PaymentStatus:    string(result.PaymentStatus),
		OrderApprovalURL: result.ApprovalURL,
	}
}

func (h *OrderHandler) Get(c echo.Context) error {
	order, err := h.orderService.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (h *OrderHandler) List(c echo.Context) error {
	orders, err := h.orderService.ListForUser(c.Request().Context(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromOrders(orders))
}

func (h *OrderHandler) Deliver(c echo.Context) error {
	order, err := h.orderService.MarkDelivered(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (h *OrderHandler) Cancel(c echo.Context) error {
	order, err := h.orderService.Cancel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromOrder(order))
}

func (h *OrderHandler) Refund(c echo.Context) error {
	order, err := h.checkoutService.Refund(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, dto.FromOrder(order))
}

// PaypalSuccess is the return URL PayPal redirects the buyer to after
// approval. The token query param is the PayPal order id.
func (h *OrderHandler) PaypalSuccess(c echo.Context) error {
	ctx := c.Request().Context()

	token := c.QueryParam("token")
	if token == "" {
		return c.String(http.StatusBadRequest, "missing order token")
	}

	order, err := h.checkoutService.CompleteApproval(ctx, client.ProviderPaypal, token)
	if err != nil {
		return err
	}

	page := approvalPage{
		Title:  "Payment declined",
		Detail: "PayPal did not complete the payment. Your order is kept and you can pay again from your orders page.",
	}
	switch order.PaymentStatus {
	case model.PaymentStatusPaid:
		page = approvalPage{Title: "Payment approved", Detail: "Your fresh order is confirmed and will be prepared for delivery"}
	case model.PaymentStatusPartial:
		page = approvalPage{Title: "Payment received", Detail: "Part of your order is paid. The rest is still due before delivery."}
	}

	var buf bytes.Buffer
	if err := approvalTemplate.Execute(&buf, page); err != nil {
		return err
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

type approvalPage struct {
	Title  string
	Detail string
}

var approvalTemplate = template.Must(template.New("approval").Parse(`
<!DOCTYPE html>
<html>
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	<style>
		body {
			font-family: Arial, sans-serif;
			text-align: center;
			margin-top: 80px;
		}
		.countdown {
			font-size: 24px;
			font-weight: bold;
		}
	</style>
</head>
<body>
	<h2>{{.Title}}</h2>
	<p>{{.Detail}}</p>
	<p>Redirecting to homepage in <span class="countdown" id="countdown">10</span> seconds…</p>

	<script>
		let seconds = 10;
		const el = document.getElementById("countdown");

		const timer = setInterval(function () {
			seconds--;
			el.textContent = seconds;

			if (seconds <= 0) {
				clearInterval(timer);
				window.location.href = "/";
			}
		}, 1000);
	</script>
</body>
</html>
`))
