package server

import (
	"context"

	"freshness-orders/internal/handler"
	appmiddleware "freshness-orders/internal/middleware"
	"freshness-orders/internal/service"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type Services struct {
	Orders        service.OrderService
	Checkout      service.CheckoutService
	Ledger        service.LedgerService
	Webhooks      service.WebhookService
	Subscriptions service.SubscriptionService
	Catalog       service.CatalogService
	Scheduler     handler.DeliveryTrigger
}

type Server struct {
	echo                *echo.Echo
	orderHandler        *handler.OrderHandler
	webhookHandler      *handler.WebhookHandler
	subscriptionHandler *handler.SubscriptionHandler
	catalogHandler      *handler.CatalogHandler
	adminHandler        *handler.AdminHandler
}

func NewServer(svc Services, logger *zap.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = handler.ErrorHandler(logger)

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		echo:                e,
		orderHandler:        handler.NewOrderHandler(svc.Orders, svc.Checkout, logger),
		webhookHandler:      handler.NewWebhookHandler(svc.Webhooks, logger),
		subscriptionHandler: handler.NewSubscriptionHandler(svc.Subscriptions),
		catalogHandler:      handler.NewCatalogHandler(svc.Catalog),
		adminHandler:        handler.NewAdminHandler(svc.Scheduler, svc.Ledger),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "ok"})
	})

	api.GET("/products", s.catalogHandler.ListProducts)
	api.GET("/products/:id", s.catalogHandler.GetProduct)

	// -------- provider callbacks --------
	api.GET("/payments/paypal/success", s.orderHandler.PaypalSuccess)
	api.POST("/webhooks/:provider", s.webhookHandler.Handle)

	// -------- customer --------
	orders := api.Group("/orders", appmiddleware.AuthMiddleware())
	orders.POST("", s.orderHandler.Checkout)
	orders.GET("", s.orderHandler.List)
	orders.GET("/:id", s.orderHandler.Get)
	orders.POST("/:id/deliver", s.orderHandler.Deliver)
	orders.POST("/:id/cancel", s.orderHandler.Cancel)
	orders.POST("/:id/refund", s.orderHandler.Refund)

	subs := api.Group("/subscriptions", appmiddleware.AuthMiddleware())
	subs.POST("", s.subscriptionHandler.Create)
	subs.GET("/:id", s.subscriptionHandler.Get)
	subs.POST("/:id/pause", s.subscriptionHandler.Pause)
	subs.POST("/:id/resume", s.subscriptionHandler.Resume)
	subs.POST("/:id/cancel", s.subscriptionHandler.Cancel)

	// -------- operations --------
	admin := api.Group("/admin")
	admin.POST("/scheduler/run", s.adminHandler.RunScheduler)
	admin.GET("/reconciliation-conflicts", s.adminHandler.ListConflicts)
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() *echo.Echo {
	return s.echo
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
