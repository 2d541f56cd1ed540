package server

import (
	"net/http"

	"florist/internal/config"
	"florist/internal/handler"
	"florist/internal/middleware"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Delivery     *handler.DeliveryHandler
	Cart         *handler.CartHandler
	Order        *handler.OrderHandler
	Payment      *handler.PaymentHandler
	Subscription *handler.SubscriptionHandler
	Webhook      *handler.WebhookHandler
	AdminOrder   *handler.AdminOrderHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, handler.SuccessResponse{Message: "ok"})
	})

	session := middleware.CartSession(cfg.CartTTL, cfg.GoEnv == "prod")

	h.Delivery.RegisterRoutes(e)
	h.Cart.RegisterRoutes(e, session)
	h.Order.RegisterRoutes(e, cfg, session)
	h.Payment.RegisterRoutes(e)
	h.Subscription.RegisterRoutes(e, cfg)
	h.Webhook.RegisterRoutes(e)
	h.AdminOrder.RegisterRoutes(e, cfg)
}
