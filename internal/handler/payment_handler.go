package handler

import (
	"net/http"

	"florist/internal/domain/model"
	"florist/internal/usecase"

	"github.com/labstack/echo/v4"
)

// ブラウザ側のトークン化に必要な公開キーだけを返す
type PaymentHandler struct {
	gateway usecase.PaymentGateway
}

func NewPaymentHandler(gateway usecase.PaymentGateway) *PaymentHandler {
	return &PaymentHandler{gateway: gateway}
}

type PaymentKeyResponse struct {
	Processor string `json:"processor"`
	Key       string `json:"key"`
}

func (h *PaymentHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/payment/stripe-key", h.key(model.ProcessorStripe))
	e.GET("/payment/authorizenet-key", h.key(model.ProcessorAuthorizeNet))
}

// 設定されていない方の決済代行は404
func (h *PaymentHandler) key(p model.Processor) echo.HandlerFunc {
	return func(c echo.Context) error {
		if h.gateway.Processor() != p {
			return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found"})
		}
		return c.JSON(http.StatusOK, PaymentKeyResponse{
			Processor: string(p),
			Key:       h.gateway.PublishableKey(),
		})
	}
}
