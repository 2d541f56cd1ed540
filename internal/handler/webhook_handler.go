package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const fulfillmentSignatureHeader = "X-Fulfillment-Signature"

// ネットワークからの配達通知
type DeliverySignaler interface {
	ApplyDeliverySignal(ctx context.Context, confirmationID string) error
}

type WebhookHandler struct {
	orders DeliverySignaler
	secret []byte
}

func NewWebhookHandler(orders DeliverySignaler, secret string) *WebhookHandler {
	return &WebhookHandler{orders: orders, secret: []byte(secret)}
}

type FulfillmentEvent struct {
	ConfirmationID string `json:"confirmation_id"`
	Status         string `json:"status"`
}

func (h *WebhookHandler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhooks/fulfillment", h.fulfillment, echomw.BodyLimit("64K"))
}

func (h *WebhookHandler) fulfillment(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	if !h.verify(body, c.Request().Header.Get(fulfillmentSignatureHeader)) {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid signature"})
	}

	var ev FulfillmentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//配達完了以外は受け取るだけ
	if !strings.EqualFold(ev.Status, "delivered") {
		return c.JSON(http.StatusOK, SuccessResponse{Message: "ignored"})
	}

	if err := h.orders.ApplyDeliverySignal(c.Request().Context(), strings.TrimSpace(ev.ConfirmationID)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "ok"})
}

// 本文の HMAC-SHA256（hex。"sha256=" 付きも可）
func (h *WebhookHandler) verify(body []byte, signature string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
