package handler

import (
	"net/http"
	"strings"
	"time"

	"florist/internal/config"
	"florist/internal/domain/model"
	"florist/internal/middleware"
	"florist/internal/usecase"

	"github.com/labstack/echo/v4"
)

type OrderHandler struct {
	uc    *usecase.OrderUsecase
	carts *usecase.CartUsecase
}

func NewOrderHandler(uc *usecase.OrderUsecase, carts *usecase.CartUsecase) *OrderHandler {
	return &OrderHandler{uc: uc, carts: carts}
}

// 画面が持っている見積もり（GET /delivery-quote の結果をそのまま返してもらう）
type QuoteRequest struct {
	Zip       string    `json:"zip"`
	Date      string    `json:"date"`
	Fee       int64     `json:"fee"`
	QuotedAt  time.Time `json:"quoted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ブラウザ側でトークン化した結果。カード番号はここに来ない
type PaymentTokenRequest struct {
	Processor string     `json:"processor"`
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type CheckoutRequest struct {
	Quote       QuoteRequest        `json:"quote"`
	Payment     PaymentTokenRequest `json:"payment"`
	Recipient   model.Recipient     `json:"recipient"`
	Sender      model.Contact       `json:"sender"`
	Billing     model.PostalAddress `json:"billing"`
	CardMessage string              `json:"card_message"`
	ClientTotal *int64              `json:"client_total"`
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, session echo.MiddlewareFunc) {
	checkout := e.Group("/checkout", session)
	checkout.GET("/get-total", h.getTotal)
	checkout.POST("", h.checkout, middleware.OptionalAuthJWT(cfg))

	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))

	g.GET("", h.list)
	g.GET("/:id", h.detail)
}

// 今のカートの合計（ネットワークの計算が正）
func (h *OrderHandler) getTotal(c echo.Context) error {
	zip := strings.TrimSpace(c.QueryParam("zip"))
	date, err := model.ParseDate(c.QueryParam("date"))
	if err != nil {
		return writeError(c, usecase.InvalidInput("invalid date"))
	}

	ctx := c.Request().Context()
	cart, err := h.carts.Snapshot(ctx, cartSessionID(c))
	if err != nil {
		return writeError(c, err)
	}

	totals, err := h.uc.PreviewTotal(ctx, cart, zip, date)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, totals)
}

func (h *OrderHandler) checkout(c echo.Context) error {
	var req CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	//二重送信防止キーはヘッダーから受け取る（bodyには入れない）
	idemKey := c.Request().Header.Get("X-Idempotency-Key")

	date, err := model.ParseDate(req.Quote.Date)
	if err != nil {
		return writeError(c, usecase.InvalidInput("invalid delivery quote"))
	}

	token := model.PaymentToken{
		Processor: model.Processor(strings.ToLower(strings.TrimSpace(req.Payment.Processor))),
		Value:     strings.TrimSpace(req.Payment.Token),
	}
	if req.Payment.ExpiresAt != nil {
		token.ExpiresAt = *req.Payment.ExpiresAt
	}

	ctx := c.Request().Context()
	sessionID := cartSessionID(c)
	cart, err := h.carts.Snapshot(ctx, sessionID)
	if err != nil {
		return writeError(c, err)
	}

	out, err := h.uc.PlaceOrder(ctx, usecase.PlaceOrderInput{
		UserID:    optionalUserID(c),
		SessionID: sessionID,
		Cart:      cart,
		Quote: model.DeliveryQuote{
			Zip:       strings.TrimSpace(req.Quote.Zip),
			Date:      date,
			FeeCents:  req.Quote.Fee,
			QuotedAt:  req.Quote.QuotedAt,
			ExpiresAt: req.Quote.ExpiresAt,
		},
		Token:            token,
		Recipient:        req.Recipient,
		Sender:           req.Sender,
		Billing:          req.Billing,
		CardMessage:      req.CardMessage,
		ClientTotalCents: req.ClientTotal,
		IdempotencyKey:   idemKey,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) list(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}
	page, limit, err := parsePaging(c, 20)
	if err != nil {
		return writeError(c, err)
	}

	out, total, err := h.uc.ListMyOrders(c.Request().Context(), userID, page, limit)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, PageResponse[usecase.OrderOutput]{Items: out, Total: total, Page: page, Limit: limit})
}

func (h *OrderHandler) detail(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	id, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.GetMyOrderDetail(c.Request().Context(), userID, id)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}
