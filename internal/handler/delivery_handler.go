package handler

import (
	"net/http"
	"strings"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 配達可能日と配送料
type DeliveryHandler struct {
	uc *usecase.DeliveryUsecase
}

func NewDeliveryHandler(uc *usecase.DeliveryUsecase) *DeliveryHandler {
	return &DeliveryHandler{uc: uc}
}

type DeliveryDateResponse struct {
	Date      string `json:"date"`
	Fee       int64  `json:"fee"`
	Available bool   `json:"available"`
}

type QuoteResponse struct {
	Zip       string    `json:"zip"`
	Date      string    `json:"date"`
	Fee       int64     `json:"fee"`
	QuotedAt  time.Time `json:"quoted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DefaultFeeResponse struct {
	Fee int64 `json:"fee"`
}

func (h *DeliveryHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/delivery-dates", h.dates)
	e.GET("/delivery-quote", h.quote)
	e.GET("/delivery/default-fee", h.defaultFee)
}

func (h *DeliveryHandler) dates(c echo.Context) error {
	zip := strings.TrimSpace(c.QueryParam("zip"))

	opts, err := h.uc.Resolve(c.Request().Context(), zip)
	if err != nil {
		return writeError(c, err)
	}

	out := make([]DeliveryDateResponse, 0, len(opts))
	for _, o := range opts {
		out = append(out, DeliveryDateResponse{
			Date:      o.Date.Format(model.DateLayout),
			Fee:       o.FeeCents,
			Available: o.Available,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DeliveryHandler) quote(c echo.Context) error {
	zip := strings.TrimSpace(c.QueryParam("zip"))
	date, err := model.ParseDate(c.QueryParam("date"))
	if err != nil {
		return writeError(c, usecase.InvalidInput("invalid date"))
	}

	q, err := h.uc.Quote(c.Request().Context(), zip, date)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, toQuoteResponse(q))
}

// 表示用（注文には使わない）
func (h *DeliveryHandler) defaultFee(c echo.Context) error {
	return c.JSON(http.StatusOK, DefaultFeeResponse{Fee: h.uc.DefaultFee()})
}

func toQuoteResponse(q model.DeliveryQuote) QuoteResponse {
	return QuoteResponse{
		Zip:       q.Zip,
		Date:      q.Date.Format(model.DateLayout),
		Fee:       q.FeeCents,
		QuotedAt:  q.QuotedAt,
		ExpiresAt: q.ExpiresAt,
	}
}
