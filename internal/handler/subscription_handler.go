package handler

import (
	"context"
	"net/http"
	"strings"

	"florist/internal/config"
	"florist/internal/domain/model"
	"florist/internal/middleware"
	"florist/internal/usecase"

	"github.com/labstack/echo/v4"
)

// 定期便（ログイン必須）
type SubscriptionHandler struct {
	uc *usecase.SubscriptionUsecase
}

func NewSubscriptionHandler(uc *usecase.SubscriptionUsecase) *SubscriptionHandler {
	return &SubscriptionHandler{uc: uc}
}

type CreateSubscriptionRequest struct {
	Tier              string        `json:"tier"`
	Frequency         string        `json:"frequency"`
	AddressID         int64         `json:"address_id"`
	FirstDeliveryDate string        `json:"first_delivery_date"`
	CardMessage       string        `json:"card_message"`
	Sender            model.Contact `json:"sender"`
	CustomerRef       string        `json:"customer_ref"`
}

type PortalSessionRequest struct {
	ReturnURL string `json:"return_url"`
}

type PortalSessionResponse struct {
	URL string `json:"url"`
}

func (h *SubscriptionHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/subscriptions")
	g.Use(middleware.AuthJWT(cfg))

	g.POST("", h.create)
	g.GET("", h.list)
	g.POST("/create-portal-session", h.portalSession)

	g.POST("/:id/pause", h.bySubscription(h.uc.Pause))
	g.POST("/:id/resume", h.bySubscription(h.uc.Resume))
	g.POST("/:id/cancel", h.bySubscription(h.uc.Cancel))
	g.POST("/:id/retry", h.bySubscription(h.uc.Retry))

	g.POST("/deliveries/:id/skip", h.bySubscription(h.uc.Skip))
	g.POST("/deliveries/:id/abandon", h.bySubscription(h.uc.Abandon))
}

func (h *SubscriptionHandler) create(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req CreateSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	first, err := model.ParseDate(req.FirstDeliveryDate)
	if err != nil {
		return writeError(c, usecase.InvalidInput("invalid first_delivery_date"))
	}

	out, err := h.uc.Create(c.Request().Context(), userID, usecase.CreateSubscriptionInput{
		Tier:              model.SubscriptionTier(strings.ToLower(strings.TrimSpace(req.Tier))),
		Frequency:         model.Frequency(strings.ToLower(strings.TrimSpace(req.Frequency))),
		AddressID:         req.AddressID,
		FirstDeliveryDate: first,
		CardMessage:       req.CardMessage,
		Sender:            req.Sender,
		CustomerRef:       strings.TrimSpace(req.CustomerRef),
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, out)
}

func (h *SubscriptionHandler) list(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.List(c.Request().Context(), userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

// :id を取って操作するだけのルート共通
func (h *SubscriptionHandler) bySubscription(op func(ctx context.Context, userID int64, id int64) (usecase.SubscriptionOutput, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, ok := getUserIDFromContext(c)
		if !ok {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		}
		id, ok := parseIDParam(c)
		if !ok {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
		}

		out, err := op(c.Request().Context(), userID, id)
		if err != nil {
			return writeError(c, err)
		}
		return c.JSON(http.StatusOK, out)
	}
}

func (h *SubscriptionHandler) portalSession(c echo.Context) error {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req PortalSessionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "return_url required"})
	}

	url, err := h.uc.CreatePortalSession(c.Request().Context(), userID, returnURL)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, PortalSessionResponse{URL: url})
}
