package handler

import (
	"net/http"

	"florist/internal/usecase"

	"github.com/labstack/echo/v4"
)

// /cartのHTTP（セッション単位。ログイン不要）
type CartHandler struct {
	uc *usecase.CartUsecase
}

// DI
func NewCartHandler(uc *usecase.CartUsecase) *CartHandler {
	return &CartHandler{uc: uc}
}

type AddCartRequest struct {
	SKU      string `json:"sku"`
	Quantity int64  `json:"quantity"`
}

type RemoveCartRequest struct {
	SKU string `json:"sku"`
}

// /cart を登録。session は CartSession ミドルウェアが入れる
func (h *CartHandler) RegisterRoutes(e *echo.Echo, session echo.MiddlewareFunc) {
	g := e.Group("/cart", session)

	g.GET("", h.getCart)
	g.POST("", h.addToCart)
	g.POST("/remove", h.removeItem)
	g.POST("/destroy", h.destroy)
}

func (h *CartHandler) getCart(c echo.Context) error {
	out, err := h.uc.GetCart(c.Request().Context(), cartSessionID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) addToCart(c echo.Context) error {
	var req AddCartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.AddToCart(c.Request().Context(), cartSessionID(c), usecase.AddCartInput{
		SKU:      req.SKU,
		Quantity: req.Quantity,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) removeItem(c echo.Context) error {
	var req RemoveCartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.RemoveFromCart(c.Request().Context(), cartSessionID(c), req.SKU)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *CartHandler) destroy(c echo.Context) error {
	if err := h.uc.Destroy(c.Request().Context(), cartSessionID(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "cart cleared"})
}
