package handler

import (
	"errors"
	"net/http"
	"strconv"

	"florist/internal/middleware"
	"florist/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

// 配送料が変わったときは新しい金額も返す
type QuoteStaleResponse struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	OldFee   int64  `json:"old_fee"`
	NewFee   int64  `json:"new_fee"`
	NewTotal int64  `json:"new_total"`
}

type PageResponse[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// usecaseのエラー → HTTP。上流の詳細は返さない
func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	var stale *usecase.QuoteStaleError
	if errors.As(err, &stale) {
		return c.JSON(http.StatusConflict, QuoteStaleResponse{
			Error:    usecase.ErrQuoteStale.Message,
			Code:     string(usecase.KindQuoteStale),
			OldFee:   stale.QuotedFeeCents,
			NewFee:   stale.NewFeeCents,
			NewTotal: stale.NewTotalCents,
		})
	}
	if de, ok := usecase.AsDomainError(err); ok {
		return c.JSON(de.Status, ErrorResponse{Error: de.Message, Code: string(de.Kind)})
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	//500
	c.Logger().Error(err)
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func getUserIDFromContext(c echo.Context) (int64, bool) {
	id, ok := c.Get(middleware.CtxUserIDKey).(int64)
	if !ok || id <= 0 {
		return 0, false
	}
	return id, true
}

// ゲストなら nil
func optionalUserID(c echo.Context) *int64 {
	id, ok := getUserIDFromContext(c)
	if !ok {
		return nil
	}
	return &id
}

func cartSessionID(c echo.Context) string {
	s, _ := c.Get(middleware.CtxCartSessionKey).(string)
	return s
}

func parseIDParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// page/limit（無ければデフォルト）
func parsePaging(c echo.Context, defaultLimit int) (int, int, error) {
	page := 1
	if v := c.QueryParam("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, usecase.NewHTTPError(http.StatusBadRequest, "invalid page")
		}
		page = p
	}
	limit := defaultLimit
	if v := c.QueryParam("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, usecase.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = l
	}
	return page, limit, nil
}
