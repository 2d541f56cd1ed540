package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

// セッション単位のカート。ログイン不要
type CartUsecase struct {
	store       CartStore
	productRepo repo.ProductRepository
	clock       Clock
	log         *slog.Logger
}

func NewCartUsecase(store CartStore, productRepo repo.ProductRepository, clock Clock, log *slog.Logger) *CartUsecase {
	return &CartUsecase{
		store:       store,
		productRepo: productRepo,
		clock:       clock,
		log:         log,
	}
}

// price は追加時点の価格（表示用）
type CartItemResponse struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int64  `json:"quantity"`
}

type CartResponse struct {
	Items []CartItemResponse `json:"items"`
	Total int64              `json:"total"`
}

type AddCartInput struct {
	SKU      string
	Quantity int64
}

// 数量は上書き（同じSKUを2回入れたら後勝ち）
func (u *CartUsecase) AddToCart(ctx context.Context, sessionID string, in AddCartInput) (CartResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "missing cart session")
	}
	sku := strings.TrimSpace(in.SKU)
	if sku == "" {
		return CartResponse{}, InvalidInput("invalid sku")
	}
	if in.Quantity < 1 {
		return CartResponse{}, InvalidInput("invalid quantity")
	}

	// 商品チェック（公開のみ）
	p, err := u.productRepo.FindBySKU(ctx, sku)
	if errors.Is(err, repo.ErrNotFound) {
		return CartResponse{}, InvalidInput("invalid sku")
	}
	if err != nil {
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	if !p.IsActive {
		return CartResponse{}, InvalidInput("invalid sku")
	}

	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return CartResponse{}, err
	}

	now := u.clock.Now()
	cart.Upsert(model.CartItem{
		SKU:               p.SKU,
		Name:              p.Name,
		Quantity:          in.Quantity,
		UnitPriceSnapshot: p.PriceCents,
		AddedAt:           now,
	})
	cart.UpdatedAt = now

	if err := u.store.Save(ctx, cart); err != nil {
		u.log.ErrorContext(ctx, "cart save failed", slog.Any("error", err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return toCartResponse(cart), nil
}

// 無いSKUを消しても200
func (u *CartUsecase) RemoveFromCart(ctx context.Context, sessionID string, sku string) (CartResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return CartResponse{}, NewHTTPError(http.StatusBadRequest, "missing cart session")
	}
	cart, err := u.load(ctx, sessionID)
	if err != nil {
		return CartResponse{}, err
	}
	if !cart.Remove(strings.TrimSpace(sku)) {
		return toCartResponse(cart), nil
	}

	cart.UpdatedAt = u.clock.Now()
	if cart.IsEmpty() {
		err = u.store.Delete(ctx, sessionID)
	} else {
		err = u.store.Save(ctx, cart)
	}
	if err != nil {
		u.log.ErrorContext(ctx, "cart update failed", slog.Any("error", err))
		return CartResponse{}, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return toCartResponse(cart), nil
}

func (u *CartUsecase) GetCart(ctx context.Context, sessionID string) (CartResponse, error) {
	cart, err := u.Snapshot(ctx, sessionID)
	if err != nil {
		return CartResponse{}, err
	}
	return toCartResponse(cart), nil
}

// 注文に渡すためのカートそのもの（無ければ空）
func (u *CartUsecase) Snapshot(ctx context.Context, sessionID string) (*model.Cart, error) {
	if strings.TrimSpace(sessionID) == "" {
		return &model.Cart{}, nil
	}
	return u.load(ctx, sessionID)
}

func (u *CartUsecase) Destroy(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := u.store.Delete(ctx, sessionID); err != nil {
		u.log.ErrorContext(ctx, "cart delete failed", slog.Any("error", err))
		return NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	return nil
}

func (u *CartUsecase) load(ctx context.Context, sessionID string) (*model.Cart, error) {
	cart, err := u.store.Get(ctx, sessionID)
	if err != nil {
		u.log.ErrorContext(ctx, "cart load failed", slog.Any("error", err))
		return nil, NewHTTPError(http.StatusInternalServerError, "cart store error")
	}
	if cart == nil {
		now := u.clock.Now()
		cart = &model.Cart{SessionID: sessionID, CreatedAt: now, UpdatedAt: now}
	}
	return cart, nil
}

func toCartResponse(cart *model.Cart) CartResponse {
	out := CartResponse{Items: []CartItemResponse{}}
	if cart == nil {
		return out
	}
	for _, it := range cart.Items {
		out.Items = append(out.Items, CartItemResponse{
			SKU:      it.SKU,
			Name:     it.Name,
			Price:    it.UnitPriceSnapshot,
			Quantity: it.Quantity,
		})
	}
	out.Total = cart.SnapshotTotal()
	return out
}
