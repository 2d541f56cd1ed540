package repository

import (
	"context"

	"florist/internal/domain/model"
)

// カタログ価格の読み取り
type ProductRepository interface {
	FindBySKU(ctx context.Context, sku string) (model.Product, error)
}
