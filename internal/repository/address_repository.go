package repository

import (
	"context"

	"florist/internal/domain/model"
)

// 住所の読み取り窓口（作成・更新は住所画面側）
type AddressRepository interface {
	//住所IDから住所を1件取得
	FindByID(ctx context.Context, addressID int64) (model.Address, error)

	//住所がそのユーザーのものか」を確認
	IsOwnedByUser(ctx context.Context, addressID, userID int64) (bool, error)
}
