package model

import "time"

// セッション単位のカート。DBには保存しない（Redis）
type Cart struct {
	SessionID string     `json:"session_id"`
	Items     []CartItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// 追加時点の価格を必ず保存。
type CartItem struct {
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Quantity          int64     `json:"quantity"`
	UnitPriceSnapshot int64     `json:"unit_price_snapshot"`
	AddedAt           time.Time `json:"added_at"`
}

func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// 同じSKUは数量を上書き（last-write-wins）
func (c *Cart) Upsert(item CartItem) {
	for i := range c.Items {
		if c.Items[i].SKU == item.SKU {
			c.Items[i].Quantity = item.Quantity
			c.Items[i].UnitPriceSnapshot = item.UnitPriceSnapshot
			c.Items[i].Name = item.Name
			return
		}
	}
	c.Items = append(c.Items, item)
}

// 見つかったらtrue
func (c *Cart) Remove(sku string) bool {
	for i := range c.Items {
		if c.Items[i].SKU == sku {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// 表示用の合計（課金には使わない）
func (c *Cart) SnapshotTotal() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.UnitPriceSnapshot * it.Quantity
	}
	return total
}
