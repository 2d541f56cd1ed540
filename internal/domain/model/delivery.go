package model

import "time"

const DateLayout = "2006-01-02"

// 日付だけに揃える（UTC 0時）
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return DateOnly(t), nil
}

// フルフィルメントネットワークが返す配達可能日
type DeliveryDateOption struct {
	Date      time.Time `json:"-"`
	FeeCents  int64     `json:"fee"`
	Available bool      `json:"available"`
}

// (zip, date) に対する配送料の見積もり
type DeliveryQuote struct {
	Zip       string    `json:"zip"`
	Date      time.Time `json:"date"`
	FeeCents  int64     `json:"fee"`
	QuotedAt  time.Time `json:"quoted_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (q DeliveryQuote) IsStale(now time.Time) bool {
	return !now.Before(q.ExpiresAt)
}

// get-total の結果（これが正）
type OrderTotals struct {
	SubtotalCents int64 `json:"subtotal"`
	DeliveryCents int64 `json:"delivery"`
	TaxCents      int64 `json:"tax"`
	TotalCents    int64 `json:"total"`
}

func (t OrderTotals) Consistent() bool {
	return t.TotalCents == t.SubtotalCents+t.DeliveryCents+t.TaxCents
}
