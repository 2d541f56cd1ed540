package payment

import (
	"strings"
	"time"

	"florist/internal/usecase"
)

// カード入力。トークン化の呼び出しの外には出さない
type CardFields struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// ログにうっかり出ても番号が見えないように
func (c CardFields) String() string {
	return "CardFields(redacted)"
}

func (c CardFields) GoString() string {
	return c.String()
}

// 数字以外（空白・ハイフン）を落とす
func normalizeNumber(n string) string {
	var b strings.Builder
	for _, r := range n {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-':
		default:
			return ""
		}
	}
	return b.String()
}

// ネットワークに出る前のチェック。どの項目が悪いかだけ返す
func (c CardFields) Validate(now time.Time) error {
	number := normalizeNumber(c.Number)
	if len(number) < 13 || len(number) > 19 || !luhn(number) {
		return usecase.InvalidInput("invalid card number")
	}

	if c.ExpMonth < 1 || c.ExpMonth > 12 {
		return usecase.InvalidInput("invalid expiry month")
	}
	year := c.ExpYear
	if year < 100 {
		year += 2000
	}
	// 有効期限は月末まで
	expires := time.Date(year, time.Month(c.ExpMonth)+1, 1, 0, 0, 0, 0, time.UTC)
	if !now.Before(expires) || year > now.Year()+20 {
		return usecase.InvalidInput("invalid expiry year")
	}

	want := 3
	if isAmex(number) {
		want = 4
	}
	if len(c.CVV) != want || normalizeNumber(c.CVV) != c.CVV {
		return usecase.InvalidInput("invalid cvv")
	}
	return nil
}

func (c CardFields) expiryYear() int {
	if c.ExpYear < 100 {
		return c.ExpYear + 2000
	}
	return c.ExpYear
}

func luhn(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

func isAmex(number string) bool {
	return strings.HasPrefix(number, "34") || strings.HasPrefix(number, "37")
}
