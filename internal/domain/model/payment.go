package model

import "time"

// 決済代行（デプロイごとにどちらか1つ）
type Processor string

const (
	ProcessorStripe       Processor = "stripe"
	ProcessorAuthorizeNet Processor = "authorizenet"
)

func (p Processor) Valid() bool {
	return p == ProcessorStripe || p == ProcessorAuthorizeNet
}

// 使い捨てのトークン。ログに出さない・保存しない
type PaymentToken struct {
	Processor Processor
	Value     string
	ExpiresAt time.Time
}

// %v でうっかり出力されても値を出さない
func (t PaymentToken) String() string {
	return "PaymentToken(" + string(t.Processor) + ", redacted)"
}

func (t PaymentToken) GoString() string {
	return t.String()
}

func (t PaymentToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// 課金元。都度払いはToken、定期便は決済代行側の顧客参照
type PaymentSource struct {
	Token       *PaymentToken
	CustomerRef string
}
