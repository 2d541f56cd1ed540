package usecase

import (
	"context"
	"time"

	"florist/internal/domain/model"

	"github.com/google/uuid"
)

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID() string
}

// セッション単位のカート置き場
type CartStore interface {
	//無ければ nil, nil
	Get(ctx context.Context, sessionID string) (*model.Cart, error)
	Save(ctx context.Context, cart *model.Cart) error
	Delete(ctx context.Context, sessionID string) error
}

// フルフィルメントネットワーク（花屋への発注先）。
// 返すエラーは ErrNotDeliverable / ErrFulfillmentRejected / ErrFulfillmentUnavailable をラップする
type FulfillmentNetwork interface {
	DeliveryDates(ctx context.Context, zip string) ([]model.DeliveryDateOption, error)
	GetTotal(ctx context.Context, zip string, date time.Time, subtotalCents int64) (model.OrderTotals, error)
	SubmitOrder(ctx context.Context, order FulfillmentOrder) (confirmationID string, err error)
	OrderStatus(ctx context.Context, confirmationID string) (FulfillmentStatus, error)
}

type FulfillmentStatus string

const (
	FulfillmentAccepted  FulfillmentStatus = "accepted"
	FulfillmentDelivered FulfillmentStatus = "delivered"
)

// ネットワークに送る注文
type FulfillmentOrder struct {
	//こちらの注文番号（先方で重複排除に使う）
	Reference string
	Sender    model.Contact
	Items     []model.OrderItem
	Totals    model.OrderTotals
}

// 決済代行。トークン化は infra/payment 側だけが持ち、ここにはカード情報は来ない。
// 返すエラーは ErrPaymentDeclined / ErrPaymentUnavailable / ErrInvalidInput をラップする
type PaymentGateway interface {
	Processor() model.Processor
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	PublishableKey() string
	CreatePortalSession(ctx context.Context, customerRef string, returnURL string) (string, error)
}

type ChargeRequest struct {
	Source         model.PaymentSource
	AmountCents    int64
	Currency       string
	IdempotencyKey string
	Description    string
}

type ChargeResult struct {
	ChargeID string
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }
