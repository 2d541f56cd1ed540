package usecase

import (
	"errors"
	"fmt"
	"net/http"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// 業務エラーの種類
type ErrorKind string

const (
	KindInvalidInput           ErrorKind = "invalid_input"
	KindNotDeliverable         ErrorKind = "not_deliverable"
	KindQuoteStale             ErrorKind = "quote_stale"
	KindPaymentDeclined        ErrorKind = "payment_declined"
	KindPaymentUnavailable     ErrorKind = "payment_unavailable"
	KindFulfillmentRejected    ErrorKind = "fulfillment_rejected"
	KindFulfillmentUnavailable ErrorKind = "fulfillment_unavailable"
	KindInconsistent           ErrorKind = "inconsistent"
)

// 利用者に見せるのは Message だけ。上流のエラー文言は %w の外側に付けてログにだけ出す
type DomainError struct {
	Kind    ErrorKind
	Status  int
	Message string
}

func (e *DomainError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

// Kindが同じなら一致（メッセージ違いの InvalidInput も ErrInvalidInput に一致する）
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && t.Kind == e.Kind
}

// リトライしてよいか
func (e *DomainError) Retryable() bool {
	return e.Kind == KindPaymentUnavailable || e.Kind == KindFulfillmentUnavailable
}

var (
	ErrInvalidInput           = &DomainError{Kind: KindInvalidInput, Status: http.StatusBadRequest, Message: "invalid input"}
	ErrNotDeliverable         = &DomainError{Kind: KindNotDeliverable, Status: http.StatusUnprocessableEntity, Message: "we don't deliver there"}
	ErrQuoteStale             = &DomainError{Kind: KindQuoteStale, Status: http.StatusConflict, Message: "price changed, please confirm"}
	ErrPaymentDeclined        = &DomainError{Kind: KindPaymentDeclined, Status: http.StatusPaymentRequired, Message: "your card was declined"}
	ErrPaymentUnavailable     = &DomainError{Kind: KindPaymentUnavailable, Status: http.StatusServiceUnavailable, Message: "something went wrong, please try again"}
	ErrFulfillmentRejected    = &DomainError{Kind: KindFulfillmentRejected, Status: http.StatusUnprocessableEntity, Message: "something went wrong, please try again"}
	ErrFulfillmentUnavailable = &DomainError{Kind: KindFulfillmentUnavailable, Status: http.StatusServiceUnavailable, Message: "unable to verify delivery, please retry"}
	ErrInconsistent           = &DomainError{Kind: KindInconsistent, Status: http.StatusInternalServerError, Message: "something went wrong, please try again"}
)

// 入力エラー（どの項目が悪いかは返してよい）
func InvalidInput(message string) error {
	return &DomainError{Kind: KindInvalidInput, Status: http.StatusBadRequest, Message: message}
}

func AsDomainError(err error) (*DomainError, bool) {
	var de *DomainError
	ok := errors.As(err, &de)
	return de, ok
}

// 配送料が変わった。新しい金額を呼び出し元に返す
type QuoteStaleError struct {
	QuotedFeeCents int64
	NewFeeCents    int64
	NewTotalCents  int64
}

func (e *QuoteStaleError) Error() string {
	return fmt.Sprintf("quote_stale: fee %d -> %d", e.QuotedFeeCents, e.NewFeeCents)
}

func (e *QuoteStaleError) Unwrap() error {
	return ErrQuoteStale
}

// 同じ冪等キーで中身が違うリクエスト
var ErrIdempotencyConflict = NewHTTPError(http.StatusUnprocessableEntity, "idempotency key reused with different request")
