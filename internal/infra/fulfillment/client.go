package fulfillment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"

	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// 花屋ネットワークの HTTP クライアント（usecase.FulfillmentNetwork）
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	log     *slog.Logger
}

var _ usecase.FulfillmentNetwork = (*Client)(nil)

func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   cfg.Timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "fulfillment",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			//拒否や配達不可は先方が生きている証拠なので失敗に数えない
			IsSuccessful: func(err error) bool {
				return err == nil || !errors.Is(err, usecase.ErrFulfillmentUnavailable)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			},
		}),
		log: log,
	}
}

func (c *Client) DeliveryDates(ctx context.Context, zip string) ([]model.DeliveryDateOption, error) {
	var res deliveryDatesResponse
	if err := c.do(ctx, http.MethodGet, "/delivery-dates?zip="+url.QueryEscape(zip), "", nil, &res); err != nil {
		return nil, err
	}

	out := make([]model.DeliveryDateOption, 0, len(res.Dates))
	for _, d := range res.Dates {
		date, err := model.ParseDate(d.Date)
		if err != nil {
			return nil, malformed("delivery date %q", d.Date)
		}
		fee, err := toCents(d.Fee)
		if err != nil {
			return nil, malformed("delivery fee: %v", err)
		}
		out = append(out, model.DeliveryDateOption{Date: date, FeeCents: fee, Available: d.Available})
	}
	return out, nil
}

func (c *Client) GetTotal(ctx context.Context, zip string, date time.Time, subtotalCents int64) (model.OrderTotals, error) {
	req := totalsRequest{Zip: zip, Date: date.Format(model.DateLayout), Subtotal: fromCents(subtotalCents)}
	var res totalsDTO
	if err := c.do(ctx, http.MethodPost, "/totals", "", req, &res); err != nil {
		return model.OrderTotals{}, err
	}
	totals, err := totalsFromDTO(res)
	if err != nil {
		return model.OrderTotals{}, malformed("totals: %v", err)
	}
	return totals, nil
}

// Reference を冪等キーとして送る。同じ注文の再送は同じ確認番号になる
func (c *Client) SubmitOrder(ctx context.Context, order usecase.FulfillmentOrder) (string, error) {
	req := submitOrderRequest{
		Reference: order.Reference,
		Sender:    contactDTO{Name: order.Sender.Name, Email: order.Sender.Email, Phone: order.Sender.Phone},
		Lines:     make([]orderLineDTO, 0, len(order.Items)),
		Totals:    totalsToDTO(order.Totals),
	}
	for _, it := range order.Items {
		a := it.Recipient.Address
		req.Lines = append(req.Lines, orderLineDTO{
			ProductCode: it.ProductCode,
			Quantity:    it.Quantity,
			Price:       fromCents(it.PriceCents),
			Recipient: recipientDTO{
				Name:    it.Recipient.Name,
				Phone:   it.Recipient.Phone,
				Address: addressDTO{Line1: a.Line1, Line2: a.Line2, City: a.City, State: a.State, Zip: a.Zip},
			},
			DeliveryDate: it.DeliveryDate.Format(model.DateLayout),
			CardMessage:  it.CardMessage,
		})
	}

	var res submitOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", order.Reference, req, &res); err != nil {
		return "", err
	}
	if res.ConfirmationID == "" {
		return "", malformed("missing confirmation id")
	}
	return res.ConfirmationID, nil
}

func (c *Client) OrderStatus(ctx context.Context, confirmationID string) (usecase.FulfillmentStatus, error) {
	var res orderStatusResponse
	if err := c.do(ctx, http.MethodGet, "/orders/"+url.PathEscape(confirmationID), "", nil, &res); err != nil {
		return "", err
	}
	switch usecase.FulfillmentStatus(res.Status) {
	case usecase.FulfillmentAccepted, usecase.FulfillmentDelivered:
		return usecase.FulfillmentStatus(res.Status), nil
	}
	return "", malformed("order status %q", res.Status)
}

func (c *Client) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.send(ctx, method, path, idempotencyKey, body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", usecase.ErrFulfillmentUnavailable, err)
	}
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, out); err != nil {
		c.log.WarnContext(ctx, "fulfillment response not decodable", slog.String("path", path), slog.Any("error", err))
		return malformed("decode %s %s: %v", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, idempotencyKey string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", usecase.ErrFulfillmentUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", usecase.ErrFulfillmentUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return data, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusRequestTimeout:
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		if e.Code == "not_deliverable" {
			return nil, fmt.Errorf("%w: %s", usecase.ErrNotDeliverable, e.Message)
		}
		return nil, fmt.Errorf("%w: %d %s %s", usecase.ErrFulfillmentRejected, resp.StatusCode, e.Code, e.Message)
	default:
		return nil, fmt.Errorf("%w: upstream status %d", usecase.ErrFulfillmentUnavailable, resp.StatusCode)
	}
}

func totalsFromDTO(d totalsDTO) (model.OrderTotals, error) {
	var (
		t   model.OrderTotals
		err error
	)
	if t.SubtotalCents, err = toCents(d.Subtotal); err != nil {
		return t, err
	}
	if t.DeliveryCents, err = toCents(d.Delivery); err != nil {
		return t, err
	}
	if t.TaxCents, err = toCents(d.Tax); err != nil {
		return t, err
	}
	if t.TotalCents, err = toCents(d.Total); err != nil {
		return t, err
	}
	return t, nil
}

func totalsToDTO(t model.OrderTotals) totalsDTO {
	return totalsDTO{
		Subtotal: fromCents(t.SubtotalCents),
		Delivery: fromCents(t.DeliveryCents),
		Tax:      fromCents(t.TaxCents),
		Total:    fromCents(t.TotalCents),
	}
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: malformed response: %s", usecase.ErrFulfillmentUnavailable, fmt.Sprintf(format, args...))
}
