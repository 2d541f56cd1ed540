package payment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"florist/internal/usecase"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

type rawResponse struct {
	Status int
	Body   []byte
}

// 決済代行への HTTP。ネットワーク障害と 5xx だけを ErrPaymentUnavailable にし、
// 4xx の中身の解釈は各アダプタに任せる
type transport struct {
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[rawResponse]
}

func newTransport(name string, timeout time.Duration, log *slog.Logger) *transport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &transport{
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   timeout,
		},
		breaker: gobreaker.NewCircuitBreaker[rawResponse](gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed",
					slog.String("breaker", name), slog.String("from", from.String()), slog.String("to", to.String()))
			},
		}),
	}
}

// header はリクエストごとの認証・冪等キー
func (t *transport) do(ctx context.Context, method, url, contentType string, body []byte, header http.Header) (rawResponse, error) {
	res, err := t.breaker.Execute(func() (rawResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return rawResponse{}, fmt.Errorf("build request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")

		resp, err := t.http.Do(req)
		if err != nil {
			return rawResponse{}, fmt.Errorf("%w: %v", usecase.ErrPaymentUnavailable, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return rawResponse{}, fmt.Errorf("%w: read body: %v", usecase.ErrPaymentUnavailable, err)
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return rawResponse{}, fmt.Errorf("%w: processor status %d", usecase.ErrPaymentUnavailable, resp.StatusCode)
		}
		return rawResponse{Status: resp.StatusCode, Body: data}, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return rawResponse{}, fmt.Errorf("%w: %v", usecase.ErrPaymentUnavailable, err)
	}
	return res, err
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", usecase.ErrPaymentUnavailable, fmt.Sprintf(format, args...))
}

func declined(code string) error {
	return fmt.Errorf("%w: %s", usecase.ErrPaymentDeclined, code)
}

// 6938 → "69.38"
func formatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
