package payment

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"
)

const defaultStripeBaseURL = "https://api.stripe.com"

type Stripe struct {
	cfg   StripeConfig
	t     *transport
	clock usecase.Clock
	log   *slog.Logger
}

var _ Adapter = (*Stripe)(nil)

func NewStripe(cfg StripeConfig, timeout time.Duration, clock usecase.Clock, log *slog.Logger) *Stripe {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultStripeBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 10 * time.Minute
	}
	return &Stripe{cfg: cfg, t: newTransport("stripe", timeout, log), clock: clock, log: log}
}

type stripeObject struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type stripeErrorBody struct {
	Error struct {
		Type        string `json:"type"`
		Code        string `json:"code"`
		DeclineCode string `json:"decline_code"`
	} `json:"error"`
}

func (s *Stripe) Processor() model.Processor { return model.ProcessorStripe }

func (s *Stripe) PublishableKey() string { return s.cfg.PublishableKey }

// 公開鍵でトークンを作る（秘密鍵は使わない）
func (s *Stripe) Tokenize(ctx context.Context, card CardFields) (model.PaymentToken, error) {
	now := s.clock.Now()
	if err := card.Validate(now); err != nil {
		return model.PaymentToken{}, err
	}

	form := url.Values{}
	form.Set("card[number]", normalizeNumber(card.Number))
	form.Set("card[exp_month]", strconv.Itoa(card.ExpMonth))
	form.Set("card[exp_year]", strconv.Itoa(card.expiryYear()))
	form.Set("card[cvc]", card.CVV)

	var obj stripeObject
	if err := s.post(ctx, "/v1/tokens", s.cfg.PublishableKey, "", form, &obj); err != nil {
		return model.PaymentToken{}, err
	}
	return model.PaymentToken{
		Processor: model.ProcessorStripe,
		Value:     obj.ID,
		ExpiresAt: now.Add(s.cfg.TokenTTL),
	}, nil
}

func (s *Stripe) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
	if err := checkSource(model.ProcessorStripe, req.Source, s.clock.Now()); err != nil {
		return usecase.ChargeResult{}, err
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.AmountCents, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("description", req.Description)
	if req.Source.Token != nil {
		form.Set("source", req.Source.Token.Value)
	} else {
		form.Set("customer", req.Source.CustomerRef)
	}

	var obj stripeObject
	if err := s.post(ctx, "/v1/charges", s.cfg.SecretKey, req.IdempotencyKey, form, &obj); err != nil {
		return usecase.ChargeResult{}, err
	}
	return usecase.ChargeResult{ChargeID: obj.ID}, nil
}

func (s *Stripe) CreatePortalSession(ctx context.Context, customerRef string, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerRef)
	form.Set("return_url", returnURL)

	var obj stripeObject
	if err := s.post(ctx, "/v1/billing_portal/sessions", s.cfg.SecretKey, "", form, &obj); err != nil {
		return "", err
	}
	if obj.URL == "" {
		return "", unavailable("portal session without url")
	}
	return obj.URL, nil
}

func (s *Stripe) post(ctx context.Context, path, key, idempotencyKey string, form url.Values, out *stripeObject) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+key)
	if idempotencyKey != "" {
		header.Set("Idempotency-Key", idempotencyKey)
	}

	res, err := s.t.do(ctx, http.MethodPost, s.cfg.BaseURL+path, "application/x-www-form-urlencoded", []byte(form.Encode()), header)
	if err != nil {
		s.log.WarnContext(ctx, "stripe request failed", slog.String("path", path), slog.Any("error", err))
		return err
	}

	if res.Status >= 200 && res.Status < 300 {
		if err := json.Unmarshal(res.Body, out); err != nil || out.ID == "" {
			return unavailable("malformed stripe response")
		}
		return nil
	}

	var body stripeErrorBody
	_ = json.Unmarshal(res.Body, &body)
	s.log.InfoContext(ctx, "stripe request rejected",
		slog.String("path", path), slog.Int("status", res.Status),
		slog.String("type", body.Error.Type), slog.String("code", body.Error.Code))

	switch {
	case body.Error.Type == "card_error":
		code := body.Error.DeclineCode
		if code == "" {
			code = body.Error.Code
		}
		return declined(code)
	case body.Error.Type == "idempotency_error":
		return usecase.ErrInconsistent
	case res.Status == http.StatusBadRequest && body.Error.Code == "token_already_used":
		return usecase.InvalidInput("payment token already used")
	default:
		//鍵の設定ミスなど。利用者には再試行してもらうしかない
		return unavailable("stripe status %d %s", res.Status, body.Error.Type)
	}
}
