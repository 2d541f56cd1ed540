package payment

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"
)

// カード入力 → 使い捨てトークン。カード情報はこの呼び出しの中だけで扱う
type Tokenizer interface {
	Tokenize(ctx context.Context, card CardFields) (model.PaymentToken, error)
}

// デプロイごとに1つ選ぶ決済代行
type Adapter interface {
	usecase.PaymentGateway
	Tokenizer
}

type Config struct {
	Processor model.Processor
	Timeout   time.Duration

	Stripe       StripeConfig
	AuthorizeNet AuthorizeNetConfig
}

type StripeConfig struct {
	BaseURL        string
	PublishableKey string
	SecretKey      string
	//トークンの有効期限（先方の仕様に合わせる）
	TokenTTL time.Duration
}

type AuthorizeNetConfig struct {
	BaseURL        string
	APILoginID     string
	TransactionKey string
	ClientKey      string
	PortalURL      string
	TokenTTL       time.Duration
}

func New(cfg Config, clock usecase.Clock, log *slog.Logger) (Adapter, error) {
	switch cfg.Processor {
	case model.ProcessorStripe:
		if cfg.Stripe.SecretKey == "" || cfg.Stripe.PublishableKey == "" {
			return nil, fmt.Errorf("stripe keys are required")
		}
		return NewStripe(cfg.Stripe, cfg.Timeout, clock, log), nil
	case model.ProcessorAuthorizeNet:
		c := cfg.AuthorizeNet
		if c.APILoginID == "" || c.TransactionKey == "" || c.ClientKey == "" {
			return nil, fmt.Errorf("authorizenet credentials are required")
		}
		return NewAuthorizeNet(c, cfg.Timeout, clock, log), nil
	default:
		return nil, fmt.Errorf("unknown payment processor %q", cfg.Processor)
	}
}

// 課金元のチェック（どちらのアダプタも共通）
func checkSource(p model.Processor, src model.PaymentSource, now time.Time) error {
	if src.Token == nil {
		if src.CustomerRef == "" {
			return usecase.InvalidInput("missing payment source")
		}
		return nil
	}
	if src.Token.Processor != p {
		return usecase.InvalidInput("payment token from another processor")
	}
	if src.Token.Value == "" {
		return usecase.InvalidInput("missing payment token")
	}
	if src.Token.Expired(now) {
		return usecase.InvalidInput("payment token expired")
	}
	return nil
}
