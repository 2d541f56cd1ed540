package payment

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"florist/internal/domain/model"
	"florist/internal/usecase"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const (
	defaultAuthorizeNetBaseURL = "https://api.authorize.net"
	defaultAuthorizeNetPortal  = "https://accept.authorize.net/customer/manage"

	acceptDataDescriptor = "COMMON.ACCEPT.INAPP.PAYMENT"
)

// 応答コード（transactionResponse.responseCode）
const (
	anetApproved = "1"
	anetDeclined = "2"
	anetError    = "3"
	anetReview   = "4"
)

type AuthorizeNet struct {
	cfg   AuthorizeNetConfig
	t     *transport
	clock usecase.Clock
	log   *slog.Logger
}

var _ Adapter = (*AuthorizeNet)(nil)

func NewAuthorizeNet(cfg AuthorizeNetConfig, timeout time.Duration, clock usecase.Clock, log *slog.Logger) *AuthorizeNet {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultAuthorizeNetBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PortalURL == "" {
		cfg.PortalURL = defaultAuthorizeNetPortal
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 15 * time.Minute
	}
	return &AuthorizeNet{cfg: cfg, t: newTransport("authorizenet", timeout, log), clock: clock, log: log}
}

type anetAuth struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey,omitempty"`
	ClientKey      string `json:"clientKey,omitempty"`
}

type anetMessages struct {
	ResultCode string `json:"resultCode"`
	Message    []struct {
		Code string `json:"code"`
	} `json:"message"`
}

func (m anetMessages) code() string {
	if len(m.Message) == 0 {
		return ""
	}
	return m.Message[0].Code
}

type anetOpaqueData struct {
	DataDescriptor string `json:"dataDescriptor"`
	DataValue      string `json:"dataValue"`
}

type anetPayment struct {
	OpaqueData *anetOpaqueData `json:"opaqueData,omitempty"`
}

type anetProfile struct {
	CustomerProfileID string `json:"customerProfileId"`
}

type anetTransactionRequest struct {
	TransactionType string       `json:"transactionType"`
	Amount          string       `json:"amount"`
	CurrencyCode    string       `json:"currencyCode,omitempty"`
	Payment         *anetPayment `json:"payment,omitempty"`
	Profile         *anetProfile `json:"profile,omitempty"`
	Order           struct {
		Description string `json:"description,omitempty"`
	} `json:"order"`
}

type anetTransactionResponse struct {
	TransactionResponse struct {
		ResponseCode string `json:"responseCode"`
		TransID      string `json:"transId"`
		Errors       []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"errors"`
	} `json:"transactionResponse"`
	Messages anetMessages `json:"messages"`
}

type anetTokenResponse struct {
	OpaqueData anetOpaqueData `json:"opaqueData"`
	Messages   anetMessages   `json:"messages"`
}

type anetHostedProfileResponse struct {
	Token    string       `json:"token"`
	Messages anetMessages `json:"messages"`
}

func (a *AuthorizeNet) Processor() model.Processor { return model.ProcessorAuthorizeNet }

// Accept.js のクライアントキー（課金はできない）
func (a *AuthorizeNet) PublishableKey() string { return a.cfg.ClientKey }

func (a *AuthorizeNet) Tokenize(ctx context.Context, card CardFields) (model.PaymentToken, error) {
	now := a.clock.Now()
	if err := card.Validate(now); err != nil {
		return model.PaymentToken{}, err
	}

	req := map[string]any{
		"securePaymentContainerRequest": map[string]any{
			"merchantAuthentication": anetAuth{Name: a.cfg.APILoginID, ClientKey: a.cfg.ClientKey},
			"data": map[string]any{
				"type": "TOKEN",
				"id":   uuid.NewString(),
				"token": map[string]string{
					"cardNumber":     normalizeNumber(card.Number),
					"expirationDate": fmt.Sprintf("%02d%02d", card.ExpMonth, card.expiryYear()%100),
					"cardCode":       card.CVV,
				},
			},
		},
	}

	var res anetTokenResponse
	if err := a.call(ctx, "securePaymentContainerRequest", req, &res); err != nil {
		return model.PaymentToken{}, err
	}
	if res.Messages.ResultCode != "Ok" || res.OpaqueData.DataValue == "" {
		a.log.InfoContext(ctx, "authorizenet tokenize rejected", slog.String("code", res.Messages.code()))
		//E_WC_ 系はカード入力の不備
		if strings.HasPrefix(res.Messages.code(), "E_WC_") {
			return model.PaymentToken{}, usecase.InvalidInput("invalid card details")
		}
		return model.PaymentToken{}, unavailable("authorizenet tokenize %s", res.Messages.code())
	}
	return model.PaymentToken{
		Processor: model.ProcessorAuthorizeNet,
		Value:     res.OpaqueData.DataValue,
		ExpiresAt: now.Add(a.cfg.TokenTTL),
	}, nil
}

func (a *AuthorizeNet) Charge(ctx context.Context, req usecase.ChargeRequest) (usecase.ChargeResult, error) {
	if err := checkSource(model.ProcessorAuthorizeNet, req.Source, a.clock.Now()); err != nil {
		return usecase.ChargeResult{}, err
	}

	tr := anetTransactionRequest{
		TransactionType: "authCaptureTransaction",
		Amount:          formatAmount(req.AmountCents),
		CurrencyCode:    strings.ToUpper(req.Currency),
	}
	tr.Order.Description = req.Description
	if req.Source.Token != nil {
		tr.Payment = &anetPayment{OpaqueData: &anetOpaqueData{DataDescriptor: acceptDataDescriptor, DataValue: req.Source.Token.Value}}
	} else {
		tr.Profile = &anetProfile{CustomerProfileID: req.Source.CustomerRef}
	}

	body := map[string]any{
		"createTransactionRequest": map[string]any{
			"merchantAuthentication": a.merchantAuth(),
			//同じ refId の再送は先方の重複チェックに掛かる
			"refId":              refID(req.IdempotencyKey),
			"transactionRequest": tr,
		},
	}

	var res anetTransactionResponse
	if err := a.call(ctx, "createTransactionRequest", body, &res); err != nil {
		return usecase.ChargeResult{}, err
	}

	tx := res.TransactionResponse
	switch tx.ResponseCode {
	case anetApproved:
		if tx.TransID == "" || tx.TransID == "0" {
			return usecase.ChargeResult{}, unavailable("approved without transaction id")
		}
		return usecase.ChargeResult{ChargeID: tx.TransID}, nil
	case anetDeclined:
		return usecase.ChargeResult{}, declined("declined")
	case anetReview:
		//保留（不正検知）も課金成功とはみなさない
		return usecase.ChargeResult{}, declined("held_for_review")
	case anetError:
		code := ""
		if len(tx.Errors) > 0 {
			code = tx.Errors[0].ErrorCode
		}
		a.log.InfoContext(ctx, "authorizenet transaction error", slog.String("code", code))
		return usecase.ChargeResult{}, declined("error_" + code)
	default:
		a.log.WarnContext(ctx, "authorizenet transaction not processed", slog.String("code", res.Messages.code()))
		return usecase.ChargeResult{}, unavailable("authorizenet result %s", res.Messages.code())
	}
}

// 顧客プロファイルの管理ページ
func (a *AuthorizeNet) CreatePortalSession(ctx context.Context, customerRef string, returnURL string) (string, error) {
	body := map[string]any{
		"getHostedProfilePageRequest": map[string]any{
			"merchantAuthentication": a.merchantAuth(),
			"customerProfileId":      customerRef,
			"hostedProfileSettings": map[string]any{
				"setting": []map[string]string{
					{"settingName": "hostedProfileReturnUrl", "settingValue": returnURL},
				},
			},
		},
	}

	var res anetHostedProfileResponse
	if err := a.call(ctx, "getHostedProfilePageRequest", body, &res); err != nil {
		return "", err
	}
	if res.Messages.ResultCode != "Ok" || res.Token == "" {
		return "", unavailable("authorizenet hosted profile %s", res.Messages.code())
	}
	return a.cfg.PortalURL + "?token=" + url.QueryEscape(res.Token), nil
}

func (a *AuthorizeNet) merchantAuth() anetAuth {
	return anetAuth{Name: a.cfg.APILoginID, TransactionKey: a.cfg.TransactionKey}
}

func (a *AuthorizeNet) call(ctx context.Context, op string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", op, err)
	}
	res, err := a.t.do(ctx, http.MethodPost, a.cfg.BaseURL+"/xml/v1/request.api", "application/json", payload, nil)
	if err != nil {
		a.log.WarnContext(ctx, "authorizenet request failed", slog.String("op", op), slog.Any("error", err))
		return err
	}
	if res.Status != http.StatusOK {
		return unavailable("authorizenet status %d", res.Status)
	}
	//先頭にBOMが付いて返ってくる
	data := bytes.TrimPrefix(res.Body, []byte("\xef\xbb\xbf"))
	if err := json.Unmarshal(data, out); err != nil {
		return unavailable("malformed authorizenet response")
	}
	return nil
}

// refId は20文字まで
func refID(key string) string {
	sum := blake2b.Sum256([]byte(key))
	return hex.EncodeToString(sum[:10])
}
