package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

type OrderPolicy struct {
	Currency                string
	UpstreamTimeout         time.Duration
	PaymentMaxAttempts      int
	PaymentRetryBackoff     time.Duration
	FulfillmentMaxAttempts  int
	FulfillmentRetryBackoff time.Duration
	PendingOrderTTL         time.Duration
	BatchSize               int
}

func DefaultOrderPolicy() OrderPolicy {
	return OrderPolicy{
		Currency:                "usd",
		UpstreamTimeout:         5 * time.Second,
		PaymentMaxAttempts:      2,
		PaymentRetryBackoff:     500 * time.Millisecond,
		FulfillmentMaxAttempts:  3,
		FulfillmentRetryBackoff: 2 * time.Minute,
		PendingOrderTTL:         30 * time.Minute,
		BatchSize:               50,
	}
}

// 注文の組み立て・課金・フルフィルメント送信
type OrderUsecase struct {
	tx       repo.TransactionManager
	products repo.ProductRepository
	carts    CartStore
	delivery *DeliveryUsecase
	network  FulfillmentNetwork
	gateway  PaymentGateway
	clock    Clock
	ids      IDGenerator
	log      *slog.Logger
	policy   OrderPolicy
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	products repo.ProductRepository,
	carts CartStore,
	delivery *DeliveryUsecase,
	network FulfillmentNetwork,
	gateway PaymentGateway,
	clock Clock,
	ids IDGenerator,
	log *slog.Logger,
	policy OrderPolicy,
) *OrderUsecase {
	return &OrderUsecase{
		tx:       tx,
		products: products,
		carts:    carts,
		delivery: delivery,
		network:  network,
		gateway:  gateway,
		clock:    clock,
		ids:      ids,
		log:      log,
		policy:   policy,
	}
}

type PlaceOrderInput struct {
	UserID *int64
	//成功したらこのセッションのカートを消す
	SessionID   string
	Cart        *model.Cart
	Quote       model.DeliveryQuote
	Token       model.PaymentToken
	Recipient   model.Recipient
	Sender      model.Contact
	Billing     model.PostalAddress
	CardMessage string
	//画面に出ていた合計（参考値。比較してログに出すだけ）
	ClientTotalCents *int64
	IdempotencyKey   string
}

type OrderItemOutput struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Price        int64           `json:"price"`
	Quantity     int64           `json:"quantity"`
	Recipient    model.Recipient `json:"recipient"`
	DeliveryDate string          `json:"delivery_date"`
	CardMessage  string          `json:"card_message"`
}

type OrderOutput struct {
	ID                     int64             `json:"id"`
	Status                 string            `json:"status"`
	Subtotal               int64             `json:"subtotal"`
	DeliveryFee            int64             `json:"delivery_fee"`
	Tax                    int64             `json:"tax"`
	Total                  int64             `json:"total"`
	ExternalConfirmationID *string           `json:"external_confirmation_id"`
	CreatedAt              time.Time         `json:"created_at"`
	Items                  []OrderItemOutput `json:"items"`
}

// 注文1件分の材料（チェックアウトと定期便で共通）
type orderDraft struct {
	userID      *int64
	deliveryID  *int64
	lines       []model.OrderItem
	subtotal    int64
	quote       model.DeliveryQuote
	source      model.PaymentSource
	sender      model.Contact
	billing     model.PostalAddress
	key         string
	fingerprint string
}

type checkoutFingerprint struct {
	Zip         string              `json:"zip"`
	Date        string              `json:"date"`
	Fee         int64               `json:"fee"`
	Recipient   model.Recipient     `json:"recipient"`
	Sender      model.Contact       `json:"sender"`
	Billing     model.PostalAddress `json:"billing"`
	CardMessage string              `json:"card_message"`
	Processor   model.Processor     `json:"processor"`
}

func (u *OrderUsecase) PlaceOrder(ctx context.Context, in PlaceOrderInput) (OrderOutput, error) {
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" || len(key) > 255 {
		return OrderOutput{}, InvalidInput("invalid idempotency_key")
	}
	if !model.ValidZip(in.Quote.Zip) || in.Quote.Date.IsZero() {
		return OrderOutput{}, InvalidInput("invalid delivery quote")
	}

	//必須項目
	var missing []string
	missing = append(missing, in.Recipient.MissingFields()...)
	missing = append(missing, in.Sender.MissingFields("sender.")...)
	missing = append(missing, in.Billing.MissingFields("billing.")...)
	if len(missing) > 0 {
		return OrderOutput{}, InvalidInput("missing or invalid: " + strings.Join(missing, ", "))
	}
	if in.Recipient.Address.Zip != in.Quote.Zip {
		return OrderOutput{}, InvalidInput("quote does not match recipient zip")
	}
	if len(in.CardMessage) > 500 {
		return OrderOutput{}, InvalidInput("card message too long")
	}

	//トークン（中身はここでは見ない）
	if strings.TrimSpace(in.Token.Value) == "" {
		return OrderOutput{}, InvalidInput("missing payment token")
	}
	if in.Token.Processor != u.gateway.Processor() {
		return OrderOutput{}, InvalidInput("payment token is for another processor")
	}

	//カートとトークン期限は成功後に変わるので指紋に入れない
	fp, err := requestFingerprint(checkoutFingerprint{
		Zip:         in.Quote.Zip,
		Date:        in.Quote.Date.Format(model.DateLayout),
		Fee:         in.Quote.FeeCents,
		Recipient:   in.Recipient,
		Sender:      in.Sender,
		Billing:     in.Billing,
		CardMessage: in.CardMessage,
		Processor:   in.Token.Processor,
	})
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "fingerprint error")
	}

	//リプレイはカートを見る前に返す（成功後はカートが消えている）
	if out, found, err := u.replay(ctx, key, fp); found || err != nil {
		return out, err
	}

	if in.Cart.IsEmpty() {
		return OrderOutput{}, InvalidInput("cart empty")
	}
	for _, it := range in.Cart.Items {
		if it.Quantity < 1 {
			return OrderOutput{}, InvalidInput("invalid quantity")
		}
	}
	if in.Token.Expired(u.clock.Now()) {
		return OrderOutput{}, InvalidInput("payment token expired")
	}

	//価格はカタログが正（カートの価格は表示用）
	lines, subtotal, err := u.priceCart(ctx, in.Cart)
	if err != nil {
		return OrderOutput{}, err
	}
	date := model.DateOnly(in.Quote.Date)
	for i := range lines {
		lines[i].Recipient = in.Recipient
		lines[i].DeliveryDate = date
		lines[i].CardMessage = in.CardMessage
	}

	token := in.Token
	out, err := u.execute(ctx, orderDraft{
		userID:      in.UserID,
		lines:       lines,
		subtotal:    subtotal,
		quote:       in.Quote,
		source:      model.PaymentSource{Token: &token},
		sender:      in.Sender,
		billing:     in.Billing,
		key:         key,
		fingerprint: fp,
	})
	if err != nil {
		return OrderOutput{}, err
	}

	if in.ClientTotalCents != nil && *in.ClientTotalCents != out.Total {
		u.log.InfoContext(ctx, "client total differs from server total",
			slog.Int64("order_id", out.ID),
			slog.Int64("client_total", *in.ClientTotalCents),
			slog.Int64("total", out.Total))
	}

	//課金できたらカートは消す（失敗しても注文は成立している）
	if in.SessionID != "" && out.Status != string(model.OrderStatusPending) && out.Status != string(model.OrderStatusCancelled) {
		if err := u.carts.Delete(ctx, in.SessionID); err != nil {
			u.log.WarnContext(ctx, "cart destroy after order failed", slog.Int64("order_id", out.ID), slog.Any("error", err))
		}
	}
	return out, nil
}

// 現在のカートに対する合計（ネットワークの get-total が正）
func (u *OrderUsecase) PreviewTotal(ctx context.Context, cart *model.Cart, zip string, date time.Time) (model.OrderTotals, error) {
	if !model.ValidZip(zip) {
		return model.OrderTotals{}, InvalidInput("invalid zip")
	}
	if date.IsZero() {
		return model.OrderTotals{}, InvalidInput("invalid date")
	}
	if cart.IsEmpty() {
		return model.OrderTotals{}, InvalidInput("cart empty")
	}
	_, subtotal, err := u.priceCart(ctx, cart)
	if err != nil {
		return model.OrderTotals{}, err
	}
	totals, err := u.getTotal(ctx, zip, model.DateOnly(date), subtotal)
	if err != nil {
		return model.OrderTotals{}, err
	}
	if !totals.Consistent() || totals.SubtotalCents != subtotal {
		return model.OrderTotals{}, ErrInconsistent
	}
	return totals, nil
}

func (u *OrderUsecase) priceCart(ctx context.Context, cart *model.Cart) ([]model.OrderItem, int64, error) {
	lines := make([]model.OrderItem, 0, len(cart.Items))
	var subtotal int64
	for _, it := range cart.Items {
		p, err := u.products.FindBySKU(ctx, it.SKU)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && !p.IsActive) {
			return nil, 0, InvalidInput("item no longer available: " + it.SKU)
		}
		if err != nil {
			return nil, 0, NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if p.PriceCents != it.UnitPriceSnapshot {
			u.log.InfoContext(ctx, "catalog price changed since add", slog.String("sku", it.SKU),
				slog.Int64("snapshot", it.UnitPriceSnapshot), slog.Int64("price", p.PriceCents))
		}
		price := p.PriceCents * it.Quantity
		lines = append(lines, model.OrderItem{
			ProductCode:         p.SKU,
			ProductNameSnapshot: p.Name,
			UnitPriceCents:      p.PriceCents,
			Quantity:            it.Quantity,
			PriceCents:          price,
		})
		subtotal += price
	}
	return lines, subtotal, nil
}

// 既存注文があれば返す。found=false ならまだ無い
func (u *OrderUsecase) replay(ctx context.Context, key, fingerprint string) (OrderOutput, bool, error) {
	var (
		out   OrderOutput
		found bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, ok, err := r.Orders().FindByIdempotencyKey(ctx, key)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !ok {
			return nil
		}
		found = true
		if existing.RequestFingerprint != fingerprint {
			return ErrIdempotencyConflict
		}
		//失敗した注文は同じエラーを返す
		if err := replayError(existing); err != nil {
			return err
		}
		items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = toOrderOutput(existing, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, true, err
	}
	return out, found, nil
}

func replayError(o model.Order) error {
	switch o.FailureCode {
	case model.FailurePaymentDeclined:
		return ErrPaymentDeclined
	case model.FailurePaymentUnavailable:
		if o.Status == model.OrderStatusPending || o.Status == model.OrderStatusCancelled {
			return ErrPaymentUnavailable
		}
	}
	return nil
}

// 再見積もり → pending作成 → 課金 → フルフィルメント送信
func (u *OrderUsecase) execute(ctx context.Context, d orderDraft) (OrderOutput, error) {
	//客が見た料金は d.quote のまま。期限切れなら取り直して get-total で比べる
	quote := d.quote
	if quote.IsStale(u.clock.Now()) {
		fresh, err := u.delivery.Refresh(ctx, quote)
		if err != nil {
			return OrderOutput{}, err
		}
		quote = fresh
	}

	//課金の直前に必ず get-total
	totals, err := u.getTotal(ctx, quote.Zip, model.DateOnly(quote.Date), d.subtotal)
	if err != nil {
		return OrderOutput{}, err
	}
	if totals.DeliveryCents != d.quote.FeeCents {
		u.log.InfoContext(ctx, "delivery fee drifted", slog.String("zip", quote.Zip),
			slog.Int64("quoted", d.quote.FeeCents), slog.Int64("fee", totals.DeliveryCents))
		return OrderOutput{}, &QuoteStaleError{
			QuotedFeeCents: d.quote.FeeCents,
			NewFeeCents:    totals.DeliveryCents,
			NewTotalCents:  totals.TotalCents,
		}
	}
	if totals.SubtotalCents != d.subtotal || !totals.Consistent() {
		u.log.ErrorContext(ctx, "upstream totals inconsistent",
			slog.Int64("subtotal", d.subtotal), slog.Any("totals", totals))
		return OrderOutput{}, ErrInconsistent
	}

	order := model.Order{
		UserID:                 d.userID,
		SubscriptionDeliveryID: d.deliveryID,
		Status:                 model.OrderStatusPending,
		Processor:              u.gateway.Processor(),
		SubtotalCents:          d.subtotal,
		DeliveryFeeCents:       totals.DeliveryCents,
		TaxCents:               totals.TaxCents,
		Sender:                 d.sender,
		Billing:                d.billing,
		IdempotencyKey:         d.key,
		RequestFingerprint:     d.fingerprint,
	}
	//合計はサーバーで計算し直す
	order.TotalCents = order.SubtotalCents + order.DeliveryFeeCents + order.TaxCents
	if order.TotalCents != totals.TotalCents {
		return OrderOutput{}, ErrInconsistent
	}

	created, items, replayed, err := u.createPending(ctx, order, d.lines)
	if err != nil {
		return OrderOutput{}, err
	}
	if replayed != nil {
		return *replayed, nil
	}

	charged, err := u.chargeOrder(ctx, created, d.source)
	if err != nil {
		return OrderOutput{}, err
	}

	final := u.submitFulfillment(ctx, charged, items)
	return toOrderOutput(final, items), nil
}

func (u *OrderUsecase) getTotal(ctx context.Context, zip string, date time.Time, subtotal int64) (model.OrderTotals, error) {
	callCtx, cancel := context.WithTimeout(ctx, u.policy.UpstreamTimeout)
	defer cancel()
	totals, err := u.network.GetTotal(callCtx, zip, date, subtotal)
	if err != nil {
		if _, ok := AsDomainError(err); ok {
			return model.OrderTotals{}, err
		}
		return model.OrderTotals{}, fmt.Errorf("%w: %v", ErrFulfillmentUnavailable, err)
	}
	return totals, nil
}

// pending注文と明細を作る。同じキーが先に入っていたらそれを返す
func (u *OrderUsecase) createPending(ctx context.Context, order model.Order, lines []model.OrderItem) (model.Order, []model.OrderItem, *OrderOutput, error) {
	var (
		items    []model.OrderItem
		replayed *OrderOutput
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		id, err := r.Orders().Create(ctx, order)
		if errors.Is(err, repo.ErrDuplicateKey) {
			return repo.ErrDuplicateKey
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		order.ID = id
		if err := r.OrderItems().CreateBulk(ctx, id, lines); err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		items, err = r.OrderItems().ListByOrderID(ctx, id)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		return nil
	})
	if errors.Is(err, repo.ErrDuplicateKey) {
		//競合（同時で同じキーが入った等）はもう一回検索して同じ結果を返す
		out, found, err2 := u.replay(ctx, order.IdempotencyKey, order.RequestFingerprint)
		if err2 != nil {
			return model.Order{}, nil, nil, err2
		}
		if !found {
			return model.Order{}, nil, nil, NewHTTPError(http.StatusConflict, "idempotency conflict")
		}
		replayed = &out
		return model.Order{}, nil, replayed, nil
	}
	if err != nil {
		return model.Order{}, nil, nil, err
	}
	return order, items, nil, nil
}

// 課金。成功したら processing、断られたら cancelled、
// 決済代行に届かないままなら pending のまま手動対応に回す
func (u *OrderUsecase) chargeOrder(ctx context.Context, o model.Order, source model.PaymentSource) (model.Order, error) {
	//ここから先は呼び出し元のキャンセルを受けない
	ctx = context.WithoutCancel(ctx)

	now := u.clock.Now()
	if err := u.transition(ctx, &o, model.OrderStatusPending, repo.OrderChanges{ChargeAttemptedAt: &now}); err != nil {
		return o, err
	}

	//結果不明の印が付いていれば、結果が分かった時点で外す
	wasUnknown := o.ChargeOutcomeUnknown()
	settled := func(c repo.OrderChanges) repo.OrderChanges {
		if wasUnknown {
			cleared := false
			none := model.ReconcileNone
			c.NeedsReconciliation = &cleared
			c.ReconciliationReason = &none
		}
		return c
	}

	res, err := u.chargeWithRetry(ctx, o, source)
	switch {
	case err == nil:
		chargeID := res.ChargeID
		due := u.clock.Now()
		code := model.FailureNone
		changes := settled(repo.OrderChanges{ChargeID: &chargeID, NextFulfillmentAt: &due, FailureCode: &code})
		if err := u.transition(ctx, &o, model.OrderStatusProcessing, changes); err != nil {
			//課金済みなのに状態が進まない
			u.log.ErrorContext(ctx, "charged order could not move to processing", slog.Int64("order_id", o.ID), slog.Any("error", err))
			u.flag(ctx, o, model.ReconcileInconsistent)
			return o, ErrInconsistent
		}
		return o, nil

	case errors.Is(err, ErrPaymentUnavailable):
		u.log.ErrorContext(ctx, "charge outcome unknown", slog.Int64("order_id", o.ID), slog.Any("error", err))
		code := model.FailurePaymentUnavailable
		reason := model.ReconcileChargeUnknown
		flagged := true
		changes := repo.OrderChanges{FailureCode: &code, NeedsReconciliation: &flagged, ReconciliationReason: &reason}
		if err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
			if err := r.Orders().Transition(ctx, o.ID, model.OrderStatusPending, model.OrderStatusPending, changes); err != nil {
				return err
			}
			changes.Apply(&o)
			if wasUnknown {
				return nil
			}
			return appendOrderEvent(ctx, r, u.ids, o, model.EventOrderNeedsReconciliation, u.clock.Now())
		}); err != nil {
			u.log.ErrorContext(ctx, "flag charge outcome failed", slog.Int64("order_id", o.ID), slog.Any("error", err))
		}
		return o, ErrPaymentUnavailable

	default:
		//拒否（カード・トークン不正も含む）
		u.log.InfoContext(ctx, "charge declined", slog.Int64("order_id", o.ID), slog.Any("error", err))
		//processing（課金済み）には進めていないので pending から取り消す
		code := model.FailurePaymentDeclined
		if terr := u.transition(ctx, &o, model.OrderStatusCancelled, settled(repo.OrderChanges{FailureCode: &code})); terr != nil {
			u.log.ErrorContext(ctx, "cancel declined order failed", slog.Int64("order_id", o.ID), slog.Any("error", terr))
		}
		if de, ok := AsDomainError(err); ok && de.Kind == KindInvalidInput {
			return o, err
		}
		return o, ErrPaymentDeclined
	}
}

func (u *OrderUsecase) chargeWithRetry(ctx context.Context, o model.Order, source model.PaymentSource) (ChargeResult, error) {
	attempts := u.policy.PaymentMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	req := ChargeRequest{
		Source:      source,
		AmountCents: o.TotalCents,
		Currency:    u.policy.Currency,
		//決済代行側の冪等キー。再試行しても二重課金にならない
		IdempotencyKey: fmt.Sprintf("order-%d-%s", o.ID, o.RequestFingerprint[:16]),
		Description:    fmt.Sprintf("order %d", o.ID),
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, u.policy.UpstreamTimeout)
		res, err := u.gateway.Charge(callCtx, req)
		cancel()
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, ErrPaymentUnavailable) {
			return ChargeResult{}, err
		}
		lastErr = err
		u.log.WarnContext(ctx, "charge attempt failed", slog.Int64("order_id", o.ID), slog.Int("attempt", i), slog.Any("error", err))
		if i < attempts && u.policy.PaymentRetryBackoff > 0 {
			time.Sleep(u.policy.PaymentRetryBackoff)
		}
	}
	return ChargeResult{}, lastErr
}

// 条件付きで状態を変え、メモリ上の注文にも反映する
func (u *OrderUsecase) transition(ctx context.Context, o *model.Order, to model.OrderStatus, changes repo.OrderChanges) error {
	from := o.Status
	if from != to && !from.CanTransitionTo(to) {
		return ErrInconsistent
	}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		return r.Orders().Transition(ctx, o.ID, from, to, changes)
	})
	if err != nil {
		return err
	}
	o.Status = to
	changes.Apply(o)
	return nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page, limit int) ([]OrderOutput, int64, error) {
	if userID <= 0 {
		return []OrderOutput{}, 0, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var (
		outs  []OrderOutput
		total int64
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, n, err := r.Orders().ListByUserID(ctx, userID, page, limit)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		total = n
		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})
	if err != nil {
		return []OrderOutput{}, 0, err
	}
	return outs, total, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		//他人の注文は存在しない扱い
		if o.UserID == nil || *o.UserID != userID {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	out := OrderOutput{
		ID:                     o.ID,
		Status:                 string(o.Status),
		Subtotal:               o.SubtotalCents,
		DeliveryFee:            o.DeliveryFeeCents,
		Tax:                    o.TaxCents,
		Total:                  o.TotalCents,
		ExternalConfirmationID: o.ExternalConfirmationID,
		CreatedAt:              o.CreatedAt,
		Items:                  make([]OrderItemOutput, 0, len(items)),
	}
	for _, it := range items {
		out.Items = append(out.Items, OrderItemOutput{
			SKU:          it.ProductCode,
			Name:         it.ProductNameSnapshot,
			Price:        it.PriceCents,
			Quantity:     it.Quantity,
			Recipient:    it.Recipient,
			DeliveryDate: it.DeliveryDate.Format(model.DateLayout),
			CardMessage:  it.CardMessage,
		})
	}
	return out
}

type subscriptionFingerprint struct {
	SubscriptionID int64 `json:"subscription_id"`
	DeliveryID     int64 `json:"delivery_id"`
	Attempt        int   `json:"attempt"`
}

// 定期便1サイクル分の注文。キーは試行ごとに固定なので、同じ試行をやり直してもリプレイになる
func (u *OrderUsecase) PlaceSubscriptionOrder(ctx context.Context, sub model.Subscription, d model.SubscriptionDelivery, recipient model.Recipient, quote model.DeliveryQuote) (OrderOutput, error) {
	if sub.Processor != u.gateway.Processor() {
		return OrderOutput{}, InvalidInput("subscription is billed by another processor")
	}
	if strings.TrimSpace(sub.CustomerRef) == "" {
		return OrderOutput{}, InvalidInput("missing customer_ref")
	}

	key := cycleOrderKey(sub.ID, d.ID, d.Attempts)
	fp, err := requestFingerprint(subscriptionFingerprint{
		SubscriptionID: sub.ID,
		DeliveryID:     d.ID,
		Attempt:        d.Attempts,
	})
	if err != nil {
		return OrderOutput{}, NewHTTPError(http.StatusInternalServerError, "fingerprint error")
	}
	if out, found, err := u.replay(ctx, key, fp); found || err != nil {
		return out, err
	}
	//前の試行の課金結果が不明なら、新しい注文は作らずその注文で課金し直す
	if out, found, err := u.resumeUnknownCharge(ctx, sub, d); found || err != nil {
		return out, err
	}

	name := sub.ProductSKU
	if p, err := u.products.FindBySKU(ctx, sub.ProductSKU); err == nil {
		name = p.Name
	}
	line := model.OrderItem{
		ProductCode:         sub.ProductSKU,
		ProductNameSnapshot: name,
		UnitPriceCents:      sub.PriceCents,
		Quantity:            1,
		PriceCents:          sub.PriceCents,
		Recipient:           recipient,
		DeliveryDate:        model.DateOnly(quote.Date),
		CardMessage:         sub.CardMessage,
	}
	userID := sub.UserID
	deliveryID := d.ID
	return u.execute(ctx, orderDraft{
		userID:      &userID,
		deliveryID:  &deliveryID,
		lines:       []model.OrderItem{line},
		subtotal:    sub.PriceCents,
		quote:       quote,
		source:      model.PaymentSource{CustomerRef: sub.CustomerRef},
		sender:      sub.Sender,
		key:         key,
		fingerprint: fp,
	})
}

func cycleOrderKey(subscriptionID, deliveryID int64, attempt int) string {
	return fmt.Sprintf("subscription-%d-delivery-%d-attempt-%d", subscriptionID, deliveryID, attempt)
}

// 決済代行の冪等キーは注文単位なので、同じ注文で投げ直せば二重課金にならない
func (u *OrderUsecase) resumeUnknownCharge(ctx context.Context, sub model.Subscription, d model.SubscriptionDelivery) (OrderOutput, bool, error) {
	var (
		o     model.Order
		items []model.OrderItem
		found bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		for attempt := d.Attempts - 1; attempt >= 1; attempt-- {
			existing, ok, err := r.Orders().FindByIdempotencyKey(ctx, cycleOrderKey(sub.ID, d.ID, attempt))
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			if !ok || !existing.ChargeOutcomeUnknown() {
				continue
			}
			list, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			o, items, found = existing, list, true
			return nil
		}
		return nil
	})
	if err != nil {
		return OrderOutput{}, true, err
	}
	if !found {
		return OrderOutput{}, false, nil
	}

	u.log.InfoContext(ctx, "retrying charge with unknown outcome",
		slog.Int64("order_id", o.ID), slog.Int64("delivery_id", d.ID), slog.Int("attempt", d.Attempts))
	charged, err := u.chargeOrder(ctx, o, model.PaymentSource{CustomerRef: sub.CustomerRef})
	if err != nil {
		return OrderOutput{}, true, err
	}
	final := u.submitFulfillment(ctx, charged, items)
	return toOrderOutput(final, items), true, nil
}
