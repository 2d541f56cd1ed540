package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"florist/internal/domain/model"
	repo "florist/internal/repository"
)

// 手動対応キュー（管理者のみ）
type AdminOrderUsecase struct {
	tx        repo.TransactionManager
	auditRepo repo.AuditLogRepository
	orders    *OrderUsecase
	clock     Clock
}

func NewAdminOrderUsecase(tx repo.TransactionManager, auditRepo repo.AuditLogRepository, orders *OrderUsecase, clock Clock) *AdminOrderUsecase {
	return &AdminOrderUsecase{tx: tx, auditRepo: auditRepo, orders: orders, clock: clock}
}

type ReconciliationOutput struct {
	OrderOutput
	Reason              string `json:"reason"`
	FulfillmentAttempts int    `json:"fulfillment_attempts"`
	ChargeID            string `json:"charge_id,omitempty"`
}

type ResolveInput struct {
	Note string
	//pending（課金結果不明）の注文を取り消すか
	Cancel bool
}

type auditSnapshot struct {
	Status              model.OrderStatus          `json:"status"`
	NeedsReconciliation bool                       `json:"needs_reconciliation"`
	Reason              model.ReconciliationReason `json:"reason,omitempty"`
	FulfillmentAttempts int                        `json:"fulfillment_attempts"`
}

// 一覧
func (u *AdminOrderUsecase) ListReconciliation(ctx context.Context, page, limit int) ([]ReconciliationOutput, int64, error) {
	// page/limitの最低限チェック
	if page < 1 {
		return []ReconciliationOutput{}, 0, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if limit < 1 || limit > 100 {
		return []ReconciliationOutput{}, 0, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}

	var (
		outs  []ReconciliationOutput
		total int64
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, n, err := r.Orders().ListNeedsReconciliation(ctx, page, limit)
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		total = n
		outs = make([]ReconciliationOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return NewHTTPError(http.StatusInternalServerError, "db error")
			}
			out := ReconciliationOutput{
				OrderOutput:         toOrderOutput(o, items),
				Reason:              string(o.ReconciliationReason),
				FulfillmentAttempts: o.FulfillmentAttempts,
			}
			if o.ChargeID != nil {
				out.ChargeID = *o.ChargeID
			}
			outs = append(outs, out)
		}
		return nil
	})
	if err != nil {
		return []ReconciliationOutput{}, 0, err
	}
	return outs, total, nil
}

// 送信回数を0に戻して、すぐに1回送る
func (u *AdminOrderUsecase) RetryFulfillment(ctx context.Context, actorAdminUserID int64, orderID int64) (OrderOutput, error) {
	if actorAdminUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		//課金済みで未受付の注文だけ
		if o.Status != model.OrderStatusProcessing || o.IsConfirmed() {
			return NewHTTPError(http.StatusConflict, "order is not awaiting fulfillment")
		}

		before := snapshotOf(o)
		zero := 0
		cleared := false
		reason := model.ReconcileNone
		now := u.clock.Now()
		changes := repo.OrderChanges{
			FulfillmentAttempts:  &zero,
			NextFulfillmentAt:    &now,
			NeedsReconciliation:  &cleared,
			ReconciliationReason: &reason,
		}
		if err := r.Orders().Transition(ctx, o.ID, o.Status, o.Status, changes); err != nil {
			if errors.Is(err, repo.ErrStatusConflict) {
				return NewHTTPError(http.StatusConflict, "order changed, please reload")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		changes.Apply(&o)

		// ★監査ログ（RETRY_FULFILLMENT）
		return u.audit(ctx, actorAdminUserID, model.AuditActionRetryFulfillment, o.ID, before, snapshotOf(o), "")
	})
	if err != nil {
		return OrderOutput{}, err
	}

	return u.orders.RetryFulfillment(ctx, orderID)
}

// 手動で片付けた。pending は取り消しもできる（返金などは決済代行の画面で行う）
func (u *AdminOrderUsecase) Resolve(ctx context.Context, actorAdminUserID int64, orderID int64, in ResolveInput) error {
	if actorAdminUserID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	note := strings.TrimSpace(in.Note)
	if note == "" {
		return NewHTTPError(http.StatusBadRequest, "note required")
	}

	return u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return NewHTTPError(http.StatusNotFound, "not found")
		}
		if err != nil {
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		if !o.NeedsReconciliation {
			return NewHTTPError(http.StatusConflict, "order is not flagged")
		}

		before := snapshotOf(o)
		to := o.Status
		cleared := false
		changes := repo.OrderChanges{NeedsReconciliation: &cleared, ClearNextFulfillment: true}
		if in.Cancel {
			if o.Status != model.OrderStatusPending {
				return NewHTTPError(http.StatusConflict, "only pending orders can be cancelled")
			}
			to = model.OrderStatusCancelled
		}
		if err := r.Orders().Transition(ctx, o.ID, o.Status, to, changes); err != nil {
			if errors.Is(err, repo.ErrStatusConflict) {
				return NewHTTPError(http.StatusConflict, "order changed, please reload")
			}
			return NewHTTPError(http.StatusInternalServerError, "db error")
		}
		o.Status = to
		changes.Apply(&o)

		// ★監査ログ（RESOLVE_RECONCILIATION）
		return u.audit(ctx, actorAdminUserID, model.AuditActionResolveReconciliation, o.ID, before, snapshotOf(o), note)
	})
}

func (u *AdminOrderUsecase) audit(ctx context.Context, actor int64, action model.AuditAction, orderID int64, before, after auditSnapshot, note string) error {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "audit error")
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return NewHTTPError(http.StatusInternalServerError, "audit error")
	}
	if err := u.auditRepo.Create(ctx, model.AuditLog{
		ActorUserID:  actor,
		Action:       action,
		ResourceType: model.AuditResourceOrder,
		ResourceID:   orderID,
		BeforeJSON:   string(beforeJSON),
		AfterJSON:    string(afterJSON),
		Note:         note,
		CreatedAt:    u.clock.Now(),
	}); err != nil {
		return NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return nil
}

func snapshotOf(o model.Order) auditSnapshot {
	return auditSnapshot{
		Status:              o.Status,
		NeedsReconciliation: o.NeedsReconciliation,
		Reason:              o.ReconciliationReason,
		FulfillmentAttempts: o.FulfillmentAttempts,
	}
}

// 注文に対する管理者操作の履歴
func (u *AdminOrderUsecase) ListAuditLogs(ctx context.Context, orderID int64) ([]model.AuditLog, error) {
	if orderID <= 0 {
		return []model.AuditLog{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	resourceType := model.AuditResourceOrder
	logs, err := u.auditRepo.List(ctx, repo.AuditLogFilter{
		ResourceType: &resourceType,
		ResourceID:   &orderID,
		Limit:        100,
	})
	if err != nil {
		return []model.AuditLog{}, NewHTTPError(http.StatusInternalServerError, "db error")
	}
	return logs, nil
}
