package model

import "time"

// 管理者が手で行った操作
type AuditAction string

const (
	//フルフィルメント送信のやり直し
	AuditActionRetryFulfillment AuditAction = "RETRY_FULFILLMENT"
	//手動対応済みにした
	AuditActionResolveReconciliation AuditAction = "RESOLVE_RECONCILIATION"
)

// 何に対する操作か
type AuditResourceType string

const (
	AuditResourceOrder        AuditResourceType = "order"
	AuditResourceSubscription AuditResourceType = "subscription"
)

// 監査ログ（管理者操作ログ）。
// 「誰が」「何を」「どの対象に」「どう変えたか」を残す。
type AuditLog struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	//操作した管理者のID。
	ActorUserID int64 `gorm:"not null;index" json:"actor_user_id"`

	Action AuditAction `gorm:"type:varchar(50);not null;index" json:"action"`

	ResourceType AuditResourceType `gorm:"type:varchar(50);not null;index" json:"resource_type"`

	ResourceID int64 `gorm:"not null;index" json:"resource_id"`

	//JSON文字列で保存する。
	BeforeJSON string `gorm:"type:text" json:"before_json"`

	//JSON文字列で保存する。
	AfterJSON string `gorm:"type:text" json:"after_json"`

	Note string `gorm:"type:text" json:"note"`

	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
}
