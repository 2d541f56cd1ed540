package model

import "time"

// 配送先住所（CRUD画面は別サービス。ここでは読むだけ）
type Address struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	//宛名
	Name string `gorm:"type:varchar(255);not null" json:"name"`

	//電話番号
	Phone string `gorm:"type:varchar(30)" json:"phone"`

	PostalAddress `gorm:"embedded"`

	//このユーザーのデフォルト住所か
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

// 定期便の届け先として使う
func (a Address) ToRecipient() Recipient {
	return Recipient{
		Name:    a.Name,
		Phone:   a.Phone,
		Address: a.PostalAddress,
	}
}
