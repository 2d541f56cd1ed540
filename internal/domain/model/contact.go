package model

import (
	"regexp"
	"strings"
)

var zipPattern = regexp.MustCompile(`^\d{5}$`)

// 5桁ZIPか（ネットワークに出る前のチェック）
func ValidZip(zip string) bool {
	return zipPattern.MatchString(zip)
}

// 米国の住所
type PostalAddress struct {
	Line1 string `gorm:"type:varchar(255)" json:"line1"`
	Line2 string `gorm:"type:varchar(255)" json:"line2,omitempty"`
	City  string `gorm:"type:varchar(120)" json:"city"`
	State string `gorm:"type:varchar(2)" json:"state"`
	Zip   string `gorm:"type:varchar(10)" json:"zip"`
}

// 未入力の必須項目名を返す
func (a PostalAddress) MissingFields(prefix string) []string {
	var missing []string
	if strings.TrimSpace(a.Line1) == "" {
		missing = append(missing, prefix+"line1")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, prefix+"city")
	}
	if len(strings.TrimSpace(a.State)) != 2 {
		missing = append(missing, prefix+"state")
	}
	if !ValidZip(a.Zip) {
		missing = append(missing, prefix+"zip")
	}
	return missing
}

// 注文者
type Contact struct {
	Name  string `gorm:"type:varchar(255)" json:"name"`
	Email string `gorm:"type:varchar(255)" json:"email"`
	Phone string `gorm:"type:varchar(30)" json:"phone"`
}

func (c Contact) MissingFields(prefix string) []string {
	var missing []string
	if strings.TrimSpace(c.Name) == "" {
		missing = append(missing, prefix+"name")
	}
	if !strings.Contains(c.Email, "@") {
		missing = append(missing, prefix+"email")
	}
	return missing
}

// 受取人
type Recipient struct {
	Name    string        `gorm:"type:varchar(255)" json:"name"`
	Phone   string        `gorm:"type:varchar(30)" json:"phone"`
	Address PostalAddress `gorm:"embedded" json:"address"`
}

func (r Recipient) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(r.Name) == "" {
		missing = append(missing, "recipient.name")
	}
	if strings.TrimSpace(r.Phone) == "" {
		missing = append(missing, "recipient.phone")
	}
	return append(missing, r.Address.MissingFields("recipient.address.")...)
}
