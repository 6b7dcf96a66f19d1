package model

import (
	"time"
)

// Capability 计费能力
type Capability string

const (
	CapabilityGPT4     Capability = "gpt-4"
	CapabilityImageGen Capability = "image-gen"
)

// Capabilities 所有计费能力，顺序固定
var Capabilities = []Capability{
	CapabilityGPT4,
	CapabilityImageGen,
}

func ParseCapability(s string) (Capability, bool) {
	for _, c := range Capabilities {
		if string(c) == s {
			return c, true
		}
	}
	return "", false
}

// CreditBalance 每个 (用户, 能力) 一行
type CreditBalance struct {
	ID          int64      `gorm:"primaryKey" json:"-"`
	UserID      string     `gorm:"size:36;not null;uniqueIndex:uk_user_capability,priority:1" json:"user_id"`
	Capability  Capability `gorm:"column:api_type;size:32;not null;uniqueIndex:uk_user_capability,priority:2" json:"capability"`
	Balance     int        `gorm:"not null;default:0" json:"balance"`
	LastUpdated time.Time  `json:"last_updated"`
}

func (CreditBalance) TableName() string {
	return "user_credits"
}

// APIUsage 每次消费一条记录
type APIUsage struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:36;not null;index" json:"user_id"`
	APIType   string    `gorm:"size:32;not null;index" json:"api_type"`
	CreatedAt time.Time `json:"created_at"`
}

func (APIUsage) TableName() string {
	return "api_usages"
}
