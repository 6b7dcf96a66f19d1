package model

import (
	"time"
)

// Referral 一次成功的推荐兑换，创建后不再修改
type Referral struct {
	ID           int64     `gorm:"primaryKey" json:"-"`
	ReferrerID   string    `gorm:"size:36;not null;uniqueIndex:uk_referrer_referee,priority:1" json:"referrer_id"`
	RefereeID    string    `gorm:"size:36;not null;uniqueIndex:uk_referrer_referee,priority:2;index" json:"referee_id"`
	ReferralDate time.Time `gorm:"not null" json:"referral_date"`
}

func (Referral) TableName() string {
	return "referrals"
}
