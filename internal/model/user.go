package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 套餐
const (
	PlanFree = "free"
	PlanPro  = "pro"
	PlanEdu  = "edu"
)

type User struct {
	ID                         string     `gorm:"primaryKey;size:36" json:"id"`
	Email                      string     `gorm:"size:100;uniqueIndex;not null" json:"email"`
	Plan                       string     `gorm:"size:20;default:free;index" json:"plan"`
	ProPlanExpirationDate      *time.Time `gorm:"index" json:"pro_plan_expiration_date,omitempty"`
	ReferralCode               *string    `gorm:"size:32;uniqueIndex" json:"referral_code,omitempty"`
	ReferralCodeExpirationDate *time.Time `json:"referral_code_expiration_date,omitempty"`
	StripeCustomerID           *string    `gorm:"size:100;index" json:"-"`
	StripeSubscriptionID       *string    `gorm:"size:100;index" json:"-"`
	CreatedAt                  time.Time  `json:"created_at"`
	UpdatedAt                  time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// BeforeCreate 未指定 ID 时生成 UUID
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	return nil
}

// IsPaid free 以外的套餐都视为付费用户
func (u *User) IsPaid() bool {
	return u.Plan != PlanFree
}

// ApplyPlan 切换套餐，同时维护不变量：
// 非 pro 不保留到期时间，非 edu 不保留推荐码
func (u *User) ApplyPlan(plan string, proExpiration *time.Time) {
	u.Plan = plan
	if plan == PlanPro {
		u.ProPlanExpirationDate = proExpiration
	} else {
		u.ProPlanExpirationDate = nil
	}
	if plan != PlanEdu {
		u.ReferralCode = nil
		u.ReferralCodeExpirationDate = nil
	}
}

// PlanFields ApplyPlan 之后需要落库的列
func (u *User) PlanFields() map[string]interface{} {
	return map[string]interface{}{
		"plan":                          u.Plan,
		"pro_plan_expiration_date":      u.ProPlanExpirationDate,
		"referral_code":                 u.ReferralCode,
		"referral_code_expiration_date": u.ReferralCodeExpirationDate,
	}
}

func IsValidPlan(plan string) bool {
	switch plan {
	case PlanFree, PlanPro, PlanEdu:
		return true
	}
	return false
}
