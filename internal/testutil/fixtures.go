package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	user := &model.User{
		ID:    uuid.NewString(),
		Email: fmt.Sprintf("test_%s@example.com", uuid.NewString()[:8]),
		Plan:  model.PlanFree,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = email
	}
}

// WithPlan 设置套餐
func WithPlan(plan string) func(*model.User) {
	return func(u *model.User) {
		u.Plan = plan
	}
}

// WithProExpiration 设置 pro 套餐及到期时间
func WithProExpiration(expiresAt time.Time) func(*model.User) {
	return func(u *model.User) {
		expiresAt = expiresAt.UTC()
		u.Plan = model.PlanPro
		u.ProPlanExpirationDate = &expiresAt
	}
}

// WithReferralCode 设置 edu 套餐及推荐码
func WithReferralCode(code string, expiresAt time.Time) func(*model.User) {
	return func(u *model.User) {
		expiresAt = expiresAt.UTC()
		u.Plan = model.PlanEdu
		u.ReferralCode = &code
		u.ReferralCodeExpirationDate = &expiresAt
	}
}

// WithStripeSubscription 设置 Stripe 订阅 ID
func WithStripeSubscription(subscriptionID string) func(*model.User) {
	return func(u *model.User) {
		u.StripeSubscriptionID = &subscriptionID
	}
}

// WithStripeCustomer 设置 Stripe 客户 ID
func WithStripeCustomer(customerID string) func(*model.User) {
	return func(u *model.User) {
		u.StripeCustomerID = &customerID
	}
}

// TestCredit 创建额度记录
func TestCredit(t *testing.T, db *gorm.DB, userID string, capability model.Capability, balance int) *model.CreditBalance {
	t.Helper()

	credit := &model.CreditBalance{
		UserID:      userID,
		Capability:  capability,
		Balance:     balance,
		LastUpdated: time.Now().UTC(),
	}

	if err := db.Create(credit).Error; err != nil {
		t.Fatalf("Failed to create test credit: %v", err)
	}

	return credit
}

// TestReferral 创建推荐记录
func TestReferral(t *testing.T, db *gorm.DB, referrerID, refereeID string, referralDate time.Time) *model.Referral {
	t.Helper()

	referral := &model.Referral{
		ReferrerID:   referrerID,
		RefereeID:    refereeID,
		ReferralDate: referralDate.UTC(),
	}

	if err := db.Create(referral).Error; err != nil {
		t.Fatalf("Failed to create test referral: %v", err)
	}

	return referral
}
