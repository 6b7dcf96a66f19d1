package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// ReferralCodeUpdate 批量刷新推荐码时的一条更新
type ReferralCodeUpdate struct {
	UserID    string
	Code      string
	ExpiresAt time.Time
}

func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id string) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByStripeSubscriptionID(subscriptionID string) (*model.User, error) {
	var user model.User
	err := r.db.Where("stripe_subscription_id = ?", subscriptionID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByStripeCustomerID(customerID string) (*model.User, error) {
	var user model.User
	err := r.db.Where("stripe_customer_id = ?", customerID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByReferralCode(code string) (*model.User, error) {
	var user model.User
	err := r.db.Where("referral_code = ?", code).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateFields(id string, fields map[string]interface{}) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

// UpdatePlan 写入 ApplyPlan 之后的套餐相关列
func (r *UserRepository) UpdatePlan(user *model.User) error {
	result := r.db.Model(&model.User{}).Where("id = ?", user.ID).Updates(user.PlanFields())
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetReferralCode 仅对 edu 用户生效
func (r *UserRepository) SetReferralCode(id, code string, expiresAt time.Time) error {
	result := r.db.Model(&model.User{}).
		Where("id = ? AND plan = ?", id, model.PlanEdu).
		Updates(map[string]interface{}{
			"referral_code":                 code,
			"referral_code_expiration_date": expiresAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListEduUsers 列出所有 edu 用户
func (r *UserRepository) ListEduUsers() ([]*model.User, error) {
	var users []*model.User
	err := r.db.Where("plan = ?", model.PlanEdu).Order("id ASC").Find(&users).Error
	return users, err
}

// RefreshReferralCodes 在一个事务中写入所有新推荐码，任一失败整体回滚
func (r *UserRepository) RefreshReferralCodes(updates []ReferralCodeUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			err := tx.Model(&model.User{}).
				Where("id = ? AND plan = ?", u.UserID, model.PlanEdu).
				Updates(map[string]interface{}{
					"referral_code":                 u.Code,
					"referral_code_expiration_date": u.ExpiresAt.UTC(),
				}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// ListExpiredPro 到期时间早于 cutoff 的 pro 用户
func (r *UserRepository) ListExpiredPro(cutoff time.Time) ([]*model.User, error) {
	var users []*model.User
	err := r.db.Where("plan = ? AND pro_plan_expiration_date IS NOT NULL AND pro_plan_expiration_date <= ?",
		model.PlanPro, cutoff.UTC()).
		Order("pro_plan_expiration_date ASC").
		Find(&users).Error
	return users, err
}

// DowngradeExpiredPro 批量降级，返回受影响行数
func (r *UserRepository) DowngradeExpiredPro(cutoff time.Time) (int64, error) {
	result := r.db.Model(&model.User{}).
		Where("plan = ? AND pro_plan_expiration_date IS NOT NULL AND pro_plan_expiration_date <= ?",
			model.PlanPro, cutoff.UTC()).
		Updates(map[string]interface{}{
			"plan":                     model.PlanFree,
			"pro_plan_expiration_date": nil,
		})
	return result.RowsAffected, result.Error
}
