package repository

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/internal/model"
)

var (
	ErrReferralExists         = errors.New("referral already exists")
	ErrRefereeHasSubscription = errors.New("referee is on a non-expiring paid plan")
)

type ReferralRepository struct {
	db *gorm.DB
}

func NewReferralRepository(db *gorm.DB) *ReferralRepository {
	return &ReferralRepository{db: db}
}

// RefereeRow 推荐人名下的被推荐人
type RefereeRow struct {
	UserID       string
	Email        string
	Plan         string
	ReferralDate time.Time
}

// Redeem 在一个事务内写入推荐记录并给被推荐人开通试用 pro，
// 任一步失败都不会留下半成品
func (r *ReferralRepository) Redeem(referrerID, refereeID string, redeemedAt, trialEnds time.Time) (*model.User, error) {
	var referee model.User
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", refereeID).First(&referee).Error; err != nil {
			return err
		}

		var count int64
		if err := tx.Model(&model.Referral{}).
			Where("referrer_id = ? AND referee_id = ?", referrerID, refereeID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrReferralExists
		}

		referral := &model.Referral{
			ReferrerID:   referrerID,
			RefereeID:    refereeID,
			ReferralDate: redeemedAt.UTC(),
		}
		if err := tx.Create(referral).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrReferralExists
			}
			return err
		}

		// 长期付费用户（pro 订阅、edu）不能被改成有到期时间的试用，
		// 只有 free 和试用中的 pro 可以兑换
		if referee.Plan != model.PlanFree && referee.ProPlanExpirationDate == nil {
			return ErrRefereeHasSubscription
		}

		ends := trialEnds.UTC()
		referee.ApplyPlan(model.PlanPro, &ends)
		return tx.Model(&model.User{}).Where("id = ?", referee.ID).Updates(referee.PlanFields()).Error
	})
	if err != nil {
		return nil, err
	}
	return &referee, nil
}

// HasReferrer 用户是否曾被别人推荐
func (r *ReferralRepository) HasReferrer(userID string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Referral{}).Where("referee_id = ?", userID).Count(&count).Error
	return count > 0, err
}

// HasReferee 用户是否推荐过别人
func (r *ReferralRepository) HasReferee(userID string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Referral{}).Where("referrer_id = ?", userID).Count(&count).Error
	return count > 0, err
}

// GetLatestByReferee 最近一次被推荐的记录
func (r *ReferralRepository) GetLatestByReferee(refereeID string) (*model.Referral, error) {
	var referral model.Referral
	err := r.db.Where("referee_id = ?", refereeID).Order("referral_date DESC").First(&referral).Error
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

// ListReferees 推荐人名下所有被推荐人，按推荐时间倒序
func (r *ReferralRepository) ListReferees(referrerID string) ([]*RefereeRow, error) {
	var rows []*RefereeRow
	err := r.db.Table("referrals").
		Select("users.id AS user_id, users.email AS email, users.plan AS plan, referrals.referral_date AS referral_date").
		Joins("JOIN users ON users.id = referrals.referee_id").
		Where("referrals.referrer_id = ?", referrerID).
		Order("referrals.referral_date DESC").
		Scan(&rows).Error
	return rows, err
}
