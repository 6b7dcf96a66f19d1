package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/qs3c/ledger_go_server/internal/model"
)

type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Get 不存在时返回 gorm.ErrRecordNotFound
func (r *CreditRepository) Get(userID string, capability model.Capability) (*model.CreditBalance, error) {
	var credit model.CreditBalance
	err := r.db.Where("user_id = ? AND api_type = ?", userID, capability).First(&credit).Error
	if err != nil {
		return nil, err
	}
	return &credit, nil
}

// CreateIfAbsent 插入默认行，已存在则不做任何事
func (r *CreditRepository) CreateIfAbsent(userID string, capability model.Capability, balance int) error {
	return r.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.CreditBalance{
		UserID:      userID,
		Capability:  capability,
		Balance:     balance,
		LastUpdated: time.Now().UTC(),
	}).Error
}

// SetBalance 覆盖余额
func (r *CreditRepository) SetBalance(userID string, capability model.Capability, balance int) error {
	result := r.db.Model(&model.CreditBalance{}).
		Where("user_id = ? AND api_type = ?", userID, capability).
		Updates(map[string]interface{}{
			"balance":      balance,
			"last_updated": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// Increment 单条 UPDATE 原子地加减余额，返回更新后的值
// 行不存在时返回 gorm.ErrRecordNotFound
func (r *CreditRepository) Increment(userID string, capability model.Capability, delta int) (int, error) {
	var balance int
	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.CreditBalance{}).
			Where("user_id = ? AND api_type = ?", userID, capability).
			Updates(map[string]interface{}{
				"balance":      gorm.Expr("balance + ?", delta),
				"last_updated": time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		var credit model.CreditBalance
		if err := tx.Where("user_id = ? AND api_type = ?", userID, capability).First(&credit).Error; err != nil {
			return err
		}
		balance = credit.Balance
		return nil
	})
	return balance, err
}

// ResetAll 把某能力所有用户的余额重置为默认值
func (r *CreditRepository) ResetAll(capability model.Capability, balance int) (int64, error) {
	result := r.db.Model(&model.CreditBalance{}).
		Where("api_type = ?", capability).
		Updates(map[string]interface{}{
			"balance":      balance,
			"last_updated": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}
