package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/qs3c/ledger_go_server/internal/model"
)

type UsageRepository struct {
	db *gorm.DB
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Add 记录一次计费调用
func (r *UsageRepository) Add(userID string, capability model.Capability) error {
	return r.db.Create(&model.APIUsage{
		ID:      uuid.NewString(),
		UserID:  userID,
		APIType: string(capability),
	}).Error
}

// CountSince 统计某时间之后的调用次数
func (r *UsageRepository) CountSince(userID string, capability model.Capability, since time.Time) (int64, error) {
	var count int64
	err := r.db.Model(&model.APIUsage{}).
		Where("user_id = ? AND api_type = ? AND created_at >= ?", userID, string(capability), since.UTC()).
		Count(&count).Error
	return count, err
}
