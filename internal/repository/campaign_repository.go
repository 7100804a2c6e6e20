package repository

import (
	"errors"

	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
)

// CampaignRepository 活动目录只读仓储
type CampaignRepository interface {
	GetByID(id uint) (*models.Campaign, error)
	ListByIDs(ids []uint) ([]models.Campaign, error)
	WithTx(tx *gorm.DB) *GormCampaignRepository
}

// GormCampaignRepository GORM 实现
type GormCampaignRepository struct {
	db *gorm.DB
}

// NewCampaignRepository 创建活动仓储
func NewCampaignRepository(db *gorm.DB) *GormCampaignRepository {
	return &GormCampaignRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCampaignRepository) WithTx(tx *gorm.DB) *GormCampaignRepository {
	if tx == nil {
		return r
	}
	return &GormCampaignRepository{db: tx}
}

// GetByID 根据 ID 获取活动，已软删除的活动视为不存在
func (r *GormCampaignRepository) GetByID(id uint) (*models.Campaign, error) {
	if id == 0 {
		return nil, nil
	}
	var campaign models.Campaign
	if err := r.db.First(&campaign, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &campaign, nil
}

// ListByIDs 批量获取活动
func (r *GormCampaignRepository) ListByIDs(ids []uint) ([]models.Campaign, error) {
	if len(ids) == 0 {
		return []models.Campaign{}, nil
	}
	var campaigns []models.Campaign
	if err := r.db.Where("id IN ?", ids).Order("id asc").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}
