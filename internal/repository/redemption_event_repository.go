package repository

import (
	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
)

// RedemptionEventRepository 核销事件仓储，只追加
type RedemptionEventRepository interface {
	Create(event *models.RedemptionEvent) error
	List(filter RedemptionEventListFilter) ([]models.RedemptionEvent, int64, error)
	CountByType(codeHash string) (map[string]int64, error)
	WithTx(tx *gorm.DB) *GormRedemptionEventRepository
}

// GormRedemptionEventRepository GORM 实现
type GormRedemptionEventRepository struct {
	db *gorm.DB
}

// NewRedemptionEventRepository 创建核销事件仓储
func NewRedemptionEventRepository(db *gorm.DB) *GormRedemptionEventRepository {
	return &GormRedemptionEventRepository{db: db}
}

// WithTx 绑定事务
func (r *GormRedemptionEventRepository) WithTx(tx *gorm.DB) *GormRedemptionEventRepository {
	if tx == nil {
		return r
	}
	return &GormRedemptionEventRepository{db: tx}
}

// Create 写入事件
func (r *GormRedemptionEventRepository) Create(event *models.RedemptionEvent) error {
	return r.db.Create(event).Error
}

// List 分页查询事件
func (r *GormRedemptionEventRepository) List(filter RedemptionEventListFilter) ([]models.RedemptionEvent, int64, error) {
	query := r.db.Model(&models.RedemptionEvent{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.CodeHash != "" {
		query = query.Where("code_hash = ?", filter.CodeHash)
	}
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.CampaignID != 0 {
		query = query.Where("campaign_id = ?", filter.CampaignID)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var events []models.RedemptionEvent
	if err := query.Order("id asc").Find(&events).Error; err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

// CountByType 按事件类型统计某个二维码的扫码次数
func (r *GormRedemptionEventRepository) CountByType(codeHash string) (map[string]int64, error) {
	type countRow struct {
		Type  string
		Total int64
	}
	query := r.db.Model(&models.RedemptionEvent{}).Select("type, COUNT(*) as total")
	if codeHash != "" {
		query = query.Where("code_hash = ?", codeHash)
	}
	var rows []countRow
	if err := query.Group("type").Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Type] = row.Total
	}
	return result, nil
}
