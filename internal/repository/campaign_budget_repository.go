package repository

import (
	"errors"
	"strings"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CampaignBudgetRepository 活动预算数据访问接口
type CampaignBudgetRepository interface {
	Create(budget *models.CampaignBudget) error
	GetByID(id uint) (*models.CampaignBudget, error)
	GetByIDForUpdate(id uint) (*models.CampaignBudget, error)
	GetByBudgetNo(budgetNo string) (*models.CampaignBudget, error)
	GetActiveByCampaign(campaignID uint) (*models.CampaignBudget, error)
	UpdateWithVersion(budget *models.CampaignBudget, fields map[string]interface{}) error
	List(filter CampaignBudgetListFilter) ([]models.CampaignBudget, int64, error)
	WithTx(tx *gorm.DB) *GormCampaignBudgetRepository
}

// GormCampaignBudgetRepository GORM 实现
type GormCampaignBudgetRepository struct {
	db *gorm.DB
}

// NewCampaignBudgetRepository 创建活动预算仓库
func NewCampaignBudgetRepository(db *gorm.DB) *GormCampaignBudgetRepository {
	return &GormCampaignBudgetRepository{db: db}
}

// WithTx 绑定事务
func (r *GormCampaignBudgetRepository) WithTx(tx *gorm.DB) *GormCampaignBudgetRepository {
	if tx == nil {
		return r
	}
	return &GormCampaignBudgetRepository{db: tx}
}

// Create 创建预算
func (r *GormCampaignBudgetRepository) Create(budget *models.CampaignBudget) error {
	return r.db.Create(budget).Error
}

// GetByID 根据 ID 获取预算
func (r *GormCampaignBudgetRepository) GetByID(id uint) (*models.CampaignBudget, error) {
	if id == 0 {
		return nil, nil
	}
	return r.first(r.db, "id = ?", id)
}

// GetByIDForUpdate 根据 ID 加锁获取预算
func (r *GormCampaignBudgetRepository) GetByIDForUpdate(id uint) (*models.CampaignBudget, error) {
	if id == 0 {
		return nil, nil
	}
	return r.first(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), "id = ?", id)
}

// GetByBudgetNo 根据预算编号获取预算
func (r *GormCampaignBudgetRepository) GetByBudgetNo(budgetNo string) (*models.CampaignBudget, error) {
	budgetNo = strings.TrimSpace(budgetNo)
	if budgetNo == "" {
		return nil, nil
	}
	return r.first(r.db, "budget_no = ?", budgetNo)
}

// GetActiveByCampaign 获取活动当前生效的预算
func (r *GormCampaignBudgetRepository) GetActiveByCampaign(campaignID uint) (*models.CampaignBudget, error) {
	if campaignID == 0 {
		return nil, nil
	}
	return r.first(r.db.Order("id desc"), "campaign_id = ? AND status = ?", campaignID, constants.CampaignBudgetStatusActive)
}

func (r *GormCampaignBudgetRepository) first(query *gorm.DB, where string, args ...interface{}) (*models.CampaignBudget, error) {
	var budget models.CampaignBudget
	if err := query.Where(where, args...).First(&budget).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &budget, nil
}

// UpdateWithVersion 以版本号为条件更新预算，未命中返回 ErrConcurrentUpdate
func (r *GormCampaignBudgetRepository) UpdateWithVersion(budget *models.CampaignBudget, fields map[string]interface{}) error {
	if budget == nil || budget.ID == 0 {
		return errors.New("invalid campaign budget")
	}
	updates := make(map[string]interface{}, len(fields)+1)
	for key, value := range fields {
		updates[key] = value
	}
	updates["version"] = gorm.Expr("version + 1")
	result := r.db.Model(&models.CampaignBudget{}).
		Where("id = ? AND version = ?", budget.ID, budget.Version).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	budget.Version++
	return nil
}

// List 分页查询预算
func (r *GormCampaignBudgetRepository) List(filter CampaignBudgetListFilter) ([]models.CampaignBudget, int64, error) {
	query := r.db.Model(&models.CampaignBudget{})
	if filter.VendorID != 0 {
		query = query.Where("vendor_id = ?", filter.VendorID)
	}
	if filter.CampaignID != 0 {
		query = query.Where("campaign_id = ?", filter.CampaignID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var budgets []models.CampaignBudget
	if err := query.Order("id desc").Find(&budgets).Error; err != nil {
		return nil, 0, err
	}
	return budgets, total, nil
}
