package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	qrCodeInsertBatchSize = 500
	qrCodeLookupChunkSize = 500
)

// QRCodeRepository 二维码数据访问接口
type QRCodeRepository interface {
	CreateBatch(codes []models.QRCode) error
	ExistingHashes(hashes []string) ([]string, error)
	GetByID(id uint) (*models.QRCode, error)
	GetByHash(hash string) (*models.QRCode, error)
	GetByHashForUpdate(hash string) (*models.QRCode, error)
	MaxSeriesOrder(seriesCode string) (int, error)
	ListForAllocation(vendorID uint, seriesCode string, limit int) ([]models.QRCode, error)
	CountInventory(vendorID uint, seriesCode string) (int64, error)
	Allocate(ids []uint, input QRCodeAllocation) (int64, error)
	MarkRedeemed(id, userID uint, redeemedAt time.Time) (int64, error)
	VoidByBudget(budgetID uint, campaignID *uint, voidedAt time.Time) (int64, error)
	ListUnbudgetedCommitments() ([]models.QRCode, error)
	AttachBudget(ids []uint, budgetID uint, updatedAt time.Time) (int64, error)
	CountByStatus(vendorID uint, seriesCode string) (map[string]int64, error)
	List(filter QRCodeListFilter) ([]models.QRCode, int64, error)
	WithTx(tx *gorm.DB) *GormQRCodeRepository
}

// QRCodeAllocation 分配时写入的活动信息
type QRCodeAllocation struct {
	CampaignID       uint
	CampaignBudgetID uint
	CashbackAmount   models.Money
	FundedAt         time.Time
}

// GormQRCodeRepository GORM 实现
type GormQRCodeRepository struct {
	db *gorm.DB
}

// NewQRCodeRepository 创建二维码仓库
func NewQRCodeRepository(db *gorm.DB) *GormQRCodeRepository {
	return &GormQRCodeRepository{db: db}
}

// WithTx 绑定事务
func (r *GormQRCodeRepository) WithTx(tx *gorm.DB) *GormQRCodeRepository {
	if tx == nil {
		return r
	}
	return &GormQRCodeRepository{db: tx}
}

// CreateBatch 批量创建二维码
func (r *GormQRCodeRepository) CreateBatch(codes []models.QRCode) error {
	if len(codes) == 0 {
		return nil
	}
	return r.db.CreateInBatches(&codes, qrCodeInsertBatchSize).Error
}

// ExistingHashes 返回已存在的哈希
func (r *GormQRCodeRepository) ExistingHashes(hashes []string) ([]string, error) {
	existing := make([]string, 0)
	for start := 0; start < len(hashes); start += qrCodeLookupChunkSize {
		end := start + qrCodeLookupChunkSize
		if end > len(hashes) {
			end = len(hashes)
		}
		var found []string
		if err := r.db.Model(&models.QRCode{}).
			Where("unique_hash IN ?", hashes[start:end]).
			Pluck("unique_hash", &found).Error; err != nil {
			return nil, err
		}
		existing = append(existing, found...)
	}
	return existing, nil
}

// GetByID 根据 ID 获取二维码
func (r *GormQRCodeRepository) GetByID(id uint) (*models.QRCode, error) {
	if id == 0 {
		return nil, nil
	}
	var code models.QRCode
	if err := r.db.First(&code, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

// GetByHash 根据哈希获取二维码
func (r *GormQRCodeRepository) GetByHash(hash string) (*models.QRCode, error) {
	return r.getByHash(r.db, hash)
}

// GetByHashForUpdate 根据哈希加锁获取二维码
func (r *GormQRCodeRepository) GetByHashForUpdate(hash string) (*models.QRCode, error) {
	return r.getByHash(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), hash)
}

func (r *GormQRCodeRepository) getByHash(query *gorm.DB, hash string) (*models.QRCode, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, nil
	}
	var code models.QRCode
	if err := query.Where("unique_hash = ?", hash).First(&code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &code, nil
}

// MaxSeriesOrder 获取批次当前最大序号
func (r *GormQRCodeRepository) MaxSeriesOrder(seriesCode string) (int, error) {
	var maxOrder int
	if err := r.db.Model(&models.QRCode{}).
		Where("series_code = ?", seriesCode).
		Select("COALESCE(MAX(series_order), 0)").
		Scan(&maxOrder).Error; err != nil {
		return 0, err
	}
	return maxOrder, nil
}

// ListForAllocation 按批次号、序号升序选取库存码
func (r *GormQRCodeRepository) ListForAllocation(vendorID uint, seriesCode string, limit int) ([]models.QRCode, error) {
	if vendorID == 0 || limit <= 0 {
		return []models.QRCode{}, nil
	}
	var codes []models.QRCode
	if err := r.inventoryQuery(vendorID, seriesCode).
		Order("series_code asc").
		Order("series_order asc").
		Order("id asc").
		Limit(limit).
		Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// CountInventory 统计可分配库存
func (r *GormQRCodeRepository) CountInventory(vendorID uint, seriesCode string) (int64, error) {
	if vendorID == 0 {
		return 0, nil
	}
	var count int64
	if err := r.inventoryQuery(vendorID, seriesCode).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *GormQRCodeRepository) inventoryQuery(vendorID uint, seriesCode string) *gorm.DB {
	query := r.db.Model(&models.QRCode{}).
		Where("vendor_id = ? AND status = ?", vendorID, constants.QRCodeStatusInventory)
	if seriesCode = strings.TrimSpace(seriesCode); seriesCode != "" {
		query = query.Where("series_code = ?", seriesCode)
	}
	return query
}

// Allocate 将库存码分配给活动，仅更新仍处于库存状态的记录
func (r *GormQRCodeRepository) Allocate(ids []uint, input QRCodeAllocation) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.QRCode{}).
		Where("id IN ? AND status = ?", ids, constants.QRCodeStatusInventory).
		Updates(map[string]interface{}{
			"status":             constants.QRCodeStatusFunded,
			"campaign_id":        input.CampaignID,
			"campaign_budget_id": input.CampaignBudgetID,
			"cashback_amount":    input.CashbackAmount,
			"funded_at":          input.FundedAt,
			"updated_at":         input.FundedAt,
		})
	return result.RowsAffected, result.Error
}

// MarkRedeemed 核销二维码，仅当其仍处于可核销状态时生效
func (r *GormQRCodeRepository) MarkRedeemed(id, userID uint, redeemedAt time.Time) (int64, error) {
	if id == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.QRCode{}).
		Where("id = ? AND status <> ? AND status IN ?", id, constants.QRCodeStatusRedeemed, constants.QRCodeRedeemableStatuses).
		Updates(map[string]interface{}{
			"status":              constants.QRCodeStatusRedeemed,
			"redeemed_by_user_id": userID,
			"redeemed_at":         redeemedAt,
			"updated_at":          redeemedAt,
		})
	return result.RowsAffected, result.Error
}

// VoidByBudget 作废预算名下及其活动下无预算归属的未核销二维码并解除关联，其他预算的码不受影响
func (r *GormQRCodeRepository) VoidByBudget(budgetID uint, campaignID *uint, voidedAt time.Time) (int64, error) {
	if budgetID == 0 {
		return 0, nil
	}
	query := r.db.Model(&models.QRCode{})
	if campaignID != nil && *campaignID != 0 {
		query = query.Where("(campaign_budget_id = ? OR (campaign_id = ? AND campaign_budget_id IS NULL))", budgetID, *campaignID)
	} else {
		query = query.Where("campaign_budget_id = ?", budgetID)
	}
	result := query.
		Where("status NOT IN ?", []string{constants.QRCodeStatusRedeemed, constants.QRCodeStatusVoid, constants.QRCodeStatusInventory}).
		Updates(map[string]interface{}{
			"status":             constants.QRCodeStatusVoid,
			"campaign_id":        nil,
			"campaign_budget_id": nil,
			"voided_at":          voidedAt,
			"updated_at":         voidedAt,
		})
	return result.RowsAffected, result.Error
}

// ListUnbudgetedCommitments 查询已绑定活动但未建预算的二维码
func (r *GormQRCodeRepository) ListUnbudgetedCommitments() ([]models.QRCode, error) {
	statuses := append([]string{constants.QRCodeStatusRedeemed}, constants.QRCodeRedeemableStatuses...)
	var codes []models.QRCode
	if err := r.db.Model(&models.QRCode{}).
		Where("campaign_id IS NOT NULL AND campaign_budget_id IS NULL").
		Where("status IN ?", statuses).
		Order("campaign_id asc").
		Order("id asc").
		Find(&codes).Error; err != nil {
		return nil, err
	}
	return codes, nil
}

// AttachBudget 为尚未关联预算的二维码写入预算ID
func (r *GormQRCodeRepository) AttachBudget(ids []uint, budgetID uint, updatedAt time.Time) (int64, error) {
	if len(ids) == 0 || budgetID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.QRCode{}).
		Where("id IN ? AND campaign_budget_id IS NULL", ids).
		Updates(map[string]interface{}{
			"campaign_budget_id": budgetID,
			"updated_at":         updatedAt,
		})
	return result.RowsAffected, result.Error
}

// CountByStatus 按状态统计二维码数量
func (r *GormQRCodeRepository) CountByStatus(vendorID uint, seriesCode string) (map[string]int64, error) {
	type countRow struct {
		Status string
		Total  int64
	}
	query := r.db.Model(&models.QRCode{}).Select("status, COUNT(*) as total")
	if vendorID != 0 {
		query = query.Where("vendor_id = ?", vendorID)
	}
	if seriesCode = strings.TrimSpace(seriesCode); seriesCode != "" {
		query = query.Where("series_code = ?", seriesCode)
	}
	var rows []countRow
	if err := query.Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	result := make(map[string]int64, len(rows))
	for _, row := range rows {
		result[row.Status] = row.Total
	}
	return result, nil
}

// List 分页查询二维码
func (r *GormQRCodeRepository) List(filter QRCodeListFilter) ([]models.QRCode, int64, error) {
	query := r.db.Model(&models.QRCode{})
	if filter.VendorID != 0 {
		query = query.Where("vendor_id = ?", filter.VendorID)
	}
	if filter.SeriesCode != "" {
		query = query.Where("series_code = ?", filter.SeriesCode)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.CampaignID != 0 {
		query = query.Where("campaign_id = ?", filter.CampaignID)
	}
	if filter.CampaignBudgetID != 0 {
		query = query.Where("campaign_budget_id = ?", filter.CampaignBudgetID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var codes []models.QRCode
	if err := query.Order("series_code asc").Order("series_order asc").Order("id asc").Find(&codes).Error; err != nil {
		return nil, 0, err
	}
	return codes, total, nil
}
