package repository

import (
	"errors"
	"strings"

	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// QRSeriesRepository 二维码批次数据访问接口
type QRSeriesRepository interface {
	Create(series *models.QRSeries) error
	GetByCode(seriesCode string) (*models.QRSeries, error)
	GetByCodeForUpdate(seriesCode string) (*models.QRSeries, error)
	AddCount(id uint, delta int) error
	ListByVendor(vendorID uint, page, pageSize int) ([]models.QRSeries, int64, error)
	WithTx(tx *gorm.DB) *GormQRSeriesRepository
}

// GormQRSeriesRepository GORM 实现
type GormQRSeriesRepository struct {
	db *gorm.DB
}

// NewQRSeriesRepository 创建二维码批次仓库
func NewQRSeriesRepository(db *gorm.DB) *GormQRSeriesRepository {
	return &GormQRSeriesRepository{db: db}
}

// WithTx 绑定事务
func (r *GormQRSeriesRepository) WithTx(tx *gorm.DB) *GormQRSeriesRepository {
	if tx == nil {
		return r
	}
	return &GormQRSeriesRepository{db: tx}
}

// Create 创建批次
func (r *GormQRSeriesRepository) Create(series *models.QRSeries) error {
	if series == nil {
		return errors.New("series is nil")
	}
	return r.db.Create(series).Error
}

// GetByCode 按批次号获取
func (r *GormQRSeriesRepository) GetByCode(seriesCode string) (*models.QRSeries, error) {
	return r.getByCode(r.db, seriesCode)
}

// GetByCodeForUpdate 按批次号加锁获取
func (r *GormQRSeriesRepository) GetByCodeForUpdate(seriesCode string) (*models.QRSeries, error) {
	return r.getByCode(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), seriesCode)
}

func (r *GormQRSeriesRepository) getByCode(query *gorm.DB, seriesCode string) (*models.QRSeries, error) {
	seriesCode = strings.TrimSpace(seriesCode)
	if seriesCode == "" {
		return nil, nil
	}
	var series models.QRSeries
	if err := query.Where("series_code = ?", seriesCode).First(&series).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &series, nil
}

// AddCount 累加批次数量
func (r *GormQRSeriesRepository) AddCount(id uint, delta int) error {
	if id == 0 || delta == 0 {
		return nil
	}
	return r.db.Model(&models.QRSeries{}).
		Where("id = ?", id).
		UpdateColumn("total_count", gorm.Expr("total_count + ?", delta)).Error
}

// ListByVendor 按商户获取批次列表
func (r *GormQRSeriesRepository) ListByVendor(vendorID uint, page, pageSize int) ([]models.QRSeries, int64, error) {
	query := r.db.Model(&models.QRSeries{})
	if vendorID != 0 {
		query = query.Where("vendor_id = ?", vendorID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, page, pageSize)

	var items []models.QRSeries
	if err := query.Order("series_code asc").Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
