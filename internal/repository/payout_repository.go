package repository

import (
	"errors"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
)

// PayoutRepository 出款仓储接口
type PayoutRepository interface {
	GetPrimaryMethod(userID uint) (*models.PayoutMethod, error)
	CreateRequest(request *models.PayoutRequest) error
	GetRequestByID(id uint) (*models.PayoutRequest, error)
	TransitionRequest(id uint, from, to string, fields map[string]interface{}) (int64, error)
	ListQueuedBefore(before time.Time, limit int) ([]models.PayoutRequest, error)
	WithTx(tx *gorm.DB) *GormPayoutRepository
}

// GormPayoutRepository GORM 实现
type GormPayoutRepository struct {
	db *gorm.DB
}

// NewPayoutRepository 创建出款仓储
func NewPayoutRepository(db *gorm.DB) *GormPayoutRepository {
	return &GormPayoutRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPayoutRepository) WithTx(tx *gorm.DB) *GormPayoutRepository {
	if tx == nil {
		return r
	}
	return &GormPayoutRepository{db: tx}
}

// GetPrimaryMethod 获取用户主出款方式
func (r *GormPayoutRepository) GetPrimaryMethod(userID uint) (*models.PayoutMethod, error) {
	if userID == 0 {
		return nil, nil
	}
	var method models.PayoutMethod
	if err := r.db.Where("user_id = ? AND is_primary = ?", userID, true).Order("id desc").First(&method).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

// CreateRequest 创建出款请求
func (r *GormPayoutRepository) CreateRequest(request *models.PayoutRequest) error {
	return r.db.Create(request).Error
}

// GetRequestByID 获取出款请求
func (r *GormPayoutRepository) GetRequestByID(id uint) (*models.PayoutRequest, error) {
	if id == 0 {
		return nil, nil
	}
	var request models.PayoutRequest
	if err := r.db.First(&request, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

// TransitionRequest 条件流转出款请求状态
func (r *GormPayoutRepository) TransitionRequest(id uint, from, to string, fields map[string]interface{}) (int64, error) {
	if id == 0 {
		return 0, nil
	}
	updates := map[string]interface{}{
		"status":     to,
		"updated_at": time.Now(),
	}
	for key, value := range fields {
		updates[key] = value
	}
	result := r.db.Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected, result.Error
}

// ListQueuedBefore 查询滞留在队列中的出款请求
func (r *GormPayoutRepository) ListQueuedBefore(before time.Time, limit int) ([]models.PayoutRequest, error) {
	query := r.db.Model(&models.PayoutRequest{}).
		Where("status = ? AND created_at < ?", constants.PayoutStatusQueued, before).
		Order("id asc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var requests []models.PayoutRequest
	if err := query.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
