package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ClaimRepository 领取凭证仓储接口
type ClaimRepository interface {
	Create(claim *models.Claim) error
	GetByID(id uint) (*models.Claim, error)
	GetByTokenHash(tokenHash string) (*models.Claim, error)
	GetByTokenHashForUpdate(tokenHash string) (*models.Claim, error)
	MarkClaimed(id, userID uint, claimedAt time.Time) (int64, error)
	SetWalletTxn(id, walletTxnID uint) error
	WithTx(tx *gorm.DB) *GormClaimRepository
}

// GormClaimRepository GORM 领取凭证仓储实现
type GormClaimRepository struct {
	db *gorm.DB
}

// NewClaimRepository 创建领取凭证仓储
func NewClaimRepository(db *gorm.DB) *GormClaimRepository {
	return &GormClaimRepository{db: db}
}

// WithTx 绑定事务
func (r *GormClaimRepository) WithTx(tx *gorm.DB) *GormClaimRepository {
	if tx == nil {
		return r
	}
	return &GormClaimRepository{db: tx}
}

// Create 创建凭证
func (r *GormClaimRepository) Create(claim *models.Claim) error {
	return r.db.Create(claim).Error
}

// GetByID 根据 ID 获取凭证
func (r *GormClaimRepository) GetByID(id uint) (*models.Claim, error) {
	if id == 0 {
		return nil, nil
	}
	var claim models.Claim
	if err := r.db.First(&claim, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &claim, nil
}

// GetByTokenHash 根据令牌指纹获取凭证
func (r *GormClaimRepository) GetByTokenHash(tokenHash string) (*models.Claim, error) {
	return r.getByTokenHash(r.db, tokenHash)
}

// GetByTokenHashForUpdate 根据令牌指纹加锁获取凭证
func (r *GormClaimRepository) GetByTokenHashForUpdate(tokenHash string) (*models.Claim, error) {
	return r.getByTokenHash(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), tokenHash)
}

func (r *GormClaimRepository) getByTokenHash(query *gorm.DB, tokenHash string) (*models.Claim, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return nil, nil
	}
	var claim models.Claim
	if err := query.Where("token_hash = ?", tokenHash).First(&claim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &claim, nil
}

// MarkClaimed 仅当凭证未被领取时写入领取信息
func (r *GormClaimRepository) MarkClaimed(id, userID uint, claimedAt time.Time) (int64, error) {
	if id == 0 || userID == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.Claim{}).
		Where("id = ? AND claimed_at IS NULL", id).
		Updates(map[string]interface{}{
			"claimed_at":         claimedAt,
			"claimed_by_user_id": userID,
			"updated_at":         claimedAt,
		})
	return result.RowsAffected, result.Error
}

// SetWalletTxn 记录入账流水
func (r *GormClaimRepository) SetWalletTxn(id, walletTxnID uint) error {
	if id == 0 || walletTxnID == 0 {
		return nil
	}
	return r.db.Model(&models.Claim{}).Where("id = ?", id).Update("wallet_txn_id", walletTxnID).Error
}
