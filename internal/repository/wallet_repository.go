package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WalletRepository 钱包数据访问接口
type WalletRepository interface {
	GetByOwner(owner models.WalletOwner) (*models.Wallet, error)
	GetByOwnerForUpdate(owner models.WalletOwner) (*models.Wallet, error)
	GetByID(id uint) (*models.Wallet, error)
	CreateIfAbsent(wallet *models.Wallet) error
	ApplyBalances(wallet *models.Wallet, balance, locked models.Money, updatedAt time.Time) error
	ListWallets(filter WalletListFilter) ([]models.Wallet, int64, error)
	CreateTransaction(txn *models.WalletTransaction) error
	GetTransactionByID(id uint) (*models.WalletTransaction, error)
	GetTransactionByReference(category, reference string) (*models.WalletTransaction, error)
	ListTransactions(filter WalletTransactionListFilter) ([]models.WalletTransaction, int64, error)
	WithTx(tx *gorm.DB) *GormWalletRepository
}

// GormWalletRepository GORM 钱包仓储实现
type GormWalletRepository struct {
	db *gorm.DB
}

// NewWalletRepository 创建钱包仓储
func NewWalletRepository(db *gorm.DB) *GormWalletRepository {
	return &GormWalletRepository{db: db}
}

// WithTx 绑定事务
func (r *GormWalletRepository) WithTx(tx *gorm.DB) *GormWalletRepository {
	if tx == nil {
		return r
	}
	return &GormWalletRepository{db: tx}
}

// GetByOwner 按归属获取钱包
func (r *GormWalletRepository) GetByOwner(owner models.WalletOwner) (*models.Wallet, error) {
	return r.getByOwner(r.db, owner)
}

// GetByOwnerForUpdate 按归属加锁获取钱包
func (r *GormWalletRepository) GetByOwnerForUpdate(owner models.WalletOwner) (*models.Wallet, error) {
	return r.getByOwner(r.db.Clauses(clause.Locking{Strength: "UPDATE"}), owner)
}

func (r *GormWalletRepository) getByOwner(query *gorm.DB, owner models.WalletOwner) (*models.Wallet, error) {
	if owner.ID == 0 || strings.TrimSpace(owner.Type) == "" {
		return nil, nil
	}
	var wallet models.Wallet
	if err := query.Where("owner_type = ? AND owner_id = ?", owner.Type, owner.ID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// GetByID 根据 ID 获取钱包
func (r *GormWalletRepository) GetByID(id uint) (*models.Wallet, error) {
	if id == 0 {
		return nil, nil
	}
	var wallet models.Wallet
	if err := r.db.First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &wallet, nil
}

// CreateIfAbsent 创建钱包，归属冲突时静默忽略（事务不会因此中断）
func (r *GormWalletRepository) CreateIfAbsent(wallet *models.Wallet) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_id"}},
		DoNothing: true,
	}).Create(wallet).Error
}

// ApplyBalances 以版本号为条件写入新余额，未命中返回 ErrConcurrentUpdate
func (r *GormWalletRepository) ApplyBalances(wallet *models.Wallet, balance, locked models.Money, updatedAt time.Time) error {
	if wallet == nil || wallet.ID == 0 {
		return errors.New("invalid wallet")
	}
	result := r.db.Model(&models.Wallet{}).
		Where("id = ? AND version = ?", wallet.ID, wallet.Version).
		Updates(map[string]interface{}{
			"balance":        balance,
			"locked_balance": locked,
			"version":        gorm.Expr("version + 1"),
			"updated_at":     updatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}
	wallet.Balance = balance
	wallet.LockedBalance = locked
	wallet.Version++
	wallet.UpdatedAt = updatedAt
	return nil
}

// ListWallets 分页查询钱包
func (r *GormWalletRepository) ListWallets(filter WalletListFilter) ([]models.Wallet, int64, error) {
	query := r.db.Model(&models.Wallet{})
	if filter.OwnerType != "" {
		query = query.Where("owner_type = ?", filter.OwnerType)
	}
	if filter.OwnerID != 0 {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = applyPagination(query, filter.Page, filter.PageSize)

	var wallets []models.Wallet
	if err := query.Order("id asc").Find(&wallets).Error; err != nil {
		return nil, 0, err
	}
	return wallets, total, nil
}

// CreateTransaction 创建钱包流水
func (r *GormWalletRepository) CreateTransaction(txn *models.WalletTransaction) error {
	return r.db.Create(txn).Error
}

// GetTransactionByID 根据 ID 获取流水
func (r *GormWalletRepository) GetTransactionByID(id uint) (*models.WalletTransaction, error) {
	if id == 0 {
		return nil, nil
	}
	var txn models.WalletTransaction
	if err := r.db.First(&txn, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// GetTransactionByReference 按分类与业务引用获取流水
func (r *GormWalletRepository) GetTransactionByReference(category, reference string) (*models.WalletTransaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var txn models.WalletTransaction
	if err := r.db.Where("category = ? AND reference_id = ?", category, reference).First(&txn).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &txn, nil
}

// ListTransactions 分页查询钱包流水
func (r *GormWalletRepository) ListTransactions(filter WalletTransactionListFilter) ([]models.WalletTransaction, int64, error) {
	query := r.db.Model(&models.WalletTransaction{})
	if filter.WalletID != 0 {
		query = query.Where("wallet_id = ?", filter.WalletID)
	}
	if filter.OwnerType != "" {
		query = query.Where("owner_type = ?", filter.OwnerType)
	}
	if filter.OwnerID != 0 {
		query = query.Where("owner_id = ?", filter.OwnerID)
	}
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if len(filter.Categories) > 0 {
		query = query.Where("category IN ?", filter.Categories)
	}
	if filter.ReferenceID != "" {
		query = query.Where("reference_id = ?", filter.ReferenceID)
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

	var txns []models.WalletTransaction
	if err := query.Order("id asc").Find(&txns).Error; err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}
