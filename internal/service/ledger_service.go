package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/metrics"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LedgerService 钱包账本服务，所有余额变更都经由这里写入
type LedgerService struct {
	transactor repository.Transactor
	walletRepo repository.WalletRepository
	currency   string
	audit      AuditSink
	now        func() time.Time
}

// LedgerEntryInput 账本变更输入
type LedgerEntryInput struct {
	Owner       models.WalletOwner
	Amount      models.Money
	Category    string // 仅 CreditAvailable 使用，其余操作分类固定
	ReferenceID string
	Metadata    map[string]interface{}
	Remark      string
}

// WalletSnapshot 钱包余额快照
type WalletSnapshot struct {
	Owner     models.WalletOwner `json:"owner"`
	Available models.Money       `json:"available"`
	Locked    models.Money       `json:"locked"`
	Total     models.Money       `json:"total"`
	Currency  string             `json:"currency"`
}

type walletMutation struct {
	txnType      string
	category     string
	balanceDelta models.Money
	lockedDelta  models.Money
	check        func(wallet *models.Wallet, amount models.Money) error
}

// NewLedgerService 创建账本服务
func NewLedgerService(transactor repository.Transactor, walletRepo repository.WalletRepository, currency string, audit AuditSink) *LedgerService {
	return &LedgerService{
		transactor: transactor,
		walletRepo: walletRepo,
		currency:   normalizeCurrency(currency, constants.CurrencyDefault),
		audit:      orNoopAudit(audit),
		now:        time.Now,
	}
}

// Currency 账本币种
func (s *LedgerService) Currency() string {
	return s.currency
}

// EnsureWallet 获取钱包，不存在时创建零余额钱包
func (s *LedgerService) EnsureWallet(ctx context.Context, owner models.WalletOwner) (*models.Wallet, error) {
	var wallet *models.Wallet
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		w, err := s.EnsureWalletTx(tx, owner)
		if err != nil {
			return err
		}
		wallet = w
		return nil
	})
	return wallet, err
}

// EnsureWalletTx 在调用方事务中获取或创建钱包
func (s *LedgerService) EnsureWalletTx(tx *gorm.DB, owner models.WalletOwner) (*models.Wallet, error) {
	if err := validateOwner(owner); err != nil {
		return nil, err
	}
	return s.ensureWallet(s.walletRepo.WithTx(tx), owner, s.now(), false)
}

// CreditAvailable 入账到可用余额
func (s *LedgerService) CreditAvailable(ctx context.Context, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.run(ctx, creditCategory(in), in, s.CreditAvailableTx)
}

// CreditAvailableTx 事务内入账，分类默认为 credit
func (s *LedgerService) CreditAvailableTx(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.applyMutation(tx, in, walletMutation{
		txnType:      constants.WalletTxnTypeCredit,
		category:     creditCategory(in),
		balanceDelta: in.Amount,
		lockedDelta:  models.ZeroMoney(),
	})
}

// Lock 锁定活动托管资金：总额与锁定额同时增加
func (s *LedgerService) Lock(ctx context.Context, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.run(ctx, constants.WalletTxnCategoryCampaignLock, in, s.LockTx)
}

// LockTx 事务内锁定
func (s *LedgerService) LockTx(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.applyMutation(tx, in, walletMutation{
		txnType:      constants.WalletTxnTypeDebit,
		category:     constants.WalletTxnCategoryCampaignLock,
		balanceDelta: in.Amount,
		lockedDelta:  in.Amount,
	})
}

// SpendLocked 消耗锁定资金，总额不变
func (s *LedgerService) SpendLocked(ctx context.Context, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.run(ctx, constants.WalletTxnCategoryCampaignSpend, in, s.SpendLockedTx)
}

// SpendLockedTx 事务内消耗锁定资金
func (s *LedgerService) SpendLockedTx(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.applyMutation(tx, in, walletMutation{
		txnType:      constants.WalletTxnTypeDebit,
		category:     constants.WalletTxnCategoryCampaignSpend,
		balanceDelta: models.ZeroMoney(),
		lockedDelta:  negate(in.Amount),
		check:        requireLocked,
	})
}

// ChargeFee 从可用余额扣除手续费
func (s *LedgerService) ChargeFee(ctx context.Context, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.run(ctx, constants.WalletTxnCategoryFee, in, s.ChargeFeeTx)
}

// ChargeFeeTx 事务内扣除手续费
func (s *LedgerService) ChargeFeeTx(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.applyMutation(tx, in, walletMutation{
		txnType:      constants.WalletTxnTypeDebit,
		category:     constants.WalletTxnCategoryFee,
		balanceDelta: negate(in.Amount),
		lockedDelta:  models.ZeroMoney(),
		check:        requireAvailable,
	})
}

// UnlockRefund 退回锁定资金：总额与锁定额同时减少
func (s *LedgerService) UnlockRefund(ctx context.Context, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.run(ctx, constants.WalletTxnCategoryCampaignRefund, in, s.UnlockRefundTx)
}

// UnlockRefundTx 事务内退回锁定资金
func (s *LedgerService) UnlockRefundTx(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.applyMutation(tx, in, walletMutation{
		txnType:      constants.WalletTxnTypeDebit,
		category:     constants.WalletTxnCategoryCampaignRefund,
		balanceDelta: negate(in.Amount),
		lockedDelta:  negate(in.Amount),
		check:        requireLocked,
	})
}

// Withdraw 用户提现出账
func (s *LedgerService) Withdraw(ctx context.Context, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.run(ctx, constants.WalletTxnCategoryWithdrawal, in, s.WithdrawTx)
}

// WithdrawTx 事务内提现出账
func (s *LedgerService) WithdrawTx(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error) {
	return s.applyMutation(tx, in, walletMutation{
		txnType:      constants.WalletTxnTypeDebit,
		category:     constants.WalletTxnCategoryWithdrawal,
		balanceDelta: negate(in.Amount),
		lockedDelta:  models.ZeroMoney(),
		check:        requireAvailable,
	})
}

// GetSnapshot 计算钱包快照
func (s *LedgerService) GetSnapshot(wallet *models.Wallet) WalletSnapshot {
	if wallet == nil {
		return WalletSnapshot{
			Available: models.ZeroMoney(),
			Locked:    models.ZeroMoney(),
			Total:     models.ZeroMoney(),
			Currency:  s.currency,
		}
	}
	return WalletSnapshot{
		Owner:     wallet.Owner(),
		Available: wallet.Available(),
		Locked:    wallet.LockedBalance,
		Total:     wallet.Balance,
		Currency:  wallet.Currency,
	}
}

// Snapshot 读取归属钱包的快照，钱包不存在时返回零值
func (s *LedgerService) Snapshot(owner models.WalletOwner) (WalletSnapshot, error) {
	if err := validateOwner(owner); err != nil {
		return WalletSnapshot{}, err
	}
	wallet, err := s.walletRepo.GetByOwner(owner)
	if err != nil {
		return WalletSnapshot{}, err
	}
	snapshot := s.GetSnapshot(wallet)
	snapshot.Owner = owner
	return snapshot, nil
}

// FindTransactionTx 在调用方事务中按分类与引用查找流水
func (s *LedgerService) FindTransactionTx(tx *gorm.DB, category, reference string) (*models.WalletTransaction, error) {
	return s.walletRepo.WithTx(tx).GetTransactionByReference(category, reference)
}

// GetTransaction 根据 ID 获取流水
func (s *LedgerService) GetTransaction(id uint) (*models.WalletTransaction, error) {
	return s.walletRepo.GetTransactionByID(id)
}

// ListTransactions 分页查询流水
func (s *LedgerService) ListTransactions(filter repository.WalletTransactionListFilter) ([]models.WalletTransaction, int64, error) {
	return s.walletRepo.ListTransactions(filter)
}

// Committed 事务提交后记录账本指标与审计
func (s *LedgerService) Committed(ctx context.Context, txns ...*models.WalletTransaction) {
	for _, txn := range txns {
		if txn == nil {
			continue
		}
		metrics.LedgerMutations.WithLabelValues(txn.Category).Inc()
		recordAudit(ctx, s.audit, AuditEntry{
			Action:    txn.Category,
			OwnerType: txn.OwnerType,
			OwnerID:   txn.OwnerID,
			Amount:    txn.Amount.String(),
			Reference: txn.ReferenceID,
			Outcome:   "ok",
			Detail: map[string]interface{}{
				"balance_after":        txn.BalanceAfter.String(),
				"locked_balance_after": txn.LockedBalanceAfter.String(),
			},
			At: txn.CreatedAt,
		})
	}
}

// rejected 记录被拒绝的变更
func (s *LedgerService) rejected(ctx context.Context, category string, in LedgerEntryInput, err error) {
	if !IsBusinessError(err) {
		return
	}
	metrics.LedgerRejections.WithLabelValues(category, ErrorCode(err)).Inc()
	recordAudit(ctx, s.audit, AuditEntry{
		Action:    category,
		OwnerType: in.Owner.Type,
		OwnerID:   in.Owner.ID,
		Amount:    in.Amount.String(),
		Reference: in.ReferenceID,
		Outcome:   ErrorCode(err),
	})
}

func (s *LedgerService) run(
	ctx context.Context,
	category string,
	in LedgerEntryInput,
	op func(tx *gorm.DB, in LedgerEntryInput) (*models.Wallet, *models.WalletTransaction, error),
) (*models.Wallet, *models.WalletTransaction, error) {
	var walletResult *models.Wallet
	var txnResult *models.WalletTransaction
	if err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		wallet, txn, err := op(tx, in)
		if err != nil {
			return err
		}
		walletResult = wallet
		txnResult = txn
		return nil
	}); err != nil {
		s.rejected(ctx, category, in, err)
		return nil, nil, err
	}
	s.Committed(ctx, txnResult)
	return walletResult, txnResult, nil
}

// applyMutation 锁定钱包行，按版本号写入新余额并追加一条流水；
// 同分类同引用只允许写入一次
func (s *LedgerService) applyMutation(tx *gorm.DB, in LedgerEntryInput, mutation walletMutation) (*models.Wallet, *models.WalletTransaction, error) {
	if !in.Amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if err := validateOwner(in.Owner); err != nil {
		return nil, nil, err
	}
	repo := s.walletRepo.WithTx(tx)
	now := s.now()

	reference := strings.TrimSpace(in.ReferenceID)
	if reference != "" {
		existing, err := repo.GetTransactionByReference(mutation.category, reference)
		if err != nil {
			return nil, nil, err
		}
		if existing != nil {
			return nil, nil, ErrDuplicateReference
		}
	} else {
		reference = uuid.NewString()
	}

	wallet, err := s.ensureWallet(repo, in.Owner, now, true)
	if err != nil {
		return nil, nil, err
	}
	if mutation.check != nil {
		if err := mutation.check(wallet, in.Amount); err != nil {
			return nil, nil, err
		}
	}

	balanceBefore := wallet.Balance
	lockedBefore := wallet.LockedBalance
	next := models.Wallet{
		Balance:       balanceBefore.Add(mutation.balanceDelta),
		LockedBalance: lockedBefore.Add(mutation.lockedDelta),
	}
	if !next.Consistent() {
		return nil, nil, ErrLedgerInvariant
	}
	if err := repo.ApplyBalances(wallet, next.Balance, next.LockedBalance, now); err != nil {
		return nil, nil, err
	}

	txn := &models.WalletTransaction{
		WalletID:            wallet.ID,
		OwnerType:           wallet.OwnerType,
		OwnerID:             wallet.OwnerID,
		Type:                mutation.txnType,
		Category:            mutation.category,
		Amount:              in.Amount,
		BalanceBefore:       balanceBefore,
		BalanceAfter:        wallet.Balance,
		LockedBalanceBefore: lockedBefore,
		LockedBalanceAfter:  wallet.LockedBalance,
		Currency:            wallet.Currency,
		Status:              constants.WalletTxnStatusCompleted,
		ReferenceID:         reference,
		Metadata:            models.JSONMap(in.Metadata),
		Remark:              cleanRemark(in.Remark, mutation.category),
		CreatedAt:           now,
	}
	if err := repo.CreateTransaction(txn); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, nil, ErrDuplicateReference
		}
		return nil, nil, fmt.Errorf("create wallet transaction: %w", err)
	}
	return wallet, txn, nil
}

func (s *LedgerService) ensureWallet(repo *repository.GormWalletRepository, owner models.WalletOwner, now time.Time, forUpdate bool) (*models.Wallet, error) {
	get := repo.GetByOwner
	if forUpdate {
		get = repo.GetByOwnerForUpdate
	}
	wallet, err := get(owner)
	if err != nil {
		return nil, err
	}
	if wallet != nil {
		return wallet, nil
	}
	wallet = &models.Wallet{
		OwnerType:     owner.Type,
		OwnerID:       owner.ID,
		Balance:       models.ZeroMoney(),
		LockedBalance: models.ZeroMoney(),
		Currency:      s.currency,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.CreateIfAbsent(wallet); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	created, err := get(owner)
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, errors.New("wallet missing after create")
	}
	return created, nil
}

func creditCategory(in LedgerEntryInput) string {
	category := strings.TrimSpace(in.Category)
	if category == "" {
		return constants.WalletTxnCategoryCredit
	}
	return category
}

func validateOwner(owner models.WalletOwner) error {
	if owner.ID == 0 {
		return ErrInvalidOwner
	}
	switch owner.Type {
	case constants.WalletOwnerVendor, constants.WalletOwnerUser:
		return nil
	default:
		return ErrInvalidOwner
	}
}

func requireLocked(wallet *models.Wallet, amount models.Money) error {
	if wallet.LockedBalance.LessThan(amount.Decimal) {
		return ErrInsufficientLockedFunds
	}
	return nil
}

func requireAvailable(wallet *models.Wallet, amount models.Money) error {
	if wallet.Available().LessThan(amount.Decimal) {
		return ErrInsufficientAvailableFunds
	}
	return nil
}

func negate(m models.Money) models.Money {
	return models.NewMoneyFromDecimal(m.Decimal.Neg())
}

// VendorOwner 商户钱包归属
func VendorOwner(vendorID uint) models.WalletOwner {
	return models.WalletOwner{Type: constants.WalletOwnerVendor, ID: vendorID}
}

// UserOwner 用户钱包归属
func UserOwner(userID uint) models.WalletOwner {
	return models.WalletOwner{Type: constants.WalletOwnerUser, ID: userID}
}
