package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/metrics"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/queue"
	"github.com/cashback-next/internal/repository"

	"gorm.io/gorm"
)

// CampaignBudgetService 活动预算服务
type CampaignBudgetService struct {
	transactor   repository.Transactor
	budgetRepo   repository.CampaignBudgetRepository
	campaignRepo repository.CampaignRepository
	qrRepo       repository.QRCodeRepository
	ledger       *LedgerService
	inventory    *QRInventoryService
	queueClient  *queue.Client
	now          func() time.Time
}

// OpenBudgetInput 开立预算输入
type OpenBudgetInput struct {
	VendorID   uint
	CampaignID uint
	Amount     models.Money
	Remark     string
}

// FundCampaignInput 活动出资输入：锁定 数量×返现 并分配库存码
type FundCampaignInput struct {
	VendorID       uint
	CampaignID     uint
	SeriesCode     string
	Quantity       int
	CashbackAmount models.Money
}

// FundCampaignResult 活动出资结果
type FundCampaignResult struct {
	Budget      *models.CampaignBudget    `json:"budget"`
	Lock        *models.WalletTransaction `json:"lock"`
	Codes       []models.QRCode           `json:"codes"`
	TotalLocked models.Money              `json:"total_locked"`
}

// CancelBudgetResult 预算撤销结果
type CancelBudgetResult struct {
	Budget      *models.CampaignBudget    `json:"budget"`
	Refund      *models.WalletTransaction `json:"refund,omitempty"`
	VoidedCodes int64                     `json:"voided_codes"`
}

// NewCampaignBudgetService 创建活动预算服务
func NewCampaignBudgetService(
	transactor repository.Transactor,
	budgetRepo repository.CampaignBudgetRepository,
	campaignRepo repository.CampaignRepository,
	qrRepo repository.QRCodeRepository,
	ledger *LedgerService,
	inventory *QRInventoryService,
	queueClient *queue.Client,
) *CampaignBudgetService {
	return &CampaignBudgetService{
		transactor:   transactor,
		budgetRepo:   budgetRepo,
		campaignRepo: campaignRepo,
		qrRepo:       qrRepo,
		ledger:       ledger,
		inventory:    inventory,
		queueClient:  queueClient,
		now:          time.Now,
	}
}

// OpenBudget 锁定商户资金并开立预算
func (s *CampaignBudgetService) OpenBudget(ctx context.Context, in OpenBudgetInput) (*models.CampaignBudget, *models.WalletTransaction, error) {
	var budget *models.CampaignBudget
	var lock *models.WalletTransaction
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		b, txn, err := s.OpenBudgetTx(tx, in)
		if err != nil {
			return err
		}
		budget, lock = b, txn
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	s.afterOpen(ctx, budget, lock)
	return budget, lock, nil
}

// OpenBudgetTx 在调用方事务中开立预算
func (s *CampaignBudgetService) OpenBudgetTx(tx *gorm.DB, in OpenBudgetInput) (*models.CampaignBudget, *models.WalletTransaction, error) {
	if in.VendorID == 0 {
		return nil, nil, ErrInvalidOwner
	}
	if !in.Amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	if in.CampaignID != 0 {
		if err := s.checkCampaignOwner(tx, in.CampaignID, in.VendorID); err != nil {
			return nil, nil, err
		}
	}
	now := s.now()
	budgetNo, err := generateSerialNo("BGT", now)
	if err != nil {
		return nil, nil, err
	}
	_, lock, err := s.ledger.LockTx(tx, LedgerEntryInput{
		Owner:       VendorOwner(in.VendorID),
		Amount:      in.Amount,
		ReferenceID: buildBudgetReference(budgetNo, "lock"),
		Metadata:    map[string]interface{}{"budget_no": budgetNo, "campaign_id": in.CampaignID},
		Remark:      cleanRemark(in.Remark, "campaign budget lock"),
	})
	if err != nil {
		return nil, nil, err
	}
	budget := &models.CampaignBudget{
		BudgetNo:            budgetNo,
		VendorID:            in.VendorID,
		InitialLockedAmount: in.Amount,
		LockedAmount:        in.Amount,
		SpentAmount:         models.ZeroMoney(),
		RefundedAmount:      models.ZeroMoney(),
		Status:              constants.CampaignBudgetStatusActive,
		Source:              constants.CampaignBudgetSourceFunding,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if in.CampaignID != 0 {
		budget.CampaignID = uintPtr(in.CampaignID)
	}
	if err := s.budgetRepo.WithTx(tx).Create(budget); err != nil {
		return nil, nil, fmt.Errorf("create campaign budget: %w", err)
	}
	return budget, lock, nil
}

// FundCampaign 单一事务内完成锁定与分配，分配失败时锁定一并回滚
func (s *CampaignBudgetService) FundCampaign(ctx context.Context, in FundCampaignInput) (*FundCampaignResult, error) {
	if in.VendorID == 0 || in.CampaignID == 0 || in.Quantity <= 0 {
		return nil, ErrInvalidInput
	}
	if !in.CashbackAmount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	total := in.CashbackAmount.Mul(int64(in.Quantity))
	var result *FundCampaignResult
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		available, err := s.inventory.CountInventoryTx(tx, in.VendorID, in.SeriesCode)
		if err != nil {
			return err
		}
		if available < int64(in.Quantity) {
			return ErrInsufficientInventory
		}
		budget, lock, err := s.OpenBudgetTx(tx, OpenBudgetInput{
			VendorID:   in.VendorID,
			CampaignID: in.CampaignID,
			Amount:     total,
			Remark:     fmt.Sprintf("fund %d codes x %s", in.Quantity, in.CashbackAmount),
		})
		if err != nil {
			return err
		}
		codes, err := s.inventory.AllocateTx(tx, AllocateInput{
			VendorID:         in.VendorID,
			SeriesCode:       in.SeriesCode,
			Quantity:         in.Quantity,
			CampaignID:       in.CampaignID,
			CampaignBudgetID: budget.ID,
			CashbackAmount:   in.CashbackAmount,
		})
		if err != nil {
			return err
		}
		result = &FundCampaignResult{Budget: budget, Lock: lock, Codes: codes, TotalLocked: total}
		return nil
	})
	if err != nil {
		logger.Warnw("campaign_fund_failed",
			"vendor_id", in.VendorID,
			"campaign_id", in.CampaignID,
			"quantity", in.Quantity,
			"error_code", ErrorCode(err),
			"error", err,
		)
		return nil, err
	}
	s.afterOpen(ctx, result.Budget, result.Lock)
	logger.Infow("campaign_funded",
		"vendor_id", in.VendorID,
		"campaign_id", in.CampaignID,
		"budget_no", result.Budget.BudgetNo,
		"quantity", in.Quantity,
		"total_locked", total.String(),
	)
	return result, nil
}

// Spend 在独立事务中消耗预算
func (s *CampaignBudgetService) Spend(ctx context.Context, budgetID uint, amount models.Money, reference string) (*models.CampaignBudget, error) {
	var budget *models.CampaignBudget
	var spend *models.WalletTransaction
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		b, txn, err := s.SpendTx(tx, budgetID, amount, reference)
		if err != nil {
			return err
		}
		budget, spend = b, txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.ledger.Committed(ctx, spend)
	if budget.Status == constants.CampaignBudgetStatusClosed {
		metrics.BudgetTransitions.WithLabelValues(constants.CampaignBudgetStatusClosed).Inc()
	}
	return budget, nil
}

// SpendTx 预算须处于 active 且锁定额足够，耗尽后转为 closed
func (s *CampaignBudgetService) SpendTx(tx *gorm.DB, budgetID uint, amount models.Money, reference string) (*models.CampaignBudget, *models.WalletTransaction, error) {
	if !amount.IsPositive() {
		return nil, nil, ErrInvalidAmount
	}
	repo := s.budgetRepo.WithTx(tx)
	budget, err := repo.GetByIDForUpdate(budgetID)
	if err != nil {
		return nil, nil, err
	}
	if budget == nil {
		return nil, nil, ErrBudgetNotFound
	}
	if budget.Status != constants.CampaignBudgetStatusActive {
		return nil, nil, ErrBudgetNotActive
	}
	if budget.LockedAmount.LessThan(amount.Decimal) {
		return nil, nil, ErrBudgetExhausted
	}
	_, spend, err := s.ledger.SpendLockedTx(tx, LedgerEntryInput{
		Owner:       VendorOwner(budget.VendorID),
		Amount:      amount,
		ReferenceID: reference,
		Metadata:    map[string]interface{}{"budget_no": budget.BudgetNo},
		Remark:      "campaign budget spend",
	})
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	locked := budget.LockedAmount.Sub(amount)
	spent := budget.SpentAmount.Add(amount)
	fields := map[string]interface{}{
		"locked_amount": locked,
		"spent_amount":  spent,
		"updated_at":    now,
	}
	status := budget.Status
	if !locked.IsPositive() {
		status = constants.CampaignBudgetStatusClosed
		fields["status"] = status
		fields["closed_at"] = now
	}
	if err := repo.UpdateWithVersion(budget, fields); err != nil {
		return nil, nil, err
	}
	budget.LockedAmount = locked
	budget.SpentAmount = spent
	budget.Status = status
	budget.UpdatedAt = now
	if status == constants.CampaignBudgetStatusClosed {
		budget.ClosedAt = timePtr(now)
	}
	return budget, spend, nil
}

// Cancel 撤销预算：退回剩余锁定额并作废未核销的码
func (s *CampaignBudgetService) Cancel(ctx context.Context, budgetID uint, reason string) (*CancelBudgetResult, error) {
	var result *CancelBudgetResult
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		res, err := s.CancelTx(tx, budgetID, reason)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.BudgetTransitions.WithLabelValues(constants.CampaignBudgetStatusRefunded).Inc()
	if result.Refund != nil {
		s.ledger.Committed(ctx, result.Refund)
		s.enqueueInvoice(result.Refund.ID)
	}
	logger.Infow("campaign_budget_cancelled",
		"budget_no", result.Budget.BudgetNo,
		"refunded_amount", result.Budget.RefundedAmount.String(),
		"voided_codes", result.VoidedCodes,
		"reason", result.Budget.CancelReason,
	)
	return result, nil
}

// CancelTx 在调用方事务中撤销预算
func (s *CampaignBudgetService) CancelTx(tx *gorm.DB, budgetID uint, reason string) (*CancelBudgetResult, error) {
	repo := s.budgetRepo.WithTx(tx)
	budget, err := repo.GetByIDForUpdate(budgetID)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return nil, ErrBudgetNotFound
	}
	if budget.Status != constants.CampaignBudgetStatusActive {
		return nil, ErrBudgetNotActive
	}

	result := &CancelBudgetResult{Budget: budget}
	remaining := budget.LockedAmount
	if remaining.IsPositive() {
		_, refund, err := s.ledger.UnlockRefundTx(tx, LedgerEntryInput{
			Owner:       VendorOwner(budget.VendorID),
			Amount:      remaining,
			ReferenceID: buildBudgetReference(budget.BudgetNo, "refund"),
			Metadata:    map[string]interface{}{"budget_no": budget.BudgetNo},
			Remark:      cleanRemark(reason, "campaign budget refund"),
		})
		if err != nil {
			return nil, err
		}
		result.Refund = refund
	}

	now := s.now()
	refunded := budget.RefundedAmount.Add(remaining)
	reason = strings.TrimSpace(reason)
	if err := repo.UpdateWithVersion(budget, map[string]interface{}{
		"locked_amount":   models.ZeroMoney(),
		"refunded_amount": refunded,
		"status":          constants.CampaignBudgetStatusRefunded,
		"cancel_reason":   reason,
		"refunded_at":     now,
		"updated_at":      now,
	}); err != nil {
		return nil, err
	}
	budget.LockedAmount = models.ZeroMoney()
	budget.RefundedAmount = refunded
	budget.Status = constants.CampaignBudgetStatusRefunded
	budget.CancelReason = reason
	budget.RefundedAt = timePtr(now)
	budget.UpdatedAt = now

	voided, err := s.inventory.VoidByBudgetTx(tx, budget)
	if err != nil {
		return nil, err
	}
	result.VoidedCodes = voided
	return result, nil
}

// GetBudget 获取预算
func (s *CampaignBudgetService) GetBudget(id uint) (*models.CampaignBudget, error) {
	budget, err := s.budgetRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if budget == nil {
		return nil, ErrBudgetNotFound
	}
	return budget, nil
}

// ListBudgets 分页查询预算
func (s *CampaignBudgetService) ListBudgets(filter repository.CampaignBudgetListFilter) ([]models.CampaignBudget, int64, error) {
	return s.budgetRepo.List(filter)
}

func (s *CampaignBudgetService) checkCampaignOwner(tx *gorm.DB, campaignID, vendorID uint) error {
	if s.campaignRepo == nil {
		return nil
	}
	campaign, err := s.campaignRepo.WithTx(tx).GetByID(campaignID)
	if err != nil {
		return err
	}
	if campaign == nil || campaign.VendorID != vendorID {
		return ErrCampaignUnavailable
	}
	return nil
}

func (s *CampaignBudgetService) afterOpen(ctx context.Context, budget *models.CampaignBudget, lock *models.WalletTransaction) {
	metrics.BudgetTransitions.WithLabelValues(constants.CampaignBudgetStatusActive).Inc()
	s.ledger.Committed(ctx, lock)
	if lock != nil {
		s.enqueueInvoice(lock.ID)
	}
	if budget != nil {
		logger.Debugw("campaign_budget_opened", "budget_no", budget.BudgetNo, "vendor_id", budget.VendorID)
	}
}

// enqueueInvoice 票据投递失败只记录日志，账本结果已提交
func (s *CampaignBudgetService) enqueueInvoice(txnID uint) {
	if txnID == 0 {
		return
	}
	if err := s.queueClient.EnqueueInvoiceGenerate(queue.InvoiceGeneratePayload{TransactionID: txnID}); err != nil {
		logger.Warnw("invoice_enqueue_failed", "transaction_id", txnID, "error", err)
	}
}

func buildBudgetReference(budgetNo, action string) string {
	return fmt.Sprintf("budget:%s:%s", budgetNo, action)
}
