package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceService 由账本流水投影票据，不写入任何账本状态
type InvoiceService struct {
	transactor  repository.Transactor
	invoiceRepo repository.InvoiceRepository
	walletRepo  repository.WalletRepository
	taxRate     decimal.Decimal
	now         func() time.Time
}

// NewInvoiceService 创建票据服务
func NewInvoiceService(
	transactor repository.Transactor,
	invoiceRepo repository.InvoiceRepository,
	walletRepo repository.WalletRepository,
	taxRate decimal.Decimal,
) *InvoiceService {
	if taxRate.LessThan(decimal.Zero) {
		taxRate = decimal.Zero
	}
	return &InvoiceService{
		transactor:  transactor,
		invoiceRepo: invoiceRepo,
		walletRepo:  walletRepo,
		taxRate:     taxRate,
		now:         time.Now,
	}
}

// InvoiceTypeForCategory 流水分类对应的票据类型，不开票的分类返回空串
func InvoiceTypeForCategory(category string) string {
	switch category {
	case constants.WalletTxnCategoryCampaignLock:
		return constants.InvoiceTypeCampaignFunding
	case constants.WalletTxnCategoryCampaignRefund:
		return constants.InvoiceTypeCampaignRefund
	case constants.WalletTxnCategoryFee:
		return constants.InvoiceTypeServiceFee
	case constants.WalletTxnCategoryWithdrawal:
		return constants.InvoiceTypePayoutStatement
	default:
		return ""
	}
}

// GenerateForTransaction 为流水生成票据，同一流水重复调用返回已有票据
func (s *InvoiceService) GenerateForTransaction(ctx context.Context, transactionID uint) (*models.Invoice, error) {
	txn, err := s.walletRepo.GetTransactionByID(transactionID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrInvalidInput
	}
	invoiceType := InvoiceTypeForCategory(txn.Category)
	if invoiceType == "" {
		return nil, ErrInvoiceSourceNotBilled
	}

	var invoice *models.Invoice
	err = s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		repo := s.invoiceRepo.WithTx(tx)
		existing, err := repo.GetByTransactionID(txn.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			invoice = existing
			return nil
		}
		built, err := s.build(txn, invoiceType)
		if err != nil {
			return err
		}
		if err := repo.Create(built); err != nil {
			if repository.IsUniqueViolation(err) {
				return repository.ErrConcurrentUpdate
			}
			return fmt.Errorf("create invoice: %w", err)
		}
		invoice = built
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Debugw("invoice_generated", "invoice_no", invoice.InvoiceNo, "transaction_id", txn.ID, "type", invoice.Type)
	return invoice, nil
}

// GetByTransaction 获取流水对应的票据
func (s *InvoiceService) GetByTransaction(transactionID uint) (*models.Invoice, error) {
	return s.invoiceRepo.GetByTransactionID(transactionID)
}

// ListInvoices 分页查询票据
func (s *InvoiceService) ListInvoices(filter repository.InvoiceListFilter) ([]models.Invoice, int64, error) {
	return s.invoiceRepo.List(filter)
}

func (s *InvoiceService) build(txn *models.WalletTransaction, invoiceType string) (*models.Invoice, error) {
	now := s.now()
	invoiceNo, err := generateSerialNo("INV", now)
	if err != nil {
		return nil, err
	}
	subtotal := txn.Amount
	tax := models.ZeroMoney()
	if invoiceType == constants.InvoiceTypeServiceFee {
		tax = models.NewMoneyFromDecimal(subtotal.Decimal.Mul(s.taxRate))
	}
	return &models.Invoice{
		InvoiceNo:     invoiceNo,
		Type:          invoiceType,
		OwnerType:     txn.OwnerType,
		OwnerID:       txn.OwnerID,
		TransactionID: txn.ID,
		Subtotal:      subtotal,
		Tax:           tax,
		Total:         subtotal.Add(tax),
		Currency:      txn.Currency,
		Status:        constants.InvoiceStatusIssued,
		IssuedAt:      now,
		CreatedAt:     now,
		Items: []models.InvoiceItem{{
			Description: cleanRemark(txn.Remark, invoiceType),
			Quantity:    1,
			UnitAmount:  subtotal,
			Amount:      subtotal,
			CreatedAt:   now,
		}},
	}, nil
}
