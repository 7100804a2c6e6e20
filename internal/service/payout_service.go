package service

import (
	"context"
	"errors"
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

const payoutSweepBatchSize = 100

// PayoutRail 外部出款通道，账本只记录出款义务
type PayoutRail interface {
	Send(ctx context.Context, request *models.PayoutRequest) (string, error)
}

// LoggingPayoutRail 仅记录日志的出款通道
type LoggingPayoutRail struct{}

// Send 记录出款请求并视为已受理
func (LoggingPayoutRail) Send(_ context.Context, request *models.PayoutRequest) (string, error) {
	logger.Named("payout_rail").Infow("payout_rail_accepted",
		"payout_request_id", request.ID,
		"method", request.MethodType,
		"destination", maskDestination(request.Destination),
		"amount", request.Amount.String(),
		"reference", request.Reference,
	)
	return fmt.Sprintf("mock-%d", request.ID), nil
}

// PayoutService 出款服务
type PayoutService struct {
	transactor    repository.Transactor
	payoutRepo    repository.PayoutRepository
	ledger        *LedgerService
	rail          PayoutRail
	queueClient   *queue.Client
	instantPayout bool
	now           func() time.Time
}

// InstantPayout 核销时同步登记的出款
type InstantPayout struct {
	Request    *models.PayoutRequest
	Withdrawal *models.WalletTransaction
	Wallet     *models.Wallet
}

// NewPayoutService 创建出款服务
func NewPayoutService(
	transactor repository.Transactor,
	payoutRepo repository.PayoutRepository,
	ledger *LedgerService,
	rail PayoutRail,
	queueClient *queue.Client,
	instantPayout bool,
) *PayoutService {
	if rail == nil {
		rail = LoggingPayoutRail{}
	}
	return &PayoutService{
		transactor:    transactor,
		payoutRepo:    payoutRepo,
		ledger:        ledger,
		rail:          rail,
		queueClient:   queueClient,
		instantPayout: instantPayout,
		now:           time.Now,
	}
}

// QueueInstantTx 用户配置了主出款方式时，在核销事务内扣回同额并登记排队中的出款请求；
// 不满足条件时返回 nil
func (s *PayoutService) QueueInstantTx(tx *gorm.DB, userID uint, amount models.Money, codeHash string) (*InstantPayout, error) {
	if s == nil || !s.instantPayout {
		return nil, nil
	}
	method, err := s.payoutRepo.WithTx(tx).GetPrimaryMethod(userID)
	if err != nil {
		return nil, err
	}
	if method == nil || !isPayoutMethodSupported(method.Type) || strings.TrimSpace(method.Value) == "" {
		return nil, nil
	}
	reference := buildPayoutReference(codeHash)
	wallet, withdrawal, err := s.ledger.WithdrawTx(tx, LedgerEntryInput{
		Owner:       UserOwner(userID),
		Amount:      amount,
		ReferenceID: reference,
		Metadata:    map[string]interface{}{"method": method.Type},
		Remark:      "instant cashback payout",
	})
	if err != nil {
		return nil, err
	}
	now := s.now()
	request := &models.PayoutRequest{
		UserID:      userID,
		WalletTxnID: withdrawal.ID,
		Amount:      amount,
		Currency:    withdrawal.Currency,
		MethodType:  method.Type,
		Destination: strings.TrimSpace(method.Value),
		Reference:   reference,
		Status:      constants.PayoutStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.payoutRepo.WithTx(tx).CreateRequest(request); err != nil {
		return nil, fmt.Errorf("create payout request: %w", err)
	}
	return &InstantPayout{Request: request, Withdrawal: withdrawal, Wallet: wallet}, nil
}

// Enqueue 提交后投递出款任务，投递失败由定时清扫补发
func (s *PayoutService) Enqueue(ctx context.Context, payout *InstantPayout) {
	if s == nil || payout == nil || payout.Request == nil {
		return
	}
	s.ledger.Committed(ctx, payout.Withdrawal)
	metrics.Payouts.WithLabelValues(constants.PayoutStatusQueued).Inc()
	if err := s.queueClient.EnqueuePayoutDispatch(queue.PayoutDispatchPayload{PayoutRequestID: payout.Request.ID}); err != nil {
		logger.Warnw("payout_enqueue_failed", "payout_request_id", payout.Request.ID, "error", err)
	}
	if err := s.queueClient.EnqueueInvoiceGenerate(queue.InvoiceGeneratePayload{TransactionID: payout.Withdrawal.ID}); err != nil {
		logger.Warnw("invoice_enqueue_failed", "transaction_id", payout.Withdrawal.ID, "error", err)
	}
}

// Dispatch 将排队中的请求交给出款通道；通道失败时标记 failed 并冲回用户钱包
func (s *PayoutService) Dispatch(ctx context.Context, requestID uint) (*models.PayoutRequest, error) {
	request, err := s.payoutRepo.GetRequestByID(requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrPayoutRequestNotFound
	}
	if request.Status != constants.PayoutStatusQueued {
		return request, nil
	}
	now := s.now()
	affected, err := s.payoutRepo.TransitionRequest(request.ID, constants.PayoutStatusQueued, constants.PayoutStatusDispatched, map[string]interface{}{
		"dispatched_at": now,
	})
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		// 已被其它 worker 处理
		return s.payoutRepo.GetRequestByID(request.ID)
	}
	request.Status = constants.PayoutStatusDispatched
	request.DispatchedAt = timePtr(now)

	externalRef, sendErr := s.rail.Send(ctx, request)
	if sendErr == nil {
		metrics.Payouts.WithLabelValues(constants.PayoutStatusDispatched).Inc()
		logger.Infow("payout_dispatched", "payout_request_id", request.ID, "external_ref", externalRef)
		return request, nil
	}

	logger.Warnw("payout_rail_failed", "payout_request_id", request.ID, "error", sendErr)
	reversal, err := s.reverse(ctx, request, sendErr)
	if err != nil {
		return nil, err
	}
	metrics.Payouts.WithLabelValues(constants.PayoutStatusFailed).Inc()
	s.ledger.Committed(ctx, reversal)
	return request, nil
}

func (s *PayoutService) reverse(ctx context.Context, request *models.PayoutRequest, cause error) (*models.WalletTransaction, error) {
	reason := strings.TrimSpace(cause.Error())
	if len(reason) > 255 {
		reason = reason[:255]
	}
	var reversal *models.WalletTransaction
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		reversal = nil
		affected, err := s.payoutRepo.WithTx(tx).TransitionRequest(request.ID, constants.PayoutStatusDispatched, constants.PayoutStatusFailed, map[string]interface{}{
			"failure_reason": reason,
		})
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		_, txn, err := s.ledger.CreditAvailableTx(tx, LedgerEntryInput{
			Owner:       UserOwner(request.UserID),
			Amount:      request.Amount,
			Category:    constants.WalletTxnCategoryPayoutReversal,
			ReferenceID: fmt.Sprintf("payout:%d:reversal", request.ID),
			Metadata:    map[string]interface{}{"payout_reference": request.Reference},
			Remark:      "payout rail failure reversal",
		})
		if err != nil && !errors.Is(err, ErrDuplicateReference) {
			return err
		}
		reversal = txn
		return nil
	})
	if err != nil {
		return nil, err
	}
	request.Status = constants.PayoutStatusFailed
	request.FailureReason = reason
	return reversal, nil
}

// SweepQueued 重新下发入队丢失的出款请求
func (s *PayoutService) SweepQueued(ctx context.Context, olderThan time.Duration) (int, error) {
	requests, err := s.payoutRepo.ListQueuedBefore(s.now().Add(-olderThan), payoutSweepBatchSize)
	if err != nil {
		return 0, err
	}
	dispatched := 0
	for _, request := range requests {
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}
		if _, err := s.Dispatch(ctx, request.ID); err != nil {
			logger.Warnw("payout_sweep_dispatch_failed", "payout_request_id", request.ID, "error", err)
			continue
		}
		dispatched++
	}
	if dispatched > 0 {
		logger.Infow("payout_sweep_completed", "dispatched", dispatched, "candidates", len(requests))
	}
	return dispatched, nil
}

// GetRequest 获取出款请求
func (s *PayoutService) GetRequest(id uint) (*models.PayoutRequest, error) {
	request, err := s.payoutRepo.GetRequestByID(id)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, ErrPayoutRequestNotFound
	}
	return request, nil
}

func isPayoutMethodSupported(methodType string) bool {
	switch methodType {
	case constants.PayoutMethodUPI, constants.PayoutMethodBank:
		return true
	default:
		return false
	}
}

func buildPayoutReference(codeHash string) string {
	return "payout:" + strings.TrimSpace(codeHash)
}

// maskDestination 仅保留末 4 位
func maskDestination(value string) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= 4 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-4) + string(runes[len(runes)-4:])
}
