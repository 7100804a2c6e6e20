package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/metrics"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"

	"gorm.io/gorm"
)

// RedemptionService 扫码核销服务
type RedemptionService struct {
	transactor   repository.Transactor
	qrRepo       repository.QRCodeRepository
	campaignRepo repository.CampaignRepository
	eventRepo    repository.RedemptionEventRepository
	budgets      *CampaignBudgetService
	ledger       *LedgerService
	payouts      *PayoutService
	previewDir   CampaignDirectory
	now          func() time.Time
}

// RedemptionLocation 扫码时采集的位置信息
type RedemptionLocation struct {
	Latitude       *float64  `json:"latitude,omitempty"`
	Longitude      *float64  `json:"longitude,omitempty"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	City           string    `json:"city,omitempty"`
	Region         string    `json:"region,omitempty"`
	Country        string    `json:"country,omitempty"`
	IPAddress      string    `json:"ip_address,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

// ScanInput 扫码核销输入
type ScanInput struct {
	CodeHash string
	UserID   uint
	Location RedemptionLocation
}

// PayoutSummary 核销结果中的出款信息
type PayoutSummary struct {
	RequestID   uint   `json:"request_id"`
	Method      string `json:"method"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
}

// RedemptionResult 核销结果
type RedemptionResult struct {
	CodeHash      string         `json:"code_hash"`
	Amount        models.Money   `json:"amount"`
	Currency      string         `json:"currency"`
	CampaignID    uint           `json:"campaign_id"`
	CampaignTitle string         `json:"campaign_title"`
	BrandName     string         `json:"brand_name"`
	TransactionID uint           `json:"transaction_id"`
	Payout        *PayoutSummary `json:"payout,omitempty"`
	PayoutStatus  string         `json:"payout_status"`
	Wallet        WalletSnapshot `json:"wallet"`
	RedeemedAt    time.Time      `json:"redeemed_at"`
}

// PreviewResult 预览结果，Valid 为 false 时 Reason 为错误码
type PreviewResult struct {
	CodeHash      string       `json:"code_hash"`
	Valid         bool         `json:"valid"`
	Reason        string       `json:"reason,omitempty"`
	Status        string       `json:"status"`
	Amount        models.Money `json:"amount"`
	CampaignID    uint         `json:"campaign_id,omitempty"`
	CampaignTitle string       `json:"campaign_title,omitempty"`
	BrandName     string       `json:"brand_name,omitempty"`
	StartDate     *time.Time   `json:"start_date,omitempty"`
	EndDate       *time.Time   `json:"end_date,omitempty"`
}

type redeemOutcome struct {
	code     *models.QRCode
	campaign *CampaignLabel
	budget   *models.CampaignBudget
	spend    *models.WalletTransaction
	credit   *models.WalletTransaction
	wallet   *models.Wallet
	payout   *InstantPayout
	at       time.Time
}

// NewRedemptionService 创建核销服务
func NewRedemptionService(
	transactor repository.Transactor,
	qrRepo repository.QRCodeRepository,
	campaignRepo repository.CampaignRepository,
	eventRepo repository.RedemptionEventRepository,
	budgets *CampaignBudgetService,
	ledger *LedgerService,
	payouts *PayoutService,
	previewDir CampaignDirectory,
) *RedemptionService {
	if previewDir == nil {
		previewDir = NewRepositoryCampaignDirectory(campaignRepo)
	}
	return &RedemptionService{
		transactor:   transactor,
		qrRepo:       qrRepo,
		campaignRepo: campaignRepo,
		eventRepo:    eventRepo,
		budgets:      budgets,
		ledger:       ledger,
		payouts:      payouts,
		previewDir:   previewDir,
		now:          time.Now,
	}
}

// ScanAndRedeem 核销二维码：预校验、事务内复核、消耗预算、条件更新状态、入账、可选即时出款、写审计事件
func (s *RedemptionService) ScanAndRedeem(ctx context.Context, in ScanInput) (*RedemptionResult, error) {
	hash := strings.TrimSpace(in.CodeHash)
	if hash == "" || in.UserID == 0 {
		return nil, ErrInvalidInput
	}
	code, err := s.qrRepo.GetByHash(hash)
	if err != nil {
		return nil, err
	}
	if code == nil {
		s.observe(ErrCodeNotFound)
		return nil, ErrCodeNotFound
	}

	campaign, err := s.lookupCampaign(s.campaignRepo, code)
	if err != nil {
		return nil, err
	}
	if err := validateRedeemable(code, campaign, s.now()); err != nil {
		s.recordFailure(ctx, code, in, err)
		return nil, err
	}

	var outcome redeemOutcome
	err = s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		outcome = redeemOutcome{}
		res, err := s.redeemTx(tx, hash, in)
		if err != nil {
			return err
		}
		outcome = *res
		return nil
	})
	if err != nil {
		if IsBusinessError(err) {
			lost := code
			if latest, readErr := s.qrRepo.GetByHash(hash); readErr == nil && latest != nil {
				lost = latest
			}
			s.recordFailure(ctx, lost, in, err)
		} else {
			logger.Errorw("redemption_failed", "code_hash", hash, "user_id", in.UserID, "error", err)
		}
		return nil, err
	}

	s.ledger.Committed(ctx, outcome.spend, outcome.credit)
	s.payouts.Enqueue(ctx, outcome.payout)
	s.observe(nil)
	if outcome.budget != nil && outcome.budget.Status == constants.CampaignBudgetStatusClosed {
		metrics.BudgetTransitions.WithLabelValues(constants.CampaignBudgetStatusClosed).Inc()
	}
	logger.Infow("qr_redeemed",
		"code_hash", hash,
		"user_id", in.UserID,
		"campaign_id", outcome.campaign.ID,
		"amount", outcome.code.CashbackAmount.String(),
		"instant_payout", outcome.payout != nil,
	)
	return s.buildResult(&outcome), nil
}

func (s *RedemptionService) redeemTx(tx *gorm.DB, hash string, in ScanInput) (*redeemOutcome, error) {
	qrRepo := s.qrRepo.WithTx(tx)
	now := s.now()
	code, err := qrRepo.GetByHashForUpdate(hash)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrCodeNotFound
	}
	campaign, err := s.lookupCampaign(s.campaignRepo.WithTx(tx), code)
	if err != nil {
		return nil, err
	}
	if err := validateRedeemable(code, campaign, now); err != nil {
		return nil, err
	}
	outcome := &redeemOutcome{code: code, campaign: campaign, at: now}

	if code.CampaignBudgetID != nil {
		budget, spend, err := s.budgets.SpendTx(tx, *code.CampaignBudgetID, code.CashbackAmount, hash)
		if err != nil {
			if errors.Is(err, ErrBudgetNotActive) || errors.Is(err, ErrBudgetNotFound) || errors.Is(err, ErrInsufficientLockedFunds) {
				return nil, ErrBudgetExhausted
			}
			if errors.Is(err, ErrDuplicateReference) {
				return nil, ErrAlreadyRedeemed
			}
			return nil, err
		}
		outcome.budget = budget
		outcome.spend = spend
	}

	affected, err := qrRepo.MarkRedeemed(code.ID, in.UserID, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, s.lostRace(qrRepo, code.ID)
	}
	code.Status = constants.QRCodeStatusRedeemed
	code.RedeemedByUserID = uintPtr(in.UserID)
	code.RedeemedAt = timePtr(now)

	wallet, credit, err := s.ledger.CreditAvailableTx(tx, LedgerEntryInput{
		Owner:       UserOwner(in.UserID),
		Amount:      code.CashbackAmount,
		Category:    constants.WalletTxnCategoryCashbackPayout,
		ReferenceID: hash,
		Metadata:    map[string]interface{}{"campaign_id": campaign.ID, "qr_code_id": code.ID},
		Remark:      "cashback for " + campaign.Title,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return nil, ErrAlreadyRedeemed
		}
		return nil, err
	}
	outcome.credit = credit
	outcome.wallet = wallet

	payout, err := s.payouts.QueueInstantTx(tx, in.UserID, code.CashbackAmount, hash)
	if err != nil {
		return nil, err
	}
	if payout != nil {
		outcome.payout = payout
		outcome.wallet = payout.Wallet
	}

	event := s.newEvent(constants.RedemptionEventRedeemSuccess, "", code, in.UserID, in.Location, now)
	if err := s.eventRepo.WithTx(tx).Create(event); err != nil {
		return nil, err
	}
	return outcome, nil
}

// lostRace 条件更新未命中时按最新状态区分失败原因
func (s *RedemptionService) lostRace(qrRepo *repository.GormQRCodeRepository, id uint) error {
	latest, err := qrRepo.GetByID(id)
	if err != nil {
		return err
	}
	if latest != nil && latest.Status == constants.QRCodeStatusVoid {
		return ErrCodeNotActive
	}
	return ErrAlreadyRedeemed
}

// PreviewQR 只读预校验，对存在的码总是写入 preview 事件
func (s *RedemptionService) PreviewQR(ctx context.Context, codeHash string, userID uint, location RedemptionLocation) (*PreviewResult, error) {
	hash := strings.TrimSpace(codeHash)
	if hash == "" {
		return nil, ErrInvalidInput
	}
	code, err := s.qrRepo.GetByHash(hash)
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrCodeNotFound
	}
	now := s.now()
	var campaign *CampaignLabel
	if code.CampaignID != nil {
		campaign, err = s.previewDir.GetCampaign(ctx, *code.CampaignID)
		if err != nil {
			return nil, err
		}
	}
	result := &PreviewResult{
		CodeHash: hash,
		Status:   code.Status,
		Amount:   code.CashbackAmount,
		Valid:    true,
	}
	if campaign != nil {
		result.CampaignID = campaign.ID
		result.CampaignTitle = campaign.Title
		result.BrandName = campaign.BrandName
		result.StartDate = campaign.StartDate
		result.EndDate = campaign.EndDate
	}
	if verr := validateRedeemable(code, campaign, now); verr != nil {
		result.Valid = false
		result.Reason = ErrorCode(verr)
	}
	event := s.newEvent(constants.RedemptionEventPreview, result.Reason, code, userID, location, now)
	if err := s.eventRepo.Create(event); err != nil {
		logger.Warnw("redemption_event_write_failed", "type", event.Type, "code_hash", hash, "error", err)
	}
	return result, nil
}

// VerifyQR 与 PreviewQR 相同，但校验失败时返回对应的业务错误
func (s *RedemptionService) VerifyQR(ctx context.Context, codeHash string, userID uint, location RedemptionLocation) (*PreviewResult, error) {
	result, err := s.PreviewQR(ctx, codeHash, userID, location)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		return result, reasonError(result.Reason)
	}
	return result, nil
}

// ListEvents 分页查询核销事件
func (s *RedemptionService) ListEvents(filter repository.RedemptionEventListFilter) ([]models.RedemptionEvent, int64, error) {
	return s.eventRepo.List(filter)
}

func (s *RedemptionService) lookupCampaign(repo repository.CampaignRepository, code *models.QRCode) (*CampaignLabel, error) {
	if code.CampaignID == nil {
		return nil, nil
	}
	campaign, err := repo.GetByID(*code.CampaignID)
	if err != nil || campaign == nil {
		return nil, err
	}
	return labelFromCampaign(campaign), nil
}

// recordFailure 写入失败审计事件，写入失败只记录日志
func (s *RedemptionService) recordFailure(ctx context.Context, code *models.QRCode, in ScanInput, cause error) {
	s.observe(cause)
	if errors.Is(cause, ErrCampaignUnavailable) && code.CampaignID != nil {
		s.forgetCampaign(ctx, *code.CampaignID)
	}
	eventType := constants.RedemptionEventInvalid
	if errors.Is(cause, ErrAlreadyRedeemed) {
		eventType = constants.RedemptionEventAlreadyRedeemed
	}
	event := s.newEvent(eventType, ErrorCode(cause), code, in.UserID, in.Location, s.now())
	if err := s.eventRepo.Create(event); err != nil {
		logger.Warnw("redemption_event_write_failed", "type", eventType, "code_hash", code.UniqueHash, "error", err)
	}
	logger.Infow("qr_redeem_rejected", "code_hash", code.UniqueHash, "user_id", in.UserID, "reason", ErrorCode(cause))
}

// InvalidateCampaign 丢弃预览使用的活动缓存，活动下线后调用
func (s *RedemptionService) InvalidateCampaign(ctx context.Context, campaignID uint) error {
	if campaignID == 0 {
		return ErrInvalidInput
	}
	invalidator, ok := s.previewDir.(CampaignInvalidator)
	if !ok {
		return nil
	}
	return invalidator.Invalidate(ctx, campaignID)
}

func (s *RedemptionService) forgetCampaign(ctx context.Context, campaignID uint) {
	if err := s.InvalidateCampaign(ctx, campaignID); err != nil {
		logger.Warnw("campaign_label_cache_invalidate_failed", "campaign_id", campaignID, "error", err)
	}
}

func (s *RedemptionService) observe(err error) {
	metrics.Redemptions.WithLabelValues(metrics.Outcome(ErrorCode(err))).Inc()
}

func (s *RedemptionService) newEvent(eventType, reason string, code *models.QRCode, userID uint, location RedemptionLocation, now time.Time) *models.RedemptionEvent {
	captured := location.CapturedAt
	if captured.IsZero() {
		captured = now
	}
	event := &models.RedemptionEvent{
		Type:           eventType,
		Reason:         reason,
		CodeHash:       code.UniqueHash,
		QRCodeID:       uintPtr(code.ID),
		CampaignID:     code.CampaignID,
		Amount:         code.CashbackAmount,
		Latitude:       location.Latitude,
		Longitude:      location.Longitude,
		AccuracyMeters: location.AccuracyMeters,
		City:           strings.TrimSpace(location.City),
		Region:         strings.TrimSpace(location.Region),
		Country:        strings.TrimSpace(location.Country),
		IPAddress:      strings.TrimSpace(location.IPAddress),
		UserAgent:      truncate(location.UserAgent, 255),
		CapturedAt:     captured,
		CreatedAt:      now,
	}
	if userID != 0 {
		event.UserID = uintPtr(userID)
	}
	return event
}

func (s *RedemptionService) buildResult(outcome *redeemOutcome) *RedemptionResult {
	result := &RedemptionResult{
		CodeHash:      outcome.code.UniqueHash,
		Amount:        outcome.code.CashbackAmount,
		Currency:      outcome.credit.Currency,
		CampaignID:    outcome.campaign.ID,
		CampaignTitle: outcome.campaign.Title,
		BrandName:     outcome.campaign.BrandName,
		TransactionID: outcome.credit.ID,
		PayoutStatus:  constants.PayoutStatusNone,
		Wallet:        s.ledger.GetSnapshot(outcome.wallet),
		RedeemedAt:    outcome.at,
	}
	if outcome.payout != nil {
		req := outcome.payout.Request
		result.PayoutStatus = req.Status
		result.Payout = &PayoutSummary{
			RequestID:   req.ID,
			Method:      req.MethodType,
			Destination: maskDestination(req.Destination),
			Status:      req.Status,
		}
	}
	return result
}

// validateRedeemable 顺序：已核销、非可核销状态、活动缺失、活动窗口
func validateRedeemable(code *models.QRCode, campaign *CampaignLabel, now time.Time) error {
	if code.Status == constants.QRCodeStatusRedeemed {
		return ErrAlreadyRedeemed
	}
	if !isRedeemableStatus(code.Status) || !code.CashbackAmount.IsPositive() {
		return ErrCodeNotActive
	}
	if code.CampaignID == nil || campaign == nil {
		return ErrCampaignUnavailable
	}
	if !campaign.WithinWindow(now) {
		return ErrCampaignWindowClosed
	}
	return nil
}

func isRedeemableStatus(status string) bool {
	for _, candidate := range constants.QRCodeRedeemableStatuses {
		if status == candidate {
			return true
		}
	}
	return false
}

func reasonError(code string) error {
	for _, err := range []*BusinessError{
		ErrAlreadyRedeemed,
		ErrCodeNotActive,
		ErrCampaignUnavailable,
		ErrCampaignWindowClosed,
	} {
		if err.Code == code {
			return err
		}
	}
	return ErrCodeNotActive
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
