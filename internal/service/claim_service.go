package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cashback-next/internal/config"
	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/metrics"
	"github.com/cashback-next/internal/models"
	"github.com/cashback-next/internal/repository"

	"golang.org/x/crypto/blake2b"
	"gorm.io/gorm"
)

const claimTokenBytes = 16

// ClaimService 一次性领取凭证服务
type ClaimService struct {
	transactor repository.Transactor
	claimRepo  repository.ClaimRepository
	walletRepo repository.WalletRepository
	ledger     *LedgerService
	cfg        config.ClaimConfig
	key        []byte
	now        func() time.Time
}

// CreateClaimInput 创建凭证输入
type CreateClaimInput struct {
	Amount models.Money
	TTL    time.Duration
	Note   string
}

// CreatedClaim 创建结果，Token 明文只在此返回一次
type CreatedClaim struct {
	Claim *models.Claim `json:"claim"`
	Token string        `json:"token"`
}

// ClaimRedemption 领取结果
type ClaimRedemption struct {
	Claim       *models.Claim             `json:"claim"`
	Transaction *models.WalletTransaction `json:"transaction"`
	Wallet      WalletSnapshot            `json:"wallet"`
	Replayed    bool                      `json:"replayed"`
}

// NewClaimService 创建领取凭证服务
func NewClaimService(
	transactor repository.Transactor,
	claimRepo repository.ClaimRepository,
	walletRepo repository.WalletRepository,
	ledger *LedgerService,
	cfg config.ClaimConfig,
) *ClaimService {
	if cfg.DefaultTTLMinutes <= 0 {
		cfg.DefaultTTLMinutes = 10
	}
	return &ClaimService{
		transactor: transactor,
		claimRepo:  claimRepo,
		walletRepo: walletRepo,
		ledger:     ledger,
		cfg:        cfg,
		key:        fingerprintKey(cfg.TokenPepper),
		now:        time.Now,
	}
}

// CreateClaim 生成凭证，库内只保存带密钥的指纹
func (s *ClaimService) CreateClaim(ctx context.Context, in CreateClaimInput) (*CreatedClaim, error) {
	if !in.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	ttl := in.TTL
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL()
	}
	secret, err := randomHex(claimTokenBytes)
	if err != nil {
		return nil, err
	}
	token := strings.ToUpper(strings.TrimSpace(s.cfg.TokenPrefix)) + strings.ToUpper(secret)
	now := s.now()
	claim := &models.Claim{
		TokenHash: s.fingerprint(token),
		TokenHint: token[len(token)-4:],
		Amount:    in.Amount,
		Currency:  s.ledger.Currency(),
		ExpiresAt: now.Add(ttl),
		Note:      strings.TrimSpace(in.Note),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		return s.claimRepo.WithTx(tx).Create(claim)
	}); err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	metrics.Claims.WithLabelValues("created").Inc()
	logger.Infow("claim_created", "claim_id", claim.ID, "amount", claim.Amount.String(), "expires_at", claim.ExpiresAt)
	return &CreatedClaim{Claim: claim, Token: token}, nil
}

// Redeem 领取凭证；同一用户重复领取返回原结果，其他用户返回已领取
func (s *ClaimService) Redeem(ctx context.Context, token string, userID uint) (*ClaimRedemption, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" || userID == 0 {
		return nil, ErrInvalidInput
	}
	hash := s.fingerprint(token)
	var result *ClaimRedemption
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		result = nil
		res, err := s.redeemTx(tx, hash, userID)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	metrics.Claims.WithLabelValues(claimOutcome(result, err)).Inc()
	if err != nil {
		return nil, err
	}
	if !result.Replayed {
		s.ledger.Committed(ctx, result.Transaction)
		logger.Infow("claim_redeemed", "claim_id", result.Claim.ID, "user_id", userID, "amount", result.Claim.Amount.String())
	}
	return result, nil
}

func (s *ClaimService) redeemTx(tx *gorm.DB, hash string, userID uint) (*ClaimRedemption, error) {
	repo := s.claimRepo.WithTx(tx)
	claim, err := repo.GetByTokenHashForUpdate(hash)
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	if claim.ClaimedAt != nil {
		return s.replay(tx, claim, userID)
	}
	now := s.now()
	if claim.IsExpired(now) {
		return nil, ErrClaimExpired
	}
	affected, err := repo.MarkClaimed(claim.ID, userID, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		latest, err := repo.GetByID(claim.ID)
		if err != nil {
			return nil, err
		}
		if latest == nil {
			return nil, ErrClaimNotFound
		}
		return s.replay(tx, latest, userID)
	}
	wallet, txn, err := s.ledger.CreditAvailableTx(tx, LedgerEntryInput{
		Owner:       UserOwner(userID),
		Amount:      claim.Amount,
		Category:    constants.WalletTxnCategoryClaimRedeem,
		ReferenceID: fmt.Sprintf("claim:%d", claim.ID),
		Metadata:    map[string]interface{}{"claim_id": claim.ID, "token_hint": claim.TokenHint},
		Remark:      "claim redeem",
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			return nil, ErrAlreadyRedeemed
		}
		return nil, err
	}
	if err := repo.SetWalletTxn(claim.ID, txn.ID); err != nil {
		return nil, err
	}
	claim.ClaimedAt = timePtr(now)
	claim.ClaimedByUserID = uintPtr(userID)
	claim.WalletTxnID = uintPtr(txn.ID)
	return &ClaimRedemption{Claim: claim, Transaction: txn, Wallet: s.ledger.GetSnapshot(wallet)}, nil
}

// replay 已领取的凭证：同一用户返回原流水
func (s *ClaimService) replay(tx *gorm.DB, claim *models.Claim, userID uint) (*ClaimRedemption, error) {
	if claim.ClaimedByUserID == nil || *claim.ClaimedByUserID != userID {
		return nil, ErrAlreadyRedeemed
	}
	walletRepo := s.walletRepo.WithTx(tx)
	var txn *models.WalletTransaction
	var err error
	if claim.WalletTxnID != nil {
		txn, err = walletRepo.GetTransactionByID(*claim.WalletTxnID)
	} else {
		txn, err = walletRepo.GetTransactionByReference(constants.WalletTxnCategoryClaimRedeem, fmt.Sprintf("claim:%d", claim.ID))
	}
	if err != nil {
		return nil, err
	}
	wallet, err := walletRepo.GetByOwner(UserOwner(userID))
	if err != nil {
		return nil, err
	}
	return &ClaimRedemption{Claim: claim, Transaction: txn, Wallet: s.ledger.GetSnapshot(wallet), Replayed: true}, nil
}

// Lookup 按明文凭证查询
func (s *ClaimService) Lookup(token string) (*models.Claim, error) {
	token = strings.ToUpper(strings.TrimSpace(token))
	if token == "" {
		return nil, ErrInvalidInput
	}
	claim, err := s.claimRepo.GetByTokenHash(s.fingerprint(token))
	if err != nil {
		return nil, err
	}
	if claim == nil {
		return nil, ErrClaimNotFound
	}
	return claim, nil
}

func (s *ClaimService) fingerprint(token string) string {
	h, err := blake2b.New256(s.key)
	if err != nil {
		sum := blake2b.Sum256(append(append([]byte{}, s.key...), token...))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(token))
	return hex.EncodeToString(h.Sum(nil))
}

// fingerprintKey blake2b 密钥最长 64 字节，超长时取其摘要
func fingerprintKey(pepper string) []byte {
	key := []byte(pepper)
	if len(key) > blake2b.Size {
		sum := blake2b.Sum256(key)
		return sum[:]
	}
	return key
}

func claimOutcome(result *ClaimRedemption, err error) string {
	if err != nil {
		return ErrorCode(err)
	}
	if result != nil && result.Replayed {
		return "replayed"
	}
	return "redeemed"
}
