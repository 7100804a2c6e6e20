package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/cashback-next/internal/constants"
	"github.com/cashback-next/internal/logger"
	"github.com/cashback-next/internal/models"

	"gorm.io/gorm"
)

// LegacyReconcileReport 历史承诺对账结果
type LegacyReconcileReport struct {
	Groups        int          `json:"groups"`
	BudgetsOpened int          `json:"budgets_opened"`
	CodesAttached int64        `json:"codes_attached"`
	LocksSkipped  int          `json:"locks_skipped"`
	LockedTotal   models.Money `json:"locked_total"`
	SpentTotal    models.Money `json:"spent_total"`
	BudgetIDs     []uint       `json:"budget_ids"`
}

type legacyGroupKey struct {
	CampaignID uint
	VendorID   uint
}

type legacyGroup struct {
	key         legacyGroupKey
	codeIDs     []uint
	outstanding models.Money
	redeemed    models.Money
}

// ReconcileLegacyCommitments 为已绑定活动但从未建预算的码补建 legacy_import 预算；
// 码被写入预算 ID 后不会再次参与，重复执行是空操作
func (s *CampaignBudgetService) ReconcileLegacyCommitments(ctx context.Context) (*LegacyReconcileReport, error) {
	report := &LegacyReconcileReport{
		LockedTotal: models.ZeroMoney(),
		SpentTotal:  models.ZeroMoney(),
		BudgetIDs:   []uint{},
	}
	codes, err := s.qrRepo.ListUnbudgetedCommitments()
	if err != nil {
		return nil, err
	}
	groups := groupLegacyCommitments(codes)
	report.Groups = len(groups)

	for _, group := range groups {
		budget, skipped, attached, err := s.reconcileGroup(ctx, group)
		if err != nil {
			logger.Errorw("legacy_reconcile_group_failed",
				"campaign_id", group.key.CampaignID,
				"vendor_id", group.key.VendorID,
				"error", err,
			)
			return report, err
		}
		if budget == nil {
			continue
		}
		report.BudgetsOpened++
		report.CodesAttached += attached
		report.LockedTotal = report.LockedTotal.Add(budget.LockedAmount)
		report.SpentTotal = report.SpentTotal.Add(budget.SpentAmount)
		report.BudgetIDs = append(report.BudgetIDs, budget.ID)
		if skipped {
			report.LocksSkipped++
		}
	}
	logger.Infow("legacy_reconcile_completed",
		"groups", report.Groups,
		"budgets_opened", report.BudgetsOpened,
		"codes_attached", report.CodesAttached,
		"locks_skipped", report.LocksSkipped,
		"locked_total", report.LockedTotal.String(),
	)
	return report, nil
}

func (s *CampaignBudgetService) reconcileGroup(ctx context.Context, group legacyGroup) (*models.CampaignBudget, bool, int64, error) {
	var (
		budget   *models.CampaignBudget
		lock     *models.WalletTransaction
		skipped  bool
		attached int64
	)
	err := s.transactor.Transaction(ctx, func(tx *gorm.DB) error {
		budget, lock, skipped, attached = nil, nil, false, 0
		now := s.now()
		budgetNo, err := generateSerialNo("LGB", now)
		if err != nil {
			return err
		}
		reference := buildLegacyReference(group)
		if group.outstanding.IsPositive() {
			existing, err := s.ledger.FindTransactionTx(tx, constants.WalletTxnCategoryCampaignLock, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				skipped = true
			} else {
				_, txn, err := s.ledger.LockTx(tx, LedgerEntryInput{
					Owner:       VendorOwner(group.key.VendorID),
					Amount:      group.outstanding,
					ReferenceID: reference,
					Metadata:    map[string]interface{}{"budget_no": budgetNo, "campaign_id": group.key.CampaignID},
					Remark:      "legacy commitment import",
				})
				if err != nil {
					return err
				}
				lock = txn
			}
		}

		b := &models.CampaignBudget{
			BudgetNo:            budgetNo,
			CampaignID:          uintPtr(group.key.CampaignID),
			VendorID:            group.key.VendorID,
			InitialLockedAmount: group.outstanding.Add(group.redeemed),
			LockedAmount:        group.outstanding,
			SpentAmount:         group.redeemed,
			RefundedAmount:      models.ZeroMoney(),
			Status:              constants.CampaignBudgetStatusActive,
			Source:              constants.CampaignBudgetSourceLegacyImport,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if !group.outstanding.IsPositive() {
			b.Status = constants.CampaignBudgetStatusClosed
			b.ClosedAt = timePtr(now)
		}
		if err := s.budgetRepo.WithTx(tx).Create(b); err != nil {
			return fmt.Errorf("create legacy budget: %w", err)
		}
		n, err := s.qrRepo.WithTx(tx).AttachBudget(group.codeIDs, b.ID, now)
		if err != nil {
			return err
		}
		if n != int64(len(group.codeIDs)) {
			// 其它对账进程已处理过部分码
			return ErrConcurrentReconcile
		}
		budget, attached = b, n
		return nil
	})
	if err != nil {
		return nil, false, 0, err
	}
	s.ledger.Committed(ctx, lock)
	return budget, skipped, attached, nil
}

// groupLegacyCommitments 按 (活动, 商户) 分组并以十进制累加金额
func groupLegacyCommitments(codes []models.QRCode) []legacyGroup {
	index := make(map[legacyGroupKey]*legacyGroup)
	for _, code := range codes {
		if code.CampaignID == nil {
			continue
		}
		key := legacyGroupKey{CampaignID: *code.CampaignID, VendorID: code.VendorID}
		group, ok := index[key]
		if !ok {
			group = &legacyGroup{key: key, outstanding: models.ZeroMoney(), redeemed: models.ZeroMoney()}
			index[key] = group
		}
		group.codeIDs = append(group.codeIDs, code.ID)
		if code.Status == constants.QRCodeStatusRedeemed {
			group.redeemed = group.redeemed.Add(code.CashbackAmount)
		} else {
			group.outstanding = group.outstanding.Add(code.CashbackAmount)
		}
	}
	groups := make([]legacyGroup, 0, len(index))
	for _, group := range index {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].key.CampaignID != groups[j].key.CampaignID {
			return groups[i].key.CampaignID < groups[j].key.CampaignID
		}
		return groups[i].key.VendorID < groups[j].key.VendorID
	})
	return groups
}

// buildLegacyReference 同一活动后续新增的未建预算码以首个码 ID 区分
func buildLegacyReference(group legacyGroup) string {
	first := uint(0)
	for _, id := range group.codeIDs {
		if first == 0 || id < first {
			first = id
		}
	}
	return fmt.Sprintf("legacy:campaign:%d:%d", group.key.CampaignID, first)
}
