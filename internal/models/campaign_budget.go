package models

import "time"

// CampaignBudget 活动预算托管单
type CampaignBudget struct {
	ID                  uint       `gorm:"primarykey" json:"id"`                                       // 主键
	BudgetNo            string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"budget_no"`     // 预算编号
	CampaignID          *uint      `gorm:"index" json:"campaign_id,omitempty"`                         // 活动ID（弱关联）
	VendorID            uint       `gorm:"index;not null" json:"vendor_id"`                            // 商户ID
	InitialLockedAmount Money      `gorm:"type:decimal(20,2);not null" json:"initial_locked_amount"`   // 初始锁定额
	LockedAmount        Money      `gorm:"type:decimal(20,2);not null" json:"locked_amount"`           // 剩余锁定额
	SpentAmount         Money      `gorm:"type:decimal(20,2);not null;default:0" json:"spent_amount"`  // 已发放
	RefundedAmount      Money      `gorm:"type:decimal(20,2);not null;default:0" json:"refunded_amount"` // 已退回
	Status              string     `gorm:"type:varchar(16);index;not null" json:"status"`              // 状态
	Source              string     `gorm:"type:varchar(24);not null" json:"source"`                    // 来源
	CancelReason        string     `gorm:"type:varchar(255)" json:"cancel_reason"`                     // 取消原因
	ClosedAt            *time.Time `gorm:"index" json:"closed_at"`                                     // 耗尽关闭时间
	RefundedAt          *time.Time `gorm:"index" json:"refunded_at"`                                   // 退款时间
	Version             int64      `gorm:"not null;default:0" json:"-"`                                // 乐观锁版本
	CreatedAt           time.Time  `gorm:"index" json:"created_at"`                                    // 创建时间
	UpdatedAt           time.Time  `gorm:"index" json:"updated_at"`                                    // 更新时间
}

// TableName 指定表名
func (CampaignBudget) TableName() string {
	return "campaign_budgets"
}

// Conserved 校验 initial = locked + spent + refunded（容差 0.01）
func (b CampaignBudget) Conserved() bool {
	sum := b.LockedAmount.Add(b.SpentAmount).Add(b.RefundedAmount)
	return b.InitialLockedAmount.Sub(sum).Decimal.Abs().LessThanOrEqual(MustMoney("0.01").Decimal)
}
