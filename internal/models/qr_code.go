package models

import "time"

// QRSeries 二维码批次
type QRSeries struct {
	ID         uint      `gorm:"primarykey" json:"id"`                                    // 主键
	SeriesCode string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"series_code"` // 批次号
	VendorID   uint      `gorm:"index;not null" json:"vendor_id"`                         // 商户ID
	Source     string    `gorm:"type:varchar(16);not null" json:"source"`                 // 来源（generated/import）
	TotalCount int       `gorm:"not null" json:"total_count"`                             // 总数量
	Note       string    `gorm:"type:text" json:"note"`                                   // 备注
	CreatedAt  time.Time `gorm:"index" json:"created_at"`                                 // 创建时间
	UpdatedAt  time.Time `gorm:"index" json:"updated_at"`                                 // 更新时间
}

// TableName 指定表名
func (QRSeries) TableName() string {
	return "qr_series"
}

// QRCode 一次性核销二维码
type QRCode struct {
	ID               uint       `gorm:"primarykey" json:"id"`                                                                 // 主键
	UniqueHash       string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"unique_hash"`                            // 印刷哈希
	VendorID         uint       `gorm:"index;not null" json:"vendor_id"`                                                      // 商户ID
	Status           string     `gorm:"type:varchar(16);index;not null" json:"status"`                                        // 状态
	CashbackAmount   Money      `gorm:"type:decimal(20,2);not null;default:0" json:"cashback_amount"`                         // 返现金额
	CampaignID       *uint      `gorm:"index" json:"campaign_id,omitempty"`                                                   // 活动ID
	CampaignBudgetID *uint      `gorm:"index" json:"campaign_budget_id,omitempty"`                                            // 预算ID
	RedeemedByUserID *uint      `gorm:"index" json:"redeemed_by_user_id,omitempty"`                                           // 核销用户
	RedeemedAt       *time.Time `gorm:"index" json:"redeemed_at"`                                                             // 核销时间
	SeriesCode       string     `gorm:"type:varchar(64);not null;index:idx_qr_series_order,priority:1" json:"series_code"`    // 批次号
	SeriesOrder      int        `gorm:"not null;index:idx_qr_series_order,priority:2" json:"series_order"`                    // 批次内序号
	FundedAt         *time.Time `gorm:"index" json:"funded_at"`                                                               // 分配时间
	VoidedAt         *time.Time `gorm:"index" json:"voided_at"`                                                               // 作废时间
	CreatedAt        time.Time  `gorm:"index" json:"created_at"`                                                              // 创建时间
	UpdatedAt        time.Time  `gorm:"index" json:"updated_at"`                                                              // 更新时间
}

// TableName 指定表名
func (QRCode) TableName() string {
	return "qr_codes"
}
