package models

import "time"

// Claim 一次性领取凭证，仅保存令牌指纹
type Claim struct {
	ID              uint       `gorm:"primarykey" json:"id"`                                    // 主键
	TokenHash       string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"-"`          // 令牌指纹
	TokenHint       string     `gorm:"type:varchar(8)" json:"token_hint"`                       // 令牌尾号
	Amount          Money      `gorm:"type:decimal(20,2);not null" json:"amount"`               // 金额
	Currency        string     `gorm:"type:varchar(16);not null" json:"currency"`               // 币种
	ExpiresAt       time.Time  `gorm:"index;not null" json:"expires_at"`                        // 过期时间
	ClaimedAt       *time.Time `gorm:"index" json:"claimed_at"`                                 // 领取时间
	ClaimedByUserID *uint      `gorm:"index" json:"claimed_by_user_id,omitempty"`               // 领取用户
	WalletTxnID     *uint      `gorm:"index" json:"wallet_txn_id,omitempty"`                    // 钱包流水ID
	Note            string     `gorm:"type:varchar(255)" json:"note"`                           // 备注
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`                                 // 创建时间
	UpdatedAt       time.Time  `gorm:"index" json:"updated_at"`                                 // 更新时间
}

// TableName 指定表名
func (Claim) TableName() string {
	return "claims"
}

// IsExpired 判断凭证在给定时间是否过期
func (c Claim) IsExpired(at time.Time) bool {
	return at.After(c.ExpiresAt)
}
