package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletOwner 钱包归属（商户或用户）
type WalletOwner struct {
	Type string `json:"owner_type"`
	ID   uint   `json:"owner_id"`
}

// Wallet 钱包账户，Balance 为总额，LockedBalance 为活动托管额
type Wallet struct {
	ID            uint      `gorm:"primarykey" json:"id"`                                                            // 主键
	OwnerType     string    `gorm:"type:varchar(16);not null;uniqueIndex:idx_wallet_owner,priority:1" json:"owner_type"` // 归属类型
	OwnerID       uint      `gorm:"not null;uniqueIndex:idx_wallet_owner,priority:2" json:"owner_id"`                 // 归属ID
	Balance       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`                           // 总余额
	LockedBalance Money     `gorm:"type:decimal(20,2);not null;default:0" json:"locked_balance"`                    // 锁定余额
	Currency      string    `gorm:"type:varchar(16);not null" json:"currency"`                                      // 币种
	Version       int64     `gorm:"not null;default:0" json:"-"`                                                    // 乐观锁版本
	CreatedAt     time.Time `gorm:"index" json:"created_at"`                                                        // 创建时间
	UpdatedAt     time.Time `gorm:"index" json:"updated_at"`                                                        // 更新时间
}

// TableName 指定表名
func (Wallet) TableName() string {
	return "wallets"
}

// Owner 返回钱包归属
func (w Wallet) Owner() WalletOwner {
	return WalletOwner{Type: w.OwnerType, ID: w.OwnerID}
}

// Available 可用余额
func (w Wallet) Available() Money {
	return NewMoneyFromDecimal(w.Balance.Decimal.Sub(w.LockedBalance.Decimal))
}

// Consistent 校验 0 <= locked <= balance
func (w Wallet) Consistent() bool {
	if w.LockedBalance.Decimal.LessThan(decimal.Zero) {
		return false
	}
	return w.LockedBalance.Decimal.LessThanOrEqual(w.Balance.Decimal)
}

// WalletTransaction 钱包流水，写入后不再修改
type WalletTransaction struct {
	ID                  uint      `gorm:"primarykey" json:"id"`                                                                        // 主键
	WalletID            uint      `gorm:"index;not null" json:"wallet_id"`                                                             // 钱包ID
	OwnerType           string    `gorm:"type:varchar(16);index:idx_wallet_txn_owner,priority:1;not null" json:"owner_type"`           // 归属类型
	OwnerID             uint      `gorm:"index:idx_wallet_txn_owner,priority:2;not null" json:"owner_id"`                              // 归属ID
	Type                string    `gorm:"type:varchar(16);not null" json:"type"`                                                       // credit / debit
	Category            string    `gorm:"type:varchar(32);not null;uniqueIndex:idx_wallet_txn_reference,priority:1" json:"category"`   // 业务分类
	Amount              Money     `gorm:"type:decimal(20,2);not null" json:"amount"`                                                   // 金额（始终为正）
	BalanceBefore       Money     `gorm:"type:decimal(20,2);not null" json:"balance_before"`                                           // 变更前总余额
	BalanceAfter        Money     `gorm:"type:decimal(20,2);not null" json:"balance_after"`                                            // 变更后总余额
	LockedBalanceBefore Money     `gorm:"type:decimal(20,2);not null" json:"locked_balance_before"`                                    // 变更前锁定余额
	LockedBalanceAfter  Money     `gorm:"type:decimal(20,2);not null" json:"locked_balance_after"`                                     // 变更后锁定余额
	Currency            string    `gorm:"type:varchar(16);not null" json:"currency"`                                                   // 币种
	Status              string    `gorm:"type:varchar(16);not null" json:"status"`                                                     // 状态
	ReferenceID         string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_wallet_txn_reference,priority:2" json:"reference_id"` // 业务引用
	Metadata            JSONMap   `gorm:"type:text" json:"metadata"`                                                                   // 附加信息
	Remark              string    `gorm:"type:varchar(255)" json:"remark"`                                                             // 备注
	CreatedAt           time.Time `gorm:"index" json:"created_at"`                                                                     // 创建时间
}

// TableName 指定表名
func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
