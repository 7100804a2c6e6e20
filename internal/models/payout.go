package models

import "time"

// PayoutMethod 用户出款方式，由用户资料模块维护，账本只读
type PayoutMethod struct {
	ID        uint      `gorm:"primarykey" json:"id"`                    // 主键
	UserID    uint      `gorm:"index;not null" json:"user_id"`           // 用户ID
	Type      string    `gorm:"type:varchar(16);not null" json:"type"`   // upi / bank
	Value     string    `gorm:"type:varchar(128);not null" json:"value"` // 收款标识
	IsPrimary bool      `gorm:"not null;default:false" json:"is_primary"` // 是否主方式
	CreatedAt time.Time `gorm:"index" json:"created_at"`                 // 创建时间
	UpdatedAt time.Time `gorm:"index" json:"updated_at"`                 // 更新时间
}

// TableName 指定表名
func (PayoutMethod) TableName() string {
	return "payout_methods"
}

// PayoutRequest 待外部通道执行的出款义务
type PayoutRequest struct {
	ID            uint       `gorm:"primarykey" json:"id"`                                   // 主键
	UserID        uint       `gorm:"index;not null" json:"user_id"`                          // 用户ID
	WalletTxnID   uint       `gorm:"index;not null" json:"wallet_txn_id"`                    // 提现流水ID
	Amount        Money      `gorm:"type:decimal(20,2);not null" json:"amount"`              // 金额
	Currency      string     `gorm:"type:varchar(16);not null" json:"currency"`              // 币种
	MethodType    string     `gorm:"type:varchar(16);not null" json:"method_type"`           // 出款方式
	Destination   string     `gorm:"type:varchar(128);not null" json:"destination"`          // 收款标识
	Reference     string     `gorm:"type:varchar(128);uniqueIndex;not null" json:"reference"` // 业务引用
	Status        string     `gorm:"type:varchar(16);index;not null" json:"status"`          // 状态
	FailureReason string     `gorm:"type:varchar(255)" json:"failure_reason"`                // 失败原因
	DispatchedAt  *time.Time `gorm:"index" json:"dispatched_at"`                             // 下发时间
	CreatedAt     time.Time  `gorm:"index" json:"created_at"`                                // 创建时间
	UpdatedAt     time.Time  `gorm:"index" json:"updated_at"`                                // 更新时间
}

// TableName 指定表名
func (PayoutRequest) TableName() string {
	return "payout_requests"
}
