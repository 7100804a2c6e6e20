package models

import "time"

// Invoice 由钱包流水投影生成的票据
type Invoice struct {
	ID            uint          `gorm:"primarykey" json:"id"`                                   // 主键
	InvoiceNo     string        `gorm:"type:varchar(64);uniqueIndex;not null" json:"invoice_no"` // 票据号
	Type          string        `gorm:"type:varchar(32);index;not null" json:"type"`            // 票据类型
	OwnerType     string        `gorm:"type:varchar(16);not null" json:"owner_type"`            // 归属类型
	OwnerID       uint          `gorm:"index;not null" json:"owner_id"`                         // 归属ID
	TransactionID uint          `gorm:"uniqueIndex;not null" json:"transaction_id"`             // 来源流水
	Subtotal      Money         `gorm:"type:decimal(20,2);not null" json:"subtotal"`            // 小计
	Tax           Money         `gorm:"type:decimal(20,2);not null;default:0" json:"tax"`       // 税额
	Total         Money         `gorm:"type:decimal(20,2);not null" json:"total"`               // 合计
	Currency      string        `gorm:"type:varchar(16);not null" json:"currency"`              // 币种
	Status        string        `gorm:"type:varchar(16);not null" json:"status"`                // 状态
	IssuedAt      time.Time     `gorm:"index;not null" json:"issued_at"`                        // 开具时间
	CreatedAt     time.Time     `gorm:"index" json:"created_at"`                                // 创建时间
	Items         []InvoiceItem `gorm:"foreignKey:InvoiceID" json:"items,omitempty"`            // 明细
}

// TableName 指定表名
func (Invoice) TableName() string {
	return "invoices"
}

// InvoiceItem 票据明细
type InvoiceItem struct {
	ID          uint      `gorm:"primarykey" json:"id"`                          // 主键
	InvoiceID   uint      `gorm:"index;not null" json:"invoice_id"`              // 票据ID
	Description string    `gorm:"type:varchar(255);not null" json:"description"` // 描述
	Quantity    int64     `gorm:"not null" json:"quantity"`                      // 数量
	UnitAmount  Money     `gorm:"type:decimal(20,2);not null" json:"unit_amount"` // 单价
	Amount      Money     `gorm:"type:decimal(20,2);not null" json:"amount"`     // 金额
	CreatedAt   time.Time `gorm:"index" json:"created_at"`                       // 创建时间
}

// TableName 指定表名
func (InvoiceItem) TableName() string {
	return "invoice_items"
}
