package repository

import "time"

// WalletListFilter 查询钱包列表的过滤条件
type WalletListFilter struct {
	Page      int
	PageSize  int
	OwnerType string
	OwnerID   uint
}

// WalletTransactionListFilter 查询钱包流水列表的过滤条件
type WalletTransactionListFilter struct {
	Page        int
	PageSize    int
	WalletID    uint
	OwnerType   string
	OwnerID     uint
	Type        string
	Categories  []string
	ReferenceID string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// CampaignBudgetListFilter 查询活动预算列表的过滤条件
type CampaignBudgetListFilter struct {
	Page       int
	PageSize   int
	VendorID   uint
	CampaignID uint
	Status     string
	Source     string
}

// QRCodeListFilter 查询二维码列表的过滤条件
type QRCodeListFilter struct {
	Page             int
	PageSize         int
	VendorID         uint
	SeriesCode       string
	Status           string
	CampaignID       uint
	CampaignBudgetID uint
}

// RedemptionEventListFilter 查询核销事件列表的过滤条件
type RedemptionEventListFilter struct {
	Page        int
	PageSize    int
	Type        string
	CodeHash    string
	UserID      uint
	CampaignID  uint
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}

// InvoiceListFilter 查询票据列表的过滤条件
type InvoiceListFilter struct {
	Page      int
	PageSize  int
	OwnerType string
	OwnerID   uint
	Type      string
}
