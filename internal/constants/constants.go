package constants

// 钱包归属类型常量
const (
	WalletOwnerVendor = "vendor"
	WalletOwnerUser   = "user"
)

// 钱包流水方向常量
const (
	WalletTxnTypeCredit = "credit"
	WalletTxnTypeDebit  = "debit"
)

// 钱包流水分类常量
const (
	WalletTxnCategoryCredit         = "credit"
	WalletTxnCategoryCampaignLock   = "campaign_lock"
	WalletTxnCategoryCampaignSpend  = "campaign_spend"
	WalletTxnCategoryCampaignRefund = "campaign_refund"
	WalletTxnCategoryFee            = "fee"
	WalletTxnCategoryCashbackPayout = "cashback_payout"
	WalletTxnCategoryWithdrawal     = "withdrawal"
	WalletTxnCategoryClaimRedeem    = "claim_redeem"
	WalletTxnCategoryPayoutReversal = "payout_reversal"
)

// 钱包流水状态常量
const (
	WalletTxnStatusCompleted = "completed"
)

// 活动预算状态常量
const (
	CampaignBudgetStatusActive   = "active"
	CampaignBudgetStatusRefunded = "refunded"
	CampaignBudgetStatusClosed   = "closed"
)

// 活动预算来源常量
const (
	CampaignBudgetSourceFunding      = "funding"
	CampaignBudgetSourceLegacyImport = "legacy_import"
)

// 二维码状态常量
const (
	QRCodeStatusInventory = "inventory"
	QRCodeStatusFunded    = "funded"
	QRCodeStatusGenerated = "generated"
	QRCodeStatusAssigned  = "assigned"
	QRCodeStatusActive    = "active"
	QRCodeStatusRedeemed  = "redeemed"
	QRCodeStatusVoid      = "void"
)

// QRCodeRedeemableStatuses 可核销的二维码状态
var QRCodeRedeemableStatuses = []string{
	QRCodeStatusFunded,
	QRCodeStatusGenerated,
	QRCodeStatusAssigned,
	QRCodeStatusActive,
}

// 二维码批次来源常量
const (
	QRSeriesSourceGenerated = "generated"
	QRSeriesSourceImport    = "import"
)

// 核销事件类型常量
const (
	RedemptionEventPreview         = "preview"
	RedemptionEventRedeemSuccess   = "redeem_success"
	RedemptionEventInvalid         = "invalid"
	RedemptionEventAlreadyRedeemed = "already_redeemed"
)

// 出款方式常量
const (
	PayoutMethodUPI  = "upi"
	PayoutMethodBank = "bank"
)

// 出款请求状态常量
const (
	PayoutStatusNone       = "none"
	PayoutStatusQueued     = "queued"
	PayoutStatusDispatched = "dispatched"
	PayoutStatusFailed     = "failed"
)

// 发票类型常量
const (
	InvoiceTypeCampaignFunding = "campaign_funding"
	InvoiceTypeCampaignRefund  = "campaign_refund"
	InvoiceTypeServiceFee      = "service_fee"
	InvoiceTypePayoutStatement = "payout_statement"
)

// 发票状态常量
const (
	InvoiceStatusIssued = "issued"
)

// 队列常量
const (
	QueueCritical       = "critical"
	QueueDefault        = "default"
	QueueLow            = "low"
	TaskPayoutDispatch  = "payout:dispatch"
	TaskInvoiceGenerate = "invoice:generate"
	TaskLegacyReconcile = "budget:legacy_reconcile"
)

// 缓存默认配置常量
const (
	RedisPrefixDefault = "cb"
)

// 币种常量
const (
	CurrencyDefault = "INR"
)
