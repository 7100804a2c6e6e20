package service

import "errors"

// BusinessError 可预期的业务错误，Code 为稳定的错误码
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	return e.Message
}

func newBusinessError(code, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message}
}

// 账本错误
var (
	ErrInvalidAmount              = newBusinessError("invalid_amount", "amount must be greater than zero")
	ErrInsufficientAvailableFunds = newBusinessError("insufficient_available_funds", "insufficient available balance")
	ErrInsufficientLockedFunds    = newBusinessError("insufficient_locked_funds", "insufficient locked balance")
	ErrWalletNotFound             = newBusinessError("wallet_not_found", "wallet not found")
	ErrInvalidOwner               = newBusinessError("invalid_owner", "wallet owner is invalid")
	ErrDuplicateReference         = newBusinessError("duplicate_reference", "ledger reference already used")
	ErrLedgerInvariant            = newBusinessError("ledger_invariant", "wallet balances would become inconsistent")
)

// 预算错误
var (
	ErrBudgetNotFound  = newBusinessError("budget_not_found", "campaign budget not found")
	ErrBudgetNotActive = newBusinessError("budget_not_active", "campaign budget is not active")
	ErrBudgetExhausted = newBusinessError("budget_exhausted", "campaign budget exhausted")

	ErrConcurrentReconcile = newBusinessError("reconcile_conflict", "legacy commitments changed during reconcile")
)

// 库存错误
var (
	ErrInsufficientInventory = newBusinessError("insufficient_inventory", "insufficient qr inventory")
	ErrDuplicateCode         = newBusinessError("duplicate_code", "duplicate qr code hash")
	ErrSeriesConflict        = newBusinessError("series_conflict", "qr series belongs to another vendor")
	ErrInvalidInput          = newBusinessError("invalid_input", "invalid input")
)

// 核销错误
var (
	ErrCodeNotFound           = newBusinessError("code_not_found", "qr code not found")
	ErrCodeNotActive          = newBusinessError("code_not_active", "qr code is not active")
	ErrAlreadyRedeemed        = newBusinessError("already_redeemed", "already redeemed")
	ErrCampaignUnavailable    = newBusinessError("campaign_unavailable", "campaign unavailable")
	ErrCampaignWindowClosed   = newBusinessError("campaign_window_closed", "campaign is outside its active window")
	ErrPayoutRequestNotFound  = newBusinessError("payout_not_found", "payout request not found")
	ErrInvoiceSourceNotBilled = newBusinessError("invoice_not_applicable", "transaction category is not invoiced")
)

// 领取凭证错误
var (
	ErrClaimNotFound = newBusinessError("claim_not_found", "claim not found")
	ErrClaimExpired  = newBusinessError("claim_expired", "claim expired")
)

// ErrorCode 返回错误码，非业务错误返回 internal
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return "internal"
}

// IsBusinessError 判断是否为业务错误
func IsBusinessError(err error) bool {
	var be *BusinessError
	return errors.As(err, &be)
}
