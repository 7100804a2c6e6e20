package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cashback"

var (
	// LedgerMutations 钱包流水写入次数
	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "mutations_total",
		Help:      "Wallet transactions written, by category.",
	}, []string{"category"})

	// LedgerRejections 被业务规则拒绝的钱包变更
	LedgerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "rejections_total",
		Help:      "Wallet mutations rejected, by category and error code.",
	}, []string{"category", "code"})

	// TransactionRetries 事务冲突重试次数
	TransactionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "transaction_retries_total",
		Help:      "Unit-of-work attempts retried after a write conflict.",
	})

	// BudgetTransitions 预算状态变更
	BudgetTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "budget",
		Name:      "transitions_total",
		Help:      "Campaign budget lifecycle transitions, by target status.",
	}, []string{"status"})

	// Redemptions 核销结果
	Redemptions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "redemption",
		Name:      "attempts_total",
		Help:      "Scan-and-redeem attempts, by outcome code.",
	}, []string{"outcome"})

	// InventoryCodes 生成或导入的二维码数量
	InventoryCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "inventory",
		Name:      "codes_total",
		Help:      "QR codes added to inventory, by source.",
	}, []string{"source"})

	// Claims 领取凭证结果
	Claims = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "claim",
		Name:      "outcomes_total",
		Help:      "Claim token creations and redemptions, by outcome.",
	}, []string{"outcome"})

	// Payouts 出款结果
	Payouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payout",
		Name:      "requests_total",
		Help:      "Payout requests, by status reached.",
	}, []string{"status"})
)

// Outcome 将错误码映射为指标标签，成功为 ok
func Outcome(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}

// Handler 返回 prometheus 抓取端点
func Handler() http.Handler {
	return promhttp.Handler()
}
