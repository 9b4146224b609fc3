package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpay_orders_created_total",
			Help: "Total number of purchase orders created",
		},
		[]string{"pack"},
	)

	SettlementsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpay_settlements_total",
			Help: "Total number of settlement attempts by outcome",
		},
		[]string{"outcome"},
	)

	DebitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tokenpay_debits_total",
			Help: "Total number of balance debits",
		},
		[]string{"result"},
	)

	RefundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpay_refunds_total",
			Help: "Total number of compensating refunds applied",
		},
	)

	RefundFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpay_refund_failures_total",
			Help: "Refund compensations that exhausted retries and need manual reconciliation",
		},
	)

	SweepErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tokenpay_sweep_errors_total",
			Help: "Per-order errors encountered during reconciliation sweeps",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tokenpay_sweep_duration_seconds",
			Help:    "Duration of reconciliation sweep passes",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func RecordOrderCreated(pack string) {
	OrdersCreatedTotal.WithLabelValues(pack).Inc()
}

func RecordSettlement(outcome string) {
	SettlementsTotal.WithLabelValues(outcome).Inc()
}

func RecordDebit(result string) {
	DebitsTotal.WithLabelValues(result).Inc()
}

func RecordRefund() {
	RefundsTotal.Inc()
}

func RecordRefundFailure() {
	RefundFailuresTotal.Inc()
}

func RecordSweepError() {
	SweepErrorsTotal.Inc()
}
