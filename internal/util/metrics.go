package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SalesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_created_total",
		Help: "Total number of committed sales",
	})

	SalesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_sales_failed_total",
		Help: "Total number of rejected or rolled back sales",
	}, []string{"reason"})

	SalesVoidedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_sales_voided_total",
		Help: "Total number of voided sales",
	})

	SaleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_sale_transaction_seconds",
		Help:    "Latency of the sale transaction including retries",
		Buckets: prometheus.DefBuckets,
	})

	StockMovementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_stock_movements_total",
		Help: "Total number of stock movements recorded",
	}, []string{"type", "reference"})

	StockBelowReorderTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_stock_below_reorder_total",
		Help: "Total number of movements that left a product at or below its reorder level",
	})

	StockReconcileMismatchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_stock_reconcile_mismatch_total",
		Help: "Total number of products whose quantity disagreed with the movement ledger",
	})

	KitchenTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_kitchen_transitions_total",
		Help: "Total number of kitchen status transitions",
	}, []string{"status"})

	ShiftsOpenedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_shifts_opened_total",
		Help: "Total number of shifts opened",
	})

	ShiftsClosedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pos_shifts_closed_total",
		Help: "Total number of shifts closed",
	})

	CashDiscrepancy = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pos_shift_cash_discrepancy",
		Help:    "Physical minus expected cash at shift close",
		Buckets: []float64{-100000, -10000, -1000, -100, -1, 0, 1, 100, 1000, 10000, 100000},
	})

	TxRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_tx_retries_total",
		Help: "Total number of transaction retries after transient failures",
	}, []string{"operation"})

	IntegrityErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_integrity_errors_total",
		Help: "Total number of detected data integrity violations",
	}, []string{"operation"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
