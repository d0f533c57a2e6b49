package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Операции продаж для label "operation".
const (
	OperationCreate = "create"
	OperationCancel = "cancel"
)

// SaleMetrics содержит метрики сценария продажи.
type SaleMetrics struct {
	salesCreated   prometheus.Counter
	salesCancelled prometheus.Counter
	// salesFailed размечен операцией и причиной (not_found, insufficient_stock, ...).
	salesFailed *prometheus.CounterVec

	duration *prometheus.HistogramVec
	lines    prometheus.Histogram
	// revenue — сумма проведённых продаж в денежных единицах.
	revenue prometheus.Counter
}

// NewSaleMetrics регистрирует метрики в prometheus.DefaultRegisterer.
func NewSaleMetrics() *SaleMetrics {
	return NewSaleMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewSaleMetricsWithRegisterer регистрирует метрики в переданном registerer.
func NewSaleMetricsWithRegisterer(registerer prometheus.Registerer) *SaleMetrics {
	return &SaleMetrics{
		salesCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_created_total",
			Help: "Total number of sales created",
		}),
		salesCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_cancelled_total",
			Help: "Total number of sales cancelled",
		}),
		salesFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "pos_sales_failed_total",
			Help: "Total number of rejected or failed sale operations",
		}, []string{"operation", "reason"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_operation_duration_seconds",
			Help:    "Duration of sale operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		lines: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "pos_sale_lines",
			Help:    "Number of lines per created sale",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		revenue: registerCounter(registerer, prometheus.CounterOpts{
			Name: "pos_sales_revenue_total",
			Help: "Total amount of created sales",
		}),
	}
}

// RecordCreated учитывает проведённую продажу.
func (m *SaleMetrics) RecordCreated(lines int, total float64) {
	if m == nil {
		return
	}
	m.salesCreated.Inc()
	m.lines.Observe(float64(lines))
	if total > 0 {
		m.revenue.Add(total)
	}
}

// RecordCancelled учитывает отменённую продажу.
func (m *SaleMetrics) RecordCancelled() {
	if m == nil {
		return
	}
	m.salesCancelled.Inc()
}

// RecordFailed учитывает отклонённую операцию.
func (m *SaleMetrics) RecordFailed(operation, reason string) {
	if m == nil {
		return
	}
	m.salesFailed.WithLabelValues(operation, reason).Inc()
}

// RecordDuration записывает время выполнения операции.
func (m *SaleMetrics) RecordDuration(operation string, duration time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
