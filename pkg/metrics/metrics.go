// Package metrics 提供 Prometheus 指标集合与暴露端点
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mineralchain"

// Metrics 指标集合
type Metrics struct {
	registry *prometheus.Registry

	// HTTP 请求计数（method, path, status）
	HTTPRequestsTotal *prometheus.CounterVec
	// HTTP 请求耗时（method, path）
	HTTPRequestDuration *prometheus.HistogramVec

	// 结算状态迁移（kind, from, to）
	StateTransitions *prometheus.CounterVec
	// 化验报告对账结果（kind, outcome）
	Reconciliations *prometheus.CounterVec
	// 化验差异分布（kind）
	ReconciliationDisagreement *prometheus.HistogramVec
	// 价格区间冲突被拒绝次数（mineral）
	BracketConflicts *prometheus.CounterVec
	// 结算净额分布（kind）
	SettlementNetValue *prometheus.HistogramVec
	// 旁路通道失败（channel：notification, audit, event, item_store）
	SideChannelFailures *prometheus.CounterVec
}

// New 创建指标实例并注册到独立 registry
func New(serviceName string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		StateTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "state_transitions_total",
			Help:      "Settlement state transitions",
		}, []string{"kind", "from", "to"}),
		Reconciliations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "reconciliations_total",
			Help:      "Chemical report reconciliations by outcome",
		}, []string{"kind", "outcome"}),
		ReconciliationDisagreement: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "reconciliation_disagreement_points",
			Help:      "Absolute disagreement between the two chemical reports",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 13, 20},
		}, []string{"kind"}),
		BracketConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "bracket_conflicts_total",
			Help:      "Price bracket writes rejected due to overlap",
		}, []string{"mineral"}),
		SettlementNetValue: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "settlement_net_value",
			Help:      "Net value of closed settlements",
			Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
		}, []string{"kind"}),
		SideChannelFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: serviceName,
			Name:      "side_channel_failures_total",
			Help:      "Failures in best-effort side channels",
		}, []string{"channel"}),
	}

	m.registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.StateTransitions,
		m.Reconciliations,
		m.ReconciliationDisagreement,
		m.BracketConflicts,
		m.SettlementNetValue,
		m.SideChannelFailures,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Handler 返回 /metrics 端点处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 registry（测试中读取指标值）
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
