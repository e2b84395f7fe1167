package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine 订单引擎指标；nil 接收者上的所有方法都是空操作
type Engine struct {
	Snapshots     *prometheus.CounterVec
	Arrivals      *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Actions       *prometheus.CounterVec
	Interruptions *prometheus.CounterVec
	Pending       *prometheus.GaugeVec
	Active        *prometheus.GaugeVec
}

// NewEngine 创建并注册引擎指标
func NewEngine(reg prometheus.Registerer) *Engine {
	m := &Engine{
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordersync",
			Subsystem: "engine",
			Name:      "snapshots_applied_total",
			Help:      "Snapshots applied to the local order view.",
		}, []string{"store"}),
		Arrivals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordersync",
			Subsystem: "engine",
			Name:      "new_arrivals_total",
			Help:      "Orders classified as new arrivals.",
		}, []string{"store"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordersync",
			Subsystem: "notify",
			Name:      "effects_total",
			Help:      "Notification sub-effects by result.",
		}, []string{"effect", "result"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordersync",
			Subsystem: "engine",
			Name:      "actions_total",
			Help:      "Guarded order actions by result.",
		}, []string{"action", "result"}),
		Interruptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ordersync",
			Subsystem: "engine",
			Name:      "stream_interruptions_total",
			Help:      "Order stream interruptions.",
		}, []string{"store"}),
		Pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ordersync",
			Subsystem: "engine",
			Name:      "pending_orders",
			Help:      "Orders currently pending.",
		}, []string{"store"}),
		Active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ordersync",
			Subsystem: "engine",
			Name:      "active_orders",
			Help:      "Orders currently pending, accepted, preparing or ready.",
		}, []string{"store"}),
	}

	reg.MustRegister(m.Snapshots, m.Arrivals, m.Notifications, m.Actions, m.Interruptions, m.Pending, m.Active)
	return m
}

// SnapshotApplied 记录一次快照及其聚合值
func (m *Engine) SnapshotApplied(store string, arrivals, pending, active int) {
	if m == nil {
		return
	}
	m.Snapshots.WithLabelValues(store).Inc()
	m.Arrivals.WithLabelValues(store).Add(float64(arrivals))
	m.Pending.WithLabelValues(store).Set(float64(pending))
	m.Active.WithLabelValues(store).Set(float64(active))
}

// NotificationEffect 记录一个通知子效果
func (m *Engine) NotificationEffect(effect, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(effect, result).Inc()
}

// Action 记录一次受保护动作
func (m *Engine) Action(action, result string) {
	if m == nil {
		return
	}
	m.Actions.WithLabelValues(action, result).Inc()
}

// StreamInterrupted 记录一次流中断
func (m *Engine) StreamInterrupted(store string) {
	if m == nil {
		return
	}
	m.Interruptions.WithLabelValues(store).Inc()
}

// HTTP 服务端指标
type HTTP struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewHTTP 创建并注册 HTTP 指标
func NewHTTP(reg prometheus.Registerer) *HTTP {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ordersync",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ordersync",
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &HTTP{Requests: requests, LatencyMS: latency}
}

// Handler 暴露指定 Gatherer 的指标
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
