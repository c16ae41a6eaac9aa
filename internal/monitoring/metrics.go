package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 监控指标
type Metrics struct {
	// 轮询指标
	PollCyclesTotal  prometheus.Counter
	PollSkippedTotal prometheus.Counter

	// 处理指标
	MessagesProcessed   prometheus.Counter
	RecordsReconciled   prometheus.Counter
	ExtractionTierTotal *prometheus.CounterVec

	// 分发指标
	SessionsOpen    prometheus.Gauge
	BroadcastsTotal prometheus.Counter

	// 地理缓存指标
	GeocodeHits   prometheus.Counter
	GeocodeMisses prometheus.Counter

	// 错误指标
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics 创建监控指标
//
// promauto 在构造时自动注册到默认 Registry。
func NewMetrics() *Metrics {
	return &Metrics{
		PollCyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_poll_cycles_total",
			Help: "Total number of mailbox check cycles started",
		}),
		PollSkippedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_poll_skipped_total",
			Help: "Ticks skipped because a check was already in flight",
		}),
		MessagesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_messages_processed_total",
			Help: "Messages normalized and reconciled",
		}),
		RecordsReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_records_reconciled_total",
			Help: "Availability records written after reconciliation",
		}),
		ExtractionTierTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "truckboard_extraction_tier_total",
			Help: "Extraction outcomes by confidence tier",
		}, []string{"tier"}),
		SessionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "truckboard_sessions_open",
			Help: "Currently open subscriber sessions",
		}),
		BroadcastsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_broadcasts_total",
			Help: "Events broadcast to subscriber sessions",
		}),
		GeocodeHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_geocode_cache_hits_total",
			Help: "Location cache hits",
		}),
		GeocodeMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "truckboard_geocode_cache_misses_total",
			Help: "Location cache misses (external geocoding calls)",
		}),
		ErrorsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "truckboard_errors_total",
			Help: "Non-fatal operational errors by component",
		}, []string{"component"}),
	}
}

// HTTPHandler 返回 Prometheus 指标端点处理器
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.Handler()
}
