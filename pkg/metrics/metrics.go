package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmsentry_events_received_total",
		Help: "收到的拦截事件数",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmsentry_events_dropped_total",
		Help: "丢弃的事件或分类任务数",
	}, []string{"reason"})

	RecordsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmsentry_feature_records_emitted_total",
		Help: "产出的特征记录数",
	})

	Throttled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmsentry_throttled_total",
		Help: "被节流门抑制的完成事件数",
	})

	SelfTrafficIgnored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmsentry_self_traffic_ignored_total",
		Help: "忽略的分类服务自身流量",
	})

	StaleCorrelations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmsentry_stale_correlations_total",
		Help: "找不到待关联请求的完成事件数",
	})

	PendingEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmsentry_pending_evicted_total",
		Help: "超过保留时间被清理的待关联请求数",
	})

	PendingRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "llmsentry_pending_requests",
		Help: "当前待关联请求数",
	})

	ClassifierResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmsentry_classifier_results_total",
		Help: "分类结果",
	}, []string{"outcome"})

	ClassifierLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "llmsentry_classifier_latency_seconds",
		Help:    "外部分类服务耗时",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	Detections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "llmsentry_detections_total",
		Help: "检测到的LLM流量",
	}, []string{"source"})

	AlertsTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "llmsentry_alerts_triggered_total",
		Help: "触发的告警总数",
	})
)
