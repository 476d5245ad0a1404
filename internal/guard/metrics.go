package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла авторизация (включая replay журнала)
	DecisionDuration *prometheus.HistogramVec

	// Traffic: все решения с разбивкой по вердикту
	DecisionsTotal *prometheus.CounterVec

	// Errors: классификация отказов (not_allowlisted, limit_exceeded, internal, killswitch)
	DenialsTotal *prometheus.CounterVec

	// Перехваты kill-switch до входа в движок
	KillSwitchHits *prometheus.CounterVec

	// Saturation: заполненность буфера зеркала аудита
	MirrorBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern: без регистра метрики живут в локальном registry,
	// который никуда не подключен — удобно в тестах.
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		DecisionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "guardrails_decision_duration_seconds",
			Help:    "Histogram of authorization decision latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"action_type", "verdict"}),

		DecisionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guardrails_decisions_total",
			Help: "Total number of authorization decisions.",
		}, []string{"agent_id", "action_type", "verdict"}),

		DenialsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guardrails_denials_total",
			Help: "Total number of denials by cause.",
		}, []string{"cause"}), // причины: not_allowlisted, limit_exceeded, internal, killswitch

		KillSwitchHits: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "guardrails_killswitch_interceptions_total",
			Help: "Requests intercepted because the agent is blocked.",
		}, []string{"agent_id"}),

		MirrorBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "guardrails_audit_mirror_utilization",
			Help: "Current number of entries in the audit mirror buffer.",
		}),
	}
}
