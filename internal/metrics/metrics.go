package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	ChatRequests     *prometheus.CounterVec
	ChatStreamTime   prometheus.Histogram
	GateDecisions    *prometheus.CounterVec
	GateStoreErrors  prometheus.Counter
	LoginAttempts    *prometheus.CounterVec
	ModelListUpdates prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aichat",
				Name:      "chat_requests_total",
				Help:      "Chat requests by provider kind and outcome",
			}, []string{"provider", "outcome"}),
			ChatStreamTime: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "aichat",
				Name:      "chat_stream_duration_seconds",
				Help:      "Wall time of a relayed chat stream",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 45, 60},
			}),
			GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aichat",
				Name:      "gate_decisions_total",
				Help:      "Access gate decisions by action",
			}, []string{"action"}),
			GateStoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aichat",
				Name:      "gate_store_errors_total",
				Help:      "Configuration store failures seen by the access gate",
			}),
			LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "aichat",
				Name:      "login_attempts_total",
				Help:      "Login attempts by kind and result",
			}, []string{"kind", "result"}),
			ModelListUpdates: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "aichat",
				Name:      "model_list_updates_total",
				Help:      "Successful replacements of the model list",
			}),
		}
		prometheus.MustRegister(
			global.ChatRequests,
			global.ChatStreamTime,
			global.GateDecisions,
			global.GateStoreErrors,
			global.LoginAttempts,
			global.ModelListUpdates,
		)
	})
	return global
}
