package dispatcher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricDispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actiongate",
		Name:      "dispatches_total",
		Help:      "Dispatched action requests by outcome.",
	}, []string{"outcome", "async"})
	metricGateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actiongate",
		Name:      "gate_rejections_total",
		Help:      "Requests rejected by the token gate, by reason.",
	}, []string{"reason"})
	metricHandlerSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "actiongate",
		Name:      "handler_duration_seconds",
		Help:      "Time spent inside action handlers.",
		Buckets:   prometheus.DefBuckets,
	})
)

func asyncLabel(async bool) string {
	if async {
		return "true"
	}
	return "false"
}
