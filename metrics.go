package reql

import "github.com/prometheus/client_golang/prometheus"

var (
	queriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reql",
		Subsystem: "driver",
		Name:      "queries_total",
		Help:      "number of queries sent, by query type",
	}, []string{"type"})

	queryErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reql",
		Subsystem: "driver",
		Name:      "query_errors_total",
		Help:      "number of error responses, by response type",
	}, []string{"type"})

	queryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reql",
		Subsystem: "driver",
		Name:      "query_first_response_seconds",
		Help:      "time from sending a START query to receiving its first response",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	})

	inflightQueries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reql",
		Subsystem: "driver",
		Name:      "inflight_queries",
		Help:      "number of tokens waiting for a response",
	})

	connectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reql",
		Subsystem: "driver",
		Name:      "connections_total",
		Help:      "number of connection attempts, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(queriesTotal)
	prometheus.MustRegister(queryErrorsTotal)
	prometheus.MustRegister(queryDuration)
	prometheus.MustRegister(inflightQueries)
	prometheus.MustRegister(connectionsTotal)
}

func queryTypeLabel(qt QueryType) string {
	switch qt {
	case QueryStart:
		return "start"
	case QueryContinue:
		return "continue"
	case QueryStop:
		return "stop"
	case QueryNoReplyWait:
		return "noreply_wait"
	case QueryServerInfo:
		return "server_info"
	default:
		return "unknown"
	}
}
