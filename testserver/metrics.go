package testserver

import "github.com/prometheus/client_golang/prometheus"

var (
	queriesServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reql",
		Subsystem: "testserver",
		Name:      "queries_total",
		Help:      "number of queries received, by query type",
	}, []string{"type"})

	queryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reql",
		Subsystem: "testserver",
		Name:      "query_errors_total",
		Help:      "number of error responses sent, by response type",
	}, []string{"type"})

	execDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "reql",
		Subsystem: "testserver",
		Name:      "exec_seconds",
		Help:      "time spent evaluating and committing START queries",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	activeConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reql",
		Subsystem: "testserver",
		Name:      "connections",
		Help:      "number of open client connections",
	})

	activeFeeds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "reql",
		Subsystem: "testserver",
		Name:      "changefeeds",
		Help:      "number of subscribed changefeeds",
	})
)

func init() {
	prometheus.MustRegister(queriesServed)
	prometheus.MustRegister(queryErrors)
	prometheus.MustRegister(execDuration)
	prometheus.MustRegister(activeConns)
	prometheus.MustRegister(activeFeeds)
}
