package index

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var batchAttempts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "index_batch_attempts_total",
		Help:      "Index batch calls by operation and result (ok, partial, retry, failed)",
	},
	[]string{"op", "result"},
)
