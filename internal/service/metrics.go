package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "jobs_total",
			Help:      "Finished sync jobs by kind and final status.",
		},
		[]string{"kind", "status"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalogsync",
			Name:      "job_duration_seconds",
			Help:      "Wall time of sync jobs.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 3600},
		},
		[]string{"kind"},
	)

	itemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalogsync",
			Name:      "items_total",
			Help:      "Items handled by sync jobs by outcome (indexed, failed, deleted).",
		},
		[]string{"kind", "outcome"},
	)

	fullSyncRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "catalogsync",
			Name:      "full_sync_running",
			Help:      "1 while this process runs a full sync.",
		},
	)
)
