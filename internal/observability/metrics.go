package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RidesRequested = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_requested_total", Help: "Total ride requests received"})
	RidesUnserved  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "rides_unserved_total", Help: "Ride requests that found no drivers"})

	CandidatesFound = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ride_dispatch",
		Name:      "match_candidates",
		Help:      "Candidate count per match attempt",
		Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
	})

	OffersCreated  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_created_total", Help: "Total ride offers created"})
	OffersExpired  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "offers_expired_total", Help: "Total offers expired by the sweep"})
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "notify_failures_total", Help: "Offer notification delivery failures (best effort)"})

	AcceptsWon       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_won_total", Help: "Accept attempts that won the ride"})
	AcceptsConflict  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "accepts_conflict_total", Help: "Accept attempts rejected with a conflict"})
	Reconciliations  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "driver_reconciliations_total", Help: "Driver availability reconciliation runs"})
	SweepCorrections = promauto.NewCounter(prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "driver_sweep_corrections_total", Help: "Stuck busy drivers corrected by the repair sweep"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "ride_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ride_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
