package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Settlement operations
	DepositsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_deposits_total",
			Help: "Total number of escrow deposits by rail and outcome",
		},
		[]string{"rail", "outcome"},
	)

	ReleasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_releases_total",
			Help: "Total number of escrow releases by rail and outcome",
		},
		[]string{"rail", "outcome"},
	)

	RefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_refunds_total",
			Help: "Total number of escrow refunds by rail, trigger and outcome",
		},
		[]string{"rail", "trigger", "outcome"},
	)

	RailCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_rail_call_duration_seconds",
			Help:    "Settlement rail call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"rail", "method"},
	)

	LockedEscrows = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_locked_total",
		Help: "Number of escrows currently in locked status",
	})

	// Verification
	VerificationRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_verification_runs_total",
			Help: "Total number of verification runs by verdict",
		},
		[]string{"verdict"},
	)

	VerificationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_verification_duration_seconds",
		Help:    "Judge call duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// Timeout sweeper
	SweeperPassesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "escrow_sweeper_passes_total",
		Help: "Total number of completed sweeper passes",
	})

	SweeperRefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_sweeper_refunds_total",
			Help: "Total number of sweeper-triggered refund attempts by outcome",
		},
		[]string{"outcome"},
	)

	SweeperPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "escrow_sweeper_pass_duration_seconds",
		Help:    "Sweeper pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DeadLetterPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "escrow_dead_letter_pending",
		Help: "Number of failed refunds awaiting manual follow-up",
	})

	// Notifications
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_notifications_total",
			Help: "Total number of settlement notifications by event and outcome",
		},
		[]string{"event", "outcome"},
	)
)
