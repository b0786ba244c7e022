package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collectors shared by the API and the worker.
var (
	CheckinsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secureattend_checkins_queued_total",
		Help: "Check-ins accepted by the API and queued for identification.",
	})

	CheckinsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "secureattend_checkins_processed_total",
		Help: "Check-ins processed by the worker, by outcome.",
	}, []string{"outcome"})

	EventsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secureattend_attendance_events_total",
		Help: "Attendance events committed to the store.",
	})

	DashboardRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secureattend_dashboard_refreshes_total",
		Help: "Completed fetch-then-aggregate cycles.",
	})

	DashboardStaleDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "secureattend_dashboard_stale_drops_total",
		Help: "Refresh cycles discarded because a newer cycle superseded them.",
	})

	AtRiskStudents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "secureattend_at_risk_students",
		Help: "Students below the attendance risk threshold, from the last refresh.",
	})
)
