package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "clinic"

var (
	BookingAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "booking",
		Name:      "attempts_total",
		Help:      "Booking attempts by outcome",
	}, []string{"outcome"})

	BookingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "booking",
		Name:      "duration_seconds",
		Help:      "Time spent booking an appointment, lock wait included",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	Cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "booking",
		Name:      "cancellations_total",
		Help:      "Cancelled appointments by actor",
	}, []string{"actor"})

	SlotsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "slots",
		Name:      "generated_total",
		Help:      "Slots materialized from time blocks",
	})

	SlotsCleaned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "slots",
		Name:      "cleaned_total",
		Help:      "Slots removed by the cleanup sweep",
	}, []string{"reason"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "notifications_total",
		Help:      "Notifications triggered by sweeps",
	}, []string{"kind", "channel", "status"})

	AppointmentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "appointments_completed_total",
		Help:      "Appointments rolled over from CONFIRMED to COMPLETED",
	})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Duration of sweep runs",
		Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"sweep"})

	RatingCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratings",
		Name:      "cache_lookups_total",
		Help:      "Rating cache lookups by result",
	}, []string{"result"})
)
