package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ride_dispatch"

var (
	RidesBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "rides_booked_total", Help: "Rides booked by booking type"},
		[]string{"booking_type"},
	)
	RideTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Applied ride state transitions"},
		[]string{"transition", "to"},
	)
	RejectedTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_rejected_total", Help: "Ride transitions rejected by code"},
		[]string{"transition", "code"},
	)

	SearchRounds = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "search_rounds_total", Help: "Dispatch rounds executed per tier"},
		[]string{"tier"},
	)
	OffersSent    = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_sent_total", Help: "Ride offers fanned out to drivers"})
	OffersSkipped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_skipped_total", Help: "Candidates skipped because they already hold an offer"})
	OffersVoided  = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_voided_total", Help: "Outstanding offers voided by acceptance or cancellation"})
	OffersExpired = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_expired_total", Help: "Offers that timed out without a response"})
	Declines      = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "offers_declined_total", Help: "Offers declined by drivers"})
	AcceptResults = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "accept_results_total", Help: "Acceptance attempts by result"},
		[]string{"result"},
	)
	NoDrivers = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "no_drivers_total", Help: "Searches exhausted without a driver"})
	TimeToAssign = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "time_to_assign_seconds",
		Help:      "Latency from search start to driver binding",
		Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	ConnectedActors = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: namespace, Name: "connected_actors", Help: "Actors with at least one live channel"},
		[]string{"role"},
	)
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "observer_events_dropped_total", Help: "Observer events dropped because the sink queue was full"})
	SinkErrors    = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "observer_sink_errors_total", Help: "Observer sink publish failures"},
		[]string{"sink"},
	)
	LocationUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "location_updates_total", Help: "Driver location updates by source"},
		[]string{"source"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
