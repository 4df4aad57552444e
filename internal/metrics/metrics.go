package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "spacebook"

var (
	once sync.Once

	bookingCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_created_total",
			Help:      "Count of bookings created by path and payment status.",
		},
		[]string{"path", "payment_status"},
	)

	bookingTransition = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_transition_total",
			Help:      "Count of lifecycle transitions by target status.",
		},
		[]string{"status"},
	)

	feeOverride = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellation_fee_override_total",
			Help:      "Count of cancellations whose fee was overridden, by reason code.",
		},
		[]string{"reason"},
	)

	slotConflict = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slot_conflict_total",
			Help:      "Count of reservation attempts rejected because the slot was taken.",
		},
		[]string{"space_type"},
	)

	reconciliation = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_total",
			Help:      "Count of gateway events by outcome.",
		},
		[]string{"source", "outcome"},
	)

	gatewayDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of payment gateway calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Count of notification deliveries by sink and result.",
		},
		[]string{"sink", "result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code class.",
		},
		[]string{"route", "code"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			bookingCreated, bookingTransition, feeOverride, slotConflict,
			reconciliation, gatewayDuration, notifications, httpRequests,
		)
	})
}

func IncBookingCreated(path, paymentStatus string) {
	bookingCreated.WithLabelValues(path, paymentStatus).Inc()
}

func IncTransition(status string) {
	bookingTransition.WithLabelValues(status).Inc()
}

func IncFeeOverride(reason string) {
	feeOverride.WithLabelValues(reason).Inc()
}

func IncSlotConflict(spaceType string) {
	slotConflict.WithLabelValues(spaceType).Inc()
}

func IncReconciliation(source, outcome string) {
	reconciliation.WithLabelValues(source, outcome).Inc()
}

func ObserveGateway(operation string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayDuration.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}

func IncNotification(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	notifications.WithLabelValues(sink, result).Inc()
}

func IncHTTP(route string, code int) {
	class := "5xx"
	switch {
	case code < 300:
		class = "2xx"
	case code < 400:
		class = "3xx"
	case code < 500:
		class = "4xx"
	}
	httpRequests.WithLabelValues(route, class).Inc()
}
