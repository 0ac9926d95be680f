package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP
// surface and the scheduling core.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	bookingsCreated *prometheus.CounterVec
	slotConflicts   prometheus.Counter
	claimAttempts   *prometheus.CounterVec
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	bookingsCreated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bookings_created_total",
		Help: "Bookings committed, by assignment outcome",
	}, []string{"assigned"})

	slotConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booking_slot_conflicts_total",
		Help: "Bookings rejected because the slot was taken at commit time",
	})

	claimAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_claim_attempts_total",
		Help: "Open-job claim attempts, by outcome",
	}, []string{"outcome"})

	registry.MustRegister(requestDuration, requestTotal, bookingsCreated, slotConflicts, claimAttempts)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		bookingsCreated: bookingsCreated,
		slotConflicts:   slotConflicts,
		claimAttempts:   claimAttempts,
	}
}

// Handler returns the Prometheus scrape handler.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveHTTPRequest records one served request.
func (s *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	labels := []string{method, path, strconv.Itoa(status)}
	s.requestDuration.WithLabelValues(labels...).Observe(duration.Seconds())
	s.requestTotal.WithLabelValues(labels...).Inc()
}

// BookingCreated records one committed booking.
func (s *MetricsService) BookingCreated(assigned bool) {
	s.bookingsCreated.WithLabelValues(strconv.FormatBool(assigned)).Inc()
}

// SlotConflictRejected records one commit-time conflict rejection.
func (s *MetricsService) SlotConflictRejected() {
	s.slotConflicts.Inc()
}

// ClaimResolved records one resolved claim attempt.
func (s *MetricsService) ClaimResolved(won bool) {
	outcome := "rejected"
	if won {
		outcome = "accepted"
	}
	s.claimAttempts.WithLabelValues(outcome).Inc()
}
