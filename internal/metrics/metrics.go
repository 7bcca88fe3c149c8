// Package metrics provides Prometheus metrics for the clinic API.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	SessionsStarted     prometheus.Counter
	SessionsCompleted   prometheus.Counter
	SessionsCancelled   prometheus.Counter
	WizardTransitions   *prometheus.CounterVec
	WizardRejections    *prometheus.CounterVec
	AppointmentsCreated *prometheus.CounterVec
	SlotLookupFailures  prometheus.Counter
	CodesSent           prometheus.Counter
	CodeFailures        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_sessions_started_total",
			Help: "Booking wizard sessions started",
		}),
		SessionsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_sessions_completed_total",
			Help: "Booking wizard sessions that produced an appointment",
		}),
		SessionsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_sessions_cancelled_total",
			Help: "Booking wizard sessions cancelled by the patient",
		}),
		WizardTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_wizard_transitions_total",
			Help: "Booking wizard step transitions",
		}, []string{"from", "to"}),
		WizardRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "booking_wizard_rejections_total",
			Help: "Booking wizard actions rejected, by step and reason",
		}, []string{"step", "reason"}),
		AppointmentsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "appointments_created_total",
			Help: "Appointments created, by channel",
		}, []string{"channel"}),
		SlotLookupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "booking_slot_lookup_failures_total",
			Help: "Booked-slot lookups that failed",
		}),
		CodesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verification_codes_sent_total",
			Help: "Verification codes delivered",
		}),
		CodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_failures_total",
			Help: "Verification failures, by reason",
		}, []string{"reason"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(
		m.SessionsStarted,
		m.SessionsCompleted,
		m.SessionsCancelled,
		m.WizardTransitions,
		m.WizardRejections,
		m.AppointmentsCreated,
		m.SlotLookupFailures,
		m.CodesSent,
		m.CodeFailures,
		m.HTTPDuration,
	)

	return m
}

func (m *Metrics) SessionStarted() {
	if m != nil {
		m.SessionsStarted.Inc()
	}
}

func (m *Metrics) SessionCompleted() {
	if m != nil {
		m.SessionsCompleted.Inc()
	}
}

func (m *Metrics) SessionCancelled() {
	if m != nil {
		m.SessionsCancelled.Inc()
	}
}

func (m *Metrics) Transition(from, to string) {
	if m != nil {
		m.WizardTransitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) Rejection(step, reason string) {
	if m != nil {
		m.WizardRejections.WithLabelValues(step, reason).Inc()
	}
}

func (m *Metrics) AppointmentCreated(channel string) {
	if m != nil {
		m.AppointmentsCreated.WithLabelValues(channel).Inc()
	}
}

func (m *Metrics) SlotLookupFailed() {
	if m != nil {
		m.SlotLookupFailures.Inc()
	}
}

func (m *Metrics) CodeSent() {
	if m != nil {
		m.CodesSent.Inc()
	}
}

func (m *Metrics) CodeFailed(reason string) {
	if m != nil {
		m.CodeFailures.WithLabelValues(reason).Inc()
	}
}

// GinMiddleware records request latency by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
