package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.SessionStarted()
	m.Transition("slot_selection", "verify_email")
	m.Rejection("code_entry", "invalid_code")
	m.CodeFailed("mismatch")
}

func TestCountersIncrement(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionStarted()
	m.SessionStarted()
	m.Transition("slot_selection", "verify_email")
	m.AppointmentCreated("wizard")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WizardTransitions.WithLabelValues("slot_selection", "verify_email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AppointmentsCreated.WithLabelValues("wizard")))
}

func TestGinMiddlewareObservesRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPDuration))
}
