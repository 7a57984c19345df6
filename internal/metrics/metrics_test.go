package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveSweep(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveSweep("cron", 3, 1, 2*time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns.WithLabelValues("cron")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.SweepResults.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepResults.WithLabelValues("error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveSweep("cron", 1, 1, time.Second)
	m.ObserveDenial("client", "limit_reached")
	m.ObserveTransition("email_confirmed", "unconfirmed", "trialing")
	m.ObserveWebhook("stripe", "checkout.session.completed")
	m.ObserveNotificationError()
}

func TestHandlerExposesCollectors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New(prometheus.NewRegistry())
	m.ObserveDenial("case", "trial_expired")

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/metrics", gin.WrapH(m.Handler()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `casedesk_admission_denials_total{kind="case",reason="trial_expired"} 1`))
}
