package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/service"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

func TestMetrics_CountsEvents(t *testing.T) {
	m := New()
	d := dispatcher.NewDispatcher()
	require.NoError(t, m.Register(d))

	ctx := context.Background()
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeApprovalCreated, "apr-1", "riley", nil)))
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeApprovalCreated, "apr-2", "riley", nil)))
	require.NoError(t, d.Dispatch(ctx, event.NewEvent(event.TypeApprovalExpired, "apr-1", "system", nil)))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("approval.created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues("approval.expired")))
}

func TestMetrics_ObserveSweep(t *testing.T) {
	m := New()
	m.ObserveSweep(&service.SweepReport{Scanned: 4, Applied: 3, Escalated: 1, Expired: 2, Failed: 1}, nil)
	m.ObserveSweep(nil, errors.New("database is locked"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SweepActions.WithLabelValues("expired")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SweepActions.WithLabelValues("failed")))
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/v1/approvals/:id", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/approvals/apr-9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/approvals/:id", "404")))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "api_requests_total")
}
