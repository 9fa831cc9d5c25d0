package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Report {
	t.Helper()

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	return report
}

func TestChecker_Liveness(t *testing.T) {
	t.Parallel()

	c := NewChecker("1.2.3")
	c.RegisterCheck("broken", func(context.Context) Check { return Unhealthy("down") })

	rec := httptest.NewRecorder()
	c.LivenessHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	report := decode(t, rec)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Equal(t, "1.2.3", report.Version)
	assert.Empty(t, report.Checks)
}

func TestChecker_Readiness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		checks   map[string]Check
		want     Status
		wantCode int
	}{
		{name: "no checks", want: StatusHealthy, wantCode: http.StatusOK},
		{
			name:     "all healthy",
			checks:   map[string]Check{"a": Healthy("ok"), "b": Healthy("ok")},
			want:     StatusHealthy,
			wantCode: http.StatusOK,
		},
		{
			name:     "degraded",
			checks:   map[string]Check{"a": Healthy("ok"), "b": Degraded("slow")},
			want:     StatusDegraded,
			wantCode: http.StatusOK,
		},
		{
			name:     "unhealthy wins",
			checks:   map[string]Check{"a": Unhealthy("down"), "b": Degraded("slow")},
			want:     StatusUnhealthy,
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := NewChecker("")
			for name, check := range tt.checks {
				c.RegisterCheck(name, func(context.Context) Check { return check })
			}

			rec := httptest.NewRecorder()
			c.ReadinessHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			report := decode(t, rec)
			assert.Equal(t, tt.want, report.Status)
			assert.Len(t, report.Checks, len(tt.checks))
			for name, check := range tt.checks {
				assert.Equal(t, check, report.Checks[name])
			}
		})
	}
}

func TestChecker_UnregisterCheck(t *testing.T) {
	t.Parallel()

	c := NewChecker("")
	c.RegisterCheck("gateway", func(context.Context) Check { return Unhealthy("stopped") })
	assert.Equal(t, StatusUnhealthy, c.Readiness(context.Background()).Status)

	c.UnregisterCheck("gateway")
	assert.Equal(t, StatusHealthy, c.Readiness(context.Background()).Status)
}

func TestChecker_ReadinessDeadline(t *testing.T) {
	t.Parallel()

	c := NewChecker("")
	c.timeout = 10 * time.Millisecond
	c.RegisterCheck("slow", func(ctx context.Context) Check {
		<-ctx.Done()
		return Unhealthy(ctx.Err().Error())
	})

	report := c.Readiness(context.Background())
	assert.Equal(t, StatusUnhealthy, report.Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), report.Checks["slow"].Message)
}
