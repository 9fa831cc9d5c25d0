package tls

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWarningKind_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "limited_strength", WarningLimitedStrength.String())
	assert.Equal(t, "default_certificate", WarningDefaultCertificate.String())
	assert.Equal(t, "cipher_order", WarningCipherOrder.String())
	assert.Equal(t, "unknown", WarningKind(42).String())
}

func TestDiagnostics_WarnOnce(t *testing.T) {
	t.Parallel()

	diag, logs := observedDiagnostics()

	assert.False(t, diag.Fired(WarningCipherOrder))
	assert.True(t, diag.WarnOnce(WarningCipherOrder, "order", zap.String("listener", "a")))
	assert.False(t, diag.WarnOnce(WarningCipherOrder, "order"))
	assert.True(t, diag.Fired(WarningCipherOrder))
	assert.False(t, diag.WarnOnce(WarningKind(-1), "bogus"))
	assert.False(t, diag.Fired(WarningKind(99)))

	entries := logs.FilterMessage("order").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "a", fields["listener"])
	assert.Equal(t, "cipher_order", fields["warning"])
}

func TestDiagnostics_WarnOnceConcurrent(t *testing.T) {
	t.Parallel()

	diag, logs := observedDiagnostics()

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if diag.WarnOnce(WarningDefaultCertificate, "default certificate") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, logs.FilterMessage("default certificate").Len())
}

func TestDiagnostics_WarnRepeats(t *testing.T) {
	t.Parallel()

	m := NewMetrics("test", WithRegistry(prometheus.NewRegistry()))
	diag, logs := observedDiagnostics()
	diag.metrics = m

	diag.Warn("key_mismatch", "mismatch")
	diag.Warn("key_mismatch", "mismatch")
	diag.WarnOnce(WarningLimitedStrength, "limited")
	diag.WarnOnce(WarningLimitedStrength, "limited")

	assert.Equal(t, 2, logs.FilterMessage("mismatch").Len())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.warningsTotal.WithLabelValues("key_mismatch")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.warningsTotal.WithLabelValues("limited_strength")))
}

func TestProcessDiagnostics(t *testing.T) {
	t.Parallel()

	assert.Same(t, ProcessDiagnostics(), ProcessDiagnostics())
	assert.NotSame(t, ProcessDiagnostics(), NewDiagnostics())
}
