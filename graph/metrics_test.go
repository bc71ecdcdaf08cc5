package graph

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsListener(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewMetricsListener(reg)
	require.NoError(t, err)

	var prefix int32
	cg := askGraph(t, &prefix, WithListeners(metrics))
	ctx := context.Background()

	_, err = cg.Invoke(ctx, "t1", nil)
	requireInterrupt(t, err)
	_, err = cg.Resume(ctx, "t1", ResumeWith(1))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.nodeRuns.WithLabelValues("ask", "interrupt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.nodeRuns.WithLabelValues("ask", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.checkpoints.WithLabelValues("interrupt")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.interrupts.WithLabelValues("ask", "during")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.nodeDuration))

	// Registering twice fails.
	_, err = NewMetricsListener(reg)
	assert.Error(t, err)
}
