package graph

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallnest/stepgraph/store"
)

// MetricsListener records execution metrics with Prometheus collectors.
type MetricsListener struct {
	nodeRuns     *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	checkpoints  *prometheus.CounterVec
	interrupts   *prometheus.CounterVec
}

var _ Listener = (*MetricsListener)(nil)

// NewMetricsListener creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetricsListener(reg prometheus.Registerer) (*MetricsListener, error) {
	m := &MetricsListener{
		nodeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepgraph",
			Name:      "node_runs_total",
			Help:      "Node invocations by outcome.",
		}, []string{"node", "outcome"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepgraph",
			Name:      "node_duration_seconds",
			Help:      "Node invocation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"node"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepgraph",
			Name:      "checkpoints_total",
			Help:      "Appended checkpoints by source.",
		}, []string{"source"}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepgraph",
			Name:      "interrupts_total",
			Help:      "Paused runs by node and timing.",
		}, []string{"node", "when"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.nodeRuns, m.nodeDuration, m.checkpoints, m.interrupts} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *MetricsListener) OnNodeEvent(_ context.Context, event NodeEvent, info NodeEventInfo) {
	if event == NodeEventStart {
		return
	}
	m.nodeRuns.WithLabelValues(info.Node, string(event)).Inc()
	m.nodeDuration.WithLabelValues(info.Node).Observe(info.Duration.Seconds())
}

func (m *MetricsListener) OnSuperstep(_ context.Context, cp *store.Checkpoint) {
	m.checkpoints.WithLabelValues(string(cp.Source)).Inc()
}

func (m *MetricsListener) OnInterrupt(_ context.Context, _ string, gi *GraphInterrupt) {
	m.interrupts.WithLabelValues(gi.Node, gi.When).Inc()
}
