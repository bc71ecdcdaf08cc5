package graph

import (
	"context"
	"time"

	"github.com/smallnest/stepgraph/log"
	"github.com/smallnest/stepgraph/store"
)

// NodeEvent represents different types of node events
type NodeEvent string

const (
	// NodeEventStart indicates a node has started execution
	NodeEventStart NodeEvent = "start"

	// NodeEventComplete indicates a node has completed successfully
	NodeEventComplete NodeEvent = "complete"

	// NodeEventError indicates a node encountered an error
	NodeEventError NodeEvent = "error"

	// NodeEventInterrupt indicates a node called Interrupt and paused the superstep
	NodeEventInterrupt NodeEvent = "interrupt"
)

// NodeEventInfo describes a node event.
type NodeEventInfo struct {
	ThreadID string
	Step     int
	Node     string
	// State is the node input for start events and the node's update for complete events.
	State State
	// Err is set for error and interrupt events.
	Err error
	// Duration is set for every event but start.
	Duration time.Duration
}

// Listener observes execution. Listeners are called synchronously; node
// events of one superstep may arrive concurrently.
type Listener interface {
	// OnNodeEvent is called when a node event occurs
	OnNodeEvent(ctx context.Context, event NodeEvent, info NodeEventInfo)
	// OnSuperstep is called after every checkpoint is appended
	OnSuperstep(ctx context.Context, cp *store.Checkpoint)
	// OnInterrupt is called when a run pauses
	OnInterrupt(ctx context.Context, threadID string, gi *GraphInterrupt)
}

// BaseListener implements Listener with no-ops. Embed it to override a subset.
type BaseListener struct{}

func (BaseListener) OnNodeEvent(context.Context, NodeEvent, NodeEventInfo) {}
func (BaseListener) OnSuperstep(context.Context, *store.Checkpoint) {}
func (BaseListener) OnInterrupt(context.Context, string, *GraphInterrupt) {}

// NodeListenerFunc is a function adapter for node events
type NodeListenerFunc func(ctx context.Context, event NodeEvent, info NodeEventInfo)

// OnNodeEvent implements the Listener interface
func (f NodeListenerFunc) OnNodeEvent(ctx context.Context, event NodeEvent, info NodeEventInfo) {
	f(ctx, event, info)
}

func (NodeListenerFunc) OnSuperstep(context.Context, *store.Checkpoint) {}
func (NodeListenerFunc) OnInterrupt(context.Context, string, *GraphInterrupt) {}

// LoggingListener writes execution events to a logger.
type LoggingListener struct {
	logger       log.Logger
	includeState bool
}

// NewLoggingListener creates a new logging listener
func NewLoggingListener(logger log.Logger) *LoggingListener {
	if logger == nil {
		logger = log.NoOpLogger{}
	}
	return &LoggingListener{logger: logger}
}

// WithState makes the listener log node inputs and updates.
func (l *LoggingListener) WithState(enabled bool) *LoggingListener {
	l.includeState = enabled
	return l
}

// OnNodeEvent implements the Listener interface
func (l *LoggingListener) OnNodeEvent(_ context.Context, event NodeEvent, info NodeEventInfo) {
	switch event {
	case NodeEventStart:
		if l.includeState {
			l.logger.Info("[%s] START %s step=%d input=%v", info.ThreadID, info.Node, info.Step, info.State)
		} else {
			l.logger.Info("[%s] START %s step=%d", info.ThreadID, info.Node, info.Step)
		}
	case NodeEventComplete:
		if l.includeState {
			l.logger.Info("[%s] COMPLETE %s step=%d in %v update=%v", info.ThreadID, info.Node, info.Step, info.Duration, info.State)
		} else {
			l.logger.Info("[%s] COMPLETE %s step=%d in %v", info.ThreadID, info.Node, info.Step, info.Duration)
		}
	case NodeEventInterrupt:
		l.logger.Info("[%s] INTERRUPT %s step=%d: %v", info.ThreadID, info.Node, info.Step, info.Err)
	case NodeEventError:
		l.logger.Error("[%s] ERROR %s step=%d: %v", info.ThreadID, info.Node, info.Step, info.Err)
	}
}

// OnSuperstep implements the Listener interface
func (l *LoggingListener) OnSuperstep(_ context.Context, cp *store.Checkpoint) {
	l.logger.Debug("[%s] checkpoint %s step=%d source=%s next=%v", cp.ThreadID, cp.ID, cp.Step, cp.Source, cp.PendingNodes())
}

// OnInterrupt implements the Listener interface
func (l *LoggingListener) OnInterrupt(_ context.Context, threadID string, gi *GraphInterrupt) {
	l.logger.Warn("[%s] paused %s %s at step %d, next %v", threadID, gi.When, gi.Node, gi.Step, gi.Next)
}
