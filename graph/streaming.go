package graph

import (
	"context"
	"time"

	"github.com/smallnest/stepgraph/store"
)

// StreamMode defines the mode of streaming
type StreamMode string

const (
	// StreamModeValues emits the full state after each step
	StreamModeValues StreamMode = "values"
	// StreamModeUpdates emits the updates (deltas) from each node
	StreamModeUpdates StreamMode = "updates"
	// StreamModeDebug emits node, checkpoint and interrupt events
	StreamModeDebug StreamMode = "debug"
)

// StreamConfig configures streaming behavior
type StreamConfig struct {
	// BufferSize is the size of the event channel buffer
	BufferSize int

	// Mode specifies what kind of events to stream
	Mode StreamMode
}

// DefaultStreamConfig returns the default streaming configuration
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		BufferSize: 64,
		Mode:       StreamModeValues,
	}
}

// StreamEvent represents an event in the streaming execution
type StreamEvent struct {
	// Timestamp when the event occurred
	Timestamp time.Time
	Mode      StreamMode
	ThreadID  string
	Step      int
	// Node is set for node events and update events
	Node string
	// Event is set in debug mode
	Event NodeEvent
	// Source is set for checkpoint events
	Source store.Source
	// State is the full state in values mode and the node update in updates mode
	State State
	Err   error
}

// StreamResult contains the channels returned by streaming execution
type StreamResult struct {
	// Events channel receives StreamEvent objects in real-time
	Events <-chan StreamEvent

	// Result channel receives the final state when the run finishes
	Result <-chan State

	// Errors channel receives the run's error, including *GraphInterrupt
	Errors <-chan error

	// Done channel is closed when streaming is complete
	Done <-chan struct{}

	// Cancel function can be called to stop streaming
	Cancel context.CancelFunc
}

// streamingListener forwards execution events to a channel.
type streamingListener struct {
	ctx    context.Context
	events chan<- StreamEvent
	mode   StreamMode
}

func (sl *streamingListener) emit(event StreamEvent) {
	event.Timestamp = time.Now()
	event.Mode = sl.mode
	select {
	case sl.events <- event:
	case <-sl.ctx.Done():
	}
}

func (sl *streamingListener) OnNodeEvent(_ context.Context, event NodeEvent, info NodeEventInfo) {
	switch {
	case sl.mode == StreamModeDebug:
		sl.emit(StreamEvent{ThreadID: info.ThreadID, Step: info.Step, Node: info.Node, Event: event, State: info.State, Err: info.Err})
	case sl.mode == StreamModeUpdates && event == NodeEventComplete:
		sl.emit(StreamEvent{ThreadID: info.ThreadID, Step: info.Step, Node: info.Node, State: copyState(info.State)})
	}
}

func (sl *streamingListener) OnSuperstep(_ context.Context, cp *store.Checkpoint) {
	switch sl.mode {
	case StreamModeValues:
		if cp.Source != store.SourceInput && cp.Source != store.SourceLoop {
			return
		}
	case StreamModeDebug:
	default:
		return
	}
	sl.emit(StreamEvent{ThreadID: cp.ThreadID, Step: cp.Step, Source: cp.Source, State: copyState(cp.State)})
}

func (sl *streamingListener) OnInterrupt(_ context.Context, threadID string, gi *GraphInterrupt) {
	if sl.mode == StreamModeDebug {
		sl.emit(StreamEvent{ThreadID: threadID, Step: gi.Step, Node: gi.Node, Event: NodeEventInterrupt, Err: gi})
	}
}

// Stream runs Invoke and streams its events.
func (g *CompiledGraph) Stream(ctx context.Context, threadID string, input State, config StreamConfig) *StreamResult {
	return g.stream(ctx, config, func(ctx context.Context, listeners []Listener) (State, error) {
		return g.invoke(ctx, threadID, input, listeners)
	})
}

// StreamResume runs Resume and streams its events.
func (g *CompiledGraph) StreamResume(ctx context.Context, threadID string, sig ResumeSignal, config StreamConfig) *StreamResult {
	return g.stream(ctx, config, func(ctx context.Context, listeners []Listener) (State, error) {
		return g.resume(ctx, threadID, sig, listeners)
	})
}

func (g *CompiledGraph) stream(ctx context.Context, config StreamConfig, run func(context.Context, []Listener) (State, error)) *StreamResult {
	if config.Mode == "" {
		config.Mode = StreamModeValues
	}
	eventChan := make(chan StreamEvent, config.BufferSize)
	resultChan := make(chan State, 1)
	errorChan := make(chan error, 1)
	doneChan := make(chan struct{})

	streamCtx, cancel := context.WithCancel(ctx)
	listener := &streamingListener{ctx: streamCtx, events: eventChan, mode: config.Mode}
	listeners := append(append([]Listener(nil), g.cfg.listeners...), listener)

	go func() {
		// Listeners are called synchronously, so nothing writes to eventChan once run returns.
		defer func() {
			close(eventChan)
			close(resultChan)
			close(errorChan)
			close(doneChan)
		}()

		result, err := run(streamCtx, listeners)
		if err != nil {
			errorChan <- err
			return
		}
		resultChan <- result
	}()

	return &StreamResult{
		Events: eventChan,
		Result: resultChan,
		Errors: errorChan,
		Done:   doneChan,
		Cancel: cancel,
	}
}
