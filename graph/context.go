package graph

import (
	"context"

	"github.com/smallnest/stepgraph/store"
)

type taskInfoKey struct{}

// taskInfo describes the task a node invocation belongs to.
type taskInfo struct {
	threadID string
	step     int
	taskID   string
	node     string
	scope    *resumeScope
	items    store.Store
}

func withTaskInfo(ctx context.Context, info *taskInfo) context.Context {
	return context.WithValue(ctx, taskInfoKey{}, info)
}

func getTaskInfo(ctx context.Context) *taskInfo {
	info, _ := ctx.Value(taskInfoKey{}).(*taskInfo)
	return info
}

// ThreadID returns the thread a node is running for, or "" outside a run.
func ThreadID(ctx context.Context) string {
	if info := getTaskInfo(ctx); info != nil {
		return info.threadID
	}
	return ""
}

// NodeName returns the name of the running node, or "" outside a run.
func NodeName(ctx context.Context) string {
	if info := getTaskInfo(ctx); info != nil {
		return info.node
	}
	return ""
}

// GetStore returns the long-term item store set with WithStore, or nil when
// the graph has none or ctx does not belong to a run.
func GetStore(ctx context.Context) store.Store {
	if info := getTaskInfo(ctx); info != nil {
		return info.items
	}
	return nil
}
