// Package log provides the leveled logging interface used across stepgraph.
//
// Logger has printf-style Debug, Info, Warn and Error methods. The default
// implementation, GologLogger, is backed by github.com/kataras/golog; use
// New or NewWriterLogger to build one and NoOpLogger to silence output.
// There is no package-level logger: components receive a Logger explicitly.
//
//	logger := log.New(log.LogLevelDebug)
//	logger.Info("thread %s resumed", threadID)
package log
