package graph

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryConfig configures retry behavior for nodes
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffFactor   float64
	RetryableErrors func(error) bool // Determines if an error should trigger retry
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// WithRetry wraps fn with exponential backoff. Interrupts and context
// cancellation are returned immediately.
func WithRetry(name string, fn NodeFunc, config *RetryConfig) NodeFunc {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return func(ctx context.Context, state State) (any, error) {
		var lastErr error
		delay := config.InitialDelay

		for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("retry cancelled: %w", err)
			}

			if info := getTaskInfo(ctx); info != nil && info.scope != nil {
				info.scope.reset()
			}
			result, err := fn(ctx, copyState(state))
			if err == nil {
				return result, nil
			}

			var ni *NodeInterrupt
			if errors.As(err, &ni) || errors.Is(err, context.Canceled) {
				return nil, err
			}
			lastErr = err

			if config.RetryableErrors != nil && !config.RetryableErrors(err) {
				return nil, fmt.Errorf("non-retryable error in %s: %w", name, err)
			}

			// Don't sleep after the last attempt
			if attempt < config.MaxAttempts {
				select {
				case <-time.After(delay):
					delay = time.Duration(float64(delay) * config.BackoffFactor)
					if config.MaxDelay > 0 {
						delay = min(delay, config.MaxDelay)
					}
				case <-ctx.Done():
					return nil, fmt.Errorf("retry cancelled during backoff: %w", ctx.Err())
				}
			}
		}

		return nil, fmt.Errorf("max retries (%d) exceeded for %s: %w", config.MaxAttempts, name, lastErr)
	}
}

// AddNodeWithRetry adds a node with retry logic
func (g *StateGraph) AddNodeWithRetry(name string, description string, fn NodeFunc, config *RetryConfig) error {
	return g.AddNode(name, description, WithRetry(name, fn, config))
}

// WithTimeout bounds each invocation of fn by timeout.
func WithTimeout(name string, fn NodeFunc, timeout time.Duration) NodeFunc {
	return func(ctx context.Context, state State) (any, error) {
		timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		type result struct {
			value any
			err   error
		}
		resultChan := make(chan result, 1)

		go func() {
			value, err := fn(timeoutCtx, state)
			resultChan <- result{value: value, err: err}
		}()

		select {
		case res := <-resultChan:
			return res.value, res.err
		case <-timeoutCtx.Done():
			return nil, fmt.Errorf("node %s timed out after %v", name, timeout)
		}
	}
}

// AddNodeWithTimeout adds a node with timeout
func (g *StateGraph) AddNodeWithTimeout(name string, description string, fn NodeFunc, timeout time.Duration) error {
	return g.AddNode(name, description, WithTimeout(name, fn, timeout))
}
