package runctx

import (
	"context"

	"tunneldeck/internal/logging"
)

// RecvOrDone blocks until a value arrives on in or ctx is canceled.
// The second return is false when the context ended or in was closed.
func RecvOrDone[T any](ctx context.Context, name string, logger *logging.Logger, in <-chan T) (T, bool) {
	if logger == nil {
		panic("runctx.RecvOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug(name+" stopping: context canceled", logging.Field("error", ctx.Err()))
		var zero T
		return zero, false
	case v, ok := <-in:
		if !ok {
			logger.Debug(name + " stopping: input channel closed")
		}
		return v, ok
	}
}

// SendOrDone delivers value on out unless ctx is canceled first.
func SendOrDone[T any](ctx context.Context, name string, logger *logging.Logger, out chan<- T, value T) bool {
	if logger == nil {
		panic("runctx.SendOrDone: logger must not be nil")
	}
	select {
	case <-ctx.Done():
		logger.Debug(name+" stopping: context canceled before send", logging.Field("error", ctx.Err()))
		return false
	case out <- value:
		return true
	}
}
