package util

import (
	"context"
)

// Limiter limits the number of concurrent operations.
//
// A call to [Limiter.Begin] blocks while the maximum concurrency is
// reached and reports false when the context is cancelled before a slot
// frees up. Callers must call [Limiter.End] when the operation finishes.
//
// Usage example:
//
//	if !limiter.Begin(ctx) {
//		return
//	}
//	defer limiter.End()
type Limiter interface {
	Begin(context.Context) bool
	End()
}

type empty = struct{}

type limiter struct {
	limitChan chan empty
}

func NewLimiter(limit int) Limiter {
	return &limiter{
		limitChan: make(chan empty, limit),
	}
}

func (l *limiter) Begin(ctx context.Context) bool {
	select {
	case l.limitChan <- empty{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (l *limiter) End() {
	<-l.limitChan
}
