// Package ratelimit provides rolling-window limiters keyed by caller-chosen
// strings, in memory for single instances and in Redis when several
// instances must share one budget. An event is allowed when fewer than
// Limit accepted events fall within the Window ending now; rejected
// attempts are not counted.
package ratelimit

import (
	"context"
	"time"
)

// Result is the outcome of one Allow call.
type Result struct {
	Allowed bool

	// Count is the number of events in the window including this one,
	// whether or not it was accepted.
	Count     int
	Remaining int

	// ResetAt is when the oldest event in the window leaves it, freeing a slot.
	ResetAt time.Time
}

// Limiter counts events per key within a rolling window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Config bounds a limiter.
type Config struct {
	Limit  int
	Window time.Duration
}

func (c Config) result(count int, resetAt time.Time) Result {
	remaining := c.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= c.Limit,
		Count:     count,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}
