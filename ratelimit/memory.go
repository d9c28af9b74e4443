package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// events holds the accepted event times of one key, oldest first.
type events []time.Time

// prune drops events that fell out of the window ending at now.
func (e events) prune(now time.Time, window time.Duration) events {
	i := 0
	for i < len(e) && now.Sub(e[i]) >= window {
		i++
	}
	return e[i:]
}

// Memory is a per-process limiter. A key is evicted once it has been idle
// for a full window, when all of its events have expired anyway.
type Memory struct {
	cfg  Config
	mu   sync.Mutex
	data *expirable.LRU[string, events]
	now  func() time.Time
}

// NewMemory creates a limiter holding at most capacity keys.
func NewMemory(cfg Config, capacity int) *Memory {
	return &Memory{
		cfg:  cfg,
		data: expirable.NewLRU[string, events](capacity, nil, cfg.Window),
		now:  time.Now,
	}
}

// Allow counts one event for key.
func (m *Memory) Allow(ctx context.Context, key string) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	ev, _ := m.data.Get(key)
	ev = ev.prune(now, m.cfg.Window)

	if len(ev) >= m.cfg.Limit {
		m.data.Add(key, ev)
		return m.cfg.result(len(ev)+1, ev[0].Add(m.cfg.Window)), nil
	}

	ev = append(ev, now)
	m.data.Add(key, ev)
	return m.cfg.result(len(ev), ev[0].Add(m.cfg.Window)), nil
}
