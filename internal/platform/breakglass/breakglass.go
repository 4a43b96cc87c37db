// Package breakglass throttles emergency access requests. An emergency
// request bypasses the patient's normal review queue, so each requester is
// limited to a fixed number of them per rolling hour.
package breakglass

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultMaxPerHour = 10
	window            = time.Hour
	cleanupPeriod     = 5 * time.Minute
)

// Limiter decides whether a requester may raise another emergency request.
// Allow records the attempt when it returns true. Release gives the most
// recent attempt back, for requests that were allowed but never stored.
type Limiter interface {
	Allow(ctx context.Context, requesterID string) (bool, error)
	Release(ctx context.Context, requesterID string) error
}

// Memory is a per-process sliding-window limiter.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	max     int
	now     func() time.Time
}

func NewMemory(maxPerHour int) *Memory {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	return &Memory{
		entries: make(map[string][]time.Time),
		max:     maxPerHour,
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, requesterID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pruned := prune(m.entries[requesterID], now.Add(-window))
	if len(pruned) >= m.max {
		m.entries[requesterID] = pruned
		return false, nil
	}
	m.entries[requesterID] = append(pruned, now)
	return true, nil
}

func (m *Memory) Release(_ context.Context, requesterID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.entries[requesterID]; len(ts) > 0 {
		m.entries[requesterID] = ts[:len(ts)-1]
	}
	return nil
}

// Cleanup drops requesters with no attempts inside the window.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-window)
	for id, ts := range m.entries {
		pruned := prune(ts, cutoff)
		if len(pruned) == 0 {
			delete(m.entries, id)
		} else {
			m.entries[id] = pruned
		}
	}
}

// RunCleanup calls Cleanup periodically until ctx is done.
func (m *Memory) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Cleanup()
		}
	}
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// Redis is a sliding-window limiter shared by every replica. Attempts are
// kept in a sorted set per requester, scored by unix milliseconds.
type Redis struct {
	client *redis.Client
	prefix string
	max    int
	now    func() time.Time
}

func NewRedis(client *redis.Client, maxPerHour int) *Redis {
	if maxPerHour <= 0 {
		maxPerHour = DefaultMaxPerHour
	}
	return &Redis{client: client, prefix: "medvault:breakglass:", max: maxPerHour, now: time.Now}
}

// allowScript prunes the window, counts it and records the attempt in one
// step, so concurrent callers cannot both take the last slot.
// KEYS[1] window key; ARGV cutoff, max, score, member, ttl ms.
var allowScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
if redis.call('ZCARD', KEYS[1]) >= tonumber(ARGV[2]) then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return 1
`)

func (r *Redis) Allow(ctx context.Context, requesterID string) (bool, error) {
	now := r.now()
	allowed, err := allowScript.Run(ctx, r.client, []string{r.prefix + requesterID},
		now.Add(-window).UnixMilli(), r.max, now.UnixMilli(), uuid.NewString(), window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("break-glass allow: %w", err)
	}
	return allowed == 1, nil
}

func (r *Redis) Release(ctx context.Context, requesterID string) error {
	if err := r.client.ZPopMax(ctx, r.prefix+requesterID, 1).Err(); err != nil {
		return fmt.Errorf("break-glass release: %w", err)
	}
	return nil
}

// Unlimited allows every request.
type Unlimited struct{}

func (Unlimited) Allow(context.Context, string) (bool, error) { return true, nil }

func (Unlimited) Release(context.Context, string) error { return nil }
