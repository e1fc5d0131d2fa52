package jobqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// memCounter stands in for the attempt log
type memCounter struct {
	mu     sync.Mutex
	counts map[string]int
	err    error
}

func newMemCounter() *memCounter {
	return &memCounter{counts: map[string]int{}}
}

func (c *memCounter) CountByEventID(_ context.Context, eventID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	return c.counts[eventID], nil
}

func (c *memCounter) inc(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[eventID]++
}

func (c *memCounter) set(eventID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[eventID] = n
}

// testClock is a settable time source
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue(t *testing.T, counter AttemptCounter, opts Options) (*Queue, *redis.Client, *testClock) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	q := NewQueue(client, counter, opts)
	q.now = clock.Now
	return q, client, clock
}
