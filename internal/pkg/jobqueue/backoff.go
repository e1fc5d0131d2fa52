package jobqueue

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based):
// base*2^(attempt-1) capped at max, plus up to 10% deterministic jitter seeded
// by key and attempt so a redelivered job gets the same schedule.
func Backoff(attempt int, base, max time.Duration, key string) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if base <= 0 {
		return 0
	}
	if max < base {
		max = base
	}

	delay := base
	for i := 1; i < attempt; i++ {
		if delay >= max/2 {
			delay = max
			break
		}
		delay *= 2
	}
	if delay > max {
		delay = max
	}

	return delay + jitter(delay, key, attempt)
}

func jitter(delay time.Duration, key string, attempt int) time.Duration {
	span := int64(delay) / 10
	if span <= 0 {
		return 0
	}
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", key, attempt)))
	basis := binary.BigEndian.Uint64(hash[:8])
	return time.Duration(int64(basis % uint64(span)))
}
