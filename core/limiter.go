package core

import (
	"fmt"
	"sync"
)

// IterationLimiter bounds the number of completion rounds a single turn may
// run. One limiter is created per turn.
type IterationLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationLimiter creates a new limiter allowing max tool rounds.
// If max == 0, unlimited rounds are allowed.
func NewIterationLimiter(max int) *IterationLimiter {
	return &IterationLimiter{max: max}
}

// Increment records a tool round and returns ErrToolIterationLimitExceeded
// once the limit is passed.
func (l *IterationLimiter) Increment() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.count++
	if l.max > 0 && l.count > l.max {
		return fmt.Errorf("%w: max %d", ErrToolIterationLimitExceeded, l.max)
	}

	return nil
}

// Count returns the number of rounds recorded so far.
func (l *IterationLimiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.count
}

// Remaining returns how many rounds are left before hitting the limit.
func (l *IterationLimiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return -1 // unlimited
	}

	return l.max - l.count
}
