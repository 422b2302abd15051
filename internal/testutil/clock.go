package testutil

import (
	"context"
	"sync"
	"time"
)

// RecordingSleeper records requested backoff waits without sleeping.
type RecordingSleeper struct {
	mu     sync.Mutex
	waits  []time.Duration
	Before func(ctx context.Context, d time.Duration)
}

// Sleep matches provider.SleepFunc.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if s.Before != nil {
		s.Before(ctx, d)
	}
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Waits returns the recorded waits in order.
func (s *RecordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

// Total returns the sum of recorded waits.
func (s *RecordingSleeper) Total() time.Duration {
	var total time.Duration
	for _, w := range s.Waits() {
		total += w
	}
	return total
}
