package natsclient

import (
	"sync"
	"time"
)

const initialBackoff = time.Second

// circuitBreaker counts consecutive connect failures. Every threshold
// failures it trips, reporting the backoff to wait before the next probe,
// and doubles the backoff for the following round.
type circuitBreaker struct {
	mu          sync.Mutex
	threshold   int32
	maxBackoff  time.Duration
	backoff     time.Duration
	total       int32 // failures since the last success
	round       int32 // failures in the current round
	lastFailure time.Time
}

func newCircuitBreaker(threshold int32, maxBackoff time.Duration) *circuitBreaker {
	return &circuitBreaker{
		threshold:  threshold,
		maxBackoff: maxBackoff,
		backoff:    initialBackoff,
	}
}

// failure records one failure. When the round is complete it returns the
// backoff to hold the circuit open for, and true.
func (b *circuitBreaker) failure() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total++
	b.round++
	b.lastFailure = time.Now()
	if b.round < b.threshold {
		return 0, false
	}
	b.round = 0

	hold := b.backoff
	b.backoff = min(b.backoff*2, b.maxBackoff)
	return hold, true
}

func (b *circuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.total = 0
	b.round = 0
	b.backoff = initialBackoff
	b.lastFailure = time.Time{}
}

func (b *circuitBreaker) failures() int32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *circuitBreaker) nextBackoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoff
}

func (b *circuitBreaker) lastFailureTime() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}
