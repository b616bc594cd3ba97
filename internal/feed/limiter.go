package feed

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/alert-engine/internal/alerterr"
	"github.com/alert-engine/internal/config"
)

// feedLimiter bounds one feed's outbound rate two ways: a token bucket for
// requests per second and a semaphore for how many callers may queue behind
// the bucket. A full queue rejects immediately rather than stacking waiters
// past the tick deadline.
type feedLimiter struct {
	name    string
	limiter *rate.Limiter
	queue   chan struct{}
}

func newFeedLimiter(name string, cfg config.FeedConfig) *feedLimiter {
	depth := cfg.QueueDepth
	if depth <= 0 {
		depth = 1
	}
	return &feedLimiter{
		name:    name,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		queue:   make(chan struct{}, depth),
	}
}

// acquire blocks until a request slot is available or the context ends.
// A full queue returns a throttled error without waiting.
func (l *feedLimiter) acquire(ctx context.Context) error {
	select {
	case l.queue <- struct{}{}:
	default:
		return alerterr.Throttled(l.name)
	}

	if err := l.limiter.Wait(ctx); err != nil {
		<-l.queue
		return alerterr.Transient("rate wait", err)
	}
	return nil
}

// release frees the queue slot after the request completes.
func (l *feedLimiter) release() {
	<-l.queue
}
