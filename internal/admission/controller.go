package admission

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/voxalabs/voxa-server/internal/config"
	"github.com/voxalabs/voxa-server/internal/perf"
)

// ErrOverloaded signals that every permit is held and the wait queue is
// at capacity. Callers surface it as a retry-later condition; it is
// never retried internally.
var ErrOverloaded = errors.New("admission queue full")

type waiter struct {
	ready chan struct{}
}

// Controller gates concurrent requests behind a fixed-size permit pool
// with a bounded FIFO wait queue. Released permits are handed directly
// to the head waiter, so wakeup order is arrival order rather than
// scheduler choice.
type Controller struct {
	stats *perf.RollingStats
	log   *slog.Logger

	mu       sync.Mutex
	free     int
	queue    []*waiter
	queueCap int
}

func New(cfg config.AdmissionConfig, stats *perf.RollingStats, log *slog.Logger) *Controller {
	return &Controller{
		stats:    stats,
		log:      log.With(slog.String("component", "admission")),
		free:     cfg.MaxConcurrent,
		queue:    make([]*waiter, 0, cfg.QueueSize),
		queueCap: cfg.QueueSize,
	}
}

// Acquire obtains a permit. When one is free it returns synchronously;
// otherwise the caller joins the FIFO queue and suspends until a
// release hands its permit over, or ctx is done, or the queue is full
// (ErrOverloaded, immediately). The returned release is idempotent and
// must be called on every completion path. waited reports whether the
// caller spent time queued.
func (c *Controller) Acquire(ctx context.Context) (release func(), waited bool, err error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	if c.free > 0 {
		c.free--
		c.mu.Unlock()
		c.stats.Admitted()
		return c.releaseFunc(), false, nil
	}
	if len(c.queue) >= c.queueCap {
		c.mu.Unlock()
		c.log.Warn("request rejected, wait queue full", slog.Int("queue_size", c.queueCap))
		return nil, false, ErrOverloaded
	}
	w := &waiter{ready: make(chan struct{})}
	c.queue = append(c.queue, w)
	c.stats.SetQueueDepth(len(c.queue))
	c.mu.Unlock()

	select {
	case <-w.ready:
		c.stats.Admitted()
		return c.releaseFunc(), true, nil
	case <-ctx.Done():
		c.mu.Lock()
		select {
		case <-w.ready:
			// A release granted the permit before the cancellation was
			// observed; pass it straight on so nothing is leaked.
			c.grantLocked()
			c.mu.Unlock()
		default:
			c.removeLocked(w)
			c.stats.SetQueueDepth(len(c.queue))
			c.mu.Unlock()
		}
		return nil, true, ctx.Err()
	}
}

func (c *Controller) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			c.stats.Released()
			c.mu.Lock()
			c.grantLocked()
			c.mu.Unlock()
		})
	}
}

// grantLocked moves one permit to the head waiter, or back to the free
// pool when nobody waits. Callers hold c.mu.
func (c *Controller) grantLocked() {
	if len(c.queue) > 0 {
		w := c.queue[0]
		c.queue = c.queue[1:]
		c.stats.SetQueueDepth(len(c.queue))
		close(w.ready)
		return
	}
	c.free++
}

func (c *Controller) removeLocked(target *waiter) {
	for i, w := range c.queue {
		if w == target {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return
		}
	}
}

// QueueDepth reports the number of suspended waiters.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// FreePermits reports the currently unheld permit count.
func (c *Controller) FreePermits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.free
}
