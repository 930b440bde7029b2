// Package admission bounds the number of chat requests allowed to run
// against the inference backend at once. It is the only global
// synchronization point on the query path: a request either receives a slot
// immediately, waits in a bounded FIFO queue, or is rejected outright.
package admission

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/edgeai/rag-gateway/pkg/errors"
	"github.com/edgeai/rag-gateway/pkg/logger"
	"github.com/edgeai/rag-gateway/pkg/metrics"
)

// Rejection reasons reported in metrics and error messages.
const (
	ReasonQueueFull = "queue_full"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
)

// Config controls the concurrency ceiling, wait-queue depth, and the maximum
// time a request may wait for a slot.
type Config struct {
	MaxConcurrent  int
	QueueDepth     int
	AcquireTimeout time.Duration
	// DebugChecks makes a double release panic instead of logging.
	DebugChecks bool
}

// Slot is a lease on one unit of inference capacity. It is acquired at
// request entry and must be released exactly once on every exit path.
type Slot struct {
	ctrl     *Controller
	released atomic.Bool
}

// waiter is one queued Acquire call. The controller hands ownership to the
// waiter by sending a slot on grant; a waiter that gives up removes itself
// under the controller lock, so a slot can never be sent to an abandoned
// channel (capacity 1 keeps the race window harmless anyway).
type waiter struct {
	grant chan *Slot
}

// Controller grants slots FIFO among waiters up to a fixed ceiling.
type Controller struct {
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	active  int
	waiters []*waiter
}

// New creates a Controller. m may be nil in tests.
func New(cfg Config, m *metrics.Metrics) *Controller {
	return &Controller{
		cfg:     cfg,
		metrics: m,
		log:     logger.WithComponent("admission"),
	}
}

// Acquire blocks until a slot is free, the configured wait timeout elapses,
// or ctx is cancelled. When the wait queue is already full at call time it
// fails immediately with a queue_full rejection; there is no unbounded
// queuing behind the ceiling.
func (c *Controller) Acquire(ctx context.Context) (*Slot, error) {
	c.mu.Lock()
	if c.active < c.cfg.MaxConcurrent {
		c.active++
		c.mu.Unlock()
		c.gaugeActive(1)
		return &Slot{ctrl: c}, nil
	}

	if len(c.waiters) >= c.cfg.QueueDepth {
		c.mu.Unlock()
		c.countRejection(ReasonQueueFull)
		return nil, apperrors.Newf(apperrors.ErrAdmissionRejected, 429,
			"wait queue full (depth %d)", c.cfg.QueueDepth)
	}

	w := &waiter{grant: make(chan *Slot, 1)}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	c.gaugeWaiting(1)
	defer c.gaugeWaiting(-1)

	var timeout <-chan time.Time
	if c.cfg.AcquireTimeout > 0 {
		timer := time.NewTimer(c.cfg.AcquireTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case slot := <-w.grant:
		c.gaugeActive(1)
		return slot, nil
	case <-timeout:
		if slot := c.abandon(w); slot != nil {
			// Granted concurrently with the timer firing; keep the slot.
			c.gaugeActive(1)
			return slot, nil
		}
		c.countRejection(ReasonTimeout)
		return nil, apperrors.Newf(apperrors.ErrAdmissionRejected, 429,
			"no slot within %v", c.cfg.AcquireTimeout)
	case <-ctx.Done():
		if slot := c.abandon(w); slot != nil {
			// Granted concurrently with cancellation; hand the slot back.
			c.gaugeActive(1)
			c.Release(slot)
			return nil, apperrors.New(apperrors.ErrAdmissionRejected, 429, ctx.Err().Error())
		}
		c.countRejection(ReasonCancelled)
		return nil, apperrors.New(apperrors.ErrAdmissionRejected, 429, ctx.Err().Error())
	}
}

// Release returns a slot to the pool, handing it to the oldest waiter if any.
// Releasing a slot twice is a programming error: fatal under DebugChecks,
// a logged no-op otherwise.
func (c *Controller) Release(slot *Slot) {
	if slot == nil {
		return
	}
	if slot.released.Swap(true) {
		if c.cfg.DebugChecks {
			panic("admission: slot released twice")
		}
		c.log.Error("slot released twice")
		return
	}
	c.gaugeActive(-1)

	c.mu.Lock()
	if len(c.waiters) > 0 {
		w := c.waiters[0]
		c.waiters = c.waiters[1:]
		// Buffered channel: the send completes under the lock, so a waiter
		// that times out and no longer finds itself queued is guaranteed to
		// find its grant in the channel.
		w.grant <- &Slot{ctrl: c}
		c.mu.Unlock()
		return
	}
	c.active--
	c.mu.Unlock()
}

// abandon removes w from the queue. It returns a non-nil slot when the grant
// raced with the caller giving up, in which case ownership has already
// transferred to the caller.
func (c *Controller) abandon(w *waiter) *Slot {
	c.mu.Lock()
	for i, queued := range c.waiters {
		if queued == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			c.mu.Unlock()
			return nil
		}
	}
	c.mu.Unlock()
	select {
	case slot := <-w.grant:
		return slot
	default:
		return nil
	}
}

// Active returns the number of slots currently held.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Waiting returns the current wait-queue length.
func (c *Controller) Waiting() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Controller) gaugeActive(delta float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.ActiveRequests.Add(delta)
}

func (c *Controller) gaugeWaiting(delta float64) {
	if c.metrics == nil {
		return
	}
	c.metrics.AdmissionWaiting.Add(delta)
}

func (c *Controller) countRejection(reason string) {
	if c.metrics != nil {
		c.metrics.AdmissionRejectedTotal.WithLabelValues(reason).Inc()
	}
	c.log.Warn("admission rejected", "reason", reason,
		"max_concurrent", c.cfg.MaxConcurrent, "queue_depth", c.cfg.QueueDepth)
}
