// Package intervaltest provides a simulated interval clock for tests.
package intervaltest

import (
	"context"
	"sync"
	"time"

	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/interval"
)

// Clock is an implementation of interval.Clock that runs on simulated
// time. Waiting never blocks: WaitNext moves the simulated time
// forward to the next interval boundary. Work done between waits can
// be simulated by calling Advance.
type Clock struct {
	// Jitter, if non-nil, is called for each wait with the
	// index of the wait (from zero) and returns how late the
	// wake-up should be after the scheduled boundary.
	Jitter func(i int) time.Duration

	// BeforeWait, if non-nil, is called at the start of each
	// wait with the index of the wait.
	BeforeWait func(i int)

	// Errors holds errors to be returned by waits,
	// indexed by wait number.
	Errors map[int]error

	mu      sync.Mutex
	now     time.Duration
	started bool
	stopped int
	period  time.Duration
	base    time.Duration
	next    time.Duration
	waits   int
}

var _ interval.Clock = (*Clock)(nil)

// NewClock returns a new simulated clock with its
// tick count starting at the given time.
func NewClock(start time.Duration) *Clock {
	return &Clock{
		now: start,
	}
}

// Advance moves the simulated time forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += d
}

// Now returns the current simulated time.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Waits returns the number of times WaitNext has been called.
func (c *Clock) Waits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waits
}

// Stopped reports whether Stop has been called since the
// clock was last started.
func (c *Clock) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped > 0
}

func (c *Clock) Start(period time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if period <= 0 {
		return errgo.Newf("invalid interval period %v", period)
	}
	c.started = true
	c.stopped = 0
	c.period = period
	c.base = c.now
	c.next = period
	return nil
}

func (c *Clock) WaitNext(ctx context.Context) (int, error) {
	c.mu.Lock()
	i := c.waits
	c.waits++
	beforeWait := c.BeforeWait
	c.mu.Unlock()
	if beforeWait != nil {
		beforeWait(i)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return 0, errgo.WithCausef(nil, interval.ErrNotStarted, "cannot wait: interval clock not started")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := c.Errors[i]; err != nil {
		return 0, err
	}
	wake, skipped := interval.NextWake(c.next, c.now-c.base, c.period)
	c.now = c.base + wake
	if c.Jitter != nil {
		c.now += c.Jitter(i)
	}
	c.next = wake + c.period
	return skipped, nil
}

func (c *Clock) NowTick() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(c.now / time.Microsecond)
}

func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = false
	c.stopped++
}
