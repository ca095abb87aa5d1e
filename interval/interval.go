// Package interval provides a clock that paces a loop at a fixed
// interval, reporting when intervals have been missed.
//
// The schedule is absolute: interval boundaries fall at exact
// multiples of the period from the time the clock was started, so
// lateness in one iteration does not accumulate as drift in later ones.
package interval

import (
	"context"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
)

var logger = loggo.GetLogger("daqlog.interval")

// Clock represents a source of regularly spaced ticks.
type Clock interface {
	// Start starts a schedule with the given period.
	// The first interval ends one period after Start is called.
	Start(period time.Duration) error

	// WaitNext blocks until the next interval boundary and returns
	// the number of boundaries that passed without being waited
	// for since the last call. If the context is cancelled while
	// waiting, it returns the context's error.
	// It returns an error with the cause ErrNotStarted if Start
	// has not been called.
	WaitNext(ctx context.Context) (skipped int, err error)

	// NowTick returns the current value of a monotonic
	// clock in microseconds.
	NowTick() int64

	// Stop stops the schedule. It's OK to call Stop more than once.
	Stop()
}

// ErrNotStarted is the cause of the error returned by WaitNext
// when the clock has not been started.
var ErrNotStarted = errgo.New("interval clock not started")

// NextWake returns the time at which a waiter should wake, given
// that next holds the earliest interval boundary not yet waited for
// and now holds the current time (both measured from the same origin).
// It also returns the number of boundaries before now that have
// been skipped. The boundary after wake is wake+period.
//
// If a boundary has been missed, the waiter still waits for
// the next whole interval.
func NextWake(next, now, period time.Duration) (wake time.Duration, skipped int) {
	if now <= next {
		return next, 0
	}
	skipped = int((now - next + period - 1) / period)
	return next + time.Duration(skipped)*period, skipped
}

// origin holds the origin for the values returned by NowTick.
var origin = time.Now()

// Host is a Clock implementation that uses the host's monotonic clock.
// The zero value is ready to use.
type Host struct {
	// since and newTimer are overridden for tests.
	since    func(time.Time) time.Duration
	newTimer func(time.Duration) (<-chan time.Time, func() bool)

	started bool
	period  time.Duration
	base    time.Time
	next    time.Duration
}

var _ Clock = (*Host)(nil)

// NewHost returns a new Host clock.
func NewHost() *Host {
	return &Host{}
}

func (c *Host) Start(period time.Duration) error {
	if period <= 0 {
		return errgo.Newf("invalid interval period %v", period)
	}
	if c.since == nil {
		c.since = time.Since
	}
	if c.newTimer == nil {
		c.newTimer = newTimer
	}
	c.started = true
	c.period = period
	c.base = time.Now()
	c.next = period
	logger.Debugf("interval started with period %v", period)
	return nil
}

func (c *Host) WaitNext(ctx context.Context) (int, error) {
	if !c.started {
		return 0, errgo.WithCausef(nil, ErrNotStarted, "cannot wait: interval clock not started")
	}
	wake, skipped := NextWake(c.next, c.since(c.base), c.period)
	if d := wake - c.since(c.base); d > 0 {
		fired, stop := c.newTimer(d)
		defer stop()
		select {
		case <-fired:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	c.next = wake + c.period
	return skipped, nil
}

func newTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t := time.NewTimer(d)
	return t.C, t.Stop
}

func (c *Host) NowTick() int64 {
	return int64(time.Since(origin) / time.Microsecond)
}

func (c *Host) Stop() {
	if c.started {
		logger.Debugf("interval stopped")
	}
	c.started = false
}
