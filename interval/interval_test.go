package interval

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"gopkg.in/errgo.v1"
)

var nextWakeTests = []struct {
	testName      string
	next, now     time.Duration
	period        time.Duration
	expectWake    time.Duration
	expectSkipped int
}{{
	testName:   "early",
	next:       100 * time.Millisecond,
	now:        30 * time.Millisecond,
	period:     100 * time.Millisecond,
	expectWake: 100 * time.Millisecond,
}, {
	testName:   "exactly-on-boundary",
	next:       100 * time.Millisecond,
	now:        100 * time.Millisecond,
	period:     100 * time.Millisecond,
	expectWake: 100 * time.Millisecond,
}, {
	testName:      "just-missed",
	next:          100 * time.Millisecond,
	now:           101 * time.Millisecond,
	period:        100 * time.Millisecond,
	expectWake:    200 * time.Millisecond,
	expectSkipped: 1,
}, {
	testName:      "missed-several",
	next:          100 * time.Millisecond,
	now:           350 * time.Millisecond,
	period:        100 * time.Millisecond,
	expectWake:    400 * time.Millisecond,
	expectSkipped: 3,
}, {
	testName:      "landed-on-later-boundary",
	next:          100 * time.Millisecond,
	now:           300 * time.Millisecond,
	period:        100 * time.Millisecond,
	expectWake:    300 * time.Millisecond,
	expectSkipped: 2,
}}

func TestNextWake(t *testing.T) {
	c := qt.New(t)
	for _, test := range nextWakeTests {
		c.Run(test.testName, func(c *qt.C) {
			wake, skipped := NextWake(test.next, test.now, test.period)
			c.Assert(wake, qt.Equals, test.expectWake)
			c.Assert(skipped, qt.Equals, test.expectSkipped)
		})
	}
}

// fakeTime drives a Host clock from a manually advanced clock.
type fakeTime struct {
	now   time.Duration
	waits []time.Duration
	// stopped holds the number of timers that have been stopped.
	stopped int
	// hang causes timers never to fire.
	hang bool
}

func (t *fakeTime) since(time.Time) time.Duration {
	return t.now
}

func (t *fakeTime) newTimer(d time.Duration) (<-chan time.Time, func() bool) {
	t.waits = append(t.waits, d)
	c := make(chan time.Time, 1)
	if !t.hang {
		t.now += d
		c <- time.Time{}
	}
	return c, func() bool {
		t.stopped++
		return t.hang
	}
}

func newFakeHost() (*Host, *fakeTime) {
	ft := &fakeTime{}
	return &Host{
		since:    ft.since,
		newTimer: ft.newTimer,
	}, ft
}

func TestHostWaitNextOnSchedule(t *testing.T) {
	c := qt.New(t)
	h, ft := newFakeHost()
	err := h.Start(100 * time.Millisecond)
	c.Assert(err, qt.IsNil)
	for i := 0; i < 3; i++ {
		ft.now += 10 * time.Millisecond
		skipped, err := h.WaitNext(context.Background())
		c.Assert(err, qt.IsNil)
		c.Assert(skipped, qt.Equals, 0)
	}
	// The 10ms of work each time does not accumulate as drift.
	c.Assert(ft.waits, qt.DeepEquals, []time.Duration{
		90 * time.Millisecond,
		90 * time.Millisecond,
		90 * time.Millisecond,
	})
	c.Assert(ft.now, qt.Equals, 300*time.Millisecond)
	c.Assert(ft.stopped, qt.Equals, 3)
}

func TestHostWaitNextSkipped(t *testing.T) {
	c := qt.New(t)
	h, ft := newFakeHost()
	err := h.Start(100 * time.Millisecond)
	c.Assert(err, qt.IsNil)

	skipped, err := h.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 0)
	c.Assert(ft.now, qt.Equals, 100*time.Millisecond)

	// Overrun the next period by 150ms.
	ft.now += 250 * time.Millisecond
	skipped, err = h.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 2)
	c.Assert(ft.now, qt.Equals, 400*time.Millisecond)

	skipped, err = h.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 0)
	c.Assert(ft.now, qt.Equals, 500*time.Millisecond)
}

func TestHostWaitNextNotStarted(t *testing.T) {
	c := qt.New(t)
	h := NewHost()
	_, err := h.WaitNext(context.Background())
	c.Assert(err, qt.ErrorMatches, `cannot wait: interval clock not started`)
	c.Assert(errgo.Cause(err), qt.Equals, ErrNotStarted)

	c.Assert(h.Start(time.Millisecond), qt.IsNil)
	h.Stop()
	h.Stop()
	_, err = h.WaitNext(context.Background())
	c.Assert(errgo.Cause(err), qt.Equals, ErrNotStarted)
}

func TestHostStartInvalidPeriod(t *testing.T) {
	c := qt.New(t)
	err := NewHost().Start(0)
	c.Assert(err, qt.ErrorMatches, `invalid interval period 0s`)
}

func TestHostWaitNextCancelled(t *testing.T) {
	c := qt.New(t)
	h := NewHost()
	c.Assert(h.Start(time.Hour), qt.IsNil)
	defer h.Stop()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := h.WaitNext(ctx)
	c.Assert(err, qt.Equals, context.Canceled)
}

func TestHostWaitNextCancelledStopsTimer(t *testing.T) {
	c := qt.New(t)
	h, ft := newFakeHost()
	c.Assert(h.Start(100*time.Millisecond), qt.IsNil)
	ft.hang = true
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := h.WaitNext(ctx)
		c.Assert(err, qt.Equals, context.Canceled)
	}
	c.Assert(ft.waits, qt.HasLen, 3)
	c.Assert(ft.stopped, qt.Equals, 3)
	c.Assert(ft.now, qt.Equals, time.Duration(0))

	// The schedule is unaffected by the cancelled waits.
	ft.hang = false
	skipped, err := h.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 0)
	c.Assert(ft.now, qt.Equals, 100*time.Millisecond)
}

func TestHostRealTime(t *testing.T) {
	c := qt.New(t)
	h := NewHost()
	t0 := h.NowTick()
	c.Assert(h.Start(20*time.Millisecond), qt.IsNil)
	defer h.Stop()
	for i := 0; i < 3; i++ {
		_, err := h.WaitNext(context.Background())
		c.Assert(err, qt.IsNil)
	}
	elapsed := h.NowTick() - t0
	c.Assert(elapsed >= 60000, qt.IsTrue, qt.Commentf("elapsed %dµs", elapsed))
}
