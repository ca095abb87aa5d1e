package intervaltest_test

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/interval"
	"github.com/rogpeppe/daqlog/intervaltest"
)

func TestClock(t *testing.T) {
	c := qt.New(t)
	clock := intervaltest.NewClock(time.Second)
	c.Assert(clock.NowTick(), qt.Equals, int64(1000000))

	_, err := clock.WaitNext(context.Background())
	c.Assert(errgo.Cause(err), qt.Equals, interval.ErrNotStarted)

	err = clock.Start(100 * time.Millisecond)
	c.Assert(err, qt.IsNil)

	skipped, err := clock.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 0)
	c.Assert(clock.NowTick(), qt.Equals, int64(1100000))

	clock.Advance(30 * time.Millisecond)
	skipped, err = clock.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 0)
	c.Assert(clock.NowTick(), qt.Equals, int64(1200000))

	clock.Advance(230 * time.Millisecond)
	skipped, err = clock.WaitNext(context.Background())
	c.Assert(err, qt.IsNil)
	c.Assert(skipped, qt.Equals, 2)
	c.Assert(clock.NowTick(), qt.Equals, int64(1500000))

	c.Assert(clock.Waits(), qt.Equals, 4)
	c.Assert(clock.Stopped(), qt.IsFalse)
	clock.Stop()
	clock.Stop()
	c.Assert(clock.Stopped(), qt.IsTrue)
}

func TestClockJitter(t *testing.T) {
	c := qt.New(t)
	clock := intervaltest.NewClock(0)
	clock.Jitter = func(i int) time.Duration {
		return time.Duration(i) * time.Millisecond
	}
	c.Assert(clock.Start(100*time.Millisecond), qt.IsNil)
	var ticks []int64
	for i := 0; i < 3; i++ {
		_, err := clock.WaitNext(context.Background())
		c.Assert(err, qt.IsNil)
		ticks = append(ticks, clock.NowTick())
	}
	c.Assert(ticks, qt.DeepEquals, []int64{100000, 201000, 302000})
}

func TestClockCancelled(t *testing.T) {
	c := qt.New(t)
	clock := intervaltest.NewClock(0)
	c.Assert(clock.Start(time.Millisecond), qt.IsNil)
	ctx, cancel := context.WithCancel(context.Background())
	clock.BeforeWait = func(i int) {
		if i == 1 {
			cancel()
		}
	}
	_, err := clock.WaitNext(ctx)
	c.Assert(err, qt.IsNil)
	_, err = clock.WaitNext(ctx)
	c.Assert(err, qt.Equals, context.Canceled)
}
