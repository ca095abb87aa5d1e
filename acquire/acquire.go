// Package acquire implements a loop that reads a device channel
// at regular intervals and records each reading as it is made.
//
// Each iteration waits for the next interval, measures the time since
// the previous iteration, reads the device once and appends the sample
// to a sink before starting the next iteration. Samples are never
// buffered, so a run that stops early leaves all the samples acquired
// so far intact.
package acquire

import (
	"context"
	"math"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/device"
	"github.com/rogpeppe/daqlog/interval"
	"github.com/rogpeppe/daqlog/record"
)

var logger = loggo.GetLogger("daqlog.acquire")

var (
	// ErrInvalidParams is the cause of errors returned by New
	// when the parameters are not valid.
	ErrInvalidParams = errgo.New("invalid acquisition parameters")

	// ErrDevice is the cause of errors returned by Run
	// when the device could not be read.
	ErrDevice = errgo.New("device error")

	// ErrClock is the cause of errors returned by Run
	// when the interval clock fails.
	ErrClock = errgo.New("interval clock error")

	// ErrSink is the cause of errors returned by Run
	// when a sample could not be recorded.
	ErrSink = errgo.New("cannot record sample")
)

// Sink represents an append-only destination for samples.
type Sink interface {
	// WriteHeader writes any header for the given channel.
	WriteHeader(channel string) error
	// Append records a single sample. The sample must be durable
	// when Append returns.
	Append(s record.Sample) error
}

// Params holds the parameters for a call to New.
type Params struct {
	// Device holds the device to read.
	Device device.Device
	// Clock is used to pace the acquisition.
	Clock interval.Clock
	// Sink receives the samples.
	Sink Sink
	// Channel holds the name of the channel to read.
	Channel string
	// Period holds the interval between samples.
	// It must be a whole number of microseconds.
	Period time.Duration
	// Count holds the number of samples to acquire.
	Count int
	// Now is used to find the wall-clock time of each sample.
	// If it's nil, time.Now will be used.
	Now func() time.Time
	// Notify, if non-nil, is called after each sample has been
	// recorded. It should not block.
	Notify func(s record.Sample)
}

// Result holds the outcome of a run.
type Result struct {
	// Requested holds the number of samples that were asked for.
	Requested int
	// Collected holds the number of samples that were recorded.
	Collected int
	// Start holds the wall-clock time that the run started.
	Start time.Time
	// End holds the wall-clock time that the run finished.
	End time.Time
	// Interrupted reports whether the run was stopped early
	// by cancelling its context.
	Interrupted bool
}

// Loop acquires samples from a device.
type Loop struct {
	p Params
}

// New returns a new Loop that will acquire samples as
// described by p when Run is called.
func New(p Params) (*Loop, error) {
	switch {
	case p.Device == nil:
		return nil, errgo.WithCausef(nil, ErrInvalidParams, "no device")
	case p.Clock == nil:
		return nil, errgo.WithCausef(nil, ErrInvalidParams, "no interval clock")
	case p.Sink == nil:
		return nil, errgo.WithCausef(nil, ErrInvalidParams, "no sample sink")
	case p.Channel == "":
		return nil, errgo.WithCausef(nil, ErrInvalidParams, "no channel")
	case p.Count < 1:
		return nil, errgo.WithCausef(nil, ErrInvalidParams, "invalid sample count %d", p.Count)
	case p.Period < time.Microsecond || p.Period%time.Microsecond != 0:
		return nil, errgo.WithCausef(nil, ErrInvalidParams, "invalid period %v", p.Period)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Loop{
		p: p,
	}, nil
}

// state holds the bookkeeping for a run.
type state struct {
	// periodMicros holds the requested interval between samples.
	periodMicros int64
	// completed holds the number of samples recorded so far.
	completed int
	// lastTick holds the clock tick at the previous sample,
	// or at the start of the run.
	lastTick int64
	// total holds the number of samples requested.
	total int
}

// errInterrupted is returned by iterate when the context
// was cancelled while waiting for the next interval.
var errInterrupted = errgo.New("interrupted")

// Run runs the acquisition loop until the requested number of samples
// has been recorded, an error occurs, or the context is cancelled.
//
// Cancellation is not treated as an error: Run returns a nil error and
// a Result with Interrupted set. Cancellation never interrupts an
// iteration once the interval has arrived; the sample is always
// recorded first.
//
// Errors from the device, the clock and the sink stop the loop
// immediately. Their causes are ErrDevice, ErrClock and ErrSink
// respectively. The returned Result is always valid.
func (l *Loop) Run(ctx context.Context) (Result, error) {
	p := l.p
	res := Result{
		Requested: p.Count,
		Start:     p.Now(),
	}
	err := l.run(ctx, &res)
	res.End = p.Now()
	switch {
	case err != nil:
		logger.Infof("acquisition of %s failed after %d of %d samples: %v", p.Channel, res.Collected, res.Requested, err)
	case res.Interrupted:
		logger.Infof("acquisition of %s interrupted after %d of %d samples", p.Channel, res.Collected, res.Requested)
	default:
		logger.Infof("acquired %d samples of %s", res.Collected, p.Channel)
	}
	return res, err
}

func (l *Loop) run(ctx context.Context, res *Result) error {
	p := l.p
	if err := p.Sink.WriteHeader(p.Channel); err != nil {
		return errgo.WithCausef(err, ErrSink, "cannot write header")
	}
	if err := p.Clock.Start(p.Period); err != nil {
		return errgo.WithCausef(err, ErrClock, "cannot start interval")
	}
	defer p.Clock.Stop()
	st := &state{
		periodMicros: int64(p.Period / time.Microsecond),
		lastTick:     p.Clock.NowTick(),
		total:        p.Count,
	}
	logger.Infof("acquiring %d samples of %s every %v", p.Count, p.Channel, p.Period)
	for st.completed < st.total {
		if ctx.Err() != nil {
			res.Interrupted = true
			return nil
		}
		err := l.iterate(ctx, st)
		res.Collected = st.completed
		if err == errInterrupted {
			res.Interrupted = true
			return nil
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// iterate waits for the next interval and then acquires
// and records a single sample.
func (l *Loop) iterate(ctx context.Context, st *state) error {
	p := l.p
	skipped, err := p.Clock.WaitNext(ctx)
	if err != nil {
		if ctx.Err() != nil && errgo.Cause(err) == ctx.Err() {
			return errInterrupted
		}
		return errgo.WithCausef(err, ErrClock, "cannot wait for sample %d", st.completed)
	}
	tick := p.Clock.NowTick()
	elapsed := tick - st.lastTick
	st.lastTick = tick
	now := p.Now()
	value, err := p.Device.Read(p.Channel)
	if err != nil {
		return errgo.WithCausef(err, ErrDevice, "cannot read %s for sample %d", p.Channel, st.completed)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		// The record format has no representation for these.
		return errgo.WithCausef(nil, ErrDevice, "non-finite reading %v from %s for sample %d", value, p.Channel, st.completed)
	}
	s := record.Sample{
		Index:           st.completed,
		Time:            now,
		Duration:        time.Duration(elapsed) * time.Microsecond,
		Value:           value,
		MissedIntervals: skipped,
	}
	if skipped > 0 {
		logger.Warningf("skipped %d intervals before sample %d", skipped, s.Index)
	}
	if err := p.Sink.Append(s); err != nil {
		return errgo.WithCausef(err, ErrSink, "sample %d", s.Index)
	}
	logger.Debugf("sample %d: %s=%.3f after %.1fms (jitter %dµs)", s.Index, p.Channel, s.Value, s.DurationMillis(), elapsed-st.periodMicros)
	st.completed++
	if p.Notify != nil {
		p.Notify(s)
	}
	return nil
}
