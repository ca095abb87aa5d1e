// Package devicetest provides a scripted device for tests.
package devicetest

import (
	"sync"

	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/device"
)

// Scripted is a Device that returns a predetermined sequence of values.
type Scripted struct {
	// ID holds the identity returned by Identity.
	ID device.Identity
	// Channel holds the only channel that can be read.
	Channel string
	// Values holds the values returned by successive reads.
	// When they're exhausted, Read returns an error.
	Values []float64
	// Errors holds errors to be returned by reads,
	// indexed by read number.
	Errors map[int]error
	// BeforeRead, if non-nil, is called before each read
	// with the index of the read. It can be used to simulate
	// read latency on a simulated clock.
	BeforeRead func(i int)

	mu     sync.Mutex
	n      int
	closed bool
}

var _ device.Device = (*Scripted)(nil)

func (d *Scripted) Identity() device.Identity {
	return d.ID
}

func (d *Scripted) Read(channel string) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errgo.New("read on closed device")
	}
	if channel != d.Channel {
		return 0, errgo.WithCausef(nil, device.ErrInvalidChannel, "invalid channel %q", channel)
	}
	i := d.n
	d.n++
	if d.BeforeRead != nil {
		d.BeforeRead(i)
	}
	if err := d.Errors[i]; err != nil {
		return 0, err
	}
	if i >= len(d.Values) {
		return 0, errgo.Newf("no value for read %d", i)
	}
	return d.Values[i], nil
}

// Reads returns the number of reads that have been made.
func (d *Scripted) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.n
}

func (d *Scripted) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}
