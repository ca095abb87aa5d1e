// Package wallclock provides the source of wall-clock time stamps for
// acquired samples. Time can come from the system clock or from an NTP
// server when the system clock can't be relied upon to be synchronized.
package wallclock

import (
	"sync"
	"time"

	"github.com/beevik/ntp"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
)

var logger = loggo.GetLogger("daqlog.wallclock")

// Clock is a source of wall-clock time.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Close releases any resources associated with the clock.
	Close()
}

// System returns a Clock that uses the system clock,
// with times reported in the given location (local time if nil).
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return systemClock{loc}
}

type systemClock struct {
	loc *time.Location
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc).Round(0)
}

func (systemClock) Close() {}

// ntpQuery is used to query the current NTP time.
// It's overridden for tests.
var ntpQuery = ntp.QueryWithOptions

// after is used to wait between NTP updates.
// It's overridden for tests.
var after = time.After

const (
	DefaultHost    = "pool.ntp.org"
	DefaultTimeout = 30 * time.Second

	updateInterval = 30 * time.Minute
	updateTimeout  = 20 * time.Second
)

// Params holds parameters for NewNTP.
type Params struct {
	// Host holds the NTP host to use.
	// If it's empty, DefaultHost is used.
	Host string
	// Timeout holds the timeout on the initial query.
	// If it's zero, DefaultTimeout is used.
	Timeout time.Duration
	// Location holds the time zone used for the returned times.
	// If it's nil, local time is used.
	Location *time.Location
}

// NTPClock is a Clock that is periodically synchronized
// with an NTP server.
type NTPClock struct {
	closed   chan struct{}
	location *time.Location
	host     string

	// mu guards the fields below it.
	mu sync.Mutex
	// t0 holds the system clock time
	t0 time.Time
	// absT0 holds the absolute time corresponding to t0.
	absT0 time.Time
	// prevTime holds the previous time reading returned from Now.
	prevTime time.Time
}

// NewNTP returns a Clock that queries an NTP host for the time.
// It blocks until the first query succeeds or times out.
// The clock should be closed after use.
func NewNTP(p Params) (*NTPClock, error) {
	if p.Host == "" {
		p.Host = DefaultHost
	}
	if p.Timeout == 0 {
		p.Timeout = DefaultTimeout
	}
	if p.Location == nil {
		p.Location = time.Local
	}
	c := &NTPClock{
		host:     p.Host,
		location: p.Location,
		closed:   make(chan struct{}),
	}
	if err := c.update(p.Timeout); err != nil {
		return nil, errgo.Notef(err, "cannot get time from %q", p.Host)
	}
	go c.updater()
	return c, nil
}

// Now returns a best-effort representation of the absolute time.
// Successive calls never return decreasing times.
// The returned time does not contain a monotonic clock reading.
func (c *NTPClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.absT0.Add(time.Since(c.t0)).In(c.location)
	if t.Before(c.prevTime) {
		return c.prevTime
	}
	c.prevTime = t
	return t
}

func (c *NTPClock) updater() {
	for {
		select {
		case <-c.closed:
			return
		case <-after(updateInterval):
		}
		if err := c.update(updateTimeout); err != nil {
			logger.Warningf("cannot update time from NTP: %v", err)
		}
	}
}

func (c *NTPClock) update(timeout time.Duration) error {
	resp, err := ntpQuery(c.host, ntp.QueryOptions{
		Timeout: timeout,
	})
	if err != nil {
		return errgo.Mask(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t0 = time.Now()
	c.absT0 = c.t0.Add(resp.ClockOffset).Round(0)
	logger.Debugf("clock offset from %s is %v", c.host, resp.ClockOffset)
	return nil
}

// Close stops the clock's background updates.
func (c *NTPClock) Close() {
	close(c.closed)
}
