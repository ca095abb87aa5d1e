package device

import (
	"math"
	"strconv"
	"strings"
	"time"

	"gopkg.in/errgo.v1"
)

// NumSimChannels holds the number of analog inputs on a simulated device.
const NumSimChannels = 4

// NewSimulated returns a device that produces smoothly changing
// values on channels AIN0 to AIN3, as a stand-in for real hardware.
// Channel n produces a sine wave with period n+1 seconds
// and amplitude 2.5V around 2.5V.
func NewSimulated() Device {
	return &simDevice{
		start: time.Now(),
	}
}

type simDevice struct {
	start time.Time
}

func (d *simDevice) Identity() Identity {
	return Identity{
		DeviceType:     "SIM",
		ConnectionType: "NONE",
		Serial:         "0",
		Address:        "localhost",
	}
}

func (d *simDevice) Read(channel string) (float64, error) {
	n, err := ParseAIN(channel, NumSimChannels)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Is(ErrInvalidChannel))
	}
	elapsed := time.Since(d.start).Seconds()
	return 2.5 + 2.5*math.Sin(2*math.Pi*elapsed/float64(n+1)), nil
}

func (d *simDevice) Close() error {
	return nil
}

// ParseAIN parses an analog input channel name of the form AIN<n>
// and returns n, which must be less than max.
func ParseAIN(channel string, max int) (int, error) {
	s := strings.TrimPrefix(channel, "AIN")
	if len(s) == len(channel) || s == "" {
		return 0, errgo.WithCausef(nil, ErrInvalidChannel, "invalid channel %q", channel)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n >= max {
		return 0, errgo.WithCausef(nil, ErrInvalidChannel, "invalid channel %q", channel)
	}
	return n, nil
}
