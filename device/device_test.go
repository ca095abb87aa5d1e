package device_test

import (
	"testing"

	qt "github.com/frankban/quicktest"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/device"
)

var parseAINTests = []struct {
	channel     string
	expect      int
	expectError string
}{{
	channel: "AIN0",
	expect:  0,
}, {
	channel: "AIN3",
	expect:  3,
}, {
	channel:     "AIN4",
	expectError: `invalid channel "AIN4"`,
}, {
	channel:     "AIN",
	expectError: `invalid channel "AIN"`,
}, {
	channel:     "DAC0",
	expectError: `invalid channel "DAC0"`,
}, {
	channel:     "AIN-1",
	expectError: `invalid channel "AIN-1"`,
}}

func TestParseAIN(t *testing.T) {
	c := qt.New(t)
	for _, test := range parseAINTests {
		c.Run(test.channel, func(c *qt.C) {
			n, err := device.ParseAIN(test.channel, 4)
			if test.expectError != "" {
				c.Assert(err, qt.ErrorMatches, test.expectError)
				c.Assert(errgo.Cause(err), qt.Equals, device.ErrInvalidChannel)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(n, qt.Equals, test.expect)
		})
	}
}

func TestSimulatedRange(t *testing.T) {
	c := qt.New(t)
	d := device.NewSimulated()
	defer d.Close()
	for i := 0; i < device.NumSimChannels; i++ {
		v, err := d.Read("AIN" + string(rune('0'+i)))
		c.Assert(err, qt.IsNil)
		c.Assert(v >= 0 && v <= 5, qt.IsTrue, qt.Commentf("value %v", v))
	}
	_, err := d.Read("AIN9")
	c.Assert(errgo.Cause(err), qt.Equals, device.ErrInvalidChannel)
	c.Assert(d.Identity().DeviceType, qt.Equals, "SIM")
}
