// Package ads1115 provides a device.Device backed by a TI ADS1115
// analog to digital converter on an I²C bus.
package ads1115

import (
	"fmt"
	"sync"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"github.com/rogpeppe/daqlog/device"
)

var logger = loggo.GetLogger("daqlog.ads1115")

// NumChannels holds the number of single-ended inputs on the converter.
const NumChannels = 4

const (
	maxVoltage = 5 * physic.Volt
	frequency  = 128 * physic.Hertz
)

var channels = [NumChannels]ads1x15.Channel{
	ads1x15.Channel0,
	ads1x15.Channel1,
	ads1x15.Channel2,
	ads1x15.Channel3,
}

// Params holds parameters for Open.
type Params struct {
	// Bus holds the name of the I²C bus.
	// If it's empty, the first available bus is used.
	Bus string
	// Address holds the I²C address of the converter.
	// If it's zero, the default address (0x48) is used.
	Address uint16
}

// pin is the part of ads1x15.PinADC used to make a conversion.
type pin interface {
	Read() (analog.Sample, error)
	Halt() error
}

// Device reads single-ended voltages from an ADS1115.
type Device struct {
	id      device.Identity
	openPin func(ch ads1x15.Channel) (pin, error)
	close   func() error

	// mu serializes conversions.
	mu sync.Mutex
}

var _ device.Device = (*Device)(nil)

// Open initializes the host drivers and opens the converter described by p.
func Open(p Params) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, errgo.Notef(err, "cannot initialize host drivers")
	}
	bus, err := i2creg.Open(p.Bus)
	if err != nil {
		return nil, errgo.Notef(err, "cannot open I²C bus %q", p.Bus)
	}
	opts := ads1x15.DefaultOpts
	if p.Address != 0 {
		opts.I2cAddress = p.Address
	}
	adc, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, errgo.Notef(err, "cannot open ADS1115")
	}
	d := newDevice(bus.String(), opts.I2cAddress, func(ch ads1x15.Channel) (pin, error) {
		return adc.PinForChannel(ch, maxVoltage, frequency, ads1x15.SaveEnergy)
	}, bus.Close)
	logger.Infof("opened ADS1115 at %#x on %s", opts.I2cAddress, bus)
	return d, nil
}

func newDevice(bus string, addr uint16, openPin func(ads1x15.Channel) (pin, error), close func() error) *Device {
	return &Device{
		id: device.Identity{
			DeviceType:     "ADS1115",
			ConnectionType: "I2C",
			Serial:         fmt.Sprintf("%#x", addr),
			Address:        bus,
		},
		openPin: openPin,
		close:   close,
	}
}

// Identity implements device.Device.Identity.
func (d *Device) Identity() device.Identity {
	return d.id
}

// Read implements device.Device.Read by making a single
// conversion on the input named AIN<n>.
func (d *Device) Read(channel string) (float64, error) {
	n, err := device.ParseAIN(channel, NumChannels)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Is(device.ErrInvalidChannel))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	p, err := d.openPin(channels[n])
	if err != nil {
		return 0, errgo.Notef(err, "cannot configure %s", channel)
	}
	defer p.Halt()
	s, err := p.Read()
	if err != nil {
		return 0, errgo.Notef(err, "cannot read %s", channel)
	}
	return float64(s.V) / float64(physic.Volt), nil
}

// Close implements device.Device.Close.
func (d *Device) Close() error {
	return d.close()
}
