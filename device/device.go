// Package device defines the interface to a data-acquisition device
// that can be read one channel at a time.
package device

import (
	"fmt"

	"gopkg.in/errgo.v1"
)

// Device represents a data-acquisition device.
type Device interface {
	// Identity returns information about the device. It's obtained
	// when the device is opened and does not change.
	Identity() Identity

	// Read reads the current value of the named channel.
	// It returns an error with the cause ErrInvalidChannel
	// if the channel isn't known to the device.
	Read(channel string) (float64, error)

	// Close closes the device.
	Close() error
}

// Identity holds information about a device, as printed at startup.
type Identity struct {
	// DeviceType holds the kind of device (for example "T7" or "ADS1115").
	DeviceType string
	// ConnectionType holds how the device is connected ("TCP", "I2C", ...).
	ConnectionType string
	// Serial holds the device serial number, if known.
	Serial string
	// Address holds the network address, bus or port name of the device.
	Address string
	// Port holds the port number (or bus address) of the device.
	Port int
	// MaxBytesPerMessage holds the largest message that can be
	// sent to the device in one transfer. Zero means unknown.
	MaxBytesPerMessage int
}

func (id Identity) String() string {
	return fmt.Sprintf("Device type: %s, Connection type: %s,\nSerial number: %s, IP address: %s, Port: %d,\nMax bytes per MB: %d",
		id.DeviceType, id.ConnectionType, id.Serial, id.Address, id.Port, id.MaxBytesPerMessage)
}

// ErrInvalidChannel is used as the cause of errors returned by
// Device.Read when the channel name is not recognised.
var ErrInvalidChannel = errgo.New("invalid channel")
