// Package serialdev provides a device.Device for bench instruments
// that accept SCPI-style text commands over a serial line.
//
// The instrument is identified with "*IDN?", which must return four
// comma-separated fields (manufacturer, model, serial number and
// firmware version). The voltage on input n is read with "MEAS:VOLT? n".
package serialdev

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/jacobsa/go-serial/serial"
	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/device"
)

var logger = loggo.GetLogger("daqlog.serialdev")

// NumChannels holds the number of inputs that can be addressed.
const NumChannels = 8

const DefaultBaudRate = 9600

// Params holds parameters for Open.
type Params struct {
	// Port holds the name of the serial port (for example /dev/ttyUSB0).
	Port string
	// BaudRate holds the line speed. If it's zero,
	// DefaultBaudRate is used.
	BaudRate uint
}

// Device is an instrument attached to a serial line.
type Device struct {
	id device.Identity

	mu  sync.Mutex
	rwc io.ReadWriteCloser
	r   *bufio.Reader
}

var _ device.Device = (*Device)(nil)

// Open opens the serial port described by p and identifies
// the instrument attached to it.
func Open(p Params) (*Device, error) {
	if p.BaudRate == 0 {
		p.BaudRate = DefaultBaudRate
	}
	port, err := serial.Open(serial.OpenOptions{
		PortName:        p.Port,
		BaudRate:        p.BaudRate,
		DataBits:        8,
		StopBits:        1,
		MinimumReadSize: 1,
		ParityMode:      serial.PARITY_NONE,
	})
	if err != nil {
		return nil, errgo.Notef(err, "cannot open serial port %q", p.Port)
	}
	d, err := New(port, p.Port)
	if err != nil {
		port.Close()
		return nil, errgo.Mask(err)
	}
	logger.Infof("serial port %s opened at %d baud", p.Port, p.BaudRate)
	return d, nil
}

// New returns a Device that talks to an instrument over rwc.
// The port name is used only to report the device's identity.
func New(rwc io.ReadWriteCloser, port string) (*Device, error) {
	d := &Device{
		rwc: rwc,
		r:   bufio.NewReader(rwc),
	}
	resp, err := d.query("*IDN?")
	if err != nil {
		return nil, errgo.Notef(err, "cannot identify instrument")
	}
	fields := strings.Split(resp, ",")
	if len(fields) != 4 {
		return nil, errgo.Newf("unexpected identification %q", resp)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}
	d.id = device.Identity{
		DeviceType:     fields[0] + " " + fields[1],
		ConnectionType: "SERIAL",
		Serial:         fields[2],
		Address:        port,
	}
	return d, nil
}

// Identity implements device.Device.Identity.
func (d *Device) Identity() device.Identity {
	return d.id
}

// Read implements device.Device.Read.
func (d *Device) Read(channel string) (float64, error) {
	n, err := device.ParseAIN(channel, NumChannels)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Is(device.ErrInvalidChannel))
	}
	resp, err := d.query(fmt.Sprintf("MEAS:VOLT? %d", n))
	if err != nil {
		return 0, errgo.Notef(err, "cannot read %s", channel)
	}
	v, err := strconv.ParseFloat(resp, 64)
	if err != nil {
		return 0, errgo.Newf("unexpected response %q reading %s", resp, channel)
	}
	return v, nil
}

// query sends a command and returns the single-line response
// with surrounding white space removed.
func (d *Device) query(cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := io.WriteString(d.rwc, cmd+"\n"); err != nil {
		return "", errgo.Notef(err, "write error")
	}
	line, err := d.r.ReadString('\n')
	if err != nil {
		return "", errgo.Notef(err, "read error")
	}
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "ERR") {
		return "", errgo.Newf("instrument error %q", line)
	}
	return line, nil
}

// Close implements device.Device.Close.
func (d *Device) Close() error {
	return d.rwc.Close()
}
