package modbus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"
	"gopkg.in/retry.v1"

	"github.com/rogpeppe/daqlog/device"
)

var logger = loggo.GetLogger("daqlog.modbus")

// LabJack register addresses.
const (
	// RegAIN0 holds the address of AIN0. AIN<n> is at RegAIN0+2n.
	RegAIN0      = 0
	RegProductID = 60000
	RegSerial    = 60028
)

// NumAIN holds the number of analog inputs that can be addressed.
const NumAIN = 14

// maxBytesPerMessage holds the largest frame that Conn will read.
const maxBytesPerMessage = HeaderSize + 2 + 2*MaxRegisters

var productNames = map[int]string{
	4: "T4",
	7: "T7",
	8: "T8",
}

// Params holds the parameters for Open.
type Params struct {
	// Addr holds the host name or IP address of the device.
	Addr string
	// Port holds the TCP port. If it's zero, DefaultPort is used.
	Port int
	// Unit holds the Modbus unit identifier.
	Unit byte
	// Timeout holds the timeout for dialing and for each request.
	// If it's zero, there's no timeout.
	Timeout time.Duration
	// DialAttempts holds the maximum number of times to try
	// to connect. If it's zero, only one attempt is made.
	DialAttempts int
}

// dialStrategy is used to pace connection attempts.
var dialStrategy retry.Strategy = retry.Exponential{
	Initial:  100 * time.Millisecond,
	Factor:   1.5,
	MaxDelay: 5 * time.Second,
}

// Device is a LabJack device connected by Modbus TCP.
// It implements device.Device.
type Device struct {
	conn *Conn
	id   device.Identity
}

var _ device.Device = (*Device)(nil)

// Open connects to the LabJack device described by p and
// reads its identity. Connection attempts are retried
// up to p.DialAttempts times; once connected, nothing is retried.
func Open(ctx context.Context, p Params) (*Device, error) {
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	if p.DialAttempts < 1 {
		p.DialAttempts = 1
	}
	addr := net.JoinHostPort(p.Addr, strconv.Itoa(p.Port))
	dialer := net.Dialer{
		Timeout: p.Timeout,
	}
	var netc net.Conn
	var err error
	for a := retry.StartWithCancel(retry.LimitCount(p.DialAttempts, dialStrategy), nil, ctx.Done()); a.Next(); {
		netc, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			break
		}
		logger.Warningf("cannot dial %s: %v", addr, err)
	}
	if netc == nil {
		if err == nil {
			err = ctx.Err()
		}
		return nil, errgo.Notef(err, "cannot connect to %s", addr)
	}
	d := &Device{
		conn: NewConn(netc, p.Unit, p.Timeout),
	}
	id, err := d.readIdentity(p.Addr, p.Port)
	if err != nil {
		d.Close()
		return nil, errgo.Notef(err, "cannot read device identity")
	}
	d.id = id
	logger.Infof("connected to %s %s at %s", id.DeviceType, id.Serial, addr)
	return d, nil
}

func (d *Device) readIdentity(addr string, port int) (device.Identity, error) {
	product, err := d.conn.ReadFloat32(RegProductID)
	if err != nil {
		return device.Identity{}, errgo.Notef(err, "cannot read product id")
	}
	serial, err := d.conn.ReadUint32(RegSerial)
	if err != nil {
		return device.Identity{}, errgo.Notef(err, "cannot read serial number")
	}
	name, ok := productNames[int(product)]
	if !ok {
		name = fmt.Sprintf("LJ%d", int(product))
	}
	return device.Identity{
		DeviceType:         name,
		ConnectionType:     "TCP",
		Serial:             strconv.FormatUint(uint64(serial), 10),
		Address:            addr,
		Port:               port,
		MaxBytesPerMessage: maxBytesPerMessage,
	}, nil
}

// Identity implements device.Device.Identity.
func (d *Device) Identity() device.Identity {
	return d.id
}

// Read implements device.Device.Read by reading the
// voltage on an analog input named AIN<n>.
func (d *Device) Read(channel string) (float64, error) {
	n, err := device.ParseAIN(channel, NumAIN)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Is(device.ErrInvalidChannel))
	}
	v, err := d.conn.ReadFloat32(uint16(RegAIN0 + 2*n))
	if err != nil {
		return 0, errgo.Notef(err, "cannot read %s", channel)
	}
	return float64(v), nil
}

// Close implements device.Device.Close.
func (d *Device) Close() error {
	return d.conn.Close()
}
