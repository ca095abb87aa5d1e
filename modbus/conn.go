// Package modbus implements enough of the Modbus TCP protocol to read
// analog inputs from a LabJack T-series data acquisition device.
package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"gopkg.in/errgo.v1"
)

const DefaultPort = 502

// FuncReadHoldingRegisters is the only function code used by Conn.
const FuncReadHoldingRegisters = 0x03

// MaxRegisters holds the maximum number of registers
// that can be read in one request.
const MaxRegisters = 125

// HeaderSize holds the size of the Modbus application header
// that precedes each PDU.
const HeaderSize = 7

// ExceptionError is returned when the device responds
// with a Modbus exception.
type ExceptionError struct {
	Function byte
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %d (function %#x)", e.Code, e.Function)
}

// Conn represents a Modbus TCP connection to a single unit.
// It is safe to call its methods concurrently.
type Conn struct {
	unit    byte
	timeout time.Duration

	mu  sync.Mutex
	c   net.Conn
	tid uint16
	buf []byte
}

// NewConn returns a Conn that talks to the given unit over c.
// If timeout is non-zero, each request must complete within it.
func NewConn(c net.Conn, unit byte, timeout time.Duration) *Conn {
	return &Conn{
		c:       c,
		unit:    unit,
		timeout: timeout,
		buf:     make([]byte, 0, HeaderSize+1+1+2*MaxRegisters),
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.c.Close()
}

// ReadRegisters reads n consecutive holding registers
// starting at the given address.
func (c *Conn) ReadRegisters(addr uint16, n int) ([]uint16, error) {
	if n < 1 || n > MaxRegisters {
		return nil, errgo.Newf("invalid register count %d", n)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tid++
	c.buf = c.buf[:HeaderSize+5]
	binary.BigEndian.PutUint16(c.buf[0:], c.tid)
	binary.BigEndian.PutUint16(c.buf[2:], 0)
	binary.BigEndian.PutUint16(c.buf[4:], 6)
	c.buf[6] = c.unit
	c.buf[7] = FuncReadHoldingRegisters
	binary.BigEndian.PutUint16(c.buf[8:], addr)
	binary.BigEndian.PutUint16(c.buf[10:], uint16(n))
	if c.timeout > 0 {
		c.c.SetDeadline(time.Now().Add(c.timeout))
		defer c.c.SetDeadline(time.Time{})
	}
	if _, err := c.c.Write(c.buf); err != nil {
		return nil, errgo.Notef(err, "write error")
	}
	pdu, err := c.readResponse()
	if err != nil {
		return nil, errgo.Mask(err, errgo.Any)
	}
	if pdu[0] == FuncReadHoldingRegisters|0x80 {
		if len(pdu) < 2 {
			return nil, errgo.Newf("short exception response")
		}
		return nil, &ExceptionError{
			Function: FuncReadHoldingRegisters,
			Code:     pdu[1],
		}
	}
	if pdu[0] != FuncReadHoldingRegisters {
		return nil, errgo.Newf("unexpected function code %#x in response", pdu[0])
	}
	if len(pdu) < 2 || int(pdu[1]) != 2*n || len(pdu) != 2+2*n {
		return nil, errgo.Newf("unexpected response length for %d registers", n)
	}
	regs := make([]uint16, n)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(pdu[2+2*i:])
	}
	return regs, nil
}

// readResponse reads a response frame and returns its PDU.
func (c *Conn) readResponse() ([]byte, error) {
	c.buf = c.buf[:HeaderSize]
	if _, err := io.ReadFull(c.c, c.buf); err != nil {
		return nil, errgo.Notef(err, "read error")
	}
	tid := binary.BigEndian.Uint16(c.buf[0:])
	proto := binary.BigEndian.Uint16(c.buf[2:])
	length := int(binary.BigEndian.Uint16(c.buf[4:]))
	if tid != c.tid {
		return nil, errgo.Newf("transaction id mismatch (got %d want %d)", tid, c.tid)
	}
	if proto != 0 {
		return nil, errgo.Newf("unexpected protocol id %d", proto)
	}
	if length < 2 || length-1 > cap(c.buf)-HeaderSize {
		return nil, errgo.Newf("invalid response length %d", length)
	}
	if c.buf[6] != c.unit {
		return nil, errgo.Newf("response from unexpected unit %d", c.buf[6])
	}
	c.buf = c.buf[:HeaderSize+length-1]
	if _, err := io.ReadFull(c.c, c.buf[HeaderSize:]); err != nil {
		return nil, errgo.Notef(err, "read error")
	}
	return c.buf[HeaderSize:], nil
}

// ReadFloat32 reads a 32-bit floating point value held
// big-endian in two registers starting at addr.
func (c *Conn) ReadFloat32(addr uint16) (float32, error) {
	regs, err := c.ReadRegisters(addr, 2)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Any)
	}
	return math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1])), nil
}

// ReadUint32 reads a 32-bit unsigned value held
// big-endian in two registers starting at addr.
func (c *Conn) ReadUint32(addr uint16) (uint32, error) {
	regs, err := c.ReadRegisters(addr, 2)
	if err != nil {
		return 0, errgo.Mask(err, errgo.Any)
	}
	return uint32(regs[0])<<16 | uint32(regs[1]), nil
}
