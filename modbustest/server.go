// Package modbustest provides a fake Modbus TCP server
// that emulates the registers of a LabJack device.
package modbustest

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"net"
	"sync"

	"github.com/juju/loggo"
	"gopkg.in/errgo.v1"

	"github.com/rogpeppe/daqlog/modbus"
)

var logger = loggo.GetLogger("daqlog.modbustest")

// Modbus exception codes.
const (
	ExceptionIllegalFunction = 1
	ExceptionIllegalAddress  = 2
)

type Server struct {
	Addr string
	lis  net.Listener

	mu       sync.Mutex
	regs     map[uint16]uint16
	requests int
	conns    map[net.Conn]bool
}

// NewServer starts a server listening on a local port.
// All registers start out unset; reading an unset register
// results in an illegal address exception.
func NewServer() *Server {
	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		panic(err)
	}
	srv := &Server{
		Addr:  lis.Addr().String(),
		lis:   lis,
		regs:  make(map[uint16]uint16),
		conns: make(map[net.Conn]bool),
	}
	go srv.run()
	return srv
}

// NewLabJack returns a server with the identity
// registers of a T7 with the given serial number.
func NewLabJack(serial uint32) *Server {
	srv := NewServer()
	srv.SetFloat32(modbus.RegProductID, 7)
	srv.SetUint32(modbus.RegSerial, serial)
	return srv
}

// SetAIN sets the voltage reported by analog input n.
func (srv *Server) SetAIN(n int, v float32) {
	srv.SetFloat32(uint16(modbus.RegAIN0+2*n), v)
}

// SetFloat32 sets the two registers at addr to hold v.
func (srv *Server) SetFloat32(addr uint16, v float32) {
	srv.SetUint32(addr, math.Float32bits(v))
}

// SetUint32 sets the two registers at addr to hold v.
func (srv *Server) SetUint32(addr uint16, v uint32) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.regs[addr] = uint16(v >> 16)
	srv.regs[addr+1] = uint16(v)
}

// Requests returns the number of requests that
// the server has received.
func (srv *Server) Requests() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.requests
}

// DropConns closes all current client connections.
func (srv *Server) DropConns() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for c := range srv.conns {
		c.Close()
	}
}

// Close stops the server listening.
func (srv *Server) Close() error {
	srv.DropConns()
	return srv.lis.Close()
}

func (srv *Server) run() {
	for {
		c, err := srv.lis.Accept()
		if err != nil {
			return
		}
		srv.mu.Lock()
		srv.conns[c] = true
		srv.mu.Unlock()
		go func() {
			defer func() {
				srv.mu.Lock()
				delete(srv.conns, c)
				srv.mu.Unlock()
				c.Close()
			}()
			if err := srv.serveConn(c); err != nil && errgo.Cause(err) != io.EOF {
				logger.Debugf("serveConn terminated: %v", err)
			}
		}()
	}
}

func (srv *Server) serveConn(conn net.Conn) error {
	r := bufio.NewReader(conn)
	hdr := make([]byte, modbus.HeaderSize)
	for {
		if _, err := io.ReadFull(r, hdr); err != nil {
			return errgo.Mask(err, errgo.Any)
		}
		length := int(binary.BigEndian.Uint16(hdr[4:]))
		if length < 2 {
			return errgo.Newf("invalid request length %d", length)
		}
		pdu := make([]byte, length-1)
		if _, err := io.ReadFull(r, pdu); err != nil {
			return errgo.Mask(err, errgo.Any)
		}
		resp := srv.process(pdu)
		out := make([]byte, modbus.HeaderSize, modbus.HeaderSize+len(resp))
		copy(out, hdr)
		binary.BigEndian.PutUint16(out[4:], uint16(len(resp)+1))
		out = append(out, resp...)
		if _, err := conn.Write(out); err != nil {
			return errgo.Mask(err)
		}
	}
}

func (srv *Server) process(pdu []byte) []byte {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.requests++
	fn := pdu[0]
	if fn != modbus.FuncReadHoldingRegisters || len(pdu) != 5 {
		return []byte{fn | 0x80, ExceptionIllegalFunction}
	}
	addr := binary.BigEndian.Uint16(pdu[1:])
	n := int(binary.BigEndian.Uint16(pdu[3:]))
	resp := []byte{fn, byte(2 * n)}
	for i := 0; i < n; i++ {
		v, ok := srv.regs[addr+uint16(i)]
		if !ok {
			return []byte{fn | 0x80, ExceptionIllegalAddress}
		}
		resp = binary.BigEndian.AppendUint16(resp, v)
	}
	return resp
}
