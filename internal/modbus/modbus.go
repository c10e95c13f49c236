// Package modbus opens a Modbus connection over a local serial line, a TCP
// gateway or an HTTP tunnel.
package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/internal/modbus/modbushttp"
)

type modbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
}

type Client struct {
	// Port and BaudRate create a local serial connection
	Port string
	// BaudRate defaults to 19200
	BaudRate int
	SlaveId  byte
	// Address creates a Modbus/TCP connection
	Address string
	// URL creates a remote connection through modbus_server
	URL      string
	Password string
	// Timeout defaults to 1s
	Timeout time.Duration

	Log logrus.FieldLogger

	handler modbusHandler
	modbus.Client
}

func (c *Client) target() string {
	switch {
	case c.URL != "":
		return c.URL
	case c.Address != "":
		return c.Address
	}
	return c.Port
}

// Open creates the transport and connects it. Handlers reconnect on their
// own when a later request finds the connection closed.
func (c *Client) Open() error {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = time.Second
	}
	switch {
	case c.URL != "":
		handler := modbushttp.NewClient(c.URL)
		handler.SlaveId = c.SlaveId
		handler.Password = c.Password
		c.handler = handler
	case c.Address != "":
		handler := modbus.NewTCPClientHandler(c.Address)
		handler.Timeout = timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	default:
		baud := c.BaudRate
		if baud == 0 {
			baud = 19200
		}
		handler := modbus.NewRTUClientHandler(c.Port)
		handler.BaudRate = baud
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.Timeout = timeout
		handler.SlaveId = c.SlaveId
		c.handler = handler
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	c.Client = modbus.NewClient(c.handler)
	if err := c.handler.Connect(); err != nil {
		return fmt.Errorf("opening %q: %w", c.target(), err)
	}
	c.Log.WithField("target", c.target()).Info("modbus connected")
	return nil
}

func (c *Client) Close() error {
	if c.handler == nil {
		return nil
	}
	return c.handler.Close()
}

func BytesToBits(bs []byte) []bool {
	var out []bool
	for _, b := range bs {
		for i := 0; i < 8; i++ {
			out = append(out, (b>>uint(i)&1) == 1)
		}
	}
	return out
}

// BytesToUint16s decodes big-endian register values.
func BytesToUint16s(bs []byte) []uint16 {
	out := make([]uint16, len(bs)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(bs[2*i:])
	}
	return out
}

func Uint16sToBytes(vs []uint16) []byte {
	out := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint16(out[2*i:], v)
	}
	return out
}

// Float64sToBytes encodes each value as four registers, high word first.
func Float64sToBytes(vs []float64) []byte {
	out := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.BigEndian.PutUint64(out[8*i:], math.Float64bits(v))
	}
	return out
}

func BytesToFloat64s(bs []byte) []float64 {
	out := make([]float64, len(bs)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(bs[8*i:]))
	}
	return out
}
