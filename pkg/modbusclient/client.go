package modbusclient

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/goburrow/modbus"
	"github.com/sirupsen/logrus"
)

type Client interface {
	WriteSingleCoil(address uint16, on bool) error
	ReadCoil(address uint16) (bool, error)
	Close() error
}

type client struct {
	client modbus.Client
	close  func() error
}

func New(c modbus.Client, close func() error) *client {
	return &client{
		client: c,
		close:  close,
	}
}

// Dial connects to a relay module. Addresses starting with rtu: are serial
// devices (rtu:/dev/ttyUSB0), everything else is a TCP host:port.
func Dial(address string, slaveID byte, timeout time.Duration) (*client, error) {
	if dev, ok := strings.CutPrefix(address, "rtu:"); ok {
		handler := modbus.NewRTUClientHandler(dev)
		handler.BaudRate = 9600
		handler.DataBits = 8
		handler.Parity = "N"
		handler.StopBits = 1
		handler.SlaveId = slaveID
		handler.Timeout = timeout
		if err := handler.Connect(); err != nil {
			return nil, fmt.Errorf("error connecting to %s: %w", dev, err)
		}
		return New(modbus.NewClient(handler), handler.Close), nil
	}

	handler := modbus.NewTCPClientHandler(address)
	handler.SlaveId = slaveID
	handler.Timeout = timeout
	if err := handler.Connect(); err != nil {
		return nil, fmt.Errorf("error connecting to %s: %w", address, err)
	}
	return New(modbus.NewClient(handler), handler.Close), nil
}

func (c *client) closeIfNeeded(e error) {
	if e == nil {
		return
	}

	if errors.Is(e, syscall.EPIPE) {
		logrus.Warn("reconnect due to broken pipe")
		if err := c.close(); err != nil {
			logrus.Errorf("error closing client: %s", err)
		}
	}

	if errors.Is(e, os.ErrDeadlineExceeded) {
		logrus.Warn("reconnect due to i/o timeout")
		if err := c.close(); err != nil {
			logrus.Errorf("error closing client: %s", err)
		}
	}
}

// WriteSingleCoil sets the coil and checks the echoed value.
func (c *client) WriteSingleCoil(address uint16, on bool) error {
	value := CoilValue(on)
	b, err := c.client.WriteSingleCoil(address, value)
	if err != nil {
		c.closeIfNeeded(err)
		return fmt.Errorf("error writing address %d value %d error: %w", address, value, err)
	}
	if len(b) == 2 && uint16(Decode(b)) != value {
		return fmt.Errorf("coil %d echoed %#04x, expected %#04x", address, uint16(Decode(b)), value)
	}
	return nil
}

func (c *client) ReadCoil(address uint16) (bool, error) {
	b, err := c.client.ReadCoils(address, 1)
	if err != nil {
		c.closeIfNeeded(err)
		return false, fmt.Errorf("error reading address %d: %w", address, err)
	}
	if len(b) == 0 {
		return false, fmt.Errorf("empty response reading coil %d", address)
	}
	return b[0]&1 == 1, nil
}

func (c *client) Close() error {
	return c.close()
}

// Decode High byte first high word first (big endian)
func Decode(data []byte) int {
	switch len(data) {
	case 1:
		var i int8
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	case 2:
		var i int16
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	case 4:
		var i int32
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	case 8:
		var i int64
		binary.Read(bytes.NewBuffer(data), binary.BigEndian, &i)
		return int(i)
	}

	return 0
}

func CoilValue(b bool) uint16 {
	if b {
		return WriteCoilValueOn
	}
	return WriteCoilValueOff
}

const (
	WriteCoilValueOn  uint16 = 0xff00
	WriteCoilValueOff uint16 = 0
)
