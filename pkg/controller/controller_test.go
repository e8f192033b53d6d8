package controller

import (
	"context"
	"testing"

	"github.com/nergy-se/smartheater/pkg/api/v1/config"
	"github.com/nergy-se/smartheater/pkg/state"
	"github.com/nergy-se/smartheater/pkg/switchdriver/dummy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDummy(t *testing.T) {
	c := &config.Config{Hardware: config.Hardware{Driver: "dummy", ReversePolarity: true}}
	sw, err := New(c)
	require.NoError(t, err)
	defer sw.Close()
	assert.NoError(t, sw.SetState(context.Background(), state.On))

	out, err := openOutput(c)
	require.NoError(t, err)
	assert.IsType(t, &dummy.Dummy{}, out)
}

func TestNewUnknown(t *testing.T) {
	_, err := New(&config.Config{Hardware: config.Hardware{Driver: "relay"}})
	assert.ErrorContains(t, err, "unknown driver")
}

func TestNewModbusUnreachable(t *testing.T) {
	_, err := New(&config.Config{Hardware: config.Hardware{Driver: "modbus", ModbusAddress: "127.0.0.1:1", SlaveID: 1}})
	assert.Error(t, err)
}

func TestBroker(t *testing.T) {
	tests := []struct {
		name     string
		hw       config.Hardware
		expected string
	}{
		{"explicit", config.Hardware{MQTTBroker: "tcp://10.0.0.2:1883", EmbeddedBroker: ":1883"}, "tcp://10.0.0.2:1883"},
		{"embedded port", config.Hardware{EmbeddedBroker: ":1883"}, "tcp://localhost:1883"},
		{"embedded host", config.Hardware{EmbeddedBroker: "127.0.0.1:1884"}, "tcp://127.0.0.1:1884"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Broker(tt.hw))
		})
	}
}
