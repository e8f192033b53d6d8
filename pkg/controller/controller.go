package controller

import (
	"fmt"
	"strings"
	"time"

	"github.com/nergy-se/smartheater/pkg/api/v1/config"
	"github.com/nergy-se/smartheater/pkg/api/v1/types"
	"github.com/nergy-se/smartheater/pkg/modbusclient"
	"github.com/nergy-se/smartheater/pkg/switchdriver"
	"github.com/nergy-se/smartheater/pkg/switchdriver/dummy"
	"github.com/nergy-se/smartheater/pkg/switchdriver/gpio"
	"github.com/nergy-se/smartheater/pkg/switchdriver/modbusrelay"
	"github.com/nergy-se/smartheater/pkg/switchdriver/mqttrelay"
)

const modbusTimeout = 5 * time.Second

// New opens the output selected by the hardware section and wraps it in a
// switch applying the configured polarity. The caller closes the switch.
func New(c *config.Config) (*switchdriver.Switch, error) {
	out, err := openOutput(c)
	if err != nil {
		return nil, err
	}
	return switchdriver.New(out, c.Hardware.ReversePolarity), nil
}

func openOutput(c *config.Config) (switchdriver.Output, error) {
	hw := c.Hardware
	switch c.DriverType() {
	case types.DriverTypeGPIO:
		return gpio.New(gpio.DefaultBase, hw.SwitchPin), nil
	case types.DriverTypeModbus:
		client, err := modbusclient.Dial(hw.ModbusAddress, byte(hw.SlaveID), modbusTimeout)
		if err != nil {
			return nil, err
		}
		return modbusrelay.New(client, uint16(hw.Coil)), nil
	case types.DriverTypeMQTT:
		return mqttrelay.Dial(Broker(hw), hw.MQTTTopic)
	case types.DriverTypeDummy:
		return dummy.New(), nil
	}
	return nil, fmt.Errorf("unknown driver %q", hw.Driver)
}

// Broker is the URL the mqtt driver connects to. Without an explicit broker
// the embedded one started by the daemon is used.
func Broker(hw config.Hardware) string {
	if hw.MQTTBroker != "" {
		return hw.MQTTBroker
	}
	addr := hw.EmbeddedBroker
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "tcp://" + addr
}
