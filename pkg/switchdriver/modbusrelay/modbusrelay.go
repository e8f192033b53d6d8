package modbusrelay

import (
	"context"

	"github.com/nergy-se/smartheater/pkg/modbusclient"
	"github.com/sirupsen/logrus"
)

// Relay drives one coil of a modbus relay module.
type Relay struct {
	client modbusclient.Client
	coil   uint16
}

func New(client modbusclient.Client, coil uint16) *Relay {
	return &Relay{
		client: client,
		coil:   coil,
	}
}

// Write sets the coil and reads it back.
func (r *Relay) Write(ctx context.Context, high bool) error {
	if err := r.client.WriteSingleCoil(r.coil, high); err != nil {
		return err
	}
	on, err := r.client.ReadCoil(r.coil)
	if err != nil {
		logrus.Warnf("modbusrelay: could not verify coil %d: %s", r.coil, err)
		return nil
	}
	if on != high {
		logrus.Errorf("modbusrelay: coil %d reads %t after writing %t", r.coil, on, high)
	}
	return nil
}

func (r *Relay) Close() error {
	return r.client.Close()
}
