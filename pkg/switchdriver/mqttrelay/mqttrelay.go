package mqttrelay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	paho_mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	PayloadHigh = "ON"
	PayloadLow  = "OFF"
)

// Relay publishes the desired level as a retained message, so a relay that
// reconnects picks up the last command.
type Relay struct {
	client paho_mqtt.Client
	topic  string
}

func New(client paho_mqtt.Client, topic string) *Relay {
	return &Relay{
		client: client,
		topic:  topic,
	}
}

// Dial connects to broker, e.g. tcp://localhost:1883.
func Dial(broker, topic string) (*Relay, error) {
	opts := paho_mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(fmt.Sprintf("%v%v", path.Base(os.Args[0]), os.Getpid()))
	opts.SetConnectTimeout(5 * time.Second)
	opts.SetAutoReconnect(true)

	r := New(paho_mqtt.NewClient(opts), topic)
	if err := r.connect(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Relay) connect() error {
	token := r.client.Connect()
	if !token.WaitTimeout(time.Second * 5) {
		return errors.New("unable to connect in time")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("error connecting to mqtt broker: %w", err)
	}
	return nil
}

func (r *Relay) Write(ctx context.Context, high bool) error {
	payload := PayloadLow
	if high {
		payload = PayloadHigh
	}
	token := r.client.Publish(r.topic, 1, true, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("error publishing to %s: %w", r.topic, err)
	}
	logrus.WithFields(logrus.Fields{"topic": r.topic, "payload": payload}).Debug("mqttrelay: published")
	return nil
}

func (r *Relay) Close() error {
	r.client.Disconnect(250)
	return nil
}
