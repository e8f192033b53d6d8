package mqtt

import (
	"context"
	"sync"

	mqttv2 "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/sirupsen/logrus"
)

// Start runs an embedded broker on address for relays that cannot reach an
// external one. It is closed when ctx is done.
func Start(ctx context.Context, wg *sync.WaitGroup, address string) (*mqttv2.Server, error) {
	server := mqttv2.New(&mqttv2.Options{
		InlineClient: true,
	})

	// Allow all connections.
	_ = server.AddHook(new(auth.AllowHook), nil)

	tcp := listeners.NewTCP(listeners.Config{ID: "t1", Address: address})
	err := server.AddListener(tcp)
	if err != nil {
		return server, err
	}

	err = server.Serve()
	if err != nil {
		return server, err
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		server.Close()
	}()
	return server, nil
}

// Watch logs every message published on topic, which makes relay commands
// visible in the daemon log.
func Watch(server *mqttv2.Server, topic string) error {
	return server.Subscribe(topic, 1, func(cl *mqttv2.Client, sub packets.Subscription, pk packets.Packet) {
		logrus.WithFields(logrus.Fields{"topic": pk.TopicName, "payload": string(pk.Payload)}).Info("mqtt: relay command")
	})
}
