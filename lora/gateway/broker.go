package gateway

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

// Broker is the message bus the gateway publishes to.
type Broker interface {
	Publish(topic string, payload []byte) error
	// Subscribe calls handler for every message on topic, from a goroutine
	// owned by the broker.
	Subscribe(topic string, handler func(payload []byte)) error
	Close()
}

const mqttTimeout = 10 * time.Second

// MQTTBroker is a Broker on an MQTT server.
type MQTTBroker struct {
	client mqtt.Client
	qos    byte
}

// DialMQTT connects to cfg.Broker, e.g. "tcp://localhost:1883". The client
// reconnects on its own after the first connection succeeded.
func DialMQTT(cfg MQTTConfig, log logrus.FieldLogger) (*MQTTBroker, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("gateway: mqtt connection lost")
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.WithField("broker", cfg.Broker).Info("gateway: mqtt connected")
	})

	client := mqtt.NewClient(opts)
	if err := wait(client.Connect()); err != nil {
		return nil, fmt.Errorf("gateway: mqtt connect %s: %w", cfg.Broker, err)
	}
	return &MQTTBroker{client: client, qos: cfg.QoS}, nil
}

func (b *MQTTBroker) Publish(topic string, payload []byte) error {
	return wait(b.client.Publish(topic, b.qos, false, payload))
}

func (b *MQTTBroker) Subscribe(topic string, handler func(payload []byte)) error {
	return wait(b.client.Subscribe(topic, b.qos, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Payload())
	}))
}

func (b *MQTTBroker) Close() {
	b.client.Disconnect(250)
}

func wait(t mqtt.Token) error {
	if !t.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("timed out after %s", mqttTimeout)
	}
	return t.Error()
}
