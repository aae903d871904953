// Package gateway bridges a LoRa radio to MQTT. Received packets are
// published as JSON on <topic>/rx and optionally kept in Redis; JSON
// commands on <topic>/tx are transmitted one at a time.
package gateway

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lorakit/drivers/lora/sx127x"
)

// Radio is the part of *sx127x.Device the gateway uses.
type Radio interface {
	Send(payload []byte) error
	SendTo(destination, payload []byte) error
	Listen() error
	Subscribe(o sx127x.Observer) (unsubscribe func())
}

// Options tune a Gateway. The zero value is usable.
type Options struct {
	// Topic prefixes the gateway topics, "lora" by default.
	Topic string
	// Store receives every packet when set.
	Store  Store
	Logger logrus.FieldLogger
	// QueueSize bounds the pending radio events and commands.
	QueueSize int
	// TxTimeout is how long a transmission may wait for TxDone before the
	// next command is sent anyway.
	TxTimeout time.Duration
}

// Gateway forwards radio events to a Broker and broker commands to the
// radio. It is an sx127x.Observer that only queues: all broker and store
// traffic happens in Run, away from the interrupt path.
type Gateway struct {
	radio     Radio
	broker    Broker
	store     Store
	topic     string
	log       logrus.FieldLogger
	events    sx127x.EventChan
	commands  chan Command
	txTimeout time.Duration
	now       func() time.Time
}

var errCommandDropped = errors.New("gateway: command queue full, command dropped")

func New(radio Radio, broker Broker, opts Options) *Gateway {
	if opts.Topic == "" {
		opts.Topic = "lora"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = 5 * time.Second
	}
	return &Gateway{
		radio:     radio,
		broker:    broker,
		store:     opts.Store,
		topic:     opts.Topic,
		log:       opts.Logger,
		events:    make(sx127x.EventChan, opts.QueueSize),
		commands:  make(chan Command, opts.QueueSize),
		txTimeout: opts.TxTimeout,
		now:       time.Now,
	}
}

func (g *Gateway) OnReceive(p sx127x.ReceivedPacket) error {
	return g.events.OnReceive(p)
}

func (g *Gateway) OnTransmit(t sx127x.DataTransmitted) error {
	return g.events.OnTransmit(t)
}

func (g *Gateway) OnError(err error) {
	g.events.OnError(err)
}

// Run serves until ctx is done. It returns an error only if the command
// topic cannot be subscribed.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.broker.Subscribe(g.topic+"/tx", g.command); err != nil {
		return fmt.Errorf("gateway: subscribe %s/tx: %w", g.topic, err)
	}
	unsubscribe := g.radio.Subscribe(g)
	defer unsubscribe()
	g.log.WithField("topic", g.topic).Info("gateway: running")

	// commands is nil while a transmission is in flight.
	var (
		commands <-chan Command = g.commands
		timeout  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			g.log.Info("gateway: stopped")
			return nil
		case e := <-g.events:
			if e.Transmitted != nil {
				commands, timeout = g.commands, nil
			}
			g.handle(ctx, e)
		case cmd := <-commands:
			if g.transmit(cmd) {
				commands, timeout = nil, time.After(g.txTimeout)
			}
		case <-timeout:
			g.log.WithField("timeout", g.txTimeout).Warn("gateway: no TxDone, resuming")
			if err := g.radio.Listen(); err != nil {
				g.publishError(err)
			}
			commands, timeout = g.commands, nil
		}
	}
}

// command runs on the broker goroutine.
func (g *Gateway) command(payload []byte) {
	var cmd Command
	if err := json.Unmarshal(payload, &cmd); err != nil {
		g.events.OnError(fmt.Errorf("gateway: bad command: %w", err))
		return
	}
	select {
	case g.commands <- cmd:
	default:
		g.events.OnError(errCommandDropped)
	}
}

func (g *Gateway) transmit(cmd Command) bool {
	var err error
	if cmd.To == "" {
		err = g.radio.Send(cmd.payload())
	} else {
		var dst []byte
		if dst, err = hex.DecodeString(cmd.To); err == nil {
			err = g.radio.SendTo(dst, cmd.payload())
		}
	}
	if err != nil {
		g.log.WithError(err).Warn("gateway: transmit failed")
		g.publishError(err)
		return false
	}
	g.log.WithField("to", cmd.To).Debug("gateway: transmitting")
	return true
}

func (g *Gateway) handle(ctx context.Context, e sx127x.Event) {
	switch {
	case e.Received != nil:
		p := newPacket(*e.Received)
		g.publish("rx", p)
		if g.store != nil {
			if err := g.store.Save(ctx, p); err != nil {
				g.log.WithError(err).Warn("gateway: store failed")
			}
		}
	case e.Transmitted != nil:
		g.publish("txdone", TxDone{Time: e.Transmitted.Time})
	case e.Err != nil:
		g.publishError(e.Err)
	}
}

func (g *Gateway) publishError(err error) {
	g.publish("error", ErrorMessage{Error: err.Error(), Time: g.now()})
}

func (g *Gateway) publish(sub string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		g.log.WithError(err).Error("gateway: marshal failed")
		return
	}
	topic := g.topic + "/" + sub
	if err := g.broker.Publish(topic, data); err != nil {
		g.log.WithError(err).WithField("topic", topic).Warn("gateway: publish failed")
	}
}
