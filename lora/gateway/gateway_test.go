package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"

	"github.com/lorakit/drivers/lora/sx127x"
)

var _ Radio = (*sx127x.Device)(nil)

type message struct {
	topic   string
	payload []byte
}

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]func([]byte)
	published chan message
	subErr    error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		handlers:  map[string]func([]byte){},
		published: make(chan message, 16),
	}
}

func (b *fakeBroker) Publish(topic string, payload []byte) error {
	b.published <- message{topic: topic, payload: payload}
	return nil
}

func (b *fakeBroker) Subscribe(topic string, handler func([]byte)) error {
	if b.subErr != nil {
		return b.subErr
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = handler
	return nil
}

func (b *fakeBroker) Close() {}

func (b *fakeBroker) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	h([]byte(payload))
}

type sent struct {
	to      []byte
	payload []byte
}

type fakeRadio struct {
	mu       sync.Mutex
	observer sx127x.Observer
	ready    chan struct{}
	sent     chan sent
	listens  chan struct{}
	err      error
}

func newFakeRadio() *fakeRadio {
	return &fakeRadio{
		ready:   make(chan struct{}),
		sent:    make(chan sent, 16),
		listens: make(chan struct{}, 16),
	}
}

func (r *fakeRadio) Send(payload []byte) error {
	return r.SendTo(nil, payload)
}

func (r *fakeRadio) SendTo(to, payload []byte) error {
	if r.err != nil {
		return r.err
	}
	r.sent <- sent{to: to, payload: payload}
	return nil
}

func (r *fakeRadio) Listen() error {
	r.listens <- struct{}{}
	return nil
}

func (r *fakeRadio) Subscribe(o sx127x.Observer) func() {
	r.mu.Lock()
	r.observer = o
	r.mu.Unlock()
	close(r.ready)
	return func() {
		r.mu.Lock()
		r.observer = nil
		r.mu.Unlock()
	}
}

func (r *fakeRadio) notify() sx127x.Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

type fakeStore struct {
	saved chan Packet
}

func (s *fakeStore) Save(_ context.Context, p Packet) error {
	s.saved <- p
	return nil
}

const waitTimeout = 5 * time.Second

func expectMessage(c *qt.C, b *fakeBroker, topic string) []byte {
	select {
	case m := <-b.published:
		c.Assert(m.topic, qt.Equals, topic, qt.Commentf("payload %s", m.payload))
		return m.payload
	case <-time.After(waitTimeout):
		c.Fatalf("nothing published on %s", topic)
	}
	return nil
}

func expectSent(c *qt.C, r *fakeRadio) sent {
	select {
	case s := <-r.sent:
		return s
	case <-time.After(waitTimeout):
		c.Fatalf("nothing transmitted")
	}
	return sent{}
}

func expectNothingSent(c *qt.C, r *fakeRadio) {
	select {
	case s := <-r.sent:
		c.Fatalf("unexpected transmission %q", s.payload)
	case <-time.After(50 * time.Millisecond):
	}
}

// startGateway runs a gateway until the test ends.
func startGateway(c *qt.C, opts Options) (*fakeRadio, *fakeBroker) {
	radio, broker := newFakeRadio(), newFakeBroker()
	l := logrus.New()
	l.SetOutput(io.Discard)
	opts.Logger = l
	g := New(radio, broker, opts)
	g.now = func() time.Time { return time.Unix(1618782266, 0).UTC() }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	c.Cleanup(func() {
		cancel()
		c.Check(<-done, qt.IsNil)
	})
	<-radio.ready
	return radio, broker
}

func TestReceivedPacketPublished(t *testing.T) {
	c := qt.New(t)
	store := &fakeStore{saved: make(chan Packet, 1)}
	radio, broker := startGateway(c, Options{Store: store})

	at := time.Date(2021, 4, 18, 21, 44, 26, 0, time.UTC)
	err := radio.notify().OnReceive(sx127x.ReceivedPacket{
		Payload:     []byte("hello"),
		Destination: []byte{0x0a},
		Source:      []byte{0x0b},
		RSSI:        -107,
		PacketRSSI:  -99,
		SNR:         -2,
		Time:        at,
	})
	c.Assert(err, qt.IsNil)

	var p Packet
	c.Assert(json.Unmarshal(expectMessage(c, broker, "lora/rx"), &p), qt.IsNil)
	c.Check(p, qt.DeepEquals, Packet{
		Payload:     []byte("hello"),
		Destination: "0a",
		Source:      "0b",
		RSSI:        -107,
		PacketRSSI:  -99,
		SNR:         -2,
		Time:        at,
	})
	saved := <-store.saved
	c.Check(saved.Payload, qt.DeepEquals, []byte("hello"))
}

func TestRadioErrorPublished(t *testing.T) {
	c := qt.New(t)
	radio, broker := startGateway(c, Options{Topic: "site1"})

	radio.notify().OnError(sx127x.ErrCRC)

	var m ErrorMessage
	c.Assert(json.Unmarshal(expectMessage(c, broker, "site1/error"), &m), qt.IsNil)
	c.Check(m.Error, qt.Equals, "sx127x: payload crc error")
}

func TestCommandTransmitted(t *testing.T) {
	c := qt.New(t)
	radio, broker := startGateway(c, Options{})

	broker.deliver("lora/tx", `{"to": "0a0b", "text": "hi"}`)
	s := expectSent(c, radio)
	c.Check(s.to, qt.DeepEquals, []byte{0x0a, 0x0b})
	c.Check(s.payload, qt.DeepEquals, []byte("hi"))

	broker.deliver("lora/tx", `{"payload": "AQID"}`)
	// One transmission at a time.
	expectNothingSent(c, radio)

	at := time.Date(2021, 4, 18, 21, 44, 27, 0, time.UTC)
	c.Assert(radio.notify().OnTransmit(sx127x.DataTransmitted{Time: at}), qt.IsNil)
	s = expectSent(c, radio)
	c.Check(s.to, qt.IsNil)
	c.Check(s.payload, qt.DeepEquals, []byte{1, 2, 3})

	var done TxDone
	c.Assert(json.Unmarshal(expectMessage(c, broker, "lora/txdone"), &done), qt.IsNil)
	c.Check(done.Time.Equal(at), qt.IsTrue)
}

func TestCommandTxTimeout(t *testing.T) {
	c := qt.New(t)
	radio, broker := startGateway(c, Options{TxTimeout: 20 * time.Millisecond})

	broker.deliver("lora/tx", `{"text": "one"}`)
	broker.deliver("lora/tx", `{"text": "two"}`)
	c.Check(expectSent(c, radio).payload, qt.DeepEquals, []byte("one"))
	// The abandoned packet is dropped before the next one goes out.
	select {
	case <-radio.listens:
	case <-time.After(time.Second):
		c.Fatal("radio not returned to receive after the timeout")
	}
	c.Check(expectSent(c, radio).payload, qt.DeepEquals, []byte("two"))
}

func TestBadCommand(t *testing.T) {
	c := qt.New(t)
	_, broker := startGateway(c, Options{})

	broker.deliver("lora/tx", `{"to": 12`)
	var m ErrorMessage
	c.Assert(json.Unmarshal(expectMessage(c, broker, "lora/error"), &m), qt.IsNil)
	c.Check(m.Error, qt.Matches, "gateway: bad command: .*")
}

func TestBadDestination(t *testing.T) {
	c := qt.New(t)
	radio, broker := startGateway(c, Options{})

	broker.deliver("lora/tx", `{"to": "zz", "text": "hi"}`)
	expectMessage(c, broker, "lora/error")
	expectNothingSent(c, radio)
}

func TestSendFailurePublished(t *testing.T) {
	c := qt.New(t)
	radio, broker := startGateway(c, Options{})
	radio.err = sx127x.ErrNotInitialised

	broker.deliver("lora/tx", `{"text": "hi"}`)
	var m ErrorMessage
	c.Assert(json.Unmarshal(expectMessage(c, broker, "lora/error"), &m), qt.IsNil)
	c.Check(m.Error, qt.Equals, "sx127x: device not initialised")
	c.Check(m.Time.Equal(time.Unix(1618782266, 0)), qt.IsTrue)
}

func TestRunSubscribeError(t *testing.T) {
	c := qt.New(t)
	broker := newFakeBroker()
	broker.subErr = errors.New("not authorized")
	g := New(newFakeRadio(), broker, Options{})

	err := g.Run(context.Background())
	c.Assert(err, qt.ErrorMatches, "gateway: subscribe lora/tx: not authorized")
}
