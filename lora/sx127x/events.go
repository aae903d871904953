package sx127x

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ReceivedPacket is delivered once per RxDone interrupt.
type ReceivedPacket struct {
	Payload []byte
	// Destination and Source are nil unless an address width is configured.
	Destination []byte
	Source      []byte
	// RSSI is the current channel RSSI in dBm, PacketRSSI the strength of
	// this packet in dBm and SNR its signal to noise ratio in dB.
	RSSI       int
	PacketRSSI int
	SNR        float64
	Time       time.Time
}

// IsFor reports whether the packet is addressed to addr. Raw packets are
// addressed to everybody.
func (p ReceivedPacket) IsFor(addr []byte) bool {
	return p.Destination == nil || bytes.Equal(p.Destination, addr)
}

// DataTransmitted is delivered once per TxDone interrupt.
type DataTransmitted struct {
	Time time.Time
}

// Observer receives the events of a Device. Methods run on the interrupt
// path with the bus locked: they must return quickly and must not call back
// into the Device. Errors returned are logged and passed to the OnError
// method of the other observers; they never affect the radio.
type Observer interface {
	OnReceive(ReceivedPacket) error
	OnTransmit(DataTransmitted) error
	OnError(error)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	Receive  func(ReceivedPacket) error
	Transmit func(DataTransmitted) error
	Error    func(error)
}

func (o ObserverFuncs) OnReceive(p ReceivedPacket) error {
	if o.Receive == nil {
		return nil
	}
	return o.Receive(p)
}

func (o ObserverFuncs) OnTransmit(t DataTransmitted) error {
	if o.Transmit == nil {
		return nil
	}
	return o.Transmit(t)
}

func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// Event is one of the three notifications, as carried by EventChan.
type Event struct {
	Received    *ReceivedPacket
	Transmitted *DataTransmitted
	Err         error
}

var errEventDropped = errors.New("event channel full, event dropped")

// EventChan forwards events to a channel so they can be handled outside the
// interrupt path. Sends never block: when the channel is full the event is
// dropped and reported.
type EventChan chan Event

func (c EventChan) OnReceive(p ReceivedPacket) error {
	return c.push(Event{Received: &p})
}

func (c EventChan) OnTransmit(t DataTransmitted) error {
	return c.push(Event{Transmitted: &t})
}

func (c EventChan) OnError(err error) {
	c.push(Event{Err: err})
}

func (c EventChan) push(e Event) error {
	select {
	case c <- e:
		return nil
	default:
		return errEventDropped
	}
}

type subscription struct {
	id int
	o  Observer
}

// notifier fans events out to observers in subscription order.
type notifier struct {
	mu        sync.Mutex
	nextID    int
	observers []subscription
	log       logrus.FieldLogger
}

func (n *notifier) subscribe(o Observer) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.observers = append(n.observers, subscription{id: id, o: o})
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.observers {
			if s.id == id {
				n.observers = append(n.observers[:i:i], n.observers[i+1:]...)
				return
			}
		}
	}
}

func (n *notifier) snapshot() []subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	s := make([]subscription, len(n.observers))
	copy(s, n.observers)
	return s
}

func (n *notifier) received(p ReceivedPacket) {
	subs := n.snapshot()
	for _, s := range subs {
		o := s.o
		if err := n.call("receive", func() error { return o.OnReceive(p) }); err != nil {
			n.observerFailed(subs, s.id, err)
		}
	}
}

func (n *notifier) transmitted(t DataTransmitted) {
	subs := n.snapshot()
	for _, s := range subs {
		o := s.o
		if err := n.call("transmit", func() error { return o.OnTransmit(t) }); err != nil {
			n.observerFailed(subs, s.id, err)
		}
	}
}

func (n *notifier) failed(err error) {
	n.log.WithError(err).Warn("sx127x: interrupt handling failed")
	n.errorTo(n.snapshot(), 0, err)
}

// observerFailed reports err to every observer but the one that raised it.
func (n *notifier) observerFailed(subs []subscription, from int, err *ObserverError) {
	n.log.WithError(err.Err).WithField("event", err.Event).Warn("sx127x: observer failed")
	n.errorTo(subs, from, err)
}

func (n *notifier) errorTo(subs []subscription, skip int, err error) {
	for _, s := range subs {
		if s.id == skip {
			continue
		}
		o := s.o
		if perr := n.call("error", func() error { o.OnError(err); return nil }); perr != nil {
			n.log.WithError(perr.Err).Warn("sx127x: error observer failed")
		}
	}
}

// call runs fn, turning a returned error or a panic into an ObserverError.
func (n *notifier) call(event string, fn func() error) (oerr *ObserverError) {
	defer func() {
		if r := recover(); r != nil {
			oerr = &ObserverError{Event: event, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		return &ObserverError{Event: event, Err: err}
	}
	return nil
}
