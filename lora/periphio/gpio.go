package periphio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
)

// ErrWatching is returned when a second handler is set on an InterruptPin.
var ErrWatching = errors.New("periphio: pin already watched")

// OutputPin is a sx127x.OutputPin on a GPIO line.
type OutputPin struct {
	pin gpio.PinOut
}

// OpenOutput looks the pin up by name and drives it high, the idle level of
// the SX127x reset line.
func OpenOutput(name string) (*OutputPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphio: failed to open pin %s", name)
	}
	return NewOutput(p)
}

// NewOutput wraps p and drives it high.
func NewOutput(p gpio.PinOut) (*OutputPin, error) {
	if err := p.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("periphio: %s: %w", p, err)
	}
	return &OutputPin{pin: p}, nil
}

func (o *OutputPin) Set(high bool) error {
	return o.pin.Out(gpio.Level(high))
}

// InterruptPin is a sx127x.InterruptPin on a GPIO line with rising edge
// detection.
type InterruptPin struct {
	pin gpio.PinIn
	log logrus.FieldLogger
	// poll bounds each WaitForEdge so Close is noticed.
	poll time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// OpenInterrupt looks the pin up by name and configures it as a pulled down
// input with rising edge detection.
func OpenInterrupt(name string) (*InterruptPin, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("periphio: failed to open pin %s", name)
	}
	return NewInterrupt(p)
}

// NewInterrupt configures p for rising edge detection.
func NewInterrupt(p gpio.PinIn) (*InterruptPin, error) {
	if err := p.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return nil, fmt.Errorf("periphio: %s: %w", p, err)
	}
	return &InterruptPin{
		pin:  p,
		log:  logrus.StandardLogger(),
		poll: 100 * time.Millisecond,
	}, nil
}

// OnRisingEdge starts a goroutine calling handler for each rising edge. The
// handler is never called concurrently with itself.
func (i *InterruptPin) OnRisingEdge(handler func()) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stop != nil {
		return ErrWatching
	}
	i.stop = make(chan struct{})
	i.done = make(chan struct{})
	go i.watch(handler, i.stop, i.done)
	return nil
}

func (i *InterruptPin) watch(handler func(), stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !i.pin.WaitForEdge(i.poll) {
			continue
		}
		select {
		case <-stop:
			return
		default:
		}
		// Some drivers report both edges; DIO0 is active high.
		if i.pin.Read() != gpio.High {
			i.log.WithField("pin", i.pin.String()).Debug("periphio: ignoring falling edge")
			continue
		}
		handler()
	}
}

// Close stops the handler goroutine, waits for a running handler to return
// and disables edge detection.
func (i *InterruptPin) Close() error {
	i.mu.Lock()
	stop, done := i.stop, i.done
	i.stop, i.done = nil, nil
	i.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return i.pin.In(gpio.PullDown, gpio.NoEdge)
}
