package sx127x

import (
	"io"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"
)

// busOp is one chip select transaction seen by fakeChip.
type busOp struct {
	write bool
	addr  uint8
	data  []byte
}

// fakeChip emulates the SPI side of an SX127x: a register file, a 256 byte
// FIFO behind register 0 that auto-increments RegFifoAddrPtr, and write one
// to clear semantics on RegIrqFlags.
type fakeChip struct {
	regs      [0x80]byte
	fifo      [FIFO_SIZE]byte
	ops       []busOp
	failRead  map[uint8]error
	failWrite map[uint8]error
	closed    bool
}

func newFakeChip() *fakeChip {
	c := &fakeChip{
		failRead:  map[uint8]error{},
		failWrite: map[uint8]error{},
	}
	c.regs[REG_VERSION] = EXPECTED_VERSION
	c.regs[REG_OP_MODE] = 0x09
	c.regs[REG_MODEM_CONFIG_1] = 0x72
	c.regs[REG_MODEM_CONFIG_2] = 0x70
	return c
}

func (c *fakeChip) Tx(w, r []byte) error {
	addr := w[0] & REG_READ_MASK
	if w[0]&REG_WRITE_FLAG != 0 {
		return c.Write(w)
	}
	if err := c.failRead[addr]; err != nil {
		return err
	}
	for i := 1; i < len(w); i++ {
		if addr == REG_FIFO {
			r[i] = c.fifo[c.regs[REG_FIFO_ADDR_PTR]]
			c.regs[REG_FIFO_ADDR_PTR]++
		} else {
			r[i] = c.regs[int(addr)+i-1]
		}
	}
	c.ops = append(c.ops, busOp{addr: addr, data: append([]byte(nil), r[1:]...)})
	return nil
}

func (c *fakeChip) Write(w []byte) error {
	addr := w[0] & REG_READ_MASK
	if err := c.failWrite[addr]; err != nil {
		return err
	}
	for i, b := range w[1:] {
		switch {
		case addr == REG_FIFO:
			c.fifo[c.regs[REG_FIFO_ADDR_PTR]] = b
			c.regs[REG_FIFO_ADDR_PTR]++
		case addr == REG_IRQ_FLAGS:
			c.regs[REG_IRQ_FLAGS] &^= b
		default:
			c.regs[int(addr)+i] = b
		}
	}
	c.ops = append(c.ops, busOp{write: true, addr: addr, data: append([]byte(nil), w[1:]...)})
	return nil
}

func (c *fakeChip) Close() error {
	c.closed = true
	return nil
}

// writes returns the data of every write to addr, in order.
func (c *fakeChip) writes(addr uint8) [][]byte {
	var out [][]byte
	for _, op := range c.ops {
		if op.write && op.addr == addr {
			out = append(out, op.data)
		}
	}
	return out
}

// lastWrite returns the value of the last single byte write to addr.
func (c *fakeChip) lastWrite(addr uint8) (uint8, bool) {
	w := c.writes(addr)
	if len(w) == 0 {
		return 0, false
	}
	last := w[len(w)-1]
	return last[len(last)-1], true
}

// loadPacket puts payload in the FIFO as the radio does on RxDone.
func (c *fakeChip) loadPacket(at uint8, payload []byte, flags uint8) {
	copy(c.fifo[at:], payload)
	c.regs[REG_FIFO_RX_CURRENT_ADDR] = at
	c.regs[REG_RX_NB_BYTES] = uint8(len(payload))
	c.regs[REG_IRQ_FLAGS] = flags
}

// recorder collects the events of a device.
type recorder struct {
	received    []ReceivedPacket
	transmitted []DataTransmitted
	errs        []error
}

func (r *recorder) OnReceive(p ReceivedPacket) error {
	r.received = append(r.received, p)
	return nil
}

func (r *recorder) OnTransmit(t DataTransmitted) error {
	r.transmitted = append(r.transmitted, t)
	return nil
}

func (r *recorder) OnError(err error) {
	r.errs = append(r.errs, err)
}

var testTime = time.Date(2021, 4, 18, 21, 44, 26, 0, time.UTC)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestDevice returns a device on chip with a recorder subscribed.
func newTestDevice(c *qt.C, chip *fakeChip) (*Device, *recorder) {
	d, err := New(chip, nil, nil)
	c.Assert(err, qt.IsNil)
	d.SetLogger(quietLogger())
	d.sleep = func(time.Duration) {}
	d.now = func() time.Time { return testTime }
	rec := &recorder{}
	d.Subscribe(rec)
	return d, rec
}

// newInitialisedDevice returns a device listening on 915MHz with no
// addressing, and a chip with an empty operation log.
func newInitialisedDevice(c *qt.C, cfg Config) (*Device, *fakeChip, *recorder) {
	chip := newFakeChip()
	d, rec := newTestDevice(c, chip)
	if cfg.Frequency == 0 {
		cfg.Frequency = 915000000
	}
	c.Assert(d.Init(cfg), qt.IsNil)
	chip.ops = nil
	return d, chip, rec
}
