// Package sx127x provides an interrupt driven driver for SX127x LoRa
// transceivers, including the HopeRF RFM95/96/97/98 modules.
//
// Datasheet:
// https://www.semtech.com/uploads/documents/DS_SX1276-7-8-9_W_APP_V6.pdf
//
// LoRa Configuration Parameters:
//
// Frequency: is the frequency the tranceiver uses. Valid frequencies depend on
// the type of LoRa module, typically around 433MHz, 868MHz or 915MHz. It has
// a granularity of about 61Hz.
//
// PaBoost: selects the PA_BOOST output pin instead of RFO. Most RFM9x boards
// only wire PA_BOOST to the antenna.
//
// RxPayloadCrcOn: makes the radio append a CRC to sent payloads and check it
// on received ones.
//
// AddressWidth: when non-zero every packet starts with a destination and a
// source address of AddressWidth bytes each. Address is the source used by
// SendTo.
//
// The driver needs the DIO0 pin: the radio raises it for RxDone and TxDone,
// and HandleInterrupt reads RegIrqFlags to tell them apart. Without a DIO0
// pin the application calls HandleInterrupt itself.
package sx127x

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// OutputPin drives a digital output, such as the reset line.
type OutputPin interface {
	Set(high bool) error
}

// InterruptPin calls a handler on every rising edge of an input, one call at
// a time. Close stops the calls.
type InterruptPin interface {
	OnRisingEdge(handler func()) error
	Close() error
}

// State is the position of the driver in its receive/transmit cycle.
type State uint8

const (
	StateUninitialised State = iota
	// StateIdle means the radio listens in RxContinuous mode.
	StateIdle
	// StateTransmitting lasts from Send until the TxDone interrupt.
	StateTransmitting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTransmitting:
		return "transmitting"
	}
	return "uninitialised"
}

// Device wraps an SPI connection to a SX127x device.
type Device struct {
	mu     sync.Mutex
	bus    Bus
	rstPin OutputPin
	dio0   InterruptPin
	cnf    Config
	mode   OpMode
	state  State
	notify notifier
	log    logrus.FieldLogger
	sleep  func(time.Duration)
	now    func() time.Time
}

// Config holds the LoRa configuration parameters
type Config struct {
	Frequency      uint32
	PaBoost        bool
	RxPayloadCrcOn bool
	AddressWidth   int
	Address        []byte

	// Optional modem settings, zero keeps the chip default.
	SpreadingFactor uint8
	Bandwidth       int32
	CodingRate      uint8
	SyncWord        uint8
	TxPower         int8
	// LnaBoost sets the 150% LNA current of the high frequency port.
	LnaBoost bool
}

// New creates a new SX127x connection. The SPI bus must already be
// configured. New resets the radio through rstPin (which may be nil when the
// reset line is not wired) and subscribes HandleInterrupt to dio0 (which may
// be nil to poll instead).
func New(bus Bus, rstPin OutputPin, dio0 InterruptPin) (*Device, error) {
	if bus == nil {
		return nil, errors.New("sx127x: nil bus")
	}
	log := logrus.StandardLogger()
	d := &Device{
		bus:    bus,
		rstPin: rstPin,
		dio0:   dio0,
		log:    log,
		sleep:  time.Sleep,
		now:    time.Now,
	}
	d.notify.log = log
	if err := d.Reset(); err != nil {
		return nil, err
	}
	if dio0 != nil {
		if err := dio0.OnRisingEdge(d.HandleInterrupt); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// SetLogger replaces the logger, logrus.StandardLogger() by default.
func (d *Device) SetLogger(l logrus.FieldLogger) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = l
	d.notify.mu.Lock()
	d.notify.log = l
	d.notify.mu.Unlock()
}

// Subscribe registers o for the device events. The returned function
// removes it again.
func (d *Device) Subscribe(o Observer) (unsubscribe func()) {
	return d.notify.subscribe(o)
}

// Reset the sx127x device. The device must be initialised again afterwards.
func (d *Device) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateUninitialised
	if d.rstPin == nil {
		return nil
	}
	if err := d.rstPin.Set(false); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	if err := d.rstPin.Set(true); err != nil {
		return err
	}
	d.sleep(10 * time.Millisecond)
	return nil
}

// Init programs the radio and leaves it listening in RxContinuous mode.
// It can be called again to reconfigure the device from scratch.
func (d *Device) Init(cfg Config) error {
	if cfg.Frequency < 137000000 || cfg.Frequency > 1020000000 {
		return ErrBadFrequency
	}
	if cfg.AddressWidth < 0 || cfg.AddressWidth > MaxAddressWidth {
		return ErrAddressWidth
	}
	if cfg.Address != nil && len(cfg.Address) != cfg.AddressWidth {
		return ErrAddressWidth
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = StateUninitialised

	version, err := d.readRegister(REG_VERSION)
	if err != nil {
		return err
	}
	if version != EXPECTED_VERSION {
		return ErrNotDetected
	}

	// Sleep mode required to go Lora
	if err := d.setMode(OpSleep); err != nil {
		return err
	}
	frf := FrequencyToRegister(cfg.Frequency)
	if err := d.writeBlock(REG_FRF_MSB, frf[:]); err != nil {
		return err
	}
	if err := d.writeRegister(REG_FIFO_TX_BASE_ADDR, FIFO_TX_BASE); err != nil {
		return err
	}
	if err := d.writeRegister(REG_FIFO_RX_BASE_ADDR, FIFO_RX_BASE); err != nil {
		return err
	}

	paConfig := uint8(PA_CONFIG_DEFAULT)
	if cfg.PaBoost {
		paConfig = PA_BOOST
	}
	if err := d.writeRegister(REG_PA_CONFIG, paConfig); err != nil {
		return err
	}
	if cfg.TxPower != 0 {
		if err := d.setTxPower(cfg.TxPower, cfg.PaBoost); err != nil {
			return err
		}
	}

	var crc uint8
	if cfg.RxPayloadCrcOn {
		crc = MODEM_CONFIG_2_CRC_ON
	}
	if err := d.writeMasked(REG_MODEM_CONFIG_2, MODEM_CONFIG_2_CRC_ON, crc); err != nil {
		return err
	}
	if err := d.configureModem(cfg); err != nil {
		return err
	}

	if cfg.LnaBoost {
		if err := d.writeMasked(REG_LNA, LNA_BOOST_HF, LNA_BOOST_HF); err != nil {
			return err
		}
	}

	d.cnf = cfg
	if err := d.setMode(OpStandby); err != nil {
		return err
	}
	// A flag latched before Init keeps DIO0 high and no edge would follow.
	if err := d.writeRegister(REG_IRQ_FLAGS_MASK, 0x00); err != nil {
		return err
	}
	if err := d.writeRegister(REG_IRQ_FLAGS, IRQ_ALL); err != nil {
		return err
	}
	if err := d.listen(); err != nil {
		return err
	}
	d.log.WithFields(logrus.Fields{
		"frequency": cfg.Frequency,
		"paboost":   cfg.PaBoost,
		"crc":       cfg.RxPayloadCrcOn,
	}).Debug("sx127x: initialised")
	return nil
}

// Close puts the radio to sleep and releases the bus and pins.
func (d *Device) Close() error {
	var errs []error
	// Stop interrupts first, the handler needs the lock to finish.
	if d.dio0 != nil {
		errs = append(errs, d.dio0.Close())
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state != StateUninitialised {
		errs = append(errs, d.setMode(OpSleep))
		d.state = StateUninitialised
	}
	if c, ok := d.bus.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := d.rstPin.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Mode returns the operating mode last written to the radio.
func (d *Device) Mode() OpMode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// State returns the current driver state.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Config returns the configuration of the last successful Init.
func (d *Device) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cnf
}

// Send transmits payload as a raw packet. It returns once the packet is in
// the FIFO and the radio is in Tx mode; completion is reported to observers.
// While a packet is on the air Send returns ErrBusy; call Listen to abandon
// it.
func (d *Device) Send(payload []byte) error {
	return d.send(Frame{Payload: payload}, false)
}

// SendAddressed transmits an addressed packet. Both addresses must be
// AddressWidth bytes long.
func (d *Device) SendAddressed(destination, source, payload []byte) error {
	return d.send(Frame{Destination: destination, Source: source, Payload: payload}, true)
}

// SendTo transmits an addressed packet from the configured Address.
func (d *Device) SendTo(destination, payload []byte) error {
	return d.send(Frame{Destination: destination, Payload: payload}, true)
}

func (d *Device) send(f Frame, addressed bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateUninitialised {
		return ErrNotInitialised
	}
	if d.state == StateTransmitting {
		return ErrBusy
	}
	width := 0
	if addressed {
		width = d.cnf.AddressWidth
		if width == 0 {
			return ErrAddressWidth
		}
		if f.Source == nil {
			f.Source = d.cnf.Address
		}
	}
	buf, err := EncodeFrame(f, width)
	if err != nil {
		return err
	}

	// The FIFO can only be filled in standby mode
	if err := d.setMode(OpStandby); err != nil {
		return err
	}
	if err := d.writeRegister(REG_FIFO_ADDR_PTR, FIFO_TX_BASE); err != nil {
		return err
	}
	if err := d.writeBlock(REG_FIFO, buf); err != nil {
		return err
	}
	if err := d.writeRegister(REG_PAYLOAD_LENGTH, uint8(len(buf))); err != nil {
		return err
	}
	if err := d.writeRegister(REG_DIO_MAPPING_1, DIO0_TX_DONE); err != nil {
		return err
	}
	if err := d.setMode(OpTx); err != nil {
		return err
	}
	d.state = StateTransmitting
	d.log.WithField("len", len(buf)).Debug("sx127x: transmitting")
	return nil
}

// listen maps DIO0 to RxDone and enters RxContinuous mode.
// Listen puts the radio back in RxContinuous, abandoning any packet still
// being transmitted. No DataTransmitted is reported for an abandoned packet.
func (d *Device) Listen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateUninitialised {
		return ErrNotInitialised
	}
	if d.state == StateTransmitting {
		d.log.Warn("sx127x: transmission abandoned")
	}
	if err := d.setMode(OpStandby); err != nil {
		return err
	}
	// Drop a TxDone that may have latched while DIO0 was remapped.
	if err := d.writeRegister(REG_IRQ_FLAGS, IRQ_ALL); err != nil {
		return err
	}
	return d.listen()
}

func (d *Device) listen() error {
	if err := d.writeRegister(REG_DIO_MAPPING_1, DIO0_RX_DONE); err != nil {
		return err
	}
	if err := d.setMode(OpRxContinuous); err != nil {
		return err
	}
	d.state = StateIdle
	return nil
}

// setMode writes mode (in LoRa mode) to RegOpMode. The mode is only tracked,
// never read back.
func (d *Device) setMode(mode OpMode) error {
	if err := d.writeRegister(REG_OP_MODE, mode.register()); err != nil {
		return err
	}
	d.mode = mode
	return nil
}

// FrequencyToRegister returns the RegFrfMsb, RegFrfMid and RegFrfLsb values
// for frequency in Hz.
func FrequencyToRegister(frequency uint32) [3]byte {
	frf := ((uint64(frequency) << 19) + FXOSC/2) / FXOSC
	return [3]byte{uint8(frf >> 16), uint8(frf >> 8), uint8(frf)}
}

// RegisterToFrequency is the inverse of FrequencyToRegister.
func RegisterToFrequency(frf [3]byte) uint32 {
	f := uint64(frf[0])<<16 | uint64(frf[1])<<8 | uint64(frf[2])
	return uint32((f*FXOSC + 1<<18) >> 19)
}

// rssiOffset returns the constant subtracted from RSSI registers (section 5.5.5).
func (d *Device) rssiOffset() int {
	if d.cnf.Frequency < LOW_FREQUENCY_LIMIT {
		return RSSI_OFFSET_LF
	}
	return RSSI_OFFSET_HF
}
