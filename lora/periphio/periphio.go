// Package periphio connects the sx127x driver to Linux hosts through
// periph.io: an SPI port from spireg and GPIO lines from gpioreg.
//
// A Raspberry Pi with an RFM95 on SPI0 CE0, RESET on GPIO25 and DIO0 on
// GPIO24 is wired like this:
//
//	periphio.Init()
//	bus, _ := periphio.OpenSPI("/dev/spidev0.0", 5*physic.MegaHertz)
//	rst, _ := periphio.OpenOutput("GPIO25")
//	dio0, _ := periphio.OpenInterrupt("GPIO24")
//	radio, _ := sx127x.New(bus, rst, dio0)
package periphio

import (
	"fmt"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// DefaultSPIFrequency is used by OpenSPI when freq is zero. The SX127x
// accepts up to 10MHz.
const DefaultSPIFrequency = 1 * physic.MegaHertz

// Init loads the host drivers. It must be called once before opening ports
// or pins.
func Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("periphio: failed to initialize periph.io host: %w", err)
	}
	return nil
}

// SPI is a sx127x.Bus over a periph.io SPI connection. Every call is one
// transaction with chip select held.
type SPI struct {
	conn spi.Conn
	port spi.PortCloser
}

// OpenSPI opens the SPI port by name (e.g. "/dev/spidev0.0" or "SPI0.0")
// in mode 0 with 8 bit words.
func OpenSPI(name string, freq physic.Frequency) (*SPI, error) {
	if freq == 0 {
		freq = DefaultSPIFrequency
	}
	p, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("periphio: failed to open SPI port %q: %w", name, err)
	}
	c, err := p.Connect(freq, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("periphio: failed to create SPI connection: %w", err)
	}
	return &SPI{conn: c, port: p}, nil
}

// NewSPI wraps an already connected SPI connection. Close is then a no-op.
func NewSPI(conn spi.Conn) *SPI {
	return &SPI{conn: conn}
}

// Tx writes w and reads len(w) bytes into r.
func (s *SPI) Tx(w, r []byte) error {
	return s.conn.Tx(w, r)
}

// Write writes w, ignoring the bytes read back.
func (s *SPI) Write(w []byte) error {
	return s.conn.Tx(w, nil)
}

// Close releases the port if OpenSPI opened it.
func (s *SPI) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

func (s *SPI) String() string {
	return s.conn.String()
}
