package sx127x

// Bus is a full-duplex SPI connection to the radio. The implementation owns
// chip select and must keep it asserted for the whole of a single call, since
// FIFO bursts rely on the chip auto-incrementing inside one transaction.
type Bus interface {
	// Tx writes w while reading len(w) bytes into r.
	Tx(w, r []byte) error
	// Write sends w and discards whatever is clocked back.
	Write(w []byte) error
}

// -------------------
// Read/Write SPI Regs
// -------------------

// ReadRegister returns register value
func (d *Device) ReadRegister(reg uint8) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(reg)
}

// ReadWord returns the big-endian value of reg and reg+1.
func (d *Device) ReadWord(reg uint8) (uint16, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readWord(reg)
}

// ReadBlock reads n consecutive bytes starting at reg. Reading REG_FIFO
// returns n bytes from the FIFO address pointer onwards. n must be between
// 0 and FIFO_SIZE.
func (d *Device) ReadBlock(reg uint8, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readBlock(reg, n)
}

// WriteRegister sets a value to register
func (d *Device) WriteRegister(reg, value uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeRegister(reg, value)
}

// WriteWord writes value big-endian to reg and reg+1.
func (d *Device) WriteWord(reg uint8, value uint16) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeWord(reg, value)
}

// WriteBlock writes data to consecutive registers starting at reg, or into
// the FIFO when reg is REG_FIFO.
func (d *Device) WriteBlock(reg uint8, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writeBlock(reg, data)
}

// The lower case variants expect d.mu to be held.

func (d *Device) readRegister(reg uint8) (uint8, error) {
	b, err := d.readBlock(reg, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Device) readWord(reg uint8) (uint16, error) {
	b, err := d.readBlock(reg, 2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

func (d *Device) readBlock(reg uint8, n int) ([]byte, error) {
	if n < 0 || n > FIFO_SIZE {
		return nil, &LengthError{Length: n, Max: FIFO_SIZE}
	}
	w := make([]byte, n+1)
	r := make([]byte, n+1)
	w[0] = reg & REG_READ_MASK
	if err := d.bus.Tx(w, r); err != nil {
		return nil, &BusError{Op: "read", Addr: reg, Err: err}
	}
	return r[1:], nil
}

func (d *Device) writeRegister(reg, value uint8) error {
	return d.writeBlock(reg, []byte{value})
}

func (d *Device) writeWord(reg uint8, value uint16) error {
	return d.writeBlock(reg, []byte{uint8(value >> 8), uint8(value)})
}

func (d *Device) writeBlock(reg uint8, data []byte) error {
	w := make([]byte, len(data)+1)
	w[0] = reg | REG_WRITE_FLAG
	copy(w[1:], data)
	if err := d.bus.Write(w); err != nil {
		return &BusError{Op: "write", Addr: reg, Err: err}
	}
	return nil
}

// writeMasked replaces the bits of reg selected by mask with value.
func (d *Device) writeMasked(reg, mask, value uint8) error {
	r, err := d.readRegister(reg)
	if err != nil {
		return err
	}
	return d.writeRegister(reg, (r&^mask)|(value&mask))
}
