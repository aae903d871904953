package sx127x

import (
	"fmt"
	"io"
)

// LAST_DUMPED_REGISTER is the highest address covered by Registers.
const LAST_DUMPED_REGISTER = REG_VERSION

// Version returns the silicon revision, 0x12 for SX1276/7/8/9.
func (d *Device) Version() (uint8, error) {
	return d.ReadRegister(REG_VERSION)
}

// Registers reads every register from RegOpMode to RegVersion one at a time.
// The result is indexed by address; index 0 (the FIFO) is left zero so the
// FIFO pointer is not disturbed.
func (d *Device) Registers() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := make([]byte, LAST_DUMPED_REGISTER+1)
	for addr := uint8(REG_OP_MODE); addr <= LAST_DUMPED_REGISTER; addr++ {
		v, err := d.readRegister(addr)
		if err != nil {
			return nil, err
		}
		regs[addr] = v
	}
	return regs, nil
}

// PrintRegisters outputs the sx127x transceiver registers
func (d *Device) PrintRegisters(w io.Writer) error {
	regs, err := d.Registers()
	if err != nil {
		return err
	}
	for addr := REG_OP_MODE; addr < len(regs); addr++ {
		if _, err := fmt.Fprintf(w, "Register 0x%02x - Value 0x%02x\n", addr, regs[addr]); err != nil {
			return err
		}
	}
	return nil
}

// CheckMode reads RegOpMode back and compares it with the mode last
// written. The driver never needs it; it catches a radio that was reset or
// reprogrammed behind the driver's back.
func (d *Device) CheckMode() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, err := d.readRegister(REG_OP_MODE)
	if err != nil {
		return err
	}
	if v&(OPMODE_LORA|OPMODE_MASK) != d.mode.register() {
		return fmt.Errorf("%w: wrote %s, read 0x%02x", ErrModeMismatch, d.mode, v)
	}
	return nil
}
