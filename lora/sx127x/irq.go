package sx127x

import "github.com/sirupsen/logrus"

// HandleInterrupt services a rising edge of DIO0. It reads RegIrqFlags once,
// pulls a received packet out of the FIFO on RxDone, goes back to
// RxContinuous on TxDone, and finally clears the flags it saw. Observers are
// notified before the flags are cleared. Errors are reported to observers
// instead of being returned, as there is no caller on the interrupt path.
//
// Refs: https://github.com/adafruit/RadioHead/blob/master/RH_RF95.cpp
func (d *Device) HandleInterrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateUninitialised {
		d.notify.failed(ErrNotInitialised)
		return
	}

	// Read the interrupt register
	raw, err := d.readRegister(REG_IRQ_FLAGS)
	if err != nil {
		d.notify.failed(err)
		if err := d.writeRegister(REG_IRQ_FLAGS, IRQ_ALL); err != nil {
			d.notify.failed(err)
		}
		return
	}
	flags := IRQFlags(raw)
	d.log.WithFields(logrus.Fields{"irq": flags.String(), "state": d.state.String()}).Debug("sx127x: interrupt")

	if flags.RxDone() {
		pkt, err := d.receive(flags)
		if err != nil {
			d.notify.failed(err)
		} else {
			d.notify.received(pkt)
		}
	}

	if flags.TxDone() {
		d.notify.transmitted(DataTransmitted{Time: d.now()})
		// The radio stays in standby after TxDone
		if err := d.listen(); err != nil {
			d.notify.failed(err)
		}
	}

	// clear IRQ's
	if err := d.writeRegister(REG_IRQ_FLAGS, raw); err != nil {
		d.notify.failed(err)
	}
}

// receive reads the last packet from the FIFO along with its link quality.
func (d *Device) receive(flags IRQFlags) (ReceivedPacket, error) {
	if flags.CRCError() {
		return ReceivedPacket{}, ErrCRC
	}

	// Reset the fifo read ptr to the beginning of the packet
	current, err := d.readRegister(REG_FIFO_RX_CURRENT_ADDR)
	if err != nil {
		return ReceivedPacket{}, err
	}
	if err := d.writeRegister(REG_FIFO_ADDR_PTR, current); err != nil {
		return ReceivedPacket{}, err
	}
	n, err := d.readRegister(REG_RX_NB_BYTES)
	if err != nil {
		return ReceivedPacket{}, err
	}
	data := []byte{}
	if n > 0 {
		data, err = d.readBlock(REG_FIFO, int(n))
		if err != nil {
			return ReceivedPacket{}, err
		}
	}

	// RegPktSnrValue, RegPktRssiValue and RegRssiValue are consecutive
	status, err := d.readBlock(REG_PKT_SNR_VALUE, 3)
	if err != nil {
		return ReceivedPacket{}, err
	}

	f, err := DecodeFrame(data, d.cnf.AddressWidth)
	if err != nil {
		return ReceivedPacket{}, err
	}

	offset := d.rssiOffset()
	snr := float64(int8(status[0])) / 4
	pktRSSI := int(status[1]) - offset
	if snr < 0 {
		pktRSSI += int(snr)
	}
	d.log.WithField("len", n).Debug("sx127x: packet received")
	return ReceivedPacket{
		Payload:     f.Payload,
		Destination: f.Destination,
		Source:      f.Source,
		RSSI:        int(status[2]) - offset,
		PacketRSSI:  pktRSSI,
		SNR:         snr,
		Time:        d.now(),
	}, nil
}
