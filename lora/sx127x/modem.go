package sx127x

// configureModem applies the optional modem settings of cfg. d.mu must be held.
func (d *Device) configureModem(cfg Config) error {
	if cfg.Bandwidth != 0 {
		if err := d.setBandwidth(cfg.Bandwidth); err != nil {
			return err
		}
	}
	if cfg.CodingRate != 0 {
		if err := d.setCodingRate(cfg.CodingRate); err != nil {
			return err
		}
	}
	if cfg.SpreadingFactor != 0 {
		if err := d.setSpreadingFactor(cfg.SpreadingFactor); err != nil {
			return err
		}
	}
	if cfg.SpreadingFactor != 0 || cfg.Bandwidth != 0 {
		if err := d.setLdoFlag(); err != nil {
			return err
		}
	}
	if cfg.SyncWord != 0 {
		if err := d.writeRegister(REG_SYNC_WORD, cfg.SyncWord); err != nil {
			return err
		}
	}
	return nil
}

// ---------------
// RegModemConfig1
// ---------------

var bandwidths = [...]int32{7800, 10400, 15600, 20800, 31250, 41700, 62500, 125000, 250000, 500000}

// bandwidthReg returns the smallest bandwidth setting not below sbw.
func bandwidthReg(sbw int32) uint8 {
	for i, bw := range bandwidths {
		if sbw <= bw {
			return uint8(i)
		}
	}
	return uint8(len(bandwidths) - 1)
}

// setBandwidth updates the bandwidth the LoRa module is using
func (d *Device) setBandwidth(sbw int32) error {
	return d.writeMasked(REG_MODEM_CONFIG_1, 0xf0, bandwidthReg(sbw)<<4)
}

// setCodingRate updates the coding rate denominator (4/5 to 4/8).
func (d *Device) setCodingRate(denominator uint8) error {
	if denominator < 5 {
		denominator = 5
	} else if denominator > 8 {
		denominator = 8
	}
	cr := denominator - 4
	return d.writeMasked(REG_MODEM_CONFIG_1, 0x0e, cr<<1)
}

// ---------------
// RegModemConfig2
// ---------------

// setSpreadingFactor updates the spreading factor the LoRa module is using
func (d *Device) setSpreadingFactor(spreadingFactor uint8) error {
	if spreadingFactor < 6 {
		spreadingFactor = 6
	} else if spreadingFactor > 12 {
		spreadingFactor = 12
	}

	optimize, threshold := uint8(0xc3), uint8(0x0a)
	if spreadingFactor == 6 {
		optimize, threshold = 0xc5, 0x0c
	}
	if err := d.writeRegister(REG_DETECTION_OPTIMIZE, optimize); err != nil {
		return err
	}
	if err := d.writeRegister(REG_DETECTION_THRESHOLD, threshold); err != nil {
		return err
	}
	return d.writeMasked(REG_MODEM_CONFIG_2, 0xf0, spreadingFactor<<4)
}

// ---------------
// RegModemConfig3
// ---------------

// setLdoFlag enables LowDataRateOptimize when a symbol lasts more than 16ms
// with the programmed bandwidth and spreading factor.
func (d *Device) setLdoFlag() error {
	// Section 4.1.1.5
	cfg1, err := d.readRegister(REG_MODEM_CONFIG_1)
	if err != nil {
		return err
	}
	cfg2, err := d.readRegister(REG_MODEM_CONFIG_2)
	if err != nil {
		return err
	}
	bw := bandwidths[len(bandwidths)-1]
	if i := int(cfg1 >> 4); i < len(bandwidths) {
		bw = bandwidths[i]
	}
	symbolDuration := 1000 * (int32(1) << (cfg2 >> 4)) / bw

	// Section 4.1.1.6
	var ldo uint8
	if symbolDuration > 16 {
		ldo = MODEM_CONFIG_3_LDO_ON
	}
	return d.writeMasked(REG_MODEM_CONFIG_3, MODEM_CONFIG_3_LDO_ON, ldo)
}

// ---------------
// Power amplifier
// ---------------

// setTxPower sets the transmitter output power in dBm on the selected output.
func (d *Device) setTxPower(txPower int8, paBoost bool) error {
	if !paBoost {
		// RFO
		if txPower < 0 {
			txPower = 0
		} else if txPower > 14 {
			txPower = 14
		}
		return d.writeRegister(REG_PA_CONFIG, uint8(0x70)|uint8(txPower))
	}

	//PA_BOOST
	if txPower > 17 {
		if txPower > 20 {
			txPower = 20
		}
		txPower -= 3
		// High Power +20 dBm Operation (Semtech SX1276/77/78/79 5.4.3.)
		if err := d.writeRegister(REG_PA_DAC, 0x87); err != nil {
			return err
		}
		if err := d.setOCP(140); err != nil {
			return err
		}
	} else {
		if txPower < 2 {
			txPower = 2
		}
		if err := d.writeRegister(REG_PA_DAC, 0x84); err != nil {
			return err
		}
		if err := d.setOCP(100); err != nil {
			return err
		}
	}
	return d.writeRegister(REG_PA_CONFIG, uint8(PA_BOOST)|uint8(txPower-2))
}

// ocpTrim returns the OcpTrim field for a current limit in mA.
func ocpTrim(mA uint8) uint8 {
	if mA < 45 {
		mA = 45
	}
	switch {
	case mA <= 120:
		return (mA - 45) / 5
	case mA <= 240:
		return uint8((uint16(mA) + 30) / 10)
	}
	return 27
}

// setOCP defines Overload Current Protection configuration
func (d *Device) setOCP(mA uint8) error {
	return d.writeRegister(REG_OCP, 0x20|(0x1f&ocpTrim(mA)))
}
