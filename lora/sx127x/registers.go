package sx127x

const (
	// registers
	REG_FIFO                 = 0x00
	REG_OP_MODE              = 0x01
	REG_FRF_MSB              = 0x06
	REG_FRF_LSB              = 0x08
	REG_PA_CONFIG            = 0x09
	REG_OCP                  = 0x0b
	REG_LNA                  = 0x0c
	REG_FIFO_ADDR_PTR        = 0x0d
	REG_FIFO_TX_BASE_ADDR    = 0x0e
	REG_FIFO_RX_BASE_ADDR    = 0x0f
	REG_FIFO_RX_CURRENT_ADDR = 0x10
	REG_IRQ_FLAGS_MASK       = 0x11
	REG_IRQ_FLAGS            = 0x12
	REG_RX_NB_BYTES          = 0x13
	REG_PKT_SNR_VALUE        = 0x19
	REG_PKT_RSSI_VALUE       = 0x1a
	REG_RSSI_VALUE           = 0x1b
	REG_MODEM_CONFIG_1       = 0x1d
	REG_MODEM_CONFIG_2       = 0x1e
	REG_PREAMBLE_MSB         = 0x20
	REG_PREAMBLE_LSB         = 0x21
	REG_PAYLOAD_LENGTH       = 0x22
	REG_MODEM_CONFIG_3       = 0x26
	REG_DETECTION_OPTIMIZE   = 0x31
	REG_DETECTION_THRESHOLD  = 0x37
	REG_SYNC_WORD            = 0x39
	REG_DIO_MAPPING_1        = 0x40
	REG_VERSION              = 0x42
	REG_PA_DAC               = 0x4d

	// SPI address byte
	REG_READ_MASK  = uint8(0x7f)
	REG_WRITE_FLAG = uint8(0x80)

	// Constants for radio registers
	OPMODE_LORA = uint8(0x80)
	OPMODE_MASK = uint8(0x07)

	// PA config
	PA_BOOST          = 0x80
	PA_CONFIG_DEFAULT = 0x4f

	// RegModemConfig2
	MODEM_CONFIG_2_CRC_ON = uint8(0x04)

	// RegLna
	LNA_BOOST_HF = uint8(0x03)

	// RegModemConfig3
	MODEM_CONFIG_3_LDO_ON = uint8(0x08)

	// DIO0 mappings (RegDioMapping1 bits 7-6)
	DIO0_RX_DONE = uint8(0x00)
	DIO0_TX_DONE = uint8(0x40)

	// IRQ masks
	IRQ_TX_DONE_MASK           = uint8(0x08)
	IRQ_VALID_HEADER_MASK      = uint8(0x10)
	IRQ_PAYLOAD_CRC_ERROR_MASK = uint8(0x20)
	IRQ_RX_DONE_MASK           = uint8(0x40)
	IRQ_ALL                    = uint8(0xff)

	// FIFO layout: RX and TX never overlap in time so both use the whole buffer.
	FIFO_SIZE    = 256
	FIFO_TX_BASE = uint8(0x00)
	FIFO_RX_BASE = uint8(0x00)

	MAX_PKT_LENGTH = 255

	EXPECTED_VERSION = uint8(0x12)

	// Crystal oscillator frequency and frequency synthesizer resolution.
	FXOSC = 32000000
	FSTEP = float64(FXOSC) / (1 << 19)

	// Below this the RF front-end uses the low frequency port (bands 3 and 2),
	// which shifts the RSSI offset.
	LOW_FREQUENCY_LIMIT = 525000000

	RSSI_OFFSET_HF = 157
	RSSI_OFFSET_LF = 164
)

// OpMode is the operating mode code held in the low 3 bits of RegOpMode.
type OpMode uint8

const (
	OpSleep OpMode = iota
	OpStandby
	OpFSTx
	OpTx
	OpFSRx
	OpRxContinuous
	OpRxSingle
	OpCAD
)

func (m OpMode) String() string {
	switch m {
	case OpSleep:
		return "sleep"
	case OpStandby:
		return "standby"
	case OpFSTx:
		return "fstx"
	case OpTx:
		return "tx"
	case OpFSRx:
		return "fsrx"
	case OpRxContinuous:
		return "rx-continuous"
	case OpRxSingle:
		return "rx-single"
	case OpCAD:
		return "cad"
	}
	return "unknown"
}

// register returns the RegOpMode value selecting LoRa mode and m.
func (m OpMode) register() uint8 {
	return OPMODE_LORA | (uint8(m) & OPMODE_MASK)
}

// IRQFlags is the content of RegIrqFlags.
type IRQFlags uint8

func (f IRQFlags) RxDone() bool   { return uint8(f)&IRQ_RX_DONE_MASK != 0 }
func (f IRQFlags) TxDone() bool   { return uint8(f)&IRQ_TX_DONE_MASK != 0 }
func (f IRQFlags) CRCError() bool { return uint8(f)&IRQ_PAYLOAD_CRC_ERROR_MASK != 0 }

var irqNames = [8]string{
	"CadDetected",
	"FhssChangeChannel",
	"CadDone",
	"TxDone",
	"ValidHeader",
	"PayloadCrcError",
	"RxDone",
	"RxTimeout",
}

func (f IRQFlags) String() string {
	if f == 0 {
		return "[]"
	}
	s := "["
	for i := uint(0); i < 8; i++ {
		if uint8(f)&(1<<i) == 0 {
			continue
		}
		if len(s) > 1 {
			s += ","
		}
		s += irqNames[i]
	}
	return s + "]"
}
