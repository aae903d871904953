package gateway

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/flynn/json5"
	"github.com/sirupsen/logrus"

	"github.com/lorakit/drivers/lora/sx127x"
)

// Config is the gateway configuration file. It is read as JSON5 so it can
// carry comments and trailing commas.
type Config struct {
	Radio    RadioConfig `json:"radio"`
	MQTT     MQTTConfig  `json:"mqtt"`
	Redis    RedisConfig `json:"redis"`
	LogLevel string      `json:"log_level"`
}

// RadioConfig selects the radio pins and its LoRa settings.
type RadioConfig struct {
	SPI          string `json:"spi"`
	SPIFrequency int64  `json:"spi_hz"`
	Reset        string `json:"reset"`
	DIO0         string `json:"dio0"`

	Frequency uint32 `json:"frequency"`
	PaBoost   bool   `json:"pa_boost"`
	CRC       bool   `json:"crc"`
	// Address is the hex encoded source address of the gateway. Its length
	// sets the address width unless AddressWidth is given.
	Address      string `json:"address"`
	AddressWidth int    `json:"address_width"`

	SpreadingFactor uint8 `json:"spreading_factor"`
	Bandwidth       int32 `json:"bandwidth"`
	CodingRate      uint8 `json:"coding_rate"`
	SyncWord        uint8 `json:"sync_word"`
	TxPower         int8  `json:"tx_power"`
	LnaBoost        bool  `json:"lna_boost"`
}

type MQTTConfig struct {
	Broker   string `json:"broker"`
	ClientID string `json:"client_id"`
	Username string `json:"username"`
	Password string `json:"password"`
	// Topic prefixes every topic the gateway uses.
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// RedisConfig enables the packet store when Addr is set.
type RedisConfig struct {
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	Key        string `json:"key"`
	MaxPackets int64  `json:"max_packets"`
	TTLSeconds int    `json:"ttl_seconds"`
}

func (r RedisConfig) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

var (
	errNoFrequency = errors.New("gateway: radio.frequency is required")
	errNoBroker    = errors.New("gateway: mqtt.broker is required")
)

// LoadConfig reads a JSON5 configuration file and fills in defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("gateway: read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes a JSON5 configuration and fills in defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := json5.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("gateway: json5.Unmarshal: %w", err)
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Radio.SPI == "" {
		c.Radio.SPI = "/dev/spidev0.0"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sx127x-gateway"
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = "lora"
	}
	if c.Redis.Key == "" {
		c.Redis.Key = c.MQTT.Topic
	}
	if c.Redis.MaxPackets == 0 {
		c.Redis.MaxPackets = 1000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func (c *Config) validate() error {
	if c.Radio.Frequency == 0 {
		return errNoFrequency
	}
	if c.MQTT.Broker == "" {
		return errNoBroker
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("gateway: invalid mqtt.qos %d", c.MQTT.QoS)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}
	_, err := c.Radio.Device()
	return err
}

// Device returns the driver configuration.
func (r RadioConfig) Device() (sx127x.Config, error) {
	var addr []byte
	if r.Address != "" {
		var err error
		addr, err = hex.DecodeString(r.Address)
		if err != nil {
			return sx127x.Config{}, fmt.Errorf("gateway: radio.address: %w", err)
		}
	}
	width := r.AddressWidth
	if width == 0 {
		width = len(addr)
	}
	if width < 0 || width > sx127x.MaxAddressWidth || (addr != nil && len(addr) != width) {
		return sx127x.Config{}, fmt.Errorf("gateway: radio.address: %w", sx127x.ErrAddressWidth)
	}
	return sx127x.Config{
		Frequency:       r.Frequency,
		PaBoost:         r.PaBoost,
		RxPayloadCrcOn:  r.CRC,
		AddressWidth:    width,
		Address:         addr,
		SpreadingFactor: r.SpreadingFactor,
		Bandwidth:       r.Bandwidth,
		CodingRate:      r.CodingRate,
		SyncWord:        r.SyncWord,
		TxPower:         r.TxPower,
		LnaBoost:        r.LnaBoost,
	}, nil
}

// Logger returns a text logger on stdout at the configured level.
func (c *Config) Logger() *logrus.Logger {
	log := logrus.New()
	log.Formatter = new(logrus.TextFormatter)
	log.Out = os.Stdout
	log.Level = logrus.InfoLevel
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		log.Level = lvl
	}
	return log
}
