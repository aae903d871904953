package gateway

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/sirupsen/logrus"

	"github.com/lorakit/drivers/lora/sx127x"
)

const sampleConfig = `{
	// RFM95 on a Raspberry Pi
	radio: {
		spi: "SPI0.0",
		reset: "GPIO25",
		dio0: "GPIO24",
		frequency: 868100000,
		pa_boost: true,
		crc: true,
		address: "0a0b",
		spreading_factor: 9,
		lna_boost: true,
	},
	mqtt: {
		broker: "tcp://localhost:1883",
		topic: "farm",
	},
	redis: {
		addr: "localhost:6379",
		ttl_seconds: 3600,
	},
	log_level: "debug",
}
`

func TestLoadConfig(t *testing.T) {
	c := qt.New(t)
	path := filepath.Join(c.TempDir(), "gateway.json5")
	c.Assert(os.WriteFile(path, []byte(sampleConfig), 0o644), qt.IsNil)

	cfg, err := LoadConfig(path)
	c.Assert(err, qt.IsNil)
	c.Check(cfg.Radio.SPI, qt.Equals, "SPI0.0")
	c.Check(cfg.Radio.DIO0, qt.Equals, "GPIO24")
	c.Check(cfg.MQTT.ClientID, qt.Equals, "sx127x-gateway")
	c.Check(cfg.MQTT.Topic, qt.Equals, "farm")
	c.Check(cfg.Redis.Key, qt.Equals, "farm")
	c.Check(cfg.Redis.MaxPackets, qt.Equals, int64(1000))
	c.Check(cfg.Redis.TTL().Hours(), qt.Equals, 1.0)
	c.Check(cfg.Logger().Level, qt.Equals, logrus.DebugLevel)

	dev, err := cfg.Radio.Device()
	c.Assert(err, qt.IsNil)
	c.Check(dev, qt.DeepEquals, sx127x.Config{
		Frequency:       868100000,
		PaBoost:         true,
		RxPayloadCrcOn:  true,
		AddressWidth:    2,
		Address:         []byte{0x0a, 0x0b},
		SpreadingFactor: 9,
		LnaBoost:        true,
	})
}

func TestLoadConfigMissingFile(t *testing.T) {
	c := qt.New(t)
	_, err := LoadConfig(filepath.Join(c.TempDir(), "missing.json5"))
	c.Assert(err, qt.ErrorMatches, "gateway: read config: .*")
}

func TestParseConfigErrors(t *testing.T) {
	c := qt.New(t)
	tests := []struct {
		about  string
		config string
		err    string
	}{{
		about:  "not json5",
		config: `{radio: `,
		err:    "gateway: json5.Unmarshal: .*",
	}, {
		about:  "no frequency",
		config: `{mqtt: {broker: "tcp://localhost:1883"}}`,
		err:    "gateway: radio.frequency is required",
	}, {
		about:  "no broker",
		config: `{radio: {frequency: 915000000}}`,
		err:    "gateway: mqtt.broker is required",
	}, {
		about:  "bad address",
		config: `{radio: {frequency: 915000000, address: "xyz"}, mqtt: {broker: "tcp://b:1883"}}`,
		err:    "gateway: radio.address: .*",
	}, {
		about:  "address wider than configured",
		config: `{radio: {frequency: 915000000, address: "0a0b", address_width: 1}, mqtt: {broker: "tcp://b:1883"}}`,
		err:    "gateway: radio.address: sx127x: address does not match configured width",
	}, {
		about:  "bad log level",
		config: `{radio: {frequency: 915000000}, mqtt: {broker: "tcp://b:1883"}, log_level: "loud"}`,
		err:    `gateway: not a valid logrus Level: "loud"`,
	}, {
		about:  "bad qos",
		config: `{radio: {frequency: 915000000}, mqtt: {broker: "tcp://b:1883", qos: 3}}`,
		err:    "gateway: invalid mqtt.qos 3",
	}}
	for _, test := range tests {
		c.Run(test.about, func(c *qt.C) {
			_, err := ParseConfig([]byte(test.config))
			c.Assert(err, qt.ErrorMatches, test.err)
		})
	}
}

func TestRawRadioConfig(t *testing.T) {
	c := qt.New(t)
	cfg, err := ParseConfig([]byte(`{radio: {frequency: 433000000}, mqtt: {broker: "tcp://b:1883"}}`))
	c.Assert(err, qt.IsNil)
	dev, err := cfg.Radio.Device()
	c.Assert(err, qt.IsNil)
	c.Check(dev.AddressWidth, qt.Equals, 0)
	c.Check(dev.Address, qt.IsNil)
	c.Check(cfg.Logger().Level, qt.Equals, logrus.InfoLevel)
}
