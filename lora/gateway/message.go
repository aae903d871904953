package gateway

import (
	"encoding/hex"
	"time"

	"github.com/lorakit/drivers/lora/sx127x"
)

// Packet is the JSON form of a received packet, published on <topic>/rx and
// kept by the Store. Payload is base64 encoded, addresses are hex.
type Packet struct {
	Payload     []byte    `json:"payload"`
	Destination string    `json:"destination,omitempty"`
	Source      string    `json:"source,omitempty"`
	RSSI        int       `json:"rssi"`
	PacketRSSI  int       `json:"packet_rssi"`
	SNR         float64   `json:"snr"`
	Time        time.Time `json:"time"`
}

func newPacket(p sx127x.ReceivedPacket) Packet {
	return Packet{
		Payload:     p.Payload,
		Destination: hex.EncodeToString(p.Destination),
		Source:      hex.EncodeToString(p.Source),
		RSSI:        p.RSSI,
		PacketRSSI:  p.PacketRSSI,
		SNR:         p.SNR,
		Time:        p.Time,
	}
}

// Command asks the gateway to transmit. Without To the packet is sent raw.
// Text is used when Payload is empty.
type Command struct {
	To      string `json:"to,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (c Command) payload() []byte {
	if len(c.Payload) > 0 {
		return c.Payload
	}
	return []byte(c.Text)
}

// TxDone is published on <topic>/txdone.
type TxDone struct {
	Time time.Time `json:"time"`
}

// ErrorMessage is published on <topic>/error.
type ErrorMessage struct {
	Error string    `json:"error"`
	Time  time.Time `json:"time"`
}
