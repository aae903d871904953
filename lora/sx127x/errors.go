package sx127x

import (
	"errors"
	"fmt"
)

var (
	ErrBusIO          = errors.New("sx127x: bus i/o error")
	ErrLengthExceeded = errors.New("sx127x: payload length exceeded")
	ErrNotInitialised = errors.New("sx127x: device not initialised")
	ErrBusy           = errors.New("sx127x: transmission in progress")
	ErrNotDetected    = errors.New("sx127x: module not found")
	ErrAddressWidth   = errors.New("sx127x: address does not match configured width")
	ErrBadFrequency   = errors.New("sx127x: frequency out of range")
	ErrShortFrame     = errors.New("sx127x: frame shorter than address fields")
	ErrCRC            = errors.New("sx127x: payload crc error")
	ErrModeMismatch   = errors.New("sx127x: operating mode differs from last written")
)

// BusError reports a failed register transfer.
type BusError struct {
	Op   string // "read" or "write"
	Addr uint8
	Err  error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("sx127x: %s register 0x%02x: %v", e.Op, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

func (e *BusError) Is(target error) bool { return target == ErrBusIO }

// LengthError is returned when an encoded frame does not fit RegPayloadLength.
type LengthError struct {
	Length int
	Max    int
}

func (e *LengthError) Error() string {
	return fmt.Sprintf("sx127x: frame of %d bytes exceeds %d", e.Length, e.Max)
}

func (e *LengthError) Is(target error) bool { return target == ErrLengthExceeded }

// ObserverError wraps an error returned (or a panic raised) by an observer.
type ObserverError struct {
	Event string
	Err   error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("sx127x: %s observer: %v", e.Event, e.Err)
}

func (e *ObserverError) Unwrap() error { return e.Err }
