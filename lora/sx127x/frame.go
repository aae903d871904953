package sx127x

// MaxAddressWidth bounds the size of each address field of an addressed frame.
const MaxAddressWidth = 8

// Frame is the content of one LoRa packet as laid out in the FIFO. With an
// address width of zero only Payload is used. Otherwise the packet starts
// with the destination then the source address, each exactly width bytes.
// Addressing is a convention between drivers; the radio does not look at it.
type Frame struct {
	Destination []byte
	Source      []byte
	Payload     []byte
}

// MaxPayload returns the largest payload that fits a frame with the given
// address width.
func MaxPayload(width int) int {
	return MAX_PKT_LENGTH - 2*width
}

// EncodeFrame returns the FIFO image of f.
func EncodeFrame(f Frame, width int) ([]byte, error) {
	if width < 0 || width > MaxAddressWidth {
		return nil, ErrAddressWidth
	}
	if width > 0 && (len(f.Destination) != width || len(f.Source) != width) {
		return nil, ErrAddressWidth
	}
	n := 2*width + len(f.Payload)
	if n > MAX_PKT_LENGTH {
		return nil, &LengthError{Length: n, Max: MAX_PKT_LENGTH}
	}
	buf := make([]byte, 0, n)
	if width > 0 {
		buf = append(buf, f.Destination...)
		buf = append(buf, f.Source...)
	}
	return append(buf, f.Payload...), nil
}

// DecodeFrame splits a FIFO image into its fields. The returned slices do
// not alias b.
func DecodeFrame(b []byte, width int) (Frame, error) {
	if width < 0 || width > MaxAddressWidth {
		return Frame{}, ErrAddressWidth
	}
	if len(b) < 2*width {
		return Frame{}, ErrShortFrame
	}
	var f Frame
	if width > 0 {
		f.Destination = clone(b[:width])
		f.Source = clone(b[width : 2*width])
	}
	f.Payload = clone(b[2*width:])
	return f, nil
}

func clone(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
