// Package bus carries framed commands between the host and a haptic device
// bridge. A frame is [id uint16][len uint16][payload], little-endian.
package bus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame IDs
const (
	// Host -> bridge
	ReadEncoders uint16 = 0x0101 // request joint encoder counts
	SetCurrents  uint16 = 0x0110 // motor currents as int16 DAC counts
	ReadStatus   uint16 = 0x0120 // request status word
	ReadButtons  uint16 = 0x0130 // request button bitset
	Calibrate    uint16 = 0x0140 // zero the encoders at the home pose

	// Bridge -> host
	Encoders     uint16 = 0x0102 // int32 counts, one per joint
	StatusReply  uint16 = 0x0121 // uint32 status word
	ButtonsReply uint16 = 0x0131 // uint32 button bitset
	Ack          uint16 = 0x01FF

	// NoReply tells a bridge handler not to answer.
	NoReply uint16 = 0x0000
)

const (
	// HeaderSize is the fixed frame header length.
	HeaderSize = 4
	// MaxPayload bounds a frame body.
	MaxPayload = 1024
)

// Frame errors.
var (
	ErrShortFrame      = errors.New("short frame")
	ErrFrameTooLarge   = errors.New("frame payload too large")
	ErrUnexpectedFrame = errors.New("unexpected frame")
	ErrClosed          = errors.New("bus closed")
	ErrBroken          = errors.New("bus connection broken")
)

// Frame is one bus message.
type Frame struct {
	ID      uint16
	Payload []byte
}

// Size returns the encoded length.
func (f Frame) Size() int {
	return HeaderSize + len(f.Payload)
}

// Encode encodes the frame to bytes.
func (f Frame) Encode() []byte {
	buf := make([]byte, f.Size())
	WriteUint16(buf, 0, f.ID)
	WriteUint16(buf, 2, uint16(len(f.Payload)))
	copy(buf[HeaderSize:], f.Payload)
	return buf
}

// Expect returns ErrUnexpectedFrame unless f carries id.
func (f Frame) Expect(id uint16) error {
	if f.ID != id {
		return fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrUnexpectedFrame, f.ID, id)
	}
	return nil
}

// Decode parses one frame from the front of buf and returns the bytes consumed.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, ErrShortFrame
	}
	n := int(ReadUint16(buf, 2))
	if n > MaxPayload {
		return Frame{}, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	if len(buf) < HeaderSize+n {
		return Frame{}, 0, ErrShortFrame
	}
	f := Frame{ID: ReadUint16(buf, 0)}
	if n > 0 {
		f.Payload = append([]byte(nil), buf[HeaderSize:HeaderSize+n]...)
	}
	return f, HeaderSize + n, nil
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(ReadUint16(hdr[:], 2))
	if n > MaxPayload {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	f := Frame{ID: ReadUint16(hdr[:], 0)}
	if n > 0 {
		f.Payload = make([]byte, n)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, err
		}
	}
	return f, nil
}

// Int32Frame builds a frame whose payload is vals as little-endian int32.
func Int32Frame(id uint16, vals ...int32) Frame {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		WriteUint32(buf, 4*i, uint32(v))
	}
	return Frame{ID: id, Payload: buf}
}

// Int32s decodes a payload of little-endian int32 values.
func (f Frame) Int32s() ([]int32, error) {
	if len(f.Payload)%4 != 0 {
		return nil, fmt.Errorf("%w: %d byte int32 payload", ErrShortFrame, len(f.Payload))
	}
	out := make([]int32, len(f.Payload)/4)
	for i := range out {
		out[i] = int32(ReadUint32(f.Payload, 4*i))
	}
	return out, nil
}

// Int16Frame builds a frame whose payload is vals as little-endian int16.
func Int16Frame(id uint16, vals ...int16) Frame {
	buf := make([]byte, 2*len(vals))
	for i, v := range vals {
		WriteUint16(buf, 2*i, uint16(v))
	}
	return Frame{ID: id, Payload: buf}
}

// Int16s decodes a payload of little-endian int16 values.
func (f Frame) Int16s() ([]int16, error) {
	if len(f.Payload)%2 != 0 {
		return nil, fmt.Errorf("%w: %d byte int16 payload", ErrShortFrame, len(f.Payload))
	}
	out := make([]int16, len(f.Payload)/2)
	for i := range out {
		out[i] = int16(ReadUint16(f.Payload, 2*i))
	}
	return out, nil
}

// Word returns the payload as a single uint32.
func (f Frame) Word() (uint32, error) {
	if len(f.Payload) != 4 {
		return 0, fmt.Errorf("%w: %d byte word payload", ErrShortFrame, len(f.Payload))
	}
	return ReadUint32(f.Payload, 0), nil
}

// WordFrame builds a frame carrying a single uint32.
func WordFrame(id uint16, w uint32) Frame {
	buf := make([]byte, 4)
	WriteUint32(buf, 0, w)
	return Frame{ID: id, Payload: buf}
}

// WriteUint16 writes a uint16 in little-endian format.
func WriteUint16(buf []byte, offset int, v uint16) {
	binary.LittleEndian.PutUint16(buf[offset:], v)
}

// WriteUint32 writes a uint32 in little-endian format.
func WriteUint32(buf []byte, offset int, v uint32) {
	binary.LittleEndian.PutUint32(buf[offset:], v)
}

// ReadUint16 reads a uint16 in little-endian format.
func ReadUint16(buf []byte, offset int) uint16 {
	return binary.LittleEndian.Uint16(buf[offset:])
}

// ReadUint32 reads a uint32 in little-endian format.
func ReadUint32(buf []byte, offset int) uint32 {
	return binary.LittleEndian.Uint32(buf[offset:])
}
