// Package comando implements the framed command protocol spoken by the leg
// microcontrollers.
//
// Every frame is a length byte, the payload and a one byte checksum (the sum of
// the payload bytes modulo 256). The first payload byte selects a protocol:
// command frames carry a command id followed by little-endian arguments, text
// frames carry a debug message from the firmware.
package comando

import (
	"errors"
	"fmt"
)

// Protocol ids.
const (
	ProtocolCommand byte = 0
	ProtocolText    byte = 1
)

// MaxPayload is the largest payload a length byte can describe.
const MaxPayload = 255

var (
	ErrMalformed      = errors.New("malformed frame")
	ErrChecksum       = errors.New("frame checksum mismatch")
	ErrUnknownCommand = errors.New("unknown command")
	ErrBadArgs        = errors.New("bad command arguments")
	ErrTimeout        = errors.New("timed out waiting for reply")
)

// Checksum returns the frame checksum of payload.
func Checksum(payload []byte) byte {
	var sum byte
	for _, b := range payload {
		sum += b
	}
	return sum
}

// EncodeFrame wraps payload in a frame.
func EncodeFrame(payload []byte) ([]byte, error) {
	if len(payload) == 0 || len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: payload length %d", ErrMalformed, len(payload))
	}
	out := make([]byte, 0, len(payload)+2)
	out = append(out, byte(len(payload)))
	out = append(out, payload...)
	return append(out, Checksum(payload)), nil
}

// CommandFrame encodes a command frame.
func CommandFrame(id byte, args ...Value) ([]byte, error) {
	payload := append([]byte{ProtocolCommand, id}, EncodeArgs(args...)...)
	return EncodeFrame(payload)
}

// TextFrame encodes a text frame.
func TextFrame(msg string) ([]byte, error) {
	return EncodeFrame(append([]byte{ProtocolText}, msg...))
}

// NextFrame extracts the first complete frame from buf. It returns the payload,
// the number of bytes consumed and an error for a corrupt frame. A zero count
// with no error means buf holds only a partial frame.
func NextFrame(buf []byte) (payload []byte, n int, err error) {
	if len(buf) == 0 {
		return nil, 0, nil
	}
	size := int(buf[0])
	if size == 0 {
		return nil, 1, fmt.Errorf("%w: zero length", ErrMalformed)
	}
	if len(buf) < size+2 {
		return nil, 0, nil
	}
	payload = buf[1 : 1+size]
	if got, want := buf[1+size], Checksum(payload); got != want {
		return nil, size + 2, fmt.Errorf("%w: got %#02x want %#02x", ErrChecksum, got, want)
	}
	return payload, size + 2, nil
}
