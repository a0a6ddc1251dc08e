// Package protocol implements the binary wire framing used on WebSocket
// connections that opt into binary mode. Each frame is a one-byte type, a
// little-endian uint32 payload length, then the payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// FrameType tags a binary frame.
type FrameType byte

const (
	FrameOutput       FrameType = 0x01
	FrameResize       FrameType = 0x02
	FrameInput        FrameType = 0x03
	FrameWindowSwitch FrameType = 0x04
	FrameStats        FrameType = 0x05
	FramePing         FrameType = 0x06
	FramePong         FrameType = 0x07
)

// HeaderSize is the fixed prefix of every binary frame.
const HeaderSize = 5

// MaxFrameSize bounds a single frame, header included. Oversized frames are
// rejected on both encode and decode.
const MaxFrameSize = 1 << 20

var (
	ErrFrameTooShort    = errors.New("frame shorter than header")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrLengthMismatch   = errors.New("frame length field does not match payload")
	ErrUnknownFrameType = errors.New("unknown frame type")
)

// Valid reports whether t is a known frame type.
func (t FrameType) Valid() bool {
	return t >= FrameOutput && t <= FramePong
}

func (t FrameType) String() string {
	switch t {
	case FrameOutput:
		return "output"
	case FrameResize:
		return "resize"
	case FrameInput:
		return "input"
	case FrameWindowSwitch:
		return "window-switch"
	case FrameStats:
		return "stats"
	case FramePing:
		return "ping"
	case FramePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Encode builds a frame of the given type around payload.
func Encode(t FrameType, payload []byte) ([]byte, error) {
	if !t.Valid() {
		return nil, ErrUnknownFrameType
	}
	if HeaderSize+len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, HeaderSize+len(payload))
	frame[0] = byte(t)
	binary.LittleEndian.PutUint32(frame[1:HeaderSize], uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decode splits a frame into its type and payload. The payload aliases the
// input slice.
func Decode(frame []byte) (FrameType, []byte, error) {
	if len(frame) < HeaderSize {
		return 0, nil, ErrFrameTooShort
	}
	if len(frame) > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	t := FrameType(frame[0])
	if !t.Valid() {
		return 0, nil, ErrUnknownFrameType
	}
	length := binary.LittleEndian.Uint32(frame[1:HeaderSize])
	if int(length) != len(frame)-HeaderSize {
		return t, nil, ErrLengthMismatch
	}
	return t, frame[HeaderSize:], nil
}

// EncodeResize packs cols and rows as two little-endian uint16 values, the
// payload shape of resize frames.
func EncodeResize(cols, rows int) ([]byte, error) {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], uint16(cols))
	binary.LittleEndian.PutUint16(payload[2:4], uint16(rows))
	return Encode(FrameResize, payload)
}

// DecodeResize unpacks a resize payload.
func DecodeResize(payload []byte) (cols, rows int, err error) {
	if len(payload) != 4 {
		return 0, 0, fmt.Errorf("resize payload must be 4 bytes, got %d", len(payload))
	}
	cols = int(binary.LittleEndian.Uint16(payload[0:2]))
	rows = int(binary.LittleEndian.Uint16(payload[2:4]))
	return cols, rows, nil
}
