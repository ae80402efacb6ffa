package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrMalformedFrame = errors.New("protocol: malformed frame")

// PacketIndex is byte 2 of a notification. The device sends the packets of
// a burst in descending order: first (2), middle (1), final (0).
type PacketIndex uint8

const (
	PacketFinal  PacketIndex = 0x00
	PacketMiddle PacketIndex = 0x01
	PacketFirst  PacketIndex = 0x02
)

func (p PacketIndex) String() string {
	switch p {
	case PacketFinal:
		return "final"
	case PacketMiddle:
		return "middle"
	case PacketFirst:
		return "first"
	default:
		return fmt.Sprintf("packet(0x%02x)", uint8(p))
	}
}

// Offsets observed on BLIP firmware. They were pinned by capturing traffic
// and are not structurally guaranteed; the timer location in particular
// has only been confirmed on one device family.
const (
	minHeaderLen   = 4
	minFirstLen    = 18
	indexOffset    = 2
	subStatusIndex = 3
	timerOffset    = 13
	timerEnd       = timerOffset + 2
)

// Frame is one decoded notification.
type Frame struct {
	Index PacketIndex
	Raw   []byte

	// Set only on recognized first packets.
	SubStatus    uint8
	HasSubStatus bool
	Timer        uint16 // remaining seconds
	HasTimer     bool
}

// IsFirst reports whether f carries a usable sub-status.
func (f Frame) IsFirst() bool {
	return f.Index == PacketFirst && f.HasSubStatus
}

// Mode returns the device mode encoded by the sub-status. ModeUnknown covers
// both frames without a sub-status and unrecognized codes; use SubMode to
// tell them apart.
func (f Frame) Mode() Mode {
	if !f.HasSubStatus {
		return ModeUnknown
	}
	return ModeFromSubStatus(f.SubStatus)
}

// SubMode returns the mode for the frame's sub-status code. ok is false
// when the frame carries no sub-status. An unrecognized code yields
// ModeUnknown with ok true; the code itself is in SubStatus.
func (f Frame) SubMode() (mode Mode, ok bool) {
	if !f.HasSubStatus {
		return ModeUnknown, false
	}
	return ModeFromSubStatus(f.SubStatus), true
}

// Clone returns a copy of f that shares no memory with it.
func (f Frame) Clone() Frame {
	if f.Raw != nil {
		raw := make([]byte, len(f.Raw))
		copy(raw, f.Raw)
		f.Raw = raw
	}
	return f
}

func (f Frame) String() string {
	if !f.IsFirst() {
		return fmt.Sprintf("%s %x", f.Index, f.Raw)
	}
	return fmt.Sprintf("%s sub=0x%02x timer=%d %x", f.Index, f.SubStatus, f.Timer, f.Raw)
}

// Decode parses a raw notification. The protocol carries no checksum, so
// anything at least minHeaderLen bytes long decodes; fields that cannot be
// located are left unset. Only payloads too short to carry a packet index
// fail, with ErrMalformedFrame.
func Decode(payload []byte) (Frame, error) {
	if len(payload) < minHeaderLen {
		return Frame{}, fmt.Errorf("%w: %d bytes (want >= %d)", ErrMalformedFrame, len(payload), minHeaderLen)
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	f := Frame{
		Index: PacketIndex(raw[indexOffset]),
		Raw:   raw,
	}
	if f.Index != PacketFirst || len(raw) < minFirstLen {
		return f, nil
	}

	f.SubStatus = raw[subStatusIndex]
	f.HasSubStatus = true
	if len(raw) >= timerEnd {
		f.Timer = binary.BigEndian.Uint16(raw[timerOffset:timerEnd])
		f.HasTimer = true
	}
	return f, nil
}
