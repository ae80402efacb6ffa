// Package protocol implements the BLIP irrigation controller wire format:
// command encoding, notification decoding, and burst aggregation into a
// DeviceStatus. It performs no I/O.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidStation  = errors.New("protocol: invalid station")
	ErrInvalidDuration = errors.New("protocol: invalid duration")
)

// Duration limits accepted by the start commands.
const (
	MinDuration = 60 * time.Second
	MaxDuration = 12 * time.Hour
)

// Stations are numbered 1..MaxStation.
const MaxStation = 3

// Kind identifies a confirmed command.
type Kind uint8

const (
	KindStartStation Kind = iota + 1
	KindStartAll
	KindStop
	KindPollStatus
)

func (k Kind) String() string {
	switch k {
	case KindStartStation:
		return "start_station"
	case KindStartAll:
		return "start_all"
	case KindStop:
		return "stop"
	case KindPollStatus:
		return "poll_status"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Command is an immutable request for the controller. Build one with
// StartStation, StartAll, Stop or PollStatus.
type Command struct {
	Kind     Kind
	Station  int           // 1..3, StartStation only
	Duration time.Duration // StartStation and StartAll only
}

func StartStation(station int, d time.Duration) Command {
	return Command{Kind: KindStartStation, Station: station, Duration: d}
}

func StartAll(d time.Duration) Command {
	return Command{Kind: KindStartAll, Duration: d}
}

func Stop() Command { return Command{Kind: KindStop} }

func PollStatus() Command { return Command{Kind: KindPollStatus} }

func (c Command) String() string {
	switch c.Kind {
	case KindStartStation:
		return fmt.Sprintf("%s(station=%d, %s)", c.Kind, c.Station, c.Duration)
	case KindStartAll:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Duration)
	default:
		return c.Kind.String()
	}
}

// Wire constants. Every command is a 7-byte frame: header, opcode, two
// argument bytes, then a big-endian 16-bit duration in seconds.
const (
	headerHi = 0x31
	headerLo = 0x05

	opStartAll     = 0x11
	opStartStation = 0x12
	opStop         = 0x15
	opPollStatus   = 0xA0

	commandLen = 7
)

// CommitFrame must follow every command for the device to apply it.
var CommitFrame = []byte{0x3B, 0x00}

// Validate checks station and duration bounds for start commands.
func (c Command) Validate() error {
	switch c.Kind {
	case KindStartStation:
		if c.Station < 1 || c.Station > MaxStation {
			return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidStation, c.Station, MaxStation)
		}
		return validateDuration(c.Duration)
	case KindStartAll:
		return validateDuration(c.Duration)
	case KindStop, KindPollStatus:
		return nil
	default:
		return fmt.Errorf("protocol: unknown command kind %d", c.Kind)
	}
}

func validateDuration(d time.Duration) error {
	d = d.Truncate(time.Second)
	if d < MinDuration || d > MaxDuration {
		return fmt.Errorf("%w: %s (want %s-%s)", ErrInvalidDuration, d, MinDuration, MaxDuration)
	}
	return nil
}

// Encode returns the frames to write for c, in order: the command frame
// followed by CommitFrame. Nothing is returned if validation fails.
func Encode(c Command) ([][]byte, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	buf := make([]byte, commandLen)
	buf[0], buf[1] = headerHi, headerLo

	switch c.Kind {
	case KindStartStation:
		buf[2] = opStartStation
		buf[3] = byte(c.Station)
		buf[4] = 0x00
		binary.BigEndian.PutUint16(buf[5:], seconds(c.Duration))
	case KindStartAll:
		buf[2] = opStartAll
		binary.BigEndian.PutUint16(buf[5:], seconds(c.Duration))
	case KindStop:
		buf[2] = opStop
		buf[4] = 0xFF
	case KindPollStatus:
		buf[2] = opPollStatus
		buf[4] = 0x01
	}

	commit := make([]byte, len(CommitFrame))
	copy(commit, CommitFrame)
	return [][]byte{buf, commit}, nil
}

// seconds converts a validated duration; 12h (43200) fits in 16 bits.
func seconds(d time.Duration) uint16 {
	return uint16(d / time.Second)
}
