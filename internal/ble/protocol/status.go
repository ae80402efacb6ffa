package protocol

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoStatusFrame = errors.New("protocol: no status frame in response")

// Mode is the irrigation mode derived from a first-packet sub-status.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeIdle
	ModeAllStationsActive
	ModeSingleStationActive
	ModeProgrammedOff
)

// Sub-status codes seen in first packets.
const (
	SubStatusProgrammedOff = 0x02
	SubStatusIdle          = 0x40
	SubStatusAllStations   = 0x41
	SubStatusSingleStation = 0x42
)

func ModeFromSubStatus(code uint8) Mode {
	switch code {
	case SubStatusIdle:
		return ModeIdle
	case SubStatusAllStations:
		return ModeAllStationsActive
	case SubStatusSingleStation:
		return ModeSingleStationActive
	case SubStatusProgrammedOff:
		return ModeProgrammedOff
	default:
		return ModeUnknown
	}
}

// Active reports whether water is flowing in this mode.
func (m Mode) Active() bool {
	return m == ModeAllStationsActive || m == ModeSingleStationActive
}

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeAllStationsActive:
		return "all_stations_active"
	case ModeSingleStationActive:
		return "single_station_active"
	case ModeProgrammedOff:
		return "programmed_off"
	default:
		return "unknown"
	}
}

// DeviceStatus is a snapshot produced by one completed command cycle.
// A new cycle supersedes it; it is never mutated in place.
type DeviceStatus struct {
	Mode           Mode
	SubStatus      uint8 // raw code, meaningful for ModeUnknown
	Active         bool
	TimerRemaining time.Duration
	RawFrames      []Frame
	UpdatedAt      time.Time
}

func (s DeviceStatus) String() string {
	mode := s.Mode.String()
	if s.Mode == ModeUnknown {
		mode = fmt.Sprintf("unknown(0x%02x)", s.SubStatus)
	}
	if !s.Active {
		return mode
	}
	return fmt.Sprintf("%s, %s remaining", mode, s.TimerRemaining)
}

// Clone returns a deep copy of s. Statuses handed to callers are clones so
// a caller cannot rewrite a stored snapshot.
func (s DeviceStatus) Clone() DeviceStatus {
	if s.RawFrames == nil {
		return s
	}
	frames := make([]Frame, len(s.RawFrames))
	for i, f := range s.RawFrames {
		frames[i] = f.Clone()
	}
	s.RawFrames = frames
	return s
}

// Aggregate folds the frames of one command cycle into a DeviceStatus.
// The device answers each command with two bursts (before and after the
// commit write); the last first-packet with a sub-status wins because the
// post-commit burst reflects the applied state.
func Aggregate(frames []Frame) (DeviceStatus, error) {
	last := -1
	for i, f := range frames {
		if f.IsFirst() {
			last = i
		}
	}
	if last < 0 {
		return DeviceStatus{}, fmt.Errorf("%w: %d frames", ErrNoStatusFrame, len(frames))
	}

	f := frames[last]
	mode := ModeFromSubStatus(f.SubStatus)
	var timer time.Duration
	if f.HasTimer {
		timer = time.Duration(f.Timer) * time.Second
	}

	raw := make([]Frame, len(frames))
	copy(raw, frames)

	return DeviceStatus{
		Mode:           mode,
		SubStatus:      f.SubStatus,
		Active:         mode.Active(),
		TimerRemaining: timer,
		RawFrames:      raw,
	}, nil
}
