package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeKnownCaptures(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want []byte
	}{
		{"station 1 five minutes", StartStation(1, 5*time.Minute), []byte{0x31, 0x05, 0x12, 0x01, 0x00, 0x01, 0x2c}},
		{"station 2 five minutes", StartStation(2, 5*time.Minute), []byte{0x31, 0x05, 0x12, 0x02, 0x00, 0x01, 0x2c}},
		{"station 3 ten minutes", StartStation(3, 10*time.Minute), []byte{0x31, 0x05, 0x12, 0x03, 0x00, 0x02, 0x58}},
		{"all stations twelve hours", StartAll(12 * time.Hour), []byte{0x31, 0x05, 0x11, 0x00, 0x00, 0xa8, 0xc0}},
		{"stop", Stop(), []byte{0x31, 0x05, 0x15, 0x00, 0xff, 0x00, 0x00}},
		{"poll status", PollStatus(), []byte{0x31, 0x05, 0xa0, 0x00, 0x01, 0x00, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := Encode(tt.cmd)
			require.NoError(t, err)
			require.Len(t, frames, 2)
			assert.Equal(t, tt.want, frames[0])
			assert.Equal(t, []byte{0x3b, 0x00}, frames[1])
		})
	}
}

func TestEncodeStartStationFullRange(t *testing.T) {
	for station := 1; station <= MaxStation; station++ {
		for secs := 60; secs <= 43200; secs++ {
			frames, err := Encode(StartStation(station, time.Duration(secs)*time.Second))
			if err != nil {
				t.Fatalf("Encode(station=%d, %ds) error = %v", station, secs, err)
			}
			want := []byte{0x31, 0x05, 0x12, byte(station), 0x00, byte(secs >> 8), byte(secs)}
			if string(frames[0]) != string(want) || string(frames[1]) != "\x3b\x00" {
				t.Fatalf("Encode(station=%d, %ds) = %x %x, want %x 3b00", station, secs, frames[0], frames[1], want)
			}
		}
	}
}

func TestEncodeRejectsInvalidDuration(t *testing.T) {
	durations := []time.Duration{0, 59 * time.Second, 59999 * time.Millisecond, 12*time.Hour + time.Second, -time.Minute}
	for _, d := range durations {
		frames, err := Encode(StartStation(1, d))
		assert.ErrorIs(t, err, ErrInvalidDuration, "station duration %s", d)
		assert.Nil(t, frames)

		frames, err = Encode(StartAll(d))
		assert.ErrorIs(t, err, ErrInvalidDuration, "all duration %s", d)
		assert.Nil(t, frames)
	}
}

func TestEncodeRejectsInvalidStation(t *testing.T) {
	for _, station := range []int{-1, 0, 4, 255} {
		frames, err := Encode(StartStation(station, 2*time.Minute))
		assert.ErrorIs(t, err, ErrInvalidStation, "station %d", station)
		assert.Nil(t, frames)
	}
}

func TestEncodeTruncatesSubSecond(t *testing.T) {
	frames, err := Encode(StartAll(90*time.Second + 700*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x5a}, frames[0][5:])
}

func TestEncodeIgnoresDurationForStopAndPoll(t *testing.T) {
	frames, err := Encode(Command{Kind: KindStop, Duration: time.Second})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0x05, 0x15, 0x00, 0xff, 0x00, 0x00}, frames[0])

	frames, err = Encode(Command{Kind: KindPollStatus, Duration: 99 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x31, 0x05, 0xa0, 0x00, 0x01, 0x00, 0x00}, frames[0])
}

func TestEncodeUnknownKind(t *testing.T) {
	_, err := Encode(Command{Kind: Kind(42)})
	assert.Error(t, err)
}

func TestEncodeReturnsFreshCommitFrame(t *testing.T) {
	frames, err := Encode(Stop())
	require.NoError(t, err)
	frames[1][0] = 0xff
	assert.Equal(t, []byte{0x3b, 0x00}, CommitFrame)
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "start_station(station=2, 2m0s)", StartStation(2, 2*time.Minute).String())
	assert.Equal(t, "start_all(1h0m0s)", StartAll(time.Hour).String())
	assert.Equal(t, "stop", Stop().String())
	assert.Equal(t, "poll_status", PollStatus().String())
}
