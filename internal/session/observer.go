package session

import (
	"time"

	"github.com/chaz8081/blipctl/internal/ble/protocol"
)

// Observer receives cycle and frame events, typically for metrics.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	ObserveCycle(kind protocol.Kind, result string, elapsed time.Duration)
	// ObserveFrame is called per notification with "ok", "malformed",
	// "stray" or "dropped".
	ObserveFrame(result string)
	ObserveStatus(status protocol.DeviceStatus)
}

type nopObserver struct{}

func (nopObserver) ObserveCycle(protocol.Kind, string, time.Duration) {}
func (nopObserver) ObserveFrame(string) {}
func (nopObserver) ObserveStatus(protocol.DeviceStatus) {}

// NopObserver returns an Observer that discards everything.
func NopObserver() Observer { return nopObserver{} }
