package session

import (
	"sync"
	"time"

	"github.com/chaz8081/blipctl/internal/ble/protocol"
)

type recordingObserver struct {
	mu       sync.Mutex
	cycles   []string
	frames   map[string]int
	statuses int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{frames: make(map[string]int)}
}

func (o *recordingObserver) ObserveCycle(kind protocol.Kind, result string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cycles = append(o.cycles, kind.String()+"/"+result)
}

func (o *recordingObserver) ObserveFrame(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames[result]++
}

func (o *recordingObserver) ObserveStatus(protocol.DeviceStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses++
}

func (o *recordingObserver) frameCount(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.frames[result]
}

func (o *recordingObserver) cycleResults() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.cycles...)
}

func (o *recordingObserver) statusCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statuses
}
