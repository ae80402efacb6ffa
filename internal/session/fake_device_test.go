package session

import (
	"bytes"
	"encoding/binary"
	"sync"
	"time"

	"github.com/chaz8081/blipctl/internal/ble/protocol"
)

// fakeDevice emulates a BLIP controller behind the Transport interface.
// Every write is answered with a three-packet burst on a separate
// goroutine: the command write reports the current state, the commit write
// applies the staged command and reports the new state.
type fakeDevice struct {
	mu           sync.Mutex
	callback     func([]byte)
	disconnectCb func()
	writes       [][]byte

	subStatus byte
	timer     uint16
	staged    []byte

	silent   bool                            // never answer
	garbage  bool                            // prefix each burst with an undecodable payload
	writeErr func(n int, data []byte) error  // n counts writes from 0
	override func(commit bool) [][]byte      // replaces the modelled burst
	latency  func(commit bool) time.Duration // delay before a burst is sent
	wg       sync.WaitGroup
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{subStatus: protocol.SubStatusIdle}
}

func (d *fakeDevice) Write(data []byte, _ bool) error {
	d.mu.Lock()
	n := len(d.writes)
	if d.writeErr != nil {
		if err := d.writeErr(n, data); err != nil {
			d.mu.Unlock()
			return err
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	d.writes = append(d.writes, cp)

	commit := bytes.Equal(data, protocol.CommitFrame)
	if commit {
		d.applyLocked()
	} else {
		d.staged = cp
	}

	var burst [][]byte
	switch {
	case d.silent:
	case d.override != nil:
		burst = d.override(commit)
	default:
		prefix := byte(0x32)
		if commit {
			prefix = 0x3c
		}
		burst = makeBurst(prefix, d.subStatus, d.timer)
	}
	if d.garbage && burst != nil {
		burst = append([][]byte{{0xff, 0x01}}, burst...)
	}
	cb := d.callback
	var delay time.Duration
	if d.latency != nil {
		delay = d.latency(commit)
	}
	d.mu.Unlock()

	if cb != nil && len(burst) > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			time.Sleep(delay)
			for _, p := range burst {
				cb(p)
			}
		}()
	}
	return nil
}

// applyLocked executes the staged command the way the firmware does.
func (d *fakeDevice) applyLocked() {
	cmd := d.staged
	d.staged = nil
	if len(cmd) != 7 {
		return
	}
	secs := binary.BigEndian.Uint16(cmd[5:])
	switch cmd[2] {
	case 0x12:
		d.subStatus, d.timer = protocol.SubStatusSingleStation, secs
	case 0x11:
		d.subStatus, d.timer = protocol.SubStatusAllStations, secs
	case 0x15:
		d.subStatus, d.timer = protocol.SubStatusIdle, 0
	}
}

func (d *fakeDevice) Subscribe(cb func([]byte)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
	return nil
}

func (d *fakeDevice) OnDisconnect(cb func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnectCb = cb
}

// notify pushes a payload as if the device had sent it.
func (d *fakeDevice) notify(payload []byte) {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()
	cb(payload)
}

func (d *fakeDevice) simulateDisconnect() {
	d.mu.Lock()
	cb := d.disconnectCb
	d.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (d *fakeDevice) writeLog() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([][]byte, len(d.writes))
	copy(out, d.writes)
	return out
}

func (d *fakeDevice) state() (byte, uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.subStatus, d.timer
}

func (d *fakeDevice) setState(sub byte, timer uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subStatus, d.timer = sub, timer
}

func firstPacket(prefix, sub byte, timer uint16) []byte {
	p := make([]byte, 18)
	p[0], p[1], p[2], p[3] = prefix, 0x10, 0x02, sub
	binary.BigEndian.PutUint16(p[13:], timer)
	return p
}

func makeBurst(prefix, sub byte, timer uint16) [][]byte {
	middle := make([]byte, 18)
	middle[0], middle[1], middle[2] = prefix, 0x10, 0x01
	final := make([]byte, 18)
	final[0], final[1], final[2] = prefix, 0x10, 0x00
	return [][]byte{firstPacket(prefix, sub, timer), middle, final}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.BurstTimeout = 200 * time.Millisecond
	opts.WriteInterval = 0
	return opts
}
