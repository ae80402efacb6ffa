// Package session drives command cycles against one connected BLIP device:
// it writes a command and its commit, collects the two notification bursts
// the device answers with, and folds them into the current DeviceStatus.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/chaz8081/blipctl/internal/ble/protocol"
)

// Transport is the slice of the BLE link the controller needs.
// *ble.Link satisfies it.
type Transport interface {
	Write(data []byte, withResponse bool) error
	Subscribe(callback func(data []byte)) error
	OnDisconnect(callback func())
}

// CycleState is the position of the current (or last) command cycle.
type CycleState int

const (
	StateIdle CycleState = iota
	StateAwaitingBurst1
	StateAwaitingBurst2
	StateComplete
	StateFailed
)

func (s CycleState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingBurst1:
		return "awaiting_burst_1"
	case StateAwaitingBurst2:
		return "awaiting_burst_2"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options configures the controller.
type Options struct {
	BurstTimeout      time.Duration // max wait per burst
	BurstSize         int           // notifications per burst
	WriteInterval     time.Duration // minimum spacing between writes
	WriteWithResponse bool
	Observer          Observer
}

// DefaultOptions returns the timings observed to work with BLIP firmware.
func DefaultOptions() Options {
	return Options{
		BurstTimeout:      2 * time.Second,
		BurstSize:         3,
		WriteInterval:     100 * time.Millisecond,
		WriteWithResponse: true,
		Observer:          NopObserver(),
	}
}

type notification struct {
	seq     uint64
	payload []byte
}

// Controller serializes command cycles on one device connection. At most one
// operation is in flight; concurrent callers get ErrSessionBusy.
type Controller struct {
	transport Transport
	opts      Options
	limiter   *rate.Limiter
	notes     chan notification
	closedCh  chan struct{}
	closeOnce sync.Once
	now       func() time.Time

	mu       sync.Mutex
	state    CycleState
	pending  *protocol.Command
	awaiting []protocol.Frame
	deadline time.Time
	seq      uint64
	last     protocol.DeviceStatus
	hasLast  bool
	closed   bool
}

// New subscribes to the transport's notifications and returns a controller
// in StateIdle.
func New(t Transport, opts Options) (*Controller, error) {
	def := DefaultOptions()
	if opts.BurstTimeout <= 0 {
		opts.BurstTimeout = def.BurstTimeout
	}
	if opts.BurstSize <= 0 {
		opts.BurstSize = def.BurstSize
	}
	if opts.WriteInterval < 0 {
		opts.WriteInterval = 0
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver()
	}

	limit := rate.Inf
	if opts.WriteInterval > 0 {
		limit = rate.Every(opts.WriteInterval)
	}

	c := &Controller{
		transport: t,
		opts:      opts,
		limiter:   rate.NewLimiter(limit, 1),
		// Room for both bursts plus stragglers.
		notes:    make(chan notification, 4*opts.BurstSize),
		closedCh: make(chan struct{}),
		now:      time.Now,
	}

	if err := t.Subscribe(c.handleNotification); err != nil {
		return nil, &TransportError{Op: "subscribe", Err: err}
	}
	t.OnDisconnect(c.handleDisconnect)
	return c, nil
}

// StartStation waters one station (1-3) for d, between 1 minute and 12 hours.
func (c *Controller) StartStation(ctx context.Context, station int, d time.Duration) (protocol.DeviceStatus, error) {
	return c.Do(ctx, protocol.StartStation(station, d))
}

// StartAll waters every station for d, between 1 minute and 12 hours.
func (c *Controller) StartAll(ctx context.Context, d time.Duration) (protocol.DeviceStatus, error) {
	return c.Do(ctx, protocol.StartAll(d))
}

// Stop halts watering. Stopping an idle device succeeds.
func (c *Controller) Stop(ctx context.Context) (protocol.DeviceStatus, error) {
	return c.Do(ctx, protocol.Stop())
}

// PollStatus reads the device state without changing it. The protocol has
// no read primitive, so this is a full command cycle like the others.
func (c *Controller) PollStatus(ctx context.Context) (protocol.DeviceStatus, error) {
	return c.Do(ctx, protocol.PollStatus())
}

// LastStatus returns the status of the last successful cycle. It may be
// stale; ok is false until a cycle has completed.
func (c *Controller) LastStatus() (status protocol.DeviceStatus, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last.Clone(), c.hasLast
}

// State returns the current cycle state.
func (c *Controller) State() CycleState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Deadline reports when the burst currently being collected times out.
// ok is false between cycles.
func (c *Controller) Deadline() (deadline time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadline, !c.deadline.IsZero()
}

// Do runs one full command cycle. Validation errors are returned before
// anything is written. Once the command frame is written the commit frame
// is always written too, even if ctx is cancelled in between.
func (c *Controller) Do(ctx context.Context, cmd protocol.Command) (protocol.DeviceStatus, error) {
	frames, err := protocol.Encode(cmd)
	if err != nil {
		return protocol.DeviceStatus{}, err
	}

	seq, err := c.begin(cmd)
	if err != nil {
		return protocol.DeviceStatus{}, err
	}

	start := c.now()
	logger := log.With().Str("cycle", uuid.NewString()).Str("command", cmd.String()).Logger()
	logger.Debug().Msg("[SESSION] cycle started")

	status, err := c.cycle(ctx, seq, frames)
	elapsed := c.now().Sub(start)
	c.opts.Observer.ObserveCycle(cmd.Kind, classify(err), elapsed)

	if err != nil {
		c.finish(protocol.DeviceStatus{}, false)
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("[SESSION] cycle failed")
		return protocol.DeviceStatus{}, fmt.Errorf("%w: %s: %w", ErrCommandFailed, cmd, err)
	}

	status.UpdatedAt = c.now()
	c.finish(status, true)
	c.opts.Observer.ObserveStatus(status.Clone())
	logger.Info().
		Stringer("mode", status.Mode).
		Bool("active", status.Active).
		Dur("remaining", status.TimerRemaining).
		Int("frames", len(status.RawFrames)).
		Dur("elapsed", elapsed).
		Msg("[SESSION] cycle complete")
	return status, nil
}

// begin claims the session for cmd and opens a new collection window.
func (c *Controller) begin(cmd protocol.Command) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, &TransportError{Op: "connection", Err: ErrClosed}
	}
	if c.pending != nil {
		return 0, fmt.Errorf("%w: %s in flight", ErrSessionBusy, c.pending)
	}

	c.pending = &cmd
	c.seq++
	c.awaiting = nil
	c.state = StateAwaitingBurst1
	c.drainLocked()
	return c.seq, nil
}

// finish releases the session. The pending command is always cleared so a
// failed cycle never leaves the controller permanently busy.
func (c *Controller) finish(status protocol.DeviceStatus, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	c.deadline = time.Time{}
	if ok {
		c.last = status.Clone()
		c.hasLast = true
		c.state = StateComplete
	} else {
		c.state = StateFailed
	}
}

func (c *Controller) cycle(ctx context.Context, seq uint64, frames [][]byte) (protocol.DeviceStatus, error) {
	command, commit := frames[0], frames[1]

	if err := c.write(ctx, command); err != nil {
		// Nothing reached the device, so there is no half-sent command.
		return protocol.DeviceStatus{}, err
	}

	burstErr := c.collect(ctx, seq, c.opts.BurstSize)

	c.setState(StateAwaitingBurst2)
	// Never leave a command without its commit.
	if err := c.write(context.WithoutCancel(ctx), commit); err != nil {
		if burstErr != nil {
			log.Warn().Err(err).Msg("[SESSION] commit after aborted burst failed")
			return protocol.DeviceStatus{}, burstErr
		}
		var te *TransportError
		if errors.As(err, &te) {
			te.Op = "commit"
		}
		return protocol.DeviceStatus{}, err
	}
	if burstErr != nil {
		return protocol.DeviceStatus{}, burstErr
	}

	// The window closes only once both bursts are in. A first burst that
	// missed its window arrives here ahead of the post-commit burst.
	if err := c.collect(ctx, seq, 2*c.opts.BurstSize); err != nil {
		return protocol.DeviceStatus{}, err
	}

	c.mu.Lock()
	collected := c.awaiting
	c.mu.Unlock()

	return protocol.Aggregate(collected)
}

func (c *Controller) write(ctx context.Context, data []byte) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := c.transport.Write(data, c.opts.WriteWithResponse); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	log.Debug().Hex("data", data).Msg("[SESSION] wrote frame")
	return nil
}

// collect gathers decoded frames for cycle seq until the cycle holds want
// frames in total. Running out of time is not an error; the aggregator
// decides whether enough arrived.
func (c *Controller) collect(ctx context.Context, seq uint64, want int) error {
	timer := time.NewTimer(c.opts.BurstTimeout)
	defer timer.Stop()

	c.mu.Lock()
	c.deadline = c.now().Add(c.opts.BurstTimeout)
	c.mu.Unlock()

	c.mu.Lock()
	got := len(c.awaiting)
	c.mu.Unlock()

	for got < want {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closedCh:
			return &TransportError{Op: "connection", Err: ErrClosed}
		case <-timer.C:
			log.Debug().Int("frames", got).Msg("[SESSION] burst timed out")
			return nil
		case n := <-c.notes:
			if n.seq != seq {
				c.opts.Observer.ObserveFrame("stray")
				continue
			}
			frame, err := protocol.Decode(n.payload)
			if err != nil {
				c.opts.Observer.ObserveFrame("malformed")
				log.Warn().Err(err).Hex("payload", n.payload).Msg("[SESSION] skipping frame")
				continue
			}
			c.opts.Observer.ObserveFrame("ok")
			log.Debug().Stringer("frame", frame).Msg("[SESSION] frame")

			c.mu.Lock()
			c.awaiting = append(c.awaiting, frame)
			got = len(c.awaiting)
			c.mu.Unlock()
		}
	}
	return nil
}

func (c *Controller) setState(s CycleState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// handleNotification runs on the transport's goroutine and must not block.
func (c *Controller) handleNotification(payload []byte) {
	c.mu.Lock()
	seq := c.seq
	inFlight := c.pending != nil
	c.mu.Unlock()

	if !inFlight {
		c.opts.Observer.ObserveFrame("stray")
		log.Debug().Hex("payload", payload).Msg("[SESSION] notification outside a cycle")
		return
	}

	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case c.notes <- notification{seq: seq, payload: cp}:
	default:
		c.opts.Observer.ObserveFrame("dropped")
		log.Warn().Msg("[SESSION] notification buffer full, dropping frame")
	}
}

func (c *Controller) handleDisconnect() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.closedCh)
		log.Warn().Msg("[SESSION] connection lost")
	})
}

// drainLocked discards notifications left over from earlier cycles.
func (c *Controller) drainLocked() {
	for {
		select {
		case <-c.notes:
		default:
			return
		}
	}
}

// Watch polls the device every interval until ctx is done, passing each
// result to fn. Ticks that collide with another operation are skipped.
// It returns early if the connection drops.
func (c *Controller) Watch(ctx context.Context, interval time.Duration, fn func(protocol.DeviceStatus, error)) error {
	if interval <= 0 {
		return fmt.Errorf("session: watch interval must be > 0, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.PollStatus(ctx)
		switch {
		case errors.Is(err, ErrSessionBusy):
		case errors.Is(err, ErrClosed):
			fn(status, err)
			return err
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		default:
			fn(status, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
