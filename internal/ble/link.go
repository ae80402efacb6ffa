package ble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrLinkClosed is returned by writes after the link was closed or dropped.
var ErrLinkClosed = errors.New("ble: link closed")

// DialOptions configures connection setup.
type DialOptions struct {
	ConnectTimeout time.Duration // per attempt
	Retries        int           // extra attempts after the first
	MaxBackoff     time.Duration // cap for the exponential retry delay
}

// DefaultDialOptions returns sensible defaults.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		ConnectTimeout: 10 * time.Second,
		Retries:        5,
		MaxBackoff:     30 * time.Second,
	}
}

// Link is a connected BLIP device: the write characteristic for commands and
// the notify characteristic for responses.
type Link struct {
	address string
	conn    Connection
	write   Characteristic
	notify  Characteristic

	mu           sync.Mutex
	closed       bool
	disconnectCb []func()
}

// Dial enables the adapter and connects to address, retrying with capped
// exponential backoff. Retries stop early when ctx is done.
func Dial(ctx context.Context, adapter Adapter, address string, opts DialOptions) (*Link, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, opts.MaxBackoff)
			log.Info().Int("attempt", attempt+1).Dur("delay", delay).Msg("[BLE] connect backoff")
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("ble: dial %s: %w", address, ctx.Err())
			case <-time.After(delay):
			}
		}

		link, err := dialOnce(ctx, adapter, address, opts.ConnectTimeout)
		if err == nil {
			log.Info().Str("address", address).Int("attempt", attempt+1).Msg("[BLE] connected")
			return link, nil
		}
		lastErr = err
		log.Warn().Err(err).Int("attempt", attempt+1).Msg("[BLE] connect failed")

		if ctx.Err() != nil {
			return nil, fmt.Errorf("ble: dial %s: %w", address, ctx.Err())
		}
	}
	return nil, fmt.Errorf("ble: dial %s: giving up after %d attempts: %w", address, opts.Retries+1, lastErr)
}

func dialOnce(ctx context.Context, adapter Adapter, address string, timeout time.Duration) (*Link, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := adapter.Connect(ctx, address)
	if err != nil {
		return nil, err
	}

	link, err := newLink(conn, address)
	if err != nil {
		_ = conn.Disconnect()
		return nil, err
	}
	return link, nil
}

func newLink(conn Connection, address string) (*Link, error) {
	write, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover write characteristic: %w", err)
	}
	notify, err := conn.DiscoverCharacteristic(ServiceUUID, NotifyCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover notify characteristic: %w", err)
	}

	l := &Link{
		address: address,
		conn:    conn,
		write:   write,
		notify:  notify,
	}
	conn.OnDisconnect(l.handleDisconnect)
	return l, nil
}

// Address returns the peripheral address the link was dialed with.
func (l *Link) Address() string { return l.address }

// Write sends data to the write characteristic.
func (l *Link) Write(data []byte, withResponse bool) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrLinkClosed
	}
	if err := l.write.Write(data, withResponse); err != nil {
		return fmt.Errorf("ble: write %x: %w", data, err)
	}
	return nil
}

// Subscribe delivers every notification payload to callback. Payloads arrive
// on the BLE stack's goroutine; callback must not block.
func (l *Link) Subscribe(callback func(data []byte)) error {
	if err := l.notify.Subscribe(callback); err != nil {
		return fmt.Errorf("ble: subscribe: %w", err)
	}
	return nil
}

// OnDisconnect registers a callback run once when the peripheral drops the
// connection. Close does not trigger it.
func (l *Link) OnDisconnect(callback func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnectCb = append(l.disconnectCb, callback)
}

func (l *Link) handleDisconnect() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	cbs := l.disconnectCb
	l.mu.Unlock()

	log.Warn().Str("address", l.address).Msg("[BLE] disconnected")
	for _, cb := range cbs {
		cb()
	}
}

// Close disconnects from the peripheral. Safe to call more than once.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if err := l.conn.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect: %w", err)
	}
	return nil
}

// backoffDelay returns the retry delay for attempt n, capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	// Cap the shift to avoid overflow.
	if attempt > 30 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}
