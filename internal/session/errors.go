package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/chaz8081/blipctl/internal/ble/protocol"
)

var (
	// ErrSessionBusy is returned when an operation is already in flight on
	// the device. Calls are rejected, never queued.
	ErrSessionBusy = errors.New("session: busy")
	// ErrCommandFailed wraps every failure of an issued command cycle.
	ErrCommandFailed = errors.New("session: command failed")
	// ErrClosed is reported once the connection has dropped.
	ErrClosed = errors.New("session: connection closed")
)

// TransportError is a write or connection failure reported by the BLE
// transport. The controller never retries it.
type TransportError struct {
	Op  string // "write", "commit", "connection"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("session: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Cycle results reported to the Observer.
const (
	ResultOK             = "ok"
	ResultNoStatus       = "no_status"
	ResultTransportError = "transport_error"
	ResultCanceled       = "canceled"
	ResultError          = "error"
)

func classify(err error) string {
	var te *TransportError
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, protocol.ErrNoStatusFrame):
		return ResultNoStatus
	case errors.As(err, &te):
		return ResultTransportError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCanceled
	default:
		return ResultError
	}
}
