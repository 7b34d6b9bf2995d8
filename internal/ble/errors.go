package ble

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTransport means the host has no usable BLE adapter.
	ErrUnsupportedTransport = errors.New("ble: bluetooth is not supported on this host")
	// ErrDiscoveryFailed means no compatible band was found or chosen.
	ErrDiscoveryFailed = errors.New("ble: failed to scan for devices")
	// ErrGattUnavailable means the peripheral cannot be reached over GATT.
	ErrGattUnavailable = errors.New("ble: GATT not available on device")
	// ErrConnectFailed means the connection or service negotiation failed.
	ErrConnectFailed = errors.New("ble: failed to connect")
	// ErrAlreadyConnected is returned by Connect while a band is connected.
	ErrAlreadyConnected = errors.New("ble: already connected")
	// ErrNotConnected is returned by sends without an active band.
	ErrNotConnected = errors.New("ble: LinguaVibe band not connected")
	// ErrWriteTimeout means a single write did not complete in time.
	ErrWriteTimeout = errors.New("ble: write timed out")
)

// SendError reports a failed multi-write send and how far it got. Writes
// already delivered are not rolled back.
type SendError struct {
	Op    string // "motor pattern" or "JSON pattern"
	Sent  int    // writes completed before the failure
	Total int
	Err   error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("ble: failed to send %s (%d of %d writes sent): %v", e.Op, e.Sent, e.Total, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// IsRetryable reports whether retrying (re-scan, reconnect, resend) can
// succeed. Only a missing BLE transport is permanent.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrUnsupportedTransport)
}
