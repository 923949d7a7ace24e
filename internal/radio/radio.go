// Package radio abstracts the short-range radio stack behind small
// interfaces so the link state machine can be exercised without BLE
// hardware. The production implementation wraps go-ble.
package radio

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Operation errors.
var (
	ErrNotConnected = errors.New("not connected")
	ErrTimeout      = errors.New("timeout")
)

// NotFoundError reports a missing GATT resource during resolution.
type NotFoundError struct {
	Resource string   // "service" or "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[1], e.UUIDs[0])
	}
}

// Advertisement is one received advertisement during a scan.
type Advertisement interface {
	LocalName() string
	Addr() string
	RSSI() int
	Connectable() bool
}

// Characteristic is a resolved GATT characteristic on a live connection.
type Characteristic interface {
	UUID() string
	SupportsNotify() bool
	Subscribe(fn func(data []byte)) error
	Unsubscribe() error
	Write(data []byte, withResponse bool) error
}

// Conn is one live connection to a peripheral.
type Conn interface {
	// Characteristic resolves a characteristic inside a service.
	// Returns a NotFoundError when either UUID is unknown.
	Characteristic(serviceUUID, charUUID string) (Characteristic, error)

	// ReadRSSI reads the current signal strength of the connection.
	ReadRSSI() int

	// Disconnected is closed when the physical link is lost.
	Disconnected() <-chan struct{}

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Radio is the scanning and dialing surface of the radio stack.
type Radio interface {
	// Scan delivers advertisements to h until ctx is done. A scan ended
	// by ctx cancellation or deadline is not an error.
	Scan(ctx context.Context, allowDuplicates bool, h func(Advertisement)) error

	// Dial connects to the peripheral at addr, bounded by timeout, and
	// discovers its GATT profile.
	Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error)
}

// NormalizeUUID brings a UUID into canonical comparison form
// (lowercase, no dashes), matching what the BLE stack reports.
func NormalizeUUID(uuid string) string {
	return strings.ReplaceAll(strings.ToLower(uuid), "-", "")
}

// NormalizeError maps known BLE stack error strings onto the package
// sentinels so callers can use errors.Is regardless of upstream wording.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	default:
		return err
	}
}
