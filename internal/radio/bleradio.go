package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates the underlying ble.Device. A variable so tests
// and other platforms can substitute their own stack.
var DeviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}

// BLERadio implements Radio on top of go-ble. The HCI device is opened
// lazily on first use and kept for the life of the process.
type BLERadio struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

func NewBLERadio(logger *logrus.Logger) *BLERadio {
	if logger == nil {
		logger = logrus.New()
	}
	return &BLERadio{logger: logger}
}

func (r *BLERadio) device() (ble.Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return r.dev, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)
	r.dev = dev
	return dev, nil
}

func (r *BLERadio) Scan(ctx context.Context, allowDuplicates bool, h func(Advertisement)) error {
	dev, err := r.device()
	if err != nil {
		return err
	}
	err = dev.Scan(ctx, allowDuplicates, func(a ble.Advertisement) {
		h(bleAdvertisement{a})
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", NormalizeError(err))
	}
	return nil
}

func (r *BLERadio) Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	dev, err := r.device()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	r.logger.WithFields(logrus.Fields{
		"address": addr,
		"timeout": timeout,
	}).Debug("Dialing BLE device...")

	client, err := dev.Dial(dialCtx, ble.NewAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			r.logger.WithField("error", cancelErr).Warn("Failed to cancel connection after profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile of %s: %w", addr, NormalizeError(err))
	}

	conn := &bleConn{
		client: client,
		logger: r.logger,
		chars:  make(map[string]map[string]*ble.Characteristic),
	}
	for _, svc := range profile.Services {
		svcUUID := NormalizeUUID(svc.UUID.String())
		chars, ok := conn.chars[svcUUID]
		if !ok {
			chars = make(map[string]*ble.Characteristic)
			conn.chars[svcUUID] = chars
		}
		for _, char := range svc.Characteristics {
			chars[NormalizeUUID(char.UUID.String())] = char
		}
	}

	r.logger.WithFields(logrus.Fields{
		"address":  addr,
		"services": len(conn.chars),
	}).Info("BLE device connected")
	return conn, nil
}

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a bleAdvertisement) Addr() string      { return a.adv.Addr().String() }
func (a bleAdvertisement) RSSI() int         { return a.adv.RSSI() }
func (a bleAdvertisement) Connectable() bool { return a.adv.Connectable() }

type bleConn struct {
	client ble.Client
	logger *logrus.Logger
	chars  map[string]map[string]*ble.Characteristic

	mu     sync.Mutex
	closed bool
}

func (c *bleConn) Characteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID := NormalizeUUID(serviceUUID)
	chars, ok := c.chars[svcUUID]
	if !ok {
		return nil, &NotFoundError{Resource: "service", UUIDs: []string{serviceUUID}}
	}
	char, ok := chars[NormalizeUUID(charUUID)]
	if !ok {
		return nil, &NotFoundError{Resource: "characteristic", UUIDs: []string{serviceUUID, charUUID}}
	}
	return &bleCharacteristic{conn: c, char: char}, nil
}

func (c *bleConn) ReadRSSI() int {
	return c.client.ReadRSSI()
}

func (c *bleConn) Disconnected() <-chan struct{} {
	return c.client.Disconnected()
}

func (c *bleConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.client.CancelConnection(); err != nil {
		c.logger.WithField("error", err).Warn("BLE connection closed with errors")
		return NormalizeError(err)
	}
	return nil
}

type bleCharacteristic struct {
	conn *bleConn
	char *ble.Characteristic
}

func (ch *bleCharacteristic) UUID() string {
	return NormalizeUUID(ch.char.UUID.String())
}

func (ch *bleCharacteristic) SupportsNotify() bool {
	return ch.char.Property&(ble.CharNotify|ble.CharIndicate) != 0
}

func (ch *bleCharacteristic) Subscribe(fn func(data []byte)) error {
	return NormalizeError(ch.conn.client.Subscribe(ch.char, false, func(data []byte) {
		fn(data)
	}))
}

func (ch *bleCharacteristic) Unsubscribe() error {
	return NormalizeError(ch.conn.client.Unsubscribe(ch.char, false))
}

func (ch *bleCharacteristic) Write(data []byte, withResponse bool) error {
	return NormalizeError(ch.conn.client.WriteCharacteristic(ch.char, data, !withResponse))
}
