package link

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/humans-net/oxibridge/internal/radio"
)

// fakeAdvertisement is a scripted advertisement.
type fakeAdvertisement struct {
	name string
	addr string
	rssi int
}

func (a fakeAdvertisement) LocalName() string { return a.name }
func (a fakeAdvertisement) Addr() string      { return a.addr }
func (a fakeAdvertisement) RSSI() int         { return a.rssi }
func (a fakeAdvertisement) Connectable() bool { return true }

// fakeRadio delivers scripted advertisements to each scan and hands out
// the configured connection on dial.
type fakeRadio struct {
	mu             sync.Mutex
	advertisements []radio.Advertisement
	conn           *fakeConn
	dialErr        error
	dialCount      int
	scanCount      int
}

func (r *fakeRadio) Scan(ctx context.Context, _ bool, h func(radio.Advertisement)) error {
	r.mu.Lock()
	advs := append([]radio.Advertisement(nil), r.advertisements...)
	r.scanCount++
	r.mu.Unlock()

	for _, adv := range advs {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		h(adv)
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRadio) Dial(_ context.Context, addr string, _ time.Duration) (radio.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialCount++
	if r.dialErr != nil {
		return nil, r.dialErr
	}
	if r.conn == nil {
		return nil, errors.New("no connection scripted for " + addr)
	}
	return r.conn, nil
}

func (r *fakeRadio) dials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dialCount
}

func (r *fakeRadio) scans() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scanCount
}

// fakeConn is a scripted connection tracking resource lifecycle.
type fakeConn struct {
	mu           sync.Mutex
	chars        map[string]*fakeCharacteristic // key: service|char
	rssi         int
	closeCount   int
	disconnected chan struct{}
	closeOnce    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		chars:        make(map[string]*fakeCharacteristic),
		rssi:         -60,
		disconnected: make(chan struct{}),
	}
}

func (c *fakeConn) addChar(service, uuid string, ch *fakeCharacteristic) {
	ch.uuid = uuid
	c.chars[radio.NormalizeUUID(service)+"|"+radio.NormalizeUUID(uuid)] = ch
}

func (c *fakeConn) Characteristic(service, uuid string) (radio.Characteristic, error) {
	ch, ok := c.chars[radio.NormalizeUUID(service)+"|"+radio.NormalizeUUID(uuid)]
	if !ok {
		return nil, &radio.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return ch, nil
}

func (c *fakeConn) ReadRSSI() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rssi
}

func (c *fakeConn) setRSSI(v int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rssi = v
}

func (c *fakeConn) Disconnected() <-chan struct{} {
	return c.disconnected
}

func (c *fakeConn) dropLink() {
	c.closeOnce.Do(func() { close(c.disconnected) })
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	c.dropLink()
	return nil
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}

type fakeCharacteristic struct {
	uuid         string
	notify       bool
	subscribeErr error

	mu            sync.Mutex
	handler       func([]byte)
	writes        [][]byte
	unsubscribes  int
	subscriptions int
}

func (ch *fakeCharacteristic) UUID() string         { return ch.uuid }
func (ch *fakeCharacteristic) SupportsNotify() bool { return ch.notify }

func (ch *fakeCharacteristic) Subscribe(fn func([]byte)) error {
	if ch.subscribeErr != nil {
		return ch.subscribeErr
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handler = fn
	ch.subscriptions++
	return nil
}

func (ch *fakeCharacteristic) Unsubscribe() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.handler = nil
	ch.unsubscribes++
	return nil
}

func (ch *fakeCharacteristic) Write(data []byte, _ bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	ch.writes = append(ch.writes, cp)
	return nil
}

func (ch *fakeCharacteristic) notifyData(data []byte) {
	ch.mu.Lock()
	fn := ch.handler
	ch.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

func (ch *fakeCharacteristic) writtenCommands() [][]byte {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([][]byte(nil), ch.writes...)
}

func (ch *fakeCharacteristic) unsubscribeCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.unsubscribes
}
