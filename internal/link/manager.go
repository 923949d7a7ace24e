// Package link owns the connection lifecycle to the wearable: the
// scan → connect → bind-characteristics → stream state machine, and the
// event stream the node controller consumes.
package link

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/humans-net/oxibridge/internal/config"
	"github.com/humans-net/oxibridge/internal/groutine"
	"github.com/humans-net/oxibridge/internal/quality"
	"github.com/humans-net/oxibridge/internal/radio"
)

// State of the link state machine. Exactly one instance exists per
// manager; only the manager mutates it.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateCandidateFound
	StateConnecting
	StateStreaming
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateCandidateFound:
		return "CANDIDATE_FOUND"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	case StateCooldown:
		return "COOLDOWN"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// eventRingCapacity bounds the event buffer between radio callbacks and
// the controller. Overflow drops the oldest event.
const eventRingCapacity = 64

// Manager drives one link to one wearable at a time.
//
// All state mutations happen under mu. Radio notification callbacks
// only publish to the event ring and never block or perform I/O, so the
// radio stack's internal task can never stall on this node.
type Manager struct {
	logger    *logrus.Logger
	radio     radio.Radio
	strategy  DiscoveryStrategy
	estimator *quality.Estimator
	cfg       config.LinkConfig
	events    *Ring[Event]

	mu            sync.Mutex
	state         State
	candidate     *Candidate
	conn          radio.Conn
	notifyChar    radio.Characteristic
	seen          *hashmap.Map[string, int]
	scanCancel    context.CancelFunc
	scanSeq       uint64
	gen           uint64 // bumped on every connect and teardown
	lastScanStart time.Time
	cooldownUntil time.Time
	failures      int

	now func() time.Time
}

func NewManager(r radio.Radio, strategy DiscoveryStrategy, estimator *quality.Estimator, cfg config.LinkConfig, logger *logrus.Logger) *Manager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Manager{
		logger:    logger,
		radio:     r,
		strategy:  strategy,
		estimator: estimator,
		cfg:       cfg,
		events:    NewRing[Event](eventRingCapacity),
		seen:      hashmap.New[string, int](),
		now:       time.Now,
	}
}

// State returns the current link state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Events returns the link event stream consumed by the controller.
func (m *Manager) Events() <-chan Event {
	return m.events.C()
}

// ConsecutiveFailures returns the current consecutive connect-failure
// count. Reset on a successful connection.
func (m *Manager) ConsecutiveFailures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures
}

// IsConnected reports whether the link is streaming.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateStreaming && m.conn != nil
}

// EnsureScanning starts a scan window when the manager is idle (or its
// cooldown expired) and the re-scan rate limit allows it. Called on
// every controller cycle; a no-op in all other states.
func (m *Manager) EnsureScanning(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.state == StateCooldown && !now.Before(m.cooldownUntil) {
		m.state = StateIdle
	}
	if m.state != StateIdle {
		return
	}
	if !m.lastScanStart.IsZero() && now.Sub(m.lastScanStart) < m.cfg.RescanInterval {
		return
	}
	m.startScanLocked(ctx)
}

// startScanLocked launches one scan window. Caller holds mu.
func (m *Manager) startScanLocked(ctx context.Context) {
	m.state = StateScanning
	m.lastScanStart = m.now()
	m.seen = hashmap.New[string, int]()

	scanCtx, cancel := context.WithTimeout(ctx, m.cfg.ScanWindow)
	m.scanCancel = cancel
	m.scanSeq++
	seq := m.scanSeq

	m.logger.WithField("strategy", m.strategy.Describe()).Debug("Starting BLE scan...")

	groutine.Go(ctx, "link-scan", func(context.Context) {
		err := m.radio.Scan(scanCtx, true, m.handleAdvertisement)
		cancel()

		m.mu.Lock()
		defer m.mu.Unlock()
		if err != nil {
			m.logger.WithField("error", err).Warn("BLE scan failed")
		}
		if m.scanSeq == seq && m.state == StateScanning {
			// Window elapsed without a match.
			m.logger.WithField("device_count", m.seen.Len()).Debug("Scan window ended without a match")
			m.state = StateIdle
		}
	})
}

// handleAdvertisement runs on the radio's scan goroutine. First match
// wins: scanning stops immediately and the candidate waits for the next
// controller cycle to attempt a connection.
func (m *Manager) handleAdvertisement(adv radio.Advertisement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateScanning {
		return
	}
	m.seen.Set(adv.Addr(), adv.RSSI())
	if !m.strategy.Match(adv) {
		return
	}

	cand := Candidate{
		Identity:     adv.Addr(),
		Name:         adv.LocalName(),
		LastSeenRSSI: adv.RSSI(),
	}
	m.candidate = &cand
	m.state = StateCandidateFound
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}

	m.logger.WithFields(logrus.Fields{
		"address": cand.Identity,
		"name":    cand.Name,
		"rssi":    cand.LastSeenRSSI,
	}).Info("Discovered candidate device")
	m.events.Send(Event{Kind: EventScanMatch, Candidate: cand})
}

// TryConnect consumes the pending candidate. The attempt proceeds only
// when the candidate's RSSI clears the minimum-connect threshold and
// the latest arbitration directive allows connecting; otherwise the
// candidate is discarded and scanning resumes.
func (m *Manager) TryConnect(ctx context.Context, allowed bool) {
	m.mu.Lock()
	if m.state != StateCandidateFound || m.candidate == nil {
		m.mu.Unlock()
		return
	}
	cand := *m.candidate
	m.candidate = nil

	if !allowed || cand.LastSeenRSSI < m.cfg.MinConnectRSSI {
		m.logger.WithFields(logrus.Fields{
			"address": cand.Identity,
			"rssi":    cand.LastSeenRSSI,
			"allowed": allowed,
		}).Info("Discarding candidate, resuming scan")
		m.startScanLocked(ctx)
		m.mu.Unlock()
		return
	}

	m.state = StateConnecting
	m.mu.Unlock()

	conn, notifyChar, err := m.establish(ctx, cand)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.failures++
		m.logger.WithFields(logrus.Fields{
			"address":              cand.Identity,
			"consecutive_failures": m.failures,
			"error":                err,
		}).Warn("Connection attempt failed")
		if conn != nil {
			_ = conn.Close()
		}
		if m.state == StateConnecting {
			m.startScanLocked(ctx)
		}
		return
	}

	if m.state != StateConnecting {
		// Torn down while connecting; release what establish acquired.
		_ = notifyChar.Unsubscribe()
		_ = conn.Close()
		return
	}

	m.conn = conn
	m.notifyChar = notifyChar
	m.failures = 0
	m.estimator.Reset()
	m.state = StateStreaming
	m.gen++
	gen := m.gen

	m.logger.WithFields(logrus.Fields{
		"address": cand.Identity,
		"name":    cand.Name,
	}).Info("Streaming from wearable")
	m.events.Send(Event{Kind: EventConnected})

	groutine.Go(ctx, "link-monitor", func(context.Context) {
		<-conn.Disconnected()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.gen == gen && m.state == StateStreaming {
			m.logger.Warn("Physical link lost")
			m.teardownLocked("link lost")
		}
	})
}

// establish performs the connect sequence: dial, resolve the notify
// characteristic (which must support notifications), subscribe, resolve
// the write characteristic, and send the start-streaming command. Only
// the command write is best-effort; every resolution failure aborts.
func (m *Manager) establish(ctx context.Context, cand Candidate) (radio.Conn, radio.Characteristic, error) {
	conn, err := m.radio.Dial(ctx, cand.Identity, m.cfg.ConnectTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connect: %w", err)
	}

	notifyChar, err := conn.Characteristic(m.cfg.ServiceUUID, m.cfg.NotifyCharUUID)
	if err != nil {
		return conn, nil, fmt.Errorf("resolve notify characteristic: %w", err)
	}
	if !notifyChar.SupportsNotify() {
		return conn, nil, fmt.Errorf("characteristic %s does not support notifications", m.cfg.NotifyCharUUID)
	}
	if err := notifyChar.Subscribe(m.onNotification); err != nil {
		return conn, nil, fmt.Errorf("subscribe: %w", err)
	}

	writeChar, err := conn.Characteristic(m.cfg.ServiceUUID, m.cfg.WriteCharUUID)
	if err != nil {
		return conn, nil, fmt.Errorf("resolve write characteristic: %w", err)
	}
	if err := writeChar.Write([]byte{m.cfg.StartCommand}, false); err != nil {
		m.logger.WithField("error", err).Warn("Failed to send start-streaming command")
	}

	return conn, notifyChar, nil
}

// onNotification runs in the radio stack's callback context. It only
// copies the frame into the event ring; decode and delivery happen on
// the controller's loop.
func (m *Manager) onNotification(data []byte) {
	frame := make([]byte, len(data))
	copy(frame, data)
	m.events.Send(Event{Kind: EventNotification, Frame: frame})
}

// RefreshRSSI reads the link RSSI and feeds the estimator. Only valid
// while streaming. A smoothed value at or below the force-disconnect
// threshold is terminal for the current link.
func (m *Manager) RefreshRSSI() (quality.Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateStreaming || m.conn == nil {
		return quality.Snapshot{}, false
	}
	snap := m.estimator.Update(m.conn.ReadRSSI())
	if snap.SmoothedRSSIDbm <= m.cfg.ForceDisconnectRSSI {
		m.logger.WithFields(logrus.Fields{
			"smoothed_rssi": snap.SmoothedRSSIDbm,
			"threshold":     m.cfg.ForceDisconnectRSSI,
		}).Warn("Smoothed RSSI at or below force-disconnect threshold")
		m.teardownLocked("rssi breach")
	}
	return snap, true
}

// Teardown releases the link. Idempotent: it is triggered from several
// sources (data timeout, RSSI breach, release directive, link loss,
// shutdown) and repeated invocations land in the same terminal state
// without releasing anything twice.
func (m *Manager) Teardown(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(reason)
}

func (m *Manager) teardownLocked(reason string) {
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
	}
	m.candidate = nil

	hadLink := m.conn != nil
	if m.notifyChar != nil {
		if err := m.notifyChar.Unsubscribe(); err != nil {
			m.logger.WithField("error", err).Debug("Unsubscribe during teardown failed")
		}
		m.notifyChar = nil
	}
	if m.conn != nil {
		if err := m.conn.Close(); err != nil {
			m.logger.WithField("error", err).Warn("Link closed with errors")
		}
		m.conn = nil
		m.events.Send(Event{Kind: EventDisconnected})
	}

	m.gen++
	m.state = StateCooldown
	m.cooldownUntil = m.now().Add(m.cfg.RescanInterval)

	if hadLink {
		m.logger.WithField("reason", reason).Info("Link torn down")
	}
}

// Close tears the link down for shutdown.
func (m *Manager) Close() {
	m.Teardown("shutdown")
}
