// Package controller runs the relay node's main loop. Each cycle drains
// link events, maintains signal quality, exchanges status with the
// coordination service, drives the link state machine, and publishes the
// freshest decoded sample.
package controller

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/humans-net/oxibridge/internal/arbiter"
	"github.com/humans-net/oxibridge/internal/config"
	"github.com/humans-net/oxibridge/internal/frame"
	"github.com/humans-net/oxibridge/internal/link"
	"github.com/humans-net/oxibridge/internal/quality"
	"github.com/humans-net/oxibridge/internal/telemetry"
)

// LinkManager is the slice of the link manager the controller drives.
type LinkManager interface {
	State() link.State
	Events() <-chan link.Event
	IsConnected() bool
	ConsecutiveFailures() int
	EnsureScanning(ctx context.Context)
	TryConnect(ctx context.Context, allowed bool)
	RefreshRSSI() (quality.Snapshot, bool)
	Teardown(reason string)
	Close()
}

// ArbitrationClient is the coordination-service exchange.
type ArbitrationClient interface {
	Poll(ctx context.Context, nodeID string, rssi int, connected bool) arbiter.Directive
	Apply(d arbiter.Directive)
	Last() arbiter.Directive
}

// Publisher delivers one sample report.
type Publisher interface {
	Publish(ctx context.Context, sample frame.Sample, snap quality.Snapshot, status telemetry.Status) (telemetry.Result, error)
}

// pendingSample is the single-slot outbound buffer. A newer decoded
// sample overwrites an unpublished one; vital signs are only useful
// fresh.
type pendingSample struct {
	sample     frame.Sample
	receivedAt time.Time
}

// stats are the controller's own counters, logged periodically. The
// Prometheus counters carry the same figures for scraping.
type stats struct {
	packetsRelayed     uint64
	framesRejected     uint64
	samplesDropped     uint64
	publishFailures    uint64
	connectionAttempts uint64
	reconnections      uint64
}

// Controller owns the node loop.
type Controller struct {
	logger    *logrus.Logger
	cfg       *config.Config
	link      LinkManager
	arbiter   ArbitrationClient
	publisher Publisher
	metrics   *telemetry.Metrics

	pending       *pendingSample
	lastSnap      quality.Snapshot
	packetCount   uint64
	everConnected bool
	stats         stats

	lastSampleAt    time.Time
	lastRSSIRefresh time.Time
	lastStatusPoll  time.Time
	lastPublish     time.Time
	lastCountersLog time.Time

	now func() time.Time
}

func New(cfg *config.Config, lm LinkManager, ac ArbitrationClient, pub Publisher, metrics *telemetry.Metrics, logger *logrus.Logger) *Controller {
	if logger == nil {
		logger = logrus.New()
	}
	return &Controller{
		logger:    logger,
		cfg:       cfg,
		link:      lm,
		arbiter:   ac,
		publisher: pub,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run drives the loop until the context is cancelled, then tears the
// link down.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.WithFields(logrus.Fields{
		"node_id":       c.cfg.NodeID,
		"poll_interval": c.cfg.PollInterval,
	}).Info("Relay node started")

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.link.Close()
			c.logger.Info("Relay node stopped")
			return ctx.Err()
		case <-ticker.C:
			c.Step(ctx)
		}
	}
}

// Step executes one controller cycle.
func (c *Controller) Step(ctx context.Context) {
	now := c.now()

	c.drainEvents(now)
	c.refreshRSSI(now)
	c.enforceDataTimeout(now)
	directive := c.pollArbitration(ctx, now)

	c.link.EnsureScanning(ctx)
	if c.link.State() == link.StateCandidateFound && directive.ShouldConnect {
		c.stats.connectionAttempts++
		c.metrics.ConnectionAttempts.Inc()
	}
	c.link.TryConnect(ctx, directive.ShouldConnect)

	c.publish(ctx, now)
	c.logCounters(now)
}

// drainEvents consumes everything the link produced since the previous
// cycle without blocking.
func (c *Controller) drainEvents(now time.Time) {
	for {
		select {
		case ev := <-c.link.Events():
			c.handleEvent(ev, now)
		default:
			return
		}
	}
}

func (c *Controller) handleEvent(ev link.Event, now time.Time) {
	switch ev.Kind {
	case link.EventNotification:
		sample, ok := frame.Decode(ev.Frame)
		if !ok {
			c.stats.framesRejected++
			c.metrics.FramesRejected.Inc()
			c.logger.WithField("length", len(ev.Frame)).Debug("Rejected notification frame")
			return
		}
		c.lastSampleAt = now
		if c.pending != nil {
			// Freshness wins over completeness.
			c.stats.samplesDropped++
			c.metrics.SamplesDropped.Inc()
		}
		c.pending = &pendingSample{sample: sample, receivedAt: now}

	case link.EventConnected:
		if c.everConnected {
			c.stats.reconnections++
			c.metrics.Reconnections.Inc()
		}
		c.everConnected = true
		c.lastSampleAt = now

	case link.EventDisconnected:
		c.logger.Info("Link down, will rediscover")

	case link.EventScanMatch:
		c.logger.WithFields(logrus.Fields{
			"address": ev.Candidate.Identity,
			"name":    ev.Candidate.Name,
			"rssi":    ev.Candidate.LastSeenRSSI,
		}).Debug("Candidate queued for connection")
	}
}

func (c *Controller) refreshRSSI(now time.Time) {
	if !c.link.IsConnected() {
		return
	}
	if now.Sub(c.lastRSSIRefresh) < c.cfg.Link.RSSIRefreshInterval {
		return
	}
	c.lastRSSIRefresh = now
	if snap, ok := c.link.RefreshRSSI(); ok {
		c.lastSnap = snap
	}
}

// enforceDataTimeout tears down a link that stopped producing samples.
// A wedged GATT subscription looks exactly like a healthy idle one, so
// silence is the only usable signal.
func (c *Controller) enforceDataTimeout(now time.Time) {
	if !c.link.IsConnected() || c.lastSampleAt.IsZero() {
		return
	}
	if now.Sub(c.lastSampleAt) > c.cfg.Link.DataTimeout {
		c.logger.WithField("timeout", c.cfg.Link.DataTimeout).Warn("No samples within the data timeout")
		c.link.Teardown("data timeout")
	}
}

// pollArbitration reports status on its own cadence and applies any
// release immediately, within the same cycle.
func (c *Controller) pollArbitration(ctx context.Context, now time.Time) arbiter.Directive {
	if now.Sub(c.lastStatusPoll) < c.cfg.Arbitration.StatusCheckInterval {
		return c.arbiter.Last()
	}
	c.lastStatusPoll = now

	d := c.arbiter.Poll(ctx, c.cfg.NodeID, c.lastSnap.SmoothedRSSIDbm, c.link.IsConnected())
	c.applyRelease(d)
	return d
}

func (c *Controller) applyRelease(d arbiter.Directive) {
	if d.ReleaseConnection && c.link.IsConnected() {
		c.metrics.ReleaseDirectives.Inc()
		c.logger.Info("Releasing connection for another node")
		c.link.Teardown("release directive")
	}
}

// publish sends the pending sample on the publish cadence. On success
// the slot clears; on failure the sample survives one interval and is
// then dropped as stale.
func (c *Controller) publish(ctx context.Context, now time.Time) {
	if c.pending == nil || now.Sub(c.lastPublish) < c.cfg.Telemetry.PublishInterval {
		return
	}
	c.lastPublish = now

	status := telemetry.Status{
		NodeID:      c.cfg.NodeID,
		PacketCount: c.packetCount + 1,
		IsConnected: c.link.IsConnected(),
	}
	res, err := c.publisher.Publish(ctx, c.pending.sample, c.lastSnap, status)
	if err != nil {
		c.stats.publishFailures++
		c.logger.WithField("error", err).Warn("Publish failed")
		if now.Sub(c.pending.receivedAt) > c.cfg.Telemetry.PublishInterval {
			c.stats.samplesDropped++
			c.metrics.SamplesDropped.Inc()
			c.pending = nil
		}
		return
	}

	c.packetCount++
	c.stats.packetsRelayed++
	c.metrics.PacketsRelayed.Inc()
	c.pending = nil

	if res.Echo != nil {
		c.arbiter.Apply(*res.Echo)
		c.applyRelease(*res.Echo)
	}
}

func (c *Controller) logCounters(now time.Time) {
	if c.lastCountersLog.IsZero() {
		c.lastCountersLog = now
		return
	}
	if now.Sub(c.lastCountersLog) < c.cfg.CountersInterval {
		return
	}
	c.lastCountersLog = now

	c.logger.WithFields(logrus.Fields{
		"packets_relayed":      c.stats.packetsRelayed,
		"frames_rejected":      c.stats.framesRejected,
		"samples_dropped":      c.stats.samplesDropped,
		"publish_failures":     c.stats.publishFailures,
		"connection_attempts":  c.stats.connectionAttempts,
		"reconnections":        c.stats.reconnections,
		"consecutive_failures": c.link.ConsecutiveFailures(),
		"link_state":           c.link.State().String(),
	}).Info("Node counters")
}
