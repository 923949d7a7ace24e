// Package telemetry pushes decoded vital signs to the HTTP ingest
// endpoint and exposes the node's Prometheus counters.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/humans-net/oxibridge/internal/arbiter"
	"github.com/humans-net/oxibridge/internal/config"
	"github.com/humans-net/oxibridge/internal/frame"
	"github.com/humans-net/oxibridge/internal/quality"
)

// Status carries the node-level fields attached to every report.
type Status struct {
	NodeID      string
	PacketCount uint64
	IsConnected bool
}

// Result of a successful publish. The ingest endpoint may piggyback an
// arbitration directive on its acknowledgement.
type Result struct {
	Echo *arbiter.Directive
}

// report is the ingest endpoint's wire format.
type report struct {
	Device        string  `json:"device"`
	SpO2          int     `json:"spo2"`
	HeartRate     int     `json:"hr"`
	RSSI          int     `json:"rssi"`
	AvgRSSI       int     `json:"avg_rssi"`
	Distance      float64 `json:"distance"`
	SignalQuality string  `json:"signal_quality"`
	PacketCount   uint64  `json:"packet_count"`
	IsConnected   bool    `json:"is_connected"`
	SignalTrend   string  `json:"signal_trend"`
}

// Publisher delivers one report per call, retrying transient failures
// up to the configured attempt budget.
type Publisher struct {
	logger  *logrus.Logger
	cfg     config.TelemetryConfig
	metrics *Metrics
	http    *http.Client

	sleep func(time.Duration)
}

func NewPublisher(cfg config.TelemetryConfig, metrics *Metrics, logger *logrus.Logger) *Publisher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Publisher{
		logger:  logger,
		cfg:     cfg,
		metrics: metrics,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		sleep:   time.Sleep,
	}
}

// Publish sends one sample. It returns an error only after all
// attempts are spent; the caller decides whether the sample is worth
// keeping for the next cycle.
func (p *Publisher) Publish(ctx context.Context, sample frame.Sample, snap quality.Snapshot, status Status) (Result, error) {
	body, err := json.Marshal(report{
		Device:        status.NodeID,
		SpO2:          sample.SpO2Percent,
		HeartRate:     sample.HeartRateBPM,
		RSSI:          snap.RawRSSIDbm,
		AvgRSSI:       snap.SmoothedRSSIDbm,
		Distance:      snap.DistanceMeters,
		SignalQuality: snap.Bucket.String(),
		PacketCount:   status.PacketCount,
		IsConnected:   status.IsConnected,
		SignalTrend:   snap.Trend.String(),
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode report: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			p.metrics.PublishRetries.Inc()
			select {
			case <-ctx.Done():
				p.metrics.PublishFailures.Inc()
				return Result{}, ctx.Err()
			default:
			}
			p.sleep(p.cfg.RetryDelay)
		}

		res, err := p.post(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		p.logger.WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": p.cfg.MaxAttempts,
			"error":        err,
		}).Warn("Publish attempt failed")
	}

	p.metrics.PublishFailures.Inc()
	return Result{}, fmt.Errorf("publish: all %d attempts failed: %w", p.cfg.MaxAttempts, lastErr)
}

func (p *Publisher) post(ctx context.Context, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("x-api-key", p.cfg.APIKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
	}

	ack, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || len(ack) == 0 {
		// The report landed; a missing acknowledgement body only costs
		// the piggybacked directive.
		return Result{}, nil
	}
	if d, err := arbiter.ParseDirective(ack); err == nil {
		return Result{Echo: &d}, nil
	}
	return Result{}, nil
}
