// Package arbiter talks to the central coordination endpoint that
// decides which node owns the connection to a shared wearable. Nodes
// report their identity, signal strength, and connection status; the
// endpoint answers with a directive.
package arbiter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/humans-net/oxibridge/internal/config"
)

// Directive is the coordination endpoint's answer to one status report.
type Directive struct {
	ShouldConnect     bool
	IsActiveBridge    bool
	ReleaseConnection bool
}

// DefaultDirective is the fail-open stance: with no coordination
// endpoint, or an unreachable one, a node behaves as a standalone
// relay and keeps trying to connect.
func DefaultDirective() Directive {
	return Directive{ShouldConnect: true}
}

// directiveWire mirrors the endpoint's JSON. should_connect is a
// pointer so an absent field can default to true.
type directiveWire struct {
	ShouldConnect     *bool `json:"should_connect"`
	IsActiveBridge    bool  `json:"is_active_bridge"`
	ReleaseConnection bool  `json:"release_connection"`
}

func (w directiveWire) directive() Directive {
	d := Directive{
		ShouldConnect:     true,
		IsActiveBridge:    w.IsActiveBridge,
		ReleaseConnection: w.ReleaseConnection,
	}
	if w.ShouldConnect != nil {
		d.ShouldConnect = *w.ShouldConnect
	}
	return d
}

// ParseDirective decodes a directive from raw JSON. Telemetry responses
// can carry the same fields, so the publisher reuses this to pick up
// directives piggybacked on data acknowledgements.
func ParseDirective(data []byte) (Directive, error) {
	var w directiveWire
	if err := json.Unmarshal(data, &w); err != nil {
		return DefaultDirective(), fmt.Errorf("decode directive: %w", err)
	}
	return w.directive(), nil
}

// Client polls the coordination endpoint. It is fail-open: any
// transport or decode error returns the last known directive, so a
// flaky coordinator degrades the node to standalone behavior instead
// of stalling it.
type Client struct {
	logger *logrus.Logger
	cfg    config.ArbitrationConfig
	http   *http.Client

	mu   sync.Mutex
	last Directive
}

func NewClient(cfg config.ArbitrationConfig, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		logger: logger,
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.RequestTimeout},
		last:   DefaultDirective(),
	}
}

// Enabled reports whether a coordination endpoint is configured.
func (c *Client) Enabled() bool {
	return c.cfg.StatusURL != ""
}

// Last returns the most recent directive, without contacting the
// endpoint.
func (c *Client) Last() Directive {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Apply records a directive obtained out of band, such as one echoed
// on a telemetry acknowledgement.
func (c *Client) Apply(d Directive) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = d
}

// Poll reports this node's status and returns the endpoint's directive.
// On any failure the previous directive is returned unchanged.
func (c *Client) Poll(ctx context.Context, nodeID string, rssi int, connected bool) Directive {
	if !c.Enabled() {
		return c.Last()
	}

	d, err := c.fetch(ctx, nodeID, rssi, connected)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"node_id": nodeID,
			"error":   err,
		}).Warn("Arbitration status check failed, keeping last directive")
		return c.Last()
	}

	c.mu.Lock()
	c.last = d
	c.mu.Unlock()
	return d
}

func (c *Client) fetch(ctx context.Context, nodeID string, rssi int, connected bool) (Directive, error) {
	q := url.Values{}
	q.Set("bridge_id", nodeID)
	q.Set("rssi", strconv.Itoa(rssi))
	if connected {
		q.Set("connected", "1")
	} else {
		q.Set("connected", "0")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.StatusURL+"?"+q.Encode(), nil)
	if err != nil {
		return Directive{}, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Directive{}, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Directive{}, fmt.Errorf("status request: unexpected HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return Directive{}, fmt.Errorf("read status response: %w", err)
	}
	return ParseDirective(body)
}
