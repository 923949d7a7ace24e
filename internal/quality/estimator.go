// Package quality turns raw RSSI readings into a link-quality picture:
// a smoothed value over a short history window, a qualitative bucket, an
// estimated distance under a log-distance path-loss model, and a
// short-term trend.
package quality

import "math"

// historyCapacity is the number of raw readings retained for smoothing
// and trend detection.
const historyCapacity = 10

// Distance estimates outside the physically plausible RSSI range are
// reported as the out-of-range sentinel.
const (
	minDistanceMeters      = 0.1
	maxDistanceMeters      = 99.9
	minPlausibleRSSI       = -120
	trendMinHistoryEntries = 4
)

// Bucket is a qualitative link-quality class. Higher is better.
type Bucket int

const (
	BucketLost Bucket = iota
	BucketCritical
	BucketWeak
	BucketAcceptable
	BucketGood
	BucketExcellent
)

func (b Bucket) String() string {
	switch b {
	case BucketExcellent:
		return "EXCELLENT"
	case BucketGood:
		return "GOOD"
	case BucketAcceptable:
		return "ACCEPTABLE"
	case BucketWeak:
		return "WEAK"
	case BucketCritical:
		return "CRITICAL"
	default:
		return "LOST"
	}
}

// Trend is the short-term direction of the smoothed signal.
type Trend int

const (
	TrendStable Trend = iota
	TrendImproving
	TrendDeteriorating
)

func (t Trend) String() string {
	switch t {
	case TrendImproving:
		return "improving"
	case TrendDeteriorating:
		return "deteriorating"
	default:
		return "stable"
	}
}

// Thresholds is the bucket ladder on smoothed RSSI, in dBm. A smoothed
// value at or above a threshold earns at least that bucket; below
// Critical the link counts as lost. Ordering must be strictly
// descending: Excellent > Good > Acceptable > Weak > Critical.
type Thresholds struct {
	Excellent  int `yaml:"excellent" default:"-60"`
	Good       int `yaml:"good" default:"-70"`
	Acceptable int `yaml:"acceptable" default:"-80"`
	Weak       int `yaml:"weak" default:"-88"`
	Critical   int `yaml:"critical" default:"-93"`
}

// Ordered reports whether the ladder is strictly descending.
func (t Thresholds) Ordered() bool {
	return t.Excellent > t.Good &&
		t.Good > t.Acceptable &&
		t.Acceptable > t.Weak &&
		t.Weak > t.Critical
}

// Config holds the estimator calibration.
//
// MeasuredPower is the reference RSSI at one meter; PathLossExponent is
// the environment's attenuation factor (2.0 is free space). The trend
// deltas are asymmetric on purpose: a deteriorating link is costlier to
// miss than an improving one, so it is flagged more readily.
type Config struct {
	MeasuredPower    int        `yaml:"measured_power" default:"-59"`
	PathLossExponent float64    `yaml:"path_loss_exponent" default:"2.0"`
	Thresholds       Thresholds `yaml:"thresholds"`
	ImproveDelta     float64    `yaml:"improve_delta" default:"4.0"`
	DeteriorateDelta float64    `yaml:"deteriorate_delta" default:"3.0"`
}

// Snapshot is the read-only quality picture recomputed on every raw
// reading. All other components treat it as immutable.
type Snapshot struct {
	RawRSSIDbm      int
	SmoothedRSSIDbm int
	DistanceMeters  float64
	Bucket          Bucket
	Trend           Trend
}

// Estimator maintains the RSSI history and derives snapshots from it.
// It is not safe for concurrent use; the link manager is its only writer.
type Estimator struct {
	cfg     Config
	history [historyCapacity]int
	count   int
	next    int // write position, wraps modulo capacity
	last    Snapshot
}

func NewEstimator(cfg Config) *Estimator {
	return &Estimator{cfg: cfg}
}

// Update pushes a raw reading into the history (overwriting the oldest
// entry on overflow) and recomputes the snapshot.
func (e *Estimator) Update(rawRSSI int) Snapshot {
	e.history[e.next] = rawRSSI
	e.next = (e.next + 1) % historyCapacity
	if e.count < historyCapacity {
		e.count++
	}

	smoothed := e.mean(e.count)

	e.last = Snapshot{
		RawRSSIDbm:      rawRSSI,
		SmoothedRSSIDbm: smoothed,
		DistanceMeters:  e.distance(rawRSSI),
		Bucket:          e.bucket(smoothed),
		Trend:           e.trend(),
	}
	return e.last
}

// Current returns the snapshot from the most recent Update. The zero
// snapshot is returned before the first reading.
func (e *Estimator) Current() Snapshot {
	return e.last
}

// Reset clears the history. Called when a fresh link is established so
// readings from the previous link do not bias the new one.
func (e *Estimator) Reset() {
	e.count = 0
	e.next = 0
	e.last = Snapshot{}
}

// mean averages the n most recent entries, integer-truncated.
func (e *Estimator) mean(n int) int {
	if n <= 0 || n > e.count {
		n = e.count
	}
	if n == 0 {
		return 0
	}
	sum := 0
	for i := 0; i < n; i++ {
		sum += e.recent(i)
	}
	return sum / n
}

// recent returns the i-th most recent entry (0 = newest).
func (e *Estimator) recent(i int) int {
	idx := (e.next - 1 - i + 2*historyCapacity) % historyCapacity
	return e.history[idx]
}

// distance applies the log-distance path-loss model to a raw reading,
// clamped to the supported range. Physically implausible readings get
// the out-of-range sentinel.
func (e *Estimator) distance(rawRSSI int) float64 {
	if rawRSSI >= 0 || rawRSSI < minPlausibleRSSI {
		return maxDistanceMeters
	}
	d := math.Pow(10, float64(e.cfg.MeasuredPower-rawRSSI)/(10*e.cfg.PathLossExponent))
	if d < minDistanceMeters {
		return minDistanceMeters
	}
	if d > maxDistanceMeters {
		return maxDistanceMeters
	}
	return d
}

func (e *Estimator) bucket(smoothed int) Bucket {
	t := e.cfg.Thresholds
	switch {
	case smoothed >= t.Excellent:
		return BucketExcellent
	case smoothed >= t.Good:
		return BucketGood
	case smoothed >= t.Acceptable:
		return BucketAcceptable
	case smoothed >= t.Weak:
		return BucketWeak
	case smoothed >= t.Critical:
		return BucketCritical
	default:
		return BucketLost
	}
}

// trend compares the mean of the two newest entries against the mean of
// the two entries before them. With fewer than four entries the trend
// is reported as stable.
func (e *Estimator) trend() Trend {
	if e.count < trendMinHistoryEntries {
		return TrendStable
	}
	newer := float64(e.recent(0)+e.recent(1)) / 2
	older := float64(e.recent(2)+e.recent(3)) / 2
	delta := newer - older
	switch {
	case delta >= e.cfg.ImproveDelta:
		return TrendImproving
	case delta <= -e.cfg.DeteriorateDelta:
		return TrendDeteriorating
	default:
		return TrendStable
	}
}
