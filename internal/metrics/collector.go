// Package metrics implements the domain metrics collector (C7): a
// KV-backed counter/gauge/histogram store under the metrics: prefix,
// mirrored into Prometheus client_golang collectors for scraping. The two
// paths exist because client_golang has no read-back API but §4.7 and
// §4.6 both require synchronous reads (errorRate, isOnCooldown) that
// Prometheus alone cannot serve — see DESIGN.md.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/auditrail/auditrail/internal/kv"
)

const keyPrefix = "metrics:"
const histogramSampleTTL = time.Hour
const histogramAggregateTTL = 24 * time.Hour

// HistogramAggregate is §4.7's "aggregate {count, sum, min, max,
// lastUpdated}".
type HistogramAggregate struct {
	Count       int64     `json:"count"`
	Sum         float64   `json:"sum"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Snapshot is the fixed set of domain metrics §4.7 names at minimum.
type Snapshot struct {
	EventsProcessed     int64
	ProcessingLatencyMs HistogramAggregate
	QueueDepth          int64
	ErrorsGenerated     int64
	ErrorRate           float64
	IntegrityViolations int64
	AlertsGenerated     int64
	SuspiciousPatterns  int64
}

// Collector is the KV-backed metrics store plus its Prometheus mirror.
type Collector struct {
	kv       kv.Store
	prom     *prometheusMirror
	emaAlpha float64
	mu       sync.Mutex
	ema      map[string]float64
}

// NewCollector builds a Collector over store, registering its Prometheus
// mirror collectors.
func NewCollector(store kv.Store) *Collector {
	return &Collector{kv: store, prom: newPrometheusMirror(), emaAlpha: 0.2, ema: map[string]float64{}}
}

// Registry exposes the Prometheus registry this Collector's metrics are
// mirrored into, for mounting a scrape handler.
func (c *Collector) Registry() *prometheus.Registry { return c.prom.registry }

func counterKey(name string) string { return keyPrefix + "counter:" + name }
func gaugeKey(name string) string   { return keyPrefix + "gauge:" + name }
func histKey(name string) string    { return keyPrefix + "histogram:" + name }

// Incr increments a named counter by 1 and mirrors it into Prometheus.
func (c *Collector) Incr(ctx context.Context, name string) error {
	return c.IncrBy(ctx, name, 1)
}

// IncrBy increments a named counter by delta.
func (c *Collector) IncrBy(ctx context.Context, name string, delta int64) error {
	if _, err := c.kv.IncrBy(ctx, counterKey(name), delta); err != nil {
		return err
	}
	c.prom.counter(name).Add(float64(delta))
	return nil
}

// Counter returns a counter's current value.
func (c *Collector) Counter(ctx context.Context, name string) (int64, error) {
	val, ok, err := c.kv.Get(ctx, counterKey(name))
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	fmt.Sscanf(val, "%d", &n)
	return n, nil
}

// SetGauge records the most recent value for name with its timestamp.
func (c *Collector) SetGauge(ctx context.Context, name string, value float64) error {
	payload, _ := json.Marshal(struct {
		Value     float64   `json:"value"`
		Timestamp time.Time `json:"timestamp"`
	}{value, time.Now().UTC()})
	c.prom.gauge(name).Set(value)
	return c.kv.Set(ctx, gaugeKey(name), string(payload))
}

// ObserveHistogram records one sample under its own key for
// histogramSampleTTL and updates the rolling aggregate, which is kept for
// histogramAggregateTTL.
func (c *Collector) ObserveHistogram(ctx context.Context, name string, value float64) error {
	c.prom.histogram(name).Observe(value)

	sampleKey := fmt.Sprintf("%s:sample:%d", histKey(name), time.Now().UnixNano())
	if err := c.kv.SetEx(ctx, sampleKey, fmt.Sprintf("%g", value), histogramSampleTTL); err != nil {
		return err
	}

	raw, ok, err := c.kv.Get(ctx, histKey(name))
	if err != nil {
		return err
	}
	agg := HistogramAggregate{Min: value, Max: value}
	if ok {
		json.Unmarshal([]byte(raw), &agg)
		if value < agg.Min {
			agg.Min = value
		}
		if value > agg.Max {
			agg.Max = value
		}
	}
	agg.Count++
	agg.Sum += value
	agg.LastUpdated = time.Now().UTC()

	payload, _ := json.Marshal(agg)
	return c.kv.SetEx(ctx, histKey(name), string(payload), histogramAggregateTTL)
}

// EMA updates and returns the exponential moving average for name,
// satisfying §4.7's "processingLatency (avg + running EMA)".
func (c *Collector) EMA(name string, value float64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, ok := c.ema[name]
	if !ok {
		c.ema[name] = value
		return value
	}
	next := c.emaAlpha*value + (1-c.emaAlpha)*prev
	c.ema[name] = next
	return next
}

// ErrorRate computes errorsGenerated/eventsProcessed, 0 when the
// denominator is 0 (§4.7).
func (c *Collector) ErrorRate(ctx context.Context) (float64, error) {
	events, err := c.Counter(ctx, "eventsProcessed")
	if err != nil {
		return 0, err
	}
	if events == 0 {
		return 0, nil
	}
	errs, err := c.Counter(ctx, "errorsGenerated")
	if err != nil {
		return 0, err
	}
	return float64(errs) / float64(events), nil
}

// SetCooldown and IsOnCooldown keep a cooldown flag under the metrics:
// prefix in the shared KV store (§4.7). The alert engine does not use
// them; it keeps its own cooldown keys in kv.Store.
func (c *Collector) SetCooldown(ctx context.Context, key string, ttl time.Duration) error {
	return c.kv.SetEx(ctx, keyPrefix+"cooldown:"+key, "1", ttl)
}

func (c *Collector) IsOnCooldown(ctx context.Context, key string) (bool, error) {
	return c.kv.Exists(ctx, keyPrefix+"cooldown:"+key)
}

// Snapshot reads every tracked domain metric in one call, for the health
// checker.
func (c *Collector) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}
	var err error
	if snap.EventsProcessed, err = c.Counter(ctx, "eventsProcessed"); err != nil {
		return nil, err
	}
	if snap.QueueDepth, err = c.Counter(ctx, "queueDepth"); err != nil {
		return nil, err
	}
	if snap.ErrorsGenerated, err = c.Counter(ctx, "errorsGenerated"); err != nil {
		return nil, err
	}
	if snap.IntegrityViolations, err = c.Counter(ctx, "integrityViolations"); err != nil {
		return nil, err
	}
	if snap.AlertsGenerated, err = c.Counter(ctx, "alertsGenerated"); err != nil {
		return nil, err
	}
	if snap.SuspiciousPatterns, err = c.Counter(ctx, "suspiciousPatterns"); err != nil {
		return nil, err
	}
	if snap.ErrorRate, err = c.ErrorRate(ctx); err != nil {
		return nil, err
	}

	if raw, ok, err := c.kv.Get(ctx, histKey("processingLatency")); err == nil && ok {
		json.Unmarshal([]byte(raw), &snap.ProcessingLatencyMs)
	}
	return snap, nil
}
