// Package health implements the aggregated health checker (C11): derive
// OK/WARNING/CRITICAL component statuses from the metrics collector's
// thresholds (§4.11), each sub-check bounded by a timeout and retry
// budget, grounded on the teacher's healthcheck middleware pattern of
// independent named probes folded into one aggregate report.
package health

import (
	"context"
	"time"

	"github.com/auditrail/auditrail/internal/alert"
	"github.com/auditrail/auditrail/internal/metrics"
)

// Status is a component's or the system's aggregate health state.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

// rank orders statuses so the aggregate can take the worst of its checks.
func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	default:
		return 0
	}
}

func worst(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// CheckResult is one named sub-check's outcome.
type CheckResult struct {
	Name    string
	Status  Status
	Detail  string
	Latency time.Duration
}

// Report is the aggregate health response.
type Report struct {
	Status    Status
	Checks    []CheckResult
	CheckedAt time.Time
}

// Config tunes per-check timeout and retry budget (§4.11 defaults: 5s
// timeout, 3 retries at 1s).
type Config struct {
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

// DefaultConfig returns §4.11's stated defaults.
func DefaultConfig() Config {
	return Config{Timeout: 5 * time.Second, Retries: 3, RetryDelay: time.Second}
}

// ActiveAlertCounter reports how many active alerts an organization has,
// backing the "active alerts > 10" WARNING threshold.
type ActiveAlertCounter interface {
	CountActive(ctx context.Context, organizationID string) (int, error)
}

type alertCounter struct {
	engine *alert.Engine
}

func (a *alertCounter) CountActive(ctx context.Context, organizationID string) (int, error) {
	_, total, err := a.engine.List(ctx, alert.ListFilter{OrganizationID: organizationID, Statuses: []alert.Status{alert.StatusActive}, Limit: 1})
	return total, err
}

// NewAlertCounter adapts an alert.Engine into an ActiveAlertCounter.
func NewAlertCounter(engine *alert.Engine) ActiveAlertCounter {
	return &alertCounter{engine: engine}
}

// Checker runs the aggregated health check.
type Checker struct {
	metrics *metrics.Collector
	alerts  ActiveAlertCounter
	cfg     Config
}

// NewChecker builds a Checker.
func NewChecker(m *metrics.Collector, alerts ActiveAlertCounter, cfg Config) *Checker {
	return &Checker{metrics: m, alerts: alerts, cfg: cfg}
}

// Check runs every sub-check and folds them into one Report, per §4.11's
// thresholds: errorRate>0.1 -> CRITICAL; errorRate>0.05 or
// processingLatency.avg>5000ms -> WARNING; active alerts>10 -> WARNING;
// suspiciousPatterns>5 -> WARNING.
func (c *Checker) Check(ctx context.Context, organizationID string) Report {
	report := Report{Status: StatusOK, CheckedAt: time.Now().UTC()}

	checks := []func(context.Context, string) CheckResult{
		c.checkErrorRate,
		c.checkLatency,
		c.checkActiveAlerts,
		c.checkSuspiciousPatterns,
	}
	for _, check := range checks {
		result := c.withRetry(ctx, organizationID, check)
		report.Checks = append(report.Checks, result)
		report.Status = worst(report.Status, result.Status)
	}

	c.metrics.SetGauge(ctx, "healthStatus", float64(report.Status.rank()))
	return report
}

func (c *Checker) withRetry(ctx context.Context, organizationID string, check func(context.Context, string) CheckResult) CheckResult {
	var last CheckResult
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		start := time.Now()
		ctxTimeout, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		last = check(ctxTimeout, organizationID)
		cancel()
		last.Latency = time.Since(start)
		if last.Status != StatusCritical || attempt == c.cfg.Retries {
			return last
		}
		select {
		case <-ctx.Done():
			return last
		case <-time.After(c.cfg.RetryDelay):
		}
	}
	return last
}

func (c *Checker) checkErrorRate(ctx context.Context, _ string) CheckResult {
	rate, err := c.metrics.ErrorRate(ctx)
	if err != nil {
		return CheckResult{Name: "errorRate", Status: StatusCritical, Detail: err.Error()}
	}
	status := StatusOK
	switch {
	case rate > 0.1:
		status = StatusCritical
	case rate > 0.05:
		status = StatusWarning
	}
	return CheckResult{Name: "errorRate", Status: status}
}

func (c *Checker) checkLatency(ctx context.Context, _ string) CheckResult {
	snap, err := c.metrics.Snapshot(ctx)
	if err != nil {
		return CheckResult{Name: "processingLatency", Status: StatusCritical, Detail: err.Error()}
	}
	status := StatusOK
	if snap.ProcessingLatencyMs.Count > 0 {
		avg := snap.ProcessingLatencyMs.Sum / float64(snap.ProcessingLatencyMs.Count)
		if avg > 5000 {
			status = StatusWarning
		}
	}
	return CheckResult{Name: "processingLatency", Status: status}
}

func (c *Checker) checkActiveAlerts(ctx context.Context, organizationID string) CheckResult {
	if c.alerts == nil || organizationID == "" {
		return CheckResult{Name: "activeAlerts", Status: StatusOK}
	}
	count, err := c.alerts.CountActive(ctx, organizationID)
	if err != nil {
		return CheckResult{Name: "activeAlerts", Status: StatusCritical, Detail: err.Error()}
	}
	status := StatusOK
	if count > 10 {
		status = StatusWarning
	}
	return CheckResult{Name: "activeAlerts", Status: status}
}

func (c *Checker) checkSuspiciousPatterns(ctx context.Context, _ string) CheckResult {
	snap, err := c.metrics.Snapshot(ctx)
	if err != nil {
		return CheckResult{Name: "suspiciousPatterns", Status: StatusCritical, Detail: err.Error()}
	}
	status := StatusOK
	if snap.SuspiciousPatterns > 5 {
		status = StatusWarning
	}
	return CheckResult{Name: "suspiciousPatterns", Status: status}
}
