package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/auditrail/auditrail/internal/compliance"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/queue"
)

// Deliverer dispatches one export to a delivery channel.
type Deliverer interface {
	Deliver(ctx context.Context, cfg DeliveryConfig, result *compliance.ExportResult, reportName string) error
}

// EngineConfig tunes the cron ticks.
type EngineConfig struct {
	DueTickSpec   string // cron spec for processDueReports, default "* * * * *" (every minute)
	RetryTickSpec string // cron spec for retryFailedDeliveries, default "*/5 * * * *"
	MaxRetries    int
}

// DefaultEngineConfig mirrors §4.10's "every minute" due tick.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{DueTickSpec: "* * * * *", RetryTickSpec: "*/5 * * * *", MaxRetries: 3}
}

// Engine is the scheduler's orchestration surface (C10).
type Engine struct {
	configs    ConfigStore
	executions ExecutionStore
	reports    *compliance.Generator
	deliverers map[DeliveryMethod]Deliverer
	cfg        EngineConfig
	cron       *cron.Cron
	logger     *zap.Logger
}

// NewEngine builds an Engine over the given stores, report generator, and
// per-method deliverers.
func NewEngine(configs ConfigStore, executions ExecutionStore, reports *compliance.Generator, deliverers map[DeliveryMethod]Deliverer, cfg EngineConfig, logger *zap.Logger) *Engine {
	return &Engine{configs: configs, executions: executions, reports: reports, deliverers: deliverers, cfg: cfg, logger: logger}
}

// Start registers the due and retry ticks and begins the cron runner.
func (e *Engine) Start(ctx context.Context) error {
	e.cron = cron.New()
	if _, err := e.cron.AddFunc(e.cfg.DueTickSpec, func() { e.runSafely(ctx, "processDueReports", e.ProcessDueReports) }); err != nil {
		return aerrors.Wrap(aerrors.KindConfig, "scheduler", err)
	}
	if _, err := e.cron.AddFunc(e.cfg.RetryTickSpec, func() { e.runSafely(ctx, "retryFailedDeliveries", e.RetryFailedDeliveries) }); err != nil {
		return aerrors.Wrap(aerrors.KindConfig, "scheduler", err)
	}
	e.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for in-flight jobs to finish.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

func (e *Engine) runSafely(ctx context.Context, job string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		e.logger.Error("scheduler tick failed", zap.String("job", job), zap.Error(err))
	}
}

// ProcessDueReports implements §4.10's due-selection and execution.
func (e *Engine) ProcessDueReports(ctx context.Context) error {
	now := time.Now().UTC()
	due, err := e.configs.SelectDue(ctx, now, func(cfg *ReportConfig) time.Time {
		return CalculateNextRun(cfg.Schedule, now)
	})
	if err != nil {
		return err
	}
	for _, cfg := range due {
		e.execute(ctx, cfg)
	}
	return nil
}

func (e *Engine) execute(ctx context.Context, cfg *ReportConfig) {
	execution := &Execution{
		ID: uuid.NewString(), ReportConfigID: cfg.ID, StartedAt: time.Now().UTC(), Status: ExecutionRunning,
	}
	if err := e.executions.Insert(ctx, execution); err != nil {
		e.logger.Error("recording execution start failed", zap.Error(err), zap.String("reportConfigId", cfg.ID))
		return
	}

	report, err := e.generateReport(ctx, cfg)
	if err != nil {
		e.fail(ctx, execution, err)
		return
	}
	execution.RecordCount = report.Metadata.TotalEvents

	result, err := compliance.Export(report, compliance.ExportConfig{Format: cfg.ExportFormat})
	if err != nil {
		e.fail(ctx, execution, err)
		return
	}
	execution.DownloadRef = result.ExportID

	if err := e.deliver(ctx, cfg, result, execution); err != nil {
		e.fail(ctx, execution, err)
		return
	}

	completed := time.Now().UTC()
	execution.CompletedAt = &completed
	execution.Status = ExecutionCompleted
	if err := e.executions.Update(ctx, execution); err != nil {
		e.logger.Error("recording execution completion failed", zap.Error(err))
	}
}

func (e *Engine) generateReport(ctx context.Context, cfg *ReportConfig) (*compliance.Report, error) {
	switch cfg.ReportType {
	case compliance.ReportHIPAA:
		return e.reports.GenerateHIPAA(ctx, cfg.Criteria, cfg.CreatedBy)
	case compliance.ReportGDPR:
		return e.reports.GenerateGDPR(ctx, cfg.Criteria, cfg.CreatedBy)
	default:
		return e.reports.GenerateCustom(ctx, cfg.Criteria, cfg.CreatedBy)
	}
}

func (e *Engine) deliver(ctx context.Context, cfg *ReportConfig, result *compliance.ExportResult, execution *Execution) error {
	deliverer, ok := e.deliverers[cfg.Delivery.Method]
	if !ok {
		return aerrors.New(aerrors.KindConfig, "scheduler", "no deliverer configured for method: "+string(cfg.Delivery.Method))
	}

	maxRetries := cfg.Delivery.Retry.MaxRetries
	if maxRetries <= 0 {
		maxRetries = e.cfg.MaxRetries
	}
	initial := cfg.Delivery.Retry.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	maxDelay := cfg.Delivery.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = time.Minute
	}
	multiplier := cfg.Delivery.Retry.Multiplier
	if multiplier <= 0 {
		multiplier = 2.0
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := deliverer.Deliver(ctx, cfg.Delivery, result, cfg.Name)
		attemptRecord := DeliveryAttempt{AttemptedAt: time.Now().UTC(), Succeeded: err == nil}
		if err != nil {
			attemptRecord.Error = err.Error()
		}
		execution.DeliveryAttempts = append(execution.DeliveryAttempts, attemptRecord)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < maxRetries {
			delay := queue.BackoffDelay(attempt, initial, multiplier, maxDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}

func (e *Engine) fail(ctx context.Context, execution *Execution, err error) {
	completed := time.Now().UTC()
	execution.CompletedAt = &completed
	execution.Status = ExecutionFailed
	execution.FailureReason = err.Error()
	if updErr := e.executions.Update(ctx, execution); updErr != nil {
		e.logger.Error("recording execution failure failed", zap.Error(updErr))
	}
}

// RetryFailedDeliveries picks up executions that completed reporting but
// never delivered successfully (§4.10 "a separate retryFailedDeliveries()
// job picks up stragglers").
func (e *Engine) RetryFailedDeliveries(ctx context.Context) error {
	stragglers, err := e.executions.FailedAwaitingRetry(ctx, 100)
	if err != nil {
		return err
	}
	for _, execution := range stragglers {
		cfg, ok, err := e.configs.GetByID(ctx, execution.ReportConfigID)
		if err != nil || !ok {
			continue
		}
		result := &compliance.ExportResult{ExportID: execution.DownloadRef}
		if err := e.deliver(ctx, cfg, result, execution); err != nil {
			e.fail(ctx, execution, err)
			continue
		}
		completed := time.Now().UTC()
		execution.CompletedAt = &completed
		execution.Status = ExecutionCompleted
		if err := e.executions.Update(ctx, execution); err != nil {
			e.logger.Error("recording straggler completion failed", zap.Error(err))
		}
	}
	return nil
}

// ExecuteNow runs a scheduled report immediately, outside its tick.
func (e *Engine) ExecuteNow(ctx context.Context, id string) error {
	cfg, ok, err := e.configs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return aerrors.New(aerrors.KindNotFound, "scheduler", "scheduled report not found")
	}
	e.execute(ctx, cfg)
	return nil
}

// CreateScheduledReport validates and persists a new config, computing
// its initial nextRun.
func (e *Engine) CreateScheduledReport(ctx context.Context, cfg *ReportConfig) error {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	cfg.NextRun = CalculateNextRun(cfg.Schedule, time.Now().UTC())
	return e.configs.Insert(ctx, cfg)
}

// UpdateScheduledReport applies a patch and recomputes nextRun.
func (e *Engine) UpdateScheduledReport(ctx context.Context, cfg *ReportConfig) error {
	cfg.NextRun = CalculateNextRun(cfg.Schedule, time.Now().UTC())
	return e.configs.Update(ctx, cfg)
}

// DeleteScheduledReport removes a config.
func (e *Engine) DeleteScheduledReport(ctx context.Context, id string) error {
	return e.configs.Delete(ctx, id)
}

// ListScheduledReports lists configs matching filter.
func (e *Engine) ListScheduledReports(ctx context.Context, filter ListFilter) ([]*ReportConfig, error) {
	return e.configs.List(ctx, filter)
}

// GetExecutionHistory pages through one config's executions.
func (e *Engine) GetExecutionHistory(ctx context.Context, filter ExecutionFilter) ([]*Execution, error) {
	return e.executions.History(ctx, filter)
}

// GetUpcomingExecutions projects the next n scheduled runs for an org.
func (e *Engine) GetUpcomingExecutions(ctx context.Context, organizationID string, n int) ([]*ReportConfig, error) {
	return e.configs.Upcoming(ctx, organizationID, n)
}
