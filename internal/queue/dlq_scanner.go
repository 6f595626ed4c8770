package queue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/auditrail/auditrail/internal/alert"
)

// DLQReader is the read-side of DLQ persistence the scanner needs:
// counting, archiving, and deleting aged entries. Implemented alongside
// DLQWriter by internal/store.
type DLQReader interface {
	CountDLQEntries(ctx context.Context) (int, error)
	ArchiveDLQEntriesOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	DeleteDLQEntriesOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// DLQScannerConfig holds §4.3's DLQ housekeeping thresholds.
type DLQScannerConfig struct {
	Interval         time.Duration
	ArchiveAfterDays int
	MaxRetentionDays int
	AlertThreshold   int
}

// DefaultDLQScannerConfig returns the spec's "every 5 min" cadence.
func DefaultDLQScannerConfig() DLQScannerConfig {
	return DLQScannerConfig{Interval: 5 * time.Minute, ArchiveAfterDays: 7, MaxRetentionDays: 30, AlertThreshold: 100}
}

// DLQScanner runs the periodic DLQ sweep: archive aged entries, delete
// entries past max retention, and raise an alert when size breaches
// threshold.
type DLQScanner struct {
	reader  DLQReader
	alerts  alert.Raiser
	cfg     DLQScannerConfig
	logger  *zap.Logger
}

// NewDLQScanner builds a DLQScanner.
func NewDLQScanner(reader DLQReader, alerts alert.Raiser, cfg DLQScannerConfig, logger *zap.Logger) *DLQScanner {
	return &DLQScanner{reader: reader, alerts: alerts, cfg: cfg, logger: logger}
}

// Run blocks, sweeping every cfg.Interval until ctx is cancelled.
func (s *DLQScanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *DLQScanner) sweep(ctx context.Context) {
	now := time.Now().UTC()

	archived, err := s.reader.ArchiveDLQEntriesOlderThan(ctx, now.AddDate(0, 0, -s.cfg.ArchiveAfterDays))
	if err != nil {
		s.logger.Error("dlq archive sweep failed", zap.Error(err))
	} else if archived > 0 {
		s.logger.Info("dlq entries archived", zap.Int("count", archived))
	}

	deleted, err := s.reader.DeleteDLQEntriesOlderThan(ctx, now.AddDate(0, 0, -s.cfg.MaxRetentionDays))
	if err != nil {
		s.logger.Error("dlq delete sweep failed", zap.Error(err))
	} else if deleted > 0 {
		s.logger.Info("dlq entries deleted", zap.Int("count", deleted))
	}

	count, err := s.reader.CountDLQEntries(ctx)
	if err != nil {
		s.logger.Error("dlq count failed", zap.Error(err))
		return
	}
	if count >= s.cfg.AlertThreshold {
		s.alerts.RaiseSystemAlert(ctx, "dlq_size_threshold_breached", "DLQ size has reached the alert threshold", map[string]interface{}{
			"dlq_size":  count,
			"threshold": s.cfg.AlertThreshold,
		})
	}
}
