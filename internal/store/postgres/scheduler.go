package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/auditrail/auditrail/internal/compliance"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/scheduler"
)

// SchedulerRepository implements scheduler.ConfigStore and
// scheduler.ExecutionStore over scheduled_report/report_execution, the
// teacher's subscription/invoice table pairing generalized to arbitrary
// report criteria and delivery channels.
type SchedulerRepository struct {
	db *sqlx.DB
}

// NewSchedulerRepository builds a SchedulerRepository.
func NewSchedulerRepository(db *sqlx.DB) *SchedulerRepository {
	return &SchedulerRepository{db: db}
}

type reportConfigRow struct {
	ID             string     `db:"id"`
	Name           string     `db:"name"`
	OrganizationID string     `db:"organization_id"`
	ReportType     string     `db:"report_type"`
	Criteria       []byte     `db:"criteria"`
	Schedule       []byte     `db:"schedule"`
	Delivery       []byte     `db:"delivery"`
	ExportFormat   string     `db:"export_format"`
	Enabled        bool       `db:"enabled"`
	NextRun        time.Time  `db:"next_run"`
	LastRun        *time.Time `db:"last_run"`
	CreatedBy      string     `db:"created_by"`
}

func (r *reportConfigRow) toConfig() (*scheduler.ReportConfig, error) {
	cfg := &scheduler.ReportConfig{
		ID: r.ID, Name: r.Name, OrganizationID: r.OrganizationID,
		ReportType: compliance.ReportType(r.ReportType), ExportFormat: compliance.Format(r.ExportFormat),
		Enabled: r.Enabled, NextRun: r.NextRun, LastRun: r.LastRun, CreatedBy: r.CreatedBy,
	}
	if len(r.Criteria) > 0 {
		if err := unmarshalJSON(r.Criteria, &cfg.Criteria); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
		}
	}
	if len(r.Schedule) > 0 {
		if err := unmarshalJSON(r.Schedule, &cfg.Schedule); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
		}
	}
	if len(r.Delivery) > 0 {
		if err := unmarshalJSON(r.Delivery, &cfg.Delivery); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
		}
	}
	return cfg, nil
}

func fromConfig(cfg *scheduler.ReportConfig) (criteria, schedule, delivery []byte, err error) {
	if criteria, err = marshalJSON(cfg.Criteria); err != nil {
		return
	}
	if schedule, err = marshalJSON(cfg.Schedule); err != nil {
		return
	}
	delivery, err = marshalJSON(cfg.Delivery)
	return
}

// Insert persists a new scheduled report config.
func (r *SchedulerRepository) Insert(ctx context.Context, cfg *scheduler.ReportConfig) error {
	criteria, schedule, delivery, err := fromConfig(cfg)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "scheduler", err)
	}
	const q = `
		INSERT INTO scheduled_report (id, name, organization_id, report_type, criteria, schedule, delivery, export_format, enabled, next_run, last_run, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = r.db.ExecContext(ctx, q, cfg.ID, cfg.Name, cfg.OrganizationID, string(cfg.ReportType),
		criteria, schedule, delivery, string(cfg.ExportFormat), cfg.Enabled, cfg.NextRun, cfg.LastRun, cfg.CreatedBy)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	return nil
}

// Update overwrites a scheduled report config by id.
func (r *SchedulerRepository) Update(ctx context.Context, cfg *scheduler.ReportConfig) error {
	criteria, schedule, delivery, err := fromConfig(cfg)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "scheduler", err)
	}
	const q = `
		UPDATE scheduled_report SET name=$2, report_type=$3, criteria=$4, schedule=$5, delivery=$6,
			export_format=$7, enabled=$8, next_run=$9, last_run=$10
		WHERE id=$1`
	_, err = r.db.ExecContext(ctx, q, cfg.ID, cfg.Name, string(cfg.ReportType), criteria, schedule, delivery,
		string(cfg.ExportFormat), cfg.Enabled, cfg.NextRun, cfg.LastRun)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	return nil
}

// Delete removes a scheduled report config.
func (r *SchedulerRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scheduled_report WHERE id = $1`, id)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	return nil
}

// GetByID fetches one scheduled report config.
func (r *SchedulerRepository) GetByID(ctx context.Context, id string) (*scheduler.ReportConfig, bool, error) {
	var row reportConfigRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM scheduled_report WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	cfg, err := row.toConfig()
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

// List returns configs matching filter.
func (r *SchedulerRepository) List(ctx context.Context, filter scheduler.ListFilter) ([]*scheduler.ReportConfig, error) {
	query := `SELECT * FROM scheduled_report WHERE organization_id = $1`
	args := []interface{}{filter.OrganizationID}
	if filter.EnabledOnly {
		query += " AND enabled = true"
	}
	query += " ORDER BY name"

	var rows []reportConfigRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	configs := make([]*scheduler.ReportConfig, 0, len(rows))
	for i := range rows {
		cfg, err := rows[i].toConfig()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// SelectDue locks enabled, due configs inside a transaction, computes and
// persists each row's next nextRun via computeNext, then returns the
// pre-bump configs for execution (§4.10 atomic due-selection).
func (r *SchedulerRepository) SelectDue(ctx context.Context, now time.Time, computeNext func(cfg *scheduler.ReportConfig) time.Time) ([]*scheduler.ReportConfig, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	defer tx.Rollback()

	var rows []reportConfigRow
	const selectQ = `SELECT * FROM scheduled_report WHERE enabled = true AND next_run <= $1 FOR UPDATE SKIP LOCKED`
	if err := tx.SelectContext(ctx, &rows, selectQ, now); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}

	configs := make([]*scheduler.ReportConfig, 0, len(rows))
	for i := range rows {
		cfg, err := rows[i].toConfig()
		if err != nil {
			return nil, err
		}
		nextRun := computeNext(cfg)
		if _, err := tx.ExecContext(ctx, `UPDATE scheduled_report SET next_run = $2, last_run = $3 WHERE id = $1`, cfg.ID, nextRun, now); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
		}
		configs = append(configs, cfg)
	}

	if err := tx.Commit(); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	return configs, nil
}

// Upcoming projects the next n runs for an organization, ordered by
// nextRun ascending.
func (r *SchedulerRepository) Upcoming(ctx context.Context, organizationID string, n int) ([]*scheduler.ReportConfig, error) {
	var rows []reportConfigRow
	const q = `SELECT * FROM scheduled_report WHERE organization_id = $1 AND enabled = true ORDER BY next_run ASC LIMIT $2`
	if err := r.db.SelectContext(ctx, &rows, q, organizationID, n); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	configs := make([]*scheduler.ReportConfig, 0, len(rows))
	for i := range rows {
		cfg, err := rows[i].toConfig()
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

type executionRow struct {
	ID               string     `db:"id"`
	ReportConfigID   string     `db:"report_config_id"`
	StartedAt        time.Time  `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	Status           string     `db:"status"`
	RecordCount      int        `db:"record_count"`
	DownloadRef      string     `db:"download_ref"`
	FailureReason    string     `db:"failure_reason"`
	DeliveryAttempts []byte     `db:"delivery_attempts"`
}

func (r *executionRow) toExecution() (*scheduler.Execution, error) {
	e := &scheduler.Execution{
		ID: r.ID, ReportConfigID: r.ReportConfigID, StartedAt: r.StartedAt, CompletedAt: r.CompletedAt,
		Status: scheduler.ExecutionStatus(r.Status), RecordCount: r.RecordCount,
		DownloadRef: r.DownloadRef, FailureReason: r.FailureReason,
	}
	if len(r.DeliveryAttempts) > 0 {
		if err := unmarshalJSON(r.DeliveryAttempts, &e.DeliveryAttempts); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
		}
	}
	return e, nil
}

// Insert persists a new execution record.
func (r *SchedulerRepository) InsertExecution(ctx context.Context, e *scheduler.Execution) error {
	attempts, err := marshalJSON(e.DeliveryAttempts)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "scheduler", err)
	}
	const q = `
		INSERT INTO report_execution (id, report_config_id, started_at, completed_at, status, record_count, download_ref, failure_reason, delivery_attempts)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.ReportConfigID, e.StartedAt, e.CompletedAt, string(e.Status),
		e.RecordCount, e.DownloadRef, e.FailureReason, attempts)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	return nil
}

// Insert satisfies scheduler.ExecutionStore.
func (r *SchedulerRepository) Insert(ctx context.Context, e *scheduler.Execution) error {
	return r.InsertExecution(ctx, e)
}

// Update overwrites an execution record by id.
func (r *SchedulerRepository) Update(ctx context.Context, e *scheduler.Execution) error {
	attempts, err := marshalJSON(e.DeliveryAttempts)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "scheduler", err)
	}
	const q = `
		UPDATE report_execution SET completed_at=$2, status=$3, record_count=$4, download_ref=$5, failure_reason=$6, delivery_attempts=$7
		WHERE id=$1`
	_, err = r.db.ExecContext(ctx, q, e.ID, e.CompletedAt, string(e.Status), e.RecordCount, e.DownloadRef, e.FailureReason, attempts)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	return nil
}

// History pages through one config's executions, newest first.
func (r *SchedulerRepository) History(ctx context.Context, filter scheduler.ExecutionFilter) ([]*scheduler.Execution, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var rows []executionRow
	const q = `SELECT * FROM report_execution WHERE report_config_id = $1 ORDER BY started_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &rows, q, filter.ReportConfigID, limit, filter.Offset); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	executions := make([]*scheduler.Execution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toExecution()
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}

// FailedAwaitingRetry returns failed executions whose download exists,
// meaning reporting succeeded but delivery did not.
func (r *SchedulerRepository) FailedAwaitingRetry(ctx context.Context, limit int) ([]*scheduler.Execution, error) {
	var rows []executionRow
	const q = `SELECT * FROM report_execution WHERE status = 'failed' AND download_ref <> '' ORDER BY started_at ASC LIMIT $1`
	if err := r.db.SelectContext(ctx, &rows, q, limit); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "scheduler", err)
	}
	executions := make([]*scheduler.Execution, 0, len(rows))
	for i := range rows {
		e, err := rows[i].toExecution()
		if err != nil {
			return nil, err
		}
		executions = append(executions, e)
	}
	return executions, nil
}
