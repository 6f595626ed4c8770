package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/auditrail/auditrail/internal/domain/event"
	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/store"
)

// RetentionRepository implements store.RetentionStore over retention_policy
// and the archive/delete phases of audit_log enforcement (§4.4).
type RetentionRepository struct {
	db *sqlx.DB
}

// NewRetentionRepository builds a RetentionRepository.
func NewRetentionRepository(db *sqlx.DB) *RetentionRepository {
	return &RetentionRepository{db: db}
}

type retentionRow struct {
	Name               string `db:"name"`
	DataClassification string `db:"data_classification"`
	RetentionDays      int    `db:"retention_days"`
	ArchiveAfterDays   int    `db:"archive_after_days"`
	DeleteAfterDays    int    `db:"delete_after_days"`
	IsActive           bool   `db:"is_active"`
}

// ListActivePolicies returns every is_active retention policy row.
func (r *RetentionRepository) ListActivePolicies(ctx context.Context) ([]store.RetentionPolicy, error) {
	var rows []retentionRow
	const q = `SELECT name, data_classification, retention_days, archive_after_days, delete_after_days, is_active
		FROM retention_policy WHERE is_active = true`
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}

	policies := make([]store.RetentionPolicy, 0, len(rows))
	for _, row := range rows {
		policies = append(policies, store.RetentionPolicy{
			Name:               row.Name,
			DataClassification: event.DataClassification(row.DataClassification),
			RetentionDays:      row.RetentionDays,
			ArchiveAfterDays:   row.ArchiveAfterDays,
			DeleteAfterDays:    row.DeleteAfterDays,
			IsActive:           row.IsActive,
		})
	}
	return policies, nil
}

// UpsertPolicy inserts or updates a named retention policy.
func (r *RetentionRepository) UpsertPolicy(ctx context.Context, p store.RetentionPolicy) error {
	const q = `
		INSERT INTO retention_policy (name, data_classification, retention_days, archive_after_days, delete_after_days, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (name) DO UPDATE SET
			data_classification = EXCLUDED.data_classification,
			retention_days = EXCLUDED.retention_days,
			archive_after_days = EXCLUDED.archive_after_days,
			delete_after_days = EXCLUDED.delete_after_days,
			is_active = EXCLUDED.is_active`
	_, err := r.db.ExecContext(ctx, q, p.Name, string(p.DataClassification), p.RetentionDays, p.ArchiveAfterDays, p.DeleteAfterDays, p.IsActive)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return nil
}

// Enforce runs one policy's archive-then-delete pass. Both phases are
// idempotent: archiving only touches rows with archived_at IS NULL, and
// deleting only touches rows already archived, so reruns converge (§4.4).
func (r *RetentionRepository) Enforce(ctx context.Context, p store.RetentionPolicy, now time.Time) (store.RetentionResult, error) {
	archiveCutoff := now.AddDate(0, 0, -p.ArchiveAfterDays)
	deleteCutoff := now.AddDate(0, 0, -p.DeleteAfterDays)

	archiveRes, err := r.db.ExecContext(ctx, `
		UPDATE audit_log SET archived_at = $1
		WHERE data_classification = $2 AND timestamp <= $3 AND archived_at IS NULL`,
		now, string(p.DataClassification), archiveCutoff)
	if err != nil {
		return store.RetentionResult{}, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	archived, _ := archiveRes.RowsAffected()

	deleteRes, err := r.db.ExecContext(ctx, `
		DELETE FROM audit_log
		WHERE data_classification = $1 AND archived_at IS NOT NULL AND timestamp <= $2`,
		string(p.DataClassification), deleteCutoff)
	if err != nil {
		return store.RetentionResult{}, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	deleted, _ := deleteRes.RowsAffected()

	return store.RetentionResult{PolicyName: p.Name, Archived: int(archived), Deleted: int(deleted)}, nil
}
