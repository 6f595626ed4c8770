package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	aerrors "github.com/auditrail/auditrail/internal/errors"
	"github.com/auditrail/auditrail/internal/queue"
)

// DLQRepository implements queue.DLQWriter and queue.DLQReader over the
// dlq_entry logical table (§4.4).
type DLQRepository struct {
	db *sqlx.DB
}

// NewDLQRepository builds a DLQRepository.
func NewDLQRepository(db *sqlx.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// WriteDLQEntry persists a message that exhausted its retry budget.
func (r *DLQRepository) WriteDLQEntry(ctx context.Context, entry queue.DLQEntry) error {
	payload, err := marshalJSON(entry.Event)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "store", err)
	}
	history, err := marshalJSON(entry.RetryHistory)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "store", err)
	}
	stack, err := marshalJSON(entry.ErrorStack)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "store", err)
	}

	const q = `
		INSERT INTO dlq_entry (message_id, event, failure_reason, error_stack, retry_history, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, q, entry.MessageID, payload, entry.FailureReason, stack, history, entry.CreatedAt)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return nil
}

// CountDLQEntries counts every unarchived, undeleted DLQ row.
func (r *DLQRepository) CountDLQEntries(ctx context.Context) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM dlq_entry WHERE archived_at IS NULL`)
	if err != nil {
		return 0, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	return count, nil
}

// ArchiveDLQEntriesOlderThan marks entries created before cutoff as
// archived, returning how many were touched.
func (r *DLQRepository) ArchiveDLQEntriesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE dlq_entry SET archived_at = now() WHERE created_at <= $1 AND archived_at IS NULL`, cutoff)
	if err != nil {
		return 0, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// DeleteDLQEntriesOlderThan permanently removes entries created before
// cutoff.
func (r *DLQRepository) DeleteDLQEntriesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM dlq_entry WHERE created_at <= $1`, cutoff)
	if err != nil {
		return 0, aerrors.Wrap(aerrors.KindDatabase, "store", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
