package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/auditrail/auditrail/internal/alert"
	aerrors "github.com/auditrail/auditrail/internal/errors"
)

// AlertRepository implements alert.Repository over the alerts table
// (§4.4's required index: alerts(organizationId, status, createdAt)).
type AlertRepository struct {
	db *sqlx.DB
}

// NewAlertRepository builds an AlertRepository.
func NewAlertRepository(db *sqlx.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

type alertRow struct {
	ID              string     `db:"id"`
	OrganizationID  string     `db:"organization_id"`
	Source          string     `db:"source"`
	Type            string     `db:"type"`
	Title           string     `db:"title"`
	Description     string     `db:"description"`
	Severity        string     `db:"severity"`
	Status          string     `db:"status"`
	Metadata        []byte     `db:"metadata"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	AcknowledgedAt  *time.Time `db:"acknowledged_at"`
	AcknowledgedBy  string     `db:"acknowledged_by"`
	ResolvedAt      *time.Time `db:"resolved_at"`
	ResolvedBy      string     `db:"resolved_by"`
	ResolutionNotes string     `db:"resolution_notes"`
}

func (r *AlertRepository) Insert(ctx context.Context, a *alert.Alert) error {
	meta, err := marshalJSON(a.Metadata)
	if err != nil {
		return aerrors.Wrap(aerrors.KindValidation, "alert", err)
	}
	const q = `
		INSERT INTO alerts (id, organization_id, source, type, title, description, severity, status, metadata, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = r.db.ExecContext(ctx, q, a.ID, a.OrganizationID, a.Source, a.Type, a.Title, a.Description,
		string(a.Severity), string(a.Status), meta, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}
	return nil
}

func (r *AlertRepository) GetByID(ctx context.Context, organizationID, id string) (*alert.Alert, error) {
	var row alertRow
	const q = `SELECT * FROM alerts WHERE organization_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &row, q, organizationID, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, aerrors.New(aerrors.KindNotFound, "alert", "alert not found")
		}
		return nil, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}
	return rowToAlert(&row)
}

func (r *AlertRepository) Update(ctx context.Context, a *alert.Alert) error {
	const q = `
		UPDATE alerts SET status=$3, updated_at=$4, acknowledged_at=$5, acknowledged_by=$6,
			resolved_at=$7, resolved_by=$8, resolution_notes=$9
		WHERE organization_id=$1 AND id=$2`
	_, err := r.db.ExecContext(ctx, q, a.OrganizationID, a.ID, string(a.Status), a.UpdatedAt,
		a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt, a.ResolvedBy, a.ResolutionNotes)
	if err != nil {
		return aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}
	return nil
}

func (r *AlertRepository) List(ctx context.Context, filter alert.ListFilter) ([]*alert.Alert, int, error) {
	clauses := []string{"organization_id = $1"}
	args := []interface{}{filter.OrganizationID}
	pos := 2

	if len(filter.Statuses) > 0 {
		vals := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			vals[i] = string(s)
		}
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", pos))
		args = append(args, pqStringArray(vals))
		pos++
	}
	if len(filter.Severities) > 0 {
		vals := make([]string, len(filter.Severities))
		for i, s := range filter.Severities {
			vals[i] = string(s)
		}
		clauses = append(clauses, fmt.Sprintf("severity = ANY($%d)", pos))
		args = append(args, pqStringArray(vals))
		pos++
	}

	where := "WHERE " + strings.Join(clauses, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM alerts "+where, args...); err != nil {
		return nil, 0, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}

	sortCol := "created_at"
	switch filter.SortBy {
	case "updatedAt":
		sortCol = "updated_at"
	case "severity":
		sortCol = "severity"
	}
	order := "ASC"
	if filter.SortDescending {
		order = "DESC"
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf("SELECT * FROM alerts %s ORDER BY %s %s, id %s LIMIT %d OFFSET %d",
		where, sortCol, order, order, limit, filter.Offset)
	var rows []alertRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}

	alerts := make([]*alert.Alert, 0, len(rows))
	for i := range rows {
		a, err := rowToAlert(&rows[i])
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, a)
	}
	return alerts, total, nil
}

func (r *AlertRepository) Statistics(ctx context.Context, filter alert.StatisticsFilter) (*alert.Statistics, error) {
	stats := &alert.Statistics{
		ByStatus:   map[alert.Status]int{},
		BySeverity: map[alert.Severity]int{},
		ByType:     map[string]int{},
		BySource:   map[string]int{},
	}

	type countRow struct {
		Key   string `db:"key"`
		Count int    `db:"count"`
	}

	queries := map[string]string{
		"status":   "SELECT status AS key, COUNT(*) AS count FROM alerts WHERE organization_id = $1 GROUP BY status",
		"severity": "SELECT severity AS key, COUNT(*) AS count FROM alerts WHERE organization_id = $1 GROUP BY severity",
		"type":     "SELECT type AS key, COUNT(*) AS count FROM alerts WHERE organization_id = $1 GROUP BY type",
		"source":   "SELECT source AS key, COUNT(*) AS count FROM alerts WHERE organization_id = $1 GROUP BY source",
	}

	for dimension, query := range queries {
		var rows []countRow
		if err := r.db.SelectContext(ctx, &rows, query, filter.OrganizationID); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
		}
		for _, row := range rows {
			switch dimension {
			case "status":
				stats.ByStatus[alert.Status(row.Key)] = row.Count
			case "severity":
				stats.BySeverity[alert.Severity(row.Key)] = row.Count
			case "type":
				stats.ByType[row.Key] = row.Count
			case "source":
				stats.BySource[row.Key] = row.Count
			}
		}
	}

	var trendRows []struct {
		Bucket time.Time `db:"bucket"`
		Count  int       `db:"count"`
	}
	const trendQ = `
		SELECT date_trunc('day', created_at) AS bucket, COUNT(*) AS count
		FROM alerts WHERE organization_id = $1 AND created_at BETWEEN $2 AND $3
		GROUP BY bucket ORDER BY bucket`
	from, to := filter.From, filter.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if err := r.db.SelectContext(ctx, &trendRows, trendQ, filter.OrganizationID, from, to); err != nil {
		return nil, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}
	for _, row := range trendRows {
		stats.Trend = append(stats.Trend, alert.TrendPoint{Bucket: row.Bucket, Count: row.Count})
	}

	return stats, nil
}

func (r *AlertRepository) DeleteResolvedOlderThan(ctx context.Context, organizationID string, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM alerts WHERE organization_id = $1 AND status = 'resolved' AND resolved_at < $2`,
		organizationID, cutoff)
	if err != nil {
		return 0, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func rowToAlert(row *alertRow) (*alert.Alert, error) {
	a := &alert.Alert{
		ID:              row.ID,
		OrganizationID:  row.OrganizationID,
		Source:          row.Source,
		Type:            row.Type,
		Title:           row.Title,
		Description:     row.Description,
		Severity:        alert.Severity(row.Severity),
		Status:          alert.Status(row.Status),
		CreatedAt:       row.CreatedAt,
		UpdatedAt:       row.UpdatedAt,
		AcknowledgedAt:  row.AcknowledgedAt,
		AcknowledgedBy:  row.AcknowledgedBy,
		ResolvedAt:      row.ResolvedAt,
		ResolvedBy:      row.ResolvedBy,
		ResolutionNotes: row.ResolutionNotes,
	}
	if len(row.Metadata) > 0 {
		if err := unmarshalJSON(row.Metadata, &a.Metadata); err != nil {
			return nil, aerrors.Wrap(aerrors.KindDatabase, "alert", err)
		}
	}
	return a, nil
}
