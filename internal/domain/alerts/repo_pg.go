package alerts

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upstream/upstream/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func conn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const alertCols = `id, drift_event_id, report_run_id, payer_id, metric, procedure_category,
	title, body, severity, confidence, status, suppress_reason,
	acknowledged_by, acknowledged_at, resolved_by, resolved_at,
	created_at, updated_at`

func scanAlert(row pgx.Row) (*Alert, error) {
	var a Alert
	err := row.Scan(&a.ID, &a.DriftEventID, &a.ReportRunID, &a.PayerID, &a.Metric, &a.ProcedureCategory,
		&a.Title, &a.Body, &a.Severity, &a.Confidence, &a.Status, &a.SuppressReason,
		&a.AcknowledgedBy, &a.AcknowledgedAt, &a.ResolvedBy, &a.ResolvedAt,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Alert) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO alerts (id, drift_event_id, report_run_id, payer_id, metric, procedure_category,
			title, body, severity, confidence, status, suppress_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.DriftEventID, a.ReportRunID, a.PayerID, a.Metric, a.ProcedureCategory,
		a.Title, a.Body, a.Severity, a.Confidence, a.Status, a.SuppressReason)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Alert, error) {
	return scanAlert(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+alertCols+` FROM alerts WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Alert, int, error) {
	where := ""
	var args []interface{}
	n := 1
	add := func(clause string, v interface{}) {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		where += fmt.Sprintf(clause, n)
		args = append(args, v)
		n++
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.PayerID != nil {
		add("payer_id = $%d", *f.PayerID)
	}
	if f.Metric != nil {
		add("metric = $%d", *f.Metric)
	}
	if f.ReportRunID != nil {
		add("report_run_id = $%d", *f.ReportRunID)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM alerts`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM alerts%s ORDER BY severity DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		alertCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

func (r *repoPG) Update(ctx context.Context, a *Alert) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE alerts SET severity=$2, status=$3, suppress_reason=$4,
			acknowledged_by=$5, acknowledged_at=$6, resolved_by=$7, resolved_at=$8,
			updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Severity, a.Status, a.SuppressReason,
		a.AcknowledgedBy, a.AcknowledgedAt, a.ResolvedBy, a.ResolvedAt)
	return err
}

func (r *repoPG) FindOpen(ctx context.Context, payerID uuid.UUID, metric string, category *string) (*Alert, error) {
	a, err := scanAlert(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+alertCols+` FROM alerts
		WHERE status IN ('open', 'acknowledged')
		  AND payer_id = $1 AND metric = $2
		  AND procedure_category IS NOT DISTINCT FROM $3
		ORDER BY created_at DESC LIMIT 1`, payerID, metric, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *repoPG) LastResolved(ctx context.Context, payerID uuid.UUID, metric string, category *string) (*Alert, error) {
	a, err := scanAlert(conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+alertCols+` FROM alerts
		WHERE status = 'resolved'
		  AND payer_id = $1 AND metric = $2
		  AND procedure_category IS NOT DISTINCT FROM $3
		ORDER BY resolved_at DESC LIMIT 1`, payerID, metric, category))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
