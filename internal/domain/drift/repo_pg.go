package drift

import (
	"context"
	"fmt"
	"time"

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

// =========== Run Repository ===========

type runRepoPG struct{ pool *pgxpool.Pool }

func NewRunRepoPG(pool *pgxpool.Pool) RunRepository { return &runRepoPG{pool: pool} }

const runCols = `id, status, asof, baseline_weeks, current_weeks,
	payers_evaluated, events_detected, summary, started_at, completed_at,
	error_detail, created_at`

func scanRun(row pgx.Row) (*ReportRun, error) {
	var r ReportRun
	err := row.Scan(&r.ID, &r.Status, &r.AsOf, &r.BaselineWeeks, &r.CurrentWeeks,
		&r.PayersEvaluated, &r.EventsDetected, &r.Summary, &r.StartedAt, &r.CompletedAt,
		&r.ErrorDetail, &r.CreatedAt)
	return &r, err
}

func (r *runRepoPG) Create(ctx context.Context, run *ReportRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO report_runs (id, status, asof, baseline_weeks, current_weeks)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.Status, run.AsOf, run.BaselineWeeks, run.CurrentWeeks)
	return err
}

func (r *runRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ReportRun, error) {
	return scanRun(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+runCols+` FROM report_runs WHERE id = $1`, id))
}

func (r *runRepoPG) List(ctx context.Context, limit, offset int) ([]*ReportRun, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM report_runs`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+runCols+` FROM report_runs ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ReportRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, run)
	}
	return items, total, nil
}

func (r *runRepoPG) Update(ctx context.Context, run *ReportRun) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE report_runs SET status=$2, payers_evaluated=$3, events_detected=$4,
			summary=$5, started_at=$6, completed_at=$7, error_detail=$8
		WHERE id = $1`,
		run.ID, run.Status, run.PayersEvaluated, run.EventsDetected,
		run.Summary, run.StartedAt, run.CompletedAt, run.ErrorDetail)
	return err
}

// =========== Event Repository ===========

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository { return &eventRepoPG{pool: pool} }

const eventCols = `id, report_run_id, payer_id, metric, procedure_category,
	baseline_value, current_value, delta, severity, confidence,
	window_start, window_end, created_at`

func scanEvent(row pgx.Row) (*DriftEvent, error) {
	var e DriftEvent
	err := row.Scan(&e.ID, &e.ReportRunID, &e.PayerID, &e.Metric, &e.ProcedureCategory,
		&e.BaselineValue, &e.CurrentValue, &e.Delta, &e.Severity, &e.Confidence,
		&e.WindowStart, &e.WindowEnd, &e.CreatedAt)
	return &e, err
}

func (r *eventRepoPG) Create(ctx context.Context, e *DriftEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO drift_events (id, report_run_id, payer_id, metric, procedure_category,
			baseline_value, current_value, delta, severity, confidence,
			window_start, window_end)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.ReportRunID, e.PayerID, e.Metric, e.ProcedureCategory,
		e.BaselineValue, e.CurrentValue, e.Delta, e.Severity, e.Confidence,
		e.WindowStart, e.WindowEnd)
	return err
}

func (r *eventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DriftEvent, error) {
	return scanEvent(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+eventCols+` FROM drift_events WHERE id = $1`, id))
}

func (r *eventRepoPG) List(ctx context.Context, f EventFilter, limit, offset int) ([]*DriftEvent, int, error) {
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
	if f.ReportRunID != nil {
		add("report_run_id = $%d", *f.ReportRunID)
	}
	if f.PayerID != nil {
		add("payer_id = $%d", *f.PayerID)
	}
	if f.Metric != nil {
		add("metric = $%d", *f.Metric)
	}

	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM drift_events`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM drift_events%s ORDER BY severity DESC, created_at DESC LIMIT $%d OFFSET $%d`,
		eventCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DriftEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, nil
}

// =========== Aggregate Repository ===========

type aggregateRepoPG struct{ pool *pgxpool.Pool }

func NewAggregateRepoPG(pool *pgxpool.Pool) AggregateRepository { return &aggregateRepoPG{pool: pool} }

func (r *aggregateRepoPG) PayerStats(ctx context.Context, from, to time.Time) (map[uuid.UUID]*PayerWindowStats, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT payer_id,
			COUNT(*) AS decided,
			COUNT(*) FILTER (WHERE status = 'denied') AS denied,
			COALESCE(SUM(billed_amount) FILTER (WHERE status = 'denied'), 0) AS denied_dollars,
			COALESCE(AVG(EXTRACT(EPOCH FROM (decided_at - submitted_at)) / 86400.0), 0) AS mean_decision_days
		FROM claims
		WHERE status IN ('paid', 'denied')
		  AND decided_at >= $1 AND decided_at < $2
		GROUP BY payer_id`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := make(map[uuid.UUID]*PayerWindowStats)
	for rows.Next() {
		var s PayerWindowStats
		if err := rows.Scan(&s.PayerID, &s.DecidedCount, &s.DeniedCount, &s.DeniedDollars, &s.MeanDecisionDays); err != nil {
			return nil, err
		}
		stats[s.PayerID] = &s
	}
	return stats, rows.Err()
}

func (r *aggregateRepoPG) CategoryDeniedDollars(ctx context.Context, from, to time.Time) ([]*CategoryStats, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT payer_id,
			LEFT(procedure_code, 3) AS category,
			COALESCE(SUM(billed_amount), 0) AS denied_dollars,
			COUNT(*) AS denied
		FROM claims
		WHERE status = 'denied'
		  AND decided_at >= $1 AND decided_at < $2
		GROUP BY payer_id, LEFT(procedure_code, 3)`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*CategoryStats
	for rows.Next() {
		var s CategoryStats
		if err := rows.Scan(&s.PayerID, &s.Category, &s.DeniedDollars, &s.DeniedCount); err != nil {
			return nil, err
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}
