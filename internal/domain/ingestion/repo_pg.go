package ingestion

import (
	"context"

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

func NewRepoPG(pool *pgxpool.Pool) UploadRepository { return &repoPG{pool: pool} }

const uploadCols = `id, filename, source, status, row_count, error_count,
	error_detail, received_at, completed_at`

func scanUpload(row pgx.Row) (*Upload, error) {
	var u Upload
	err := row.Scan(&u.ID, &u.Filename, &u.Source, &u.Status, &u.RowCount, &u.ErrorCount,
		&u.ErrorDetail, &u.ReceivedAt, &u.CompletedAt)
	return &u, err
}

func (r *repoPG) Create(ctx context.Context, u *Upload) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO uploads (id, filename, source, status)
		VALUES ($1, $2, $3, $4)`,
		u.ID, u.Filename, u.Source, u.Status)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Upload, error) {
	return scanUpload(conn(ctx, r.pool).QueryRow(ctx, `SELECT `+uploadCols+` FROM uploads WHERE id = $1`, id))
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Upload, int, error) {
	var total int
	if err := conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM uploads`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn(ctx, r.pool).Query(ctx, `SELECT `+uploadCols+` FROM uploads ORDER BY received_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Upload
	for rows.Next() {
		u, err := scanUpload(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, u)
	}
	return items, total, nil
}

func (r *repoPG) Update(ctx context.Context, u *Upload) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE uploads SET status=$2, row_count=$3, error_count=$4,
			error_detail=$5, completed_at=$6
		WHERE id = $1`,
		u.ID, u.Status, u.RowCount, u.ErrorCount, u.ErrorDetail, u.CompletedAt)
	return err
}
