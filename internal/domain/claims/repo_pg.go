package claims

import (
	"context"
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

// =========== Payer Repository ===========

type payerRepoPG struct{ pool *pgxpool.Pool }

func NewPayerRepoPG(pool *pgxpool.Pool) PayerRepository { return &payerRepoPG{pool: pool} }

func (r *payerRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const payerCols = `id, payer_code, name, created_at, updated_at`

func (r *payerRepoPG) scanPayer(row pgx.Row) (*Payer, error) {
	var p Payer
	err := row.Scan(&p.ID, &p.PayerCode, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func (r *payerRepoPG) Create(ctx context.Context, p *Payer) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payers (id, payer_code, name)
		VALUES ($1, $2, $3)`,
		p.ID, p.PayerCode, p.Name)
	return err
}

func (r *payerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Payer, error) {
	return r.scanPayer(r.conn(ctx).QueryRow(ctx, `SELECT `+payerCols+` FROM payers WHERE id = $1`, id))
}

func (r *payerRepoPG) GetByCode(ctx context.Context, code string) (*Payer, error) {
	return r.scanPayer(r.conn(ctx).QueryRow(ctx, `SELECT `+payerCols+` FROM payers WHERE payer_code = $1`, code))
}

func (r *payerRepoPG) List(ctx context.Context, limit, offset int) ([]*Payer, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM payers`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+payerCols+` FROM payers ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Payer
	for rows.Next() {
		p, err := r.scanPayer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, nil
}

func (r *payerRepoPG) Update(ctx context.Context, p *Payer) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payers SET payer_code=$2, name=$3, updated_at=NOW()
		WHERE id = $1`,
		p.ID, p.PayerCode, p.Name)
	return err
}

func (r *payerRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM payers WHERE id = $1`, id)
	return err
}

// =========== Claim Repository ===========

type claimRepoPG struct{ pool *pgxpool.Pool }

func NewClaimRepoPG(pool *pgxpool.Pool) ClaimRepository { return &claimRepoPG{pool: pool} }

func (r *claimRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const claimCols = `id, external_ref, payer_id, member_ref, provider_ref,
	procedure_code, diagnosis_code, billed_amount, paid_amount, status,
	denial_code, submitted_at, decided_at, upload_id, created_at, updated_at`

func (r *claimRepoPG) scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ExternalRef, &c.PayerID, &c.MemberRef, &c.ProviderRef,
		&c.ProcedureCode, &c.DiagnosisCode, &c.BilledAmount, &c.PaidAmount, &c.Status,
		&c.DenialCode, &c.SubmittedAt, &c.DecidedAt, &c.UploadID, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, external_ref, payer_id, member_ref, provider_ref,
			procedure_code, diagnosis_code, billed_amount, paid_amount, status,
			denial_code, submitted_at, decided_at, upload_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.ExternalRef, c.PayerID, c.MemberRef, c.ProviderRef,
		c.ProcedureCode, c.DiagnosisCode, c.BilledAmount, c.PaidAmount, c.Status,
		c.DenialCode, c.SubmittedAt, c.DecidedAt, c.UploadID)
	return err
}

func (r *claimRepoPG) Upsert(ctx context.Context, c *Claim) error {
	if c.ExternalRef == nil || *c.ExternalRef == "" {
		return r.Create(ctx, c)
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO claims (id, external_ref, payer_id, member_ref, provider_ref,
			procedure_code, diagnosis_code, billed_amount, paid_amount, status,
			denial_code, submitted_at, decided_at, upload_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (external_ref) DO UPDATE SET
			payer_id=EXCLUDED.payer_id, member_ref=EXCLUDED.member_ref,
			provider_ref=EXCLUDED.provider_ref, procedure_code=EXCLUDED.procedure_code,
			diagnosis_code=EXCLUDED.diagnosis_code, billed_amount=EXCLUDED.billed_amount,
			paid_amount=EXCLUDED.paid_amount, status=EXCLUDED.status,
			denial_code=EXCLUDED.denial_code, submitted_at=EXCLUDED.submitted_at,
			decided_at=EXCLUDED.decided_at, upload_id=EXCLUDED.upload_id,
			updated_at=NOW()`,
		c.ID, c.ExternalRef, c.PayerID, c.MemberRef, c.ProviderRef,
		c.ProcedureCode, c.DiagnosisCode, c.BilledAmount, c.PaidAmount, c.Status,
		c.DenialCode, c.SubmittedAt, c.DecidedAt, c.UploadID)
	return err
}

func (r *claimRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return r.scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM claims WHERE id = $1`, id))
}

// buildFilter renders the WHERE clause for a ClaimFilter. Args are numbered
// from startArg.
func buildFilter(f ClaimFilter, startArg int) (string, []interface{}) {
	where := ""
	var args []interface{}
	n := startArg
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
	if f.PayerID != nil {
		add("payer_id = $%d", *f.PayerID)
	}
	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.From != nil {
		add("submitted_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("submitted_at < $%d", *f.To)
	}
	return where, args
}

func (r *claimRepoPG) List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	where, args := buildFilter(f, 1)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM claims`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM claims%s ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d`,
		claimCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := r.scanClaim(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, nil
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE claims SET payer_id=$2, member_ref=$3, provider_ref=$4,
			procedure_code=$5, diagnosis_code=$6, billed_amount=$7, paid_amount=$8,
			status=$9, denial_code=$10, submitted_at=$11, decided_at=$12, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.PayerID, c.MemberRef, c.ProviderRef,
		c.ProcedureCode, c.DiagnosisCode, c.BilledAmount, c.PaidAmount,
		c.Status, c.DenialCode, c.SubmittedAt, c.DecidedAt)
	return err
}

func (r *claimRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM claims WHERE id = $1`, id)
	return err
}
