package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// APIKeyStore persists API keys. Keys live in the shared schema: they must be
// resolvable before the request is pinned to a tenant connection.
type APIKeyStore interface {
	Create(ctx context.Context, key *APIKey) error
	GetByID(ctx context.Context, id uuid.UUID) (*APIKey, error)
	GetByHash(ctx context.Context, hash string) (*APIKey, error)
	ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*APIKey, int, error)
	Update(ctx context.Context, key *APIKey) error
}

type apiKeyStorePG struct{ pool *pgxpool.Pool }

func NewAPIKeyStorePG(pool *pgxpool.Pool) APIKeyStore { return &apiKeyStorePG{pool: pool} }

const apiKeyCols = `id, name, key_hash, key_prefix, tenant_id, scopes,
	expires_at, created_at, revoked_at, last_used_at`

func scanAPIKey(row pgx.Row) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.TenantID, &k.Scopes,
		&k.ExpiresAt, &k.CreatedAt, &k.RevokedAt, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return &k, nil
}

func (s *apiKeyStorePG) Create(ctx context.Context, key *APIKey) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shared.api_keys (id, name, key_hash, key_prefix, tenant_id,
			scopes, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.TenantID,
		key.Scopes, key.ExpiresAt, key.CreatedAt)
	return err
}

func (s *apiKeyStorePG) GetByID(ctx context.Context, id uuid.UUID) (*APIKey, error) {
	return scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyCols+` FROM shared.api_keys WHERE id = $1`, id))
}

func (s *apiKeyStorePG) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	return scanAPIKey(s.pool.QueryRow(ctx,
		`SELECT `+apiKeyCols+` FROM shared.api_keys WHERE key_hash = $1`, hash))
}

func (s *apiKeyStorePG) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*APIKey, int, error) {
	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM shared.api_keys WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+apiKeyCols+` FROM shared.api_keys
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, k)
	}
	return out, total, rows.Err()
}

func (s *apiKeyStorePG) Update(ctx context.Context, key *APIKey) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE shared.api_keys SET revoked_at = $2, last_used_at = $3 WHERE id = $1`,
		key.ID, key.RevokedAt, key.LastUsedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrKeyNotFound
	}
	return nil
}
