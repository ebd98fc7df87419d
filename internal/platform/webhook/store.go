package webhook

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/upstream/upstream/internal/platform/db"
)

// ErrEndpointNotFound is returned for lookups of unknown endpoint IDs.
var ErrEndpointNotFound = errors.New("webhook endpoint not found")

// Endpoint is a customer-registered delivery target, typically a Slack bridge
// or the customer's incident tooling.
type Endpoint struct {
	ID        uuid.UUID `json:"id"`
	TenantID  string    `json:"tenant_id"`
	URL       string    `json:"url"`
	Secret    string    `json:"secret,omitempty"`
	Events    []string  `json:"events"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Delivery records the final outcome of sending one event to one endpoint.
// Attempts counts the sends made, including retries.
type Delivery struct {
	ID          uuid.UUID `json:"id"`
	EndpointID  uuid.UUID `json:"endpoint_id"`
	EventID     uuid.UUID `json:"event_id"`
	EventType   string    `json:"event_type"`
	Payload     []byte    `json:"payload"`
	Attempts    int       `json:"attempts"`
	StatusCode  int       `json:"status_code"`
	Error       string    `json:"error,omitempty"`
	Succeeded   bool      `json:"succeeded"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Store persists endpoints and their delivery log.
type Store interface {
	SaveEndpoint(ctx context.Context, ep *Endpoint) error
	Endpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error)
	Endpoints(ctx context.Context, tenantID string) ([]*Endpoint, error)
	RemoveEndpoint(ctx context.Context, id uuid.UUID) error
	SaveDelivery(ctx context.Context, d *Delivery) error
	Deliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error)
}

// InMemoryStore keeps endpoints and deliveries in process memory. Used in
// tests and single-node development setups.
type InMemoryStore struct {
	mu         sync.RWMutex
	endpoints  []*Endpoint
	deliveries []*Delivery
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func copyEndpoint(ep *Endpoint) *Endpoint {
	cp := *ep
	cp.Events = append([]string(nil), ep.Events...)
	return &cp
}

func (s *InMemoryStore) SaveEndpoint(_ context.Context, ep *Endpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.endpoints {
		if existing.ID == ep.ID {
			s.endpoints[i] = copyEndpoint(ep)
			return nil
		}
	}
	s.endpoints = append(s.endpoints, copyEndpoint(ep))
	return nil
}

func (s *InMemoryStore) Endpoint(_ context.Context, id uuid.UUID) (*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ep := range s.endpoints {
		if ep.ID == id {
			return copyEndpoint(ep), nil
		}
	}
	return nil, ErrEndpointNotFound
}

func (s *InMemoryStore) Endpoints(_ context.Context, tenantID string) ([]*Endpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Endpoint
	for _, ep := range s.endpoints {
		if tenantID == "" || ep.TenantID == tenantID {
			out = append(out, copyEndpoint(ep))
		}
	}
	return out, nil
}

func (s *InMemoryStore) RemoveEndpoint(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ep := range s.endpoints {
		if ep.ID == id {
			s.endpoints = append(s.endpoints[:i], s.endpoints[i+1:]...)
			return nil
		}
	}
	return ErrEndpointNotFound
}

func (s *InMemoryStore) SaveDelivery(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	cp.Payload = append([]byte(nil), d.Payload...)
	s.deliveries = append(s.deliveries, &cp)
	return nil
}

func (s *InMemoryStore) Deliveries(_ context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matching []*Delivery
	// Newest first, matching the SQL store.
	for i := len(s.deliveries) - 1; i >= 0; i-- {
		if s.deliveries[i].EndpointID == endpointID {
			cp := *s.deliveries[i]
			matching = append(matching, &cp)
		}
	}
	total := len(matching)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matching[offset:end], total, nil
}

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// StorePG persists endpoints in the tenant schema; the search_path pinned on
// the request connection provides isolation, so queries carry no tenant
// filter.
type StorePG struct{ pool *pgxpool.Pool }

func NewStorePG(pool *pgxpool.Pool) *StorePG { return &StorePG{pool: pool} }

func (s *StorePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *StorePG) SaveEndpoint(ctx context.Context, ep *Endpoint) error {
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = time.Now().UTC()
	}
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_endpoints (id, url, secret, events, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			url = EXCLUDED.url, secret = EXCLUDED.secret,
			events = EXCLUDED.events, active = EXCLUDED.active`,
		ep.ID, ep.URL, ep.Secret, ep.Events, ep.Active, ep.CreatedAt)
	return err
}

func (s *StorePG) scanEndpoint(ctx context.Context, row pgx.Row) (*Endpoint, error) {
	var ep Endpoint
	err := row.Scan(&ep.ID, &ep.URL, &ep.Secret, &ep.Events, &ep.Active, &ep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, err
	}
	ep.TenantID = db.TenantFromContext(ctx)
	return &ep, nil
}

func (s *StorePG) Endpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return s.scanEndpoint(ctx, s.conn(ctx).QueryRow(ctx, `
		SELECT id, url, secret, events, active, created_at
		FROM webhook_endpoints WHERE id = $1`, id))
}

func (s *StorePG) Endpoints(ctx context.Context, _ string) ([]*Endpoint, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, url, secret, events, active, created_at
		FROM webhook_endpoints ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Endpoint
	for rows.Next() {
		ep, err := s.scanEndpoint(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

func (s *StorePG) RemoveEndpoint(ctx context.Context, id uuid.UUID) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

func (s *StorePG) SaveDelivery(ctx context.Context, d *Delivery) error {
	_, err := s.conn(ctx).Exec(ctx, `
		INSERT INTO webhook_deliveries (id, endpoint_id, event_id, event_type,
			payload, attempts, status_code, error, succeeded, delivered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		d.ID, d.EndpointID, d.EventID, d.EventType,
		d.Payload, d.Attempts, d.StatusCode, d.Error, d.Succeeded, d.DeliveredAt)
	return err
}

func (s *StorePG) Deliveries(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	var total int
	if err := s.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE endpoint_id = $1`, endpointID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := s.conn(ctx).Query(ctx, `
		SELECT id, endpoint_id, event_id, event_type, payload, attempts,
			status_code, error, succeeded, delivered_at
		FROM webhook_deliveries WHERE endpoint_id = $1
		ORDER BY delivered_at DESC LIMIT $2 OFFSET $3`, endpointID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []*Delivery
	for rows.Next() {
		var d Delivery
		if err := rows.Scan(&d.ID, &d.EndpointID, &d.EventID, &d.EventType, &d.Payload,
			&d.Attempts, &d.StatusCode, &d.Error, &d.Succeeded, &d.DeliveredAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &d)
	}
	return out, total, rows.Err()
}
