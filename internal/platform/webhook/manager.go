package webhook

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeliveryResult is the per-endpoint outcome of a Deliver call.
type DeliveryResult struct {
	EndpointID uuid.UUID `json:"endpoint_id"`
	Succeeded  bool      `json:"succeeded"`
	StatusCode int       `json:"status_code"`
	Error      string    `json:"error,omitempty"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

// WithMaxAttempts caps sends per delivery, the first attempt included.
func WithMaxAttempts(n int) Option {
	return func(m *Manager) { m.maxAttempts = n }
}

// WithBackoff overrides the wait before retry attempt n+1.
func WithBackoff(fn func(attempt int) time.Duration) Option {
	return func(m *Manager) { m.backoff = fn }
}

// Manager registers endpoints and pushes events to them.
type Manager struct {
	store       Store
	client      *http.Client
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		client:      &http.Client{Timeout: 10 * time.Second},
		maxAttempts: 3,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt) * 2 * time.Second
		},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register validates and stores a new endpoint. An empty secret is replaced
// with a random one; an empty subscription defaults to alert events.
func (m *Manager) Register(ctx context.Context, tenantID, rawURL, secret string, events []string) (*Endpoint, error) {
	if err := validateURL(rawURL); err != nil {
		return nil, err
	}
	if secret == "" {
		s, err := randomSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret: %w", err)
		}
		secret = s
	}
	if len(events) == 0 {
		events = []string{"alert.*"}
	}
	ep := &Endpoint{
		ID:        uuid.New(),
		TenantID:  tenantID,
		URL:       rawURL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.SaveEndpoint(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

// Endpoint returns one registered endpoint.
func (m *Manager) Endpoint(ctx context.Context, id uuid.UUID) (*Endpoint, error) {
	return m.store.Endpoint(ctx, id)
}

// Endpoints lists the tenant's registered endpoints.
func (m *Manager) Endpoints(ctx context.Context, tenantID string) ([]*Endpoint, error) {
	return m.store.Endpoints(ctx, tenantID)
}

// Remove unregisters an endpoint. Its delivery log goes with it.
func (m *Manager) Remove(ctx context.Context, id uuid.UUID) error {
	return m.store.RemoveEndpoint(ctx, id)
}

// DeliveryLog returns the endpoint's recorded deliveries, newest first.
func (m *Manager) DeliveryLog(ctx context.Context, endpointID uuid.UUID, limit, offset int) ([]*Delivery, int, error) {
	return m.store.Deliveries(ctx, endpointID, limit, offset)
}

// Deliver pushes the event to every active, subscribed endpoint of the
// event's tenant. Failed sends are retried with backoff; one Delivery row is
// recorded per endpoint with the final outcome.
func (m *Manager) Deliver(ctx context.Context, event Event) []DeliveryResult {
	endpoints, err := m.store.Endpoints(ctx, event.TenantID)
	if err != nil {
		return nil
	}
	var results []DeliveryResult
	for _, ep := range endpoints {
		if !ep.Active || !subscribed(ep, event.Type) {
			continue
		}
		d := m.send(ctx, ep, event)
		results = append(results, DeliveryResult{
			EndpointID: ep.ID,
			Succeeded:  d.Succeeded,
			StatusCode: d.StatusCode,
			Error:      d.Error,
		})
	}
	return results
}

func (m *Manager) send(ctx context.Context, ep *Endpoint, event Event) *Delivery {
	payload, _ := json.Marshal(event)
	d := &Delivery{
		ID:         uuid.New(),
		EndpointID: ep.ID,
		EventID:    event.ID,
		EventType:  event.Type,
		Payload:    payload,
	}

	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		d.Attempts = attempt
		code, err := m.post(ctx, ep, payload, d.ID)
		d.StatusCode = code
		if err == nil {
			d.Succeeded = true
			d.Error = ""
			break
		}
		d.Error = err.Error()
		if attempt == m.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			d.Error = ctx.Err().Error()
			d.DeliveredAt = time.Now().UTC()
			m.store.SaveDelivery(ctx, d)
			return d
		case <-time.After(m.backoff(attempt)):
		}
	}
	d.DeliveredAt = time.Now().UTC()
	m.store.SaveDelivery(ctx, d)
	return d
}

func (m *Manager) post(ctx context.Context, ep *Endpoint, payload []byte, deliveryID uuid.UUID) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Upstream-Signature", "sha256="+SignPayload(payload, ep.Secret))
	req.Header.Set("X-Upstream-Delivery", deliveryID.String())

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// subscribed reports whether the endpoint wants the event type.
func subscribed(ep *Endpoint, eventType string) bool {
	for _, pattern := range ep.Events {
		if patternMatches(pattern, eventType) {
			return true
		}
	}
	return false
}

// patternMatches compares "resource.action" patterns segment by segment, with
// "*" matching any single segment.
func patternMatches(pattern, eventType string) bool {
	p := strings.SplitN(pattern, ".", 2)
	e := strings.SplitN(eventType, ".", 2)
	if len(p) != 2 || len(e) != 2 {
		return pattern == eventType
	}
	return (p[0] == "*" || p[0] == e[0]) && (p[1] == "*" || p[1] == e[1])
}

func validateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", u.Scheme)
	}
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
