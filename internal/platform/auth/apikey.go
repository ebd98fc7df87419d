package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrKeyNotFound indicates the requested API key does not exist.
	ErrKeyNotFound = errors.New("api key not found")

	// ErrKeyRevoked indicates the API key can no longer be used.
	ErrKeyRevoked = errors.New("api key revoked")

	// ErrKeyExpired indicates the API key has passed its expiry.
	ErrKeyExpired = errors.New("api key expired")

	// ErrInvalidKey indicates the raw key matches no stored hash.
	ErrInvalidKey = errors.New("invalid api key")

	// ErrInvalidScope indicates a malformed or unknown scope string.
	ErrInvalidScope = errors.New("invalid scope")
)

const (
	// apiKeyPrefix marks raw keys so they are recognizable in headers,
	// configuration files and logs.
	apiKeyPrefix = "up_k1_"

	apiKeyBytes = 16
)

// APIKey is a managed credential for programmatic access, typically a
// clearinghouse integration pushing claims without an interactive login. Only
// the SHA-256 hash of the key material is stored.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	KeyPrefix  string     `json:"key_prefix"`
	TenantID   string     `json:"tenant_id"`
	Scopes     []string   `json:"scopes"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

func (k *APIKey) Revoked() bool { return k.RevokedAt != nil }

func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}

// scopeResources are the API resources a key scope may name, mirroring the
// /api/v1 surface.
var scopeResources = map[string]bool{
	"claims":  true,
	"payers":  true,
	"uploads": true,
	"drift":   true,
	"alerts":  true,
	"reports": true,
}

// validateScopes accepts "resource:operation" strings where resource is one
// of the API resources (or "*") and operation is read, write or "*".
func validateScopes(scopes []string) error {
	for _, s := range scopes {
		resource, operation, ok := strings.Cut(s, ":")
		if !ok {
			return fmt.Errorf("%w: %q must be resource:operation", ErrInvalidScope, s)
		}
		if resource != "*" && !scopeResources[resource] {
			return fmt.Errorf("%w: unknown resource %q", ErrInvalidScope, resource)
		}
		if operation != "read" && operation != "write" && operation != "*" {
			return fmt.Errorf("%w: operation must be read, write or *, got %q", ErrInvalidScope, operation)
		}
	}
	return nil
}

func newRawKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return apiKeyPrefix + hex.EncodeToString(b), nil
}

func hashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// APIKeyManager owns the key lifecycle: generation, validation, revocation
// and rotation.
type APIKeyManager struct {
	store APIKeyStore
	now   func() time.Time
}

func NewAPIKeyManager(store APIKeyStore) *APIKeyManager {
	return &APIKeyManager{store: store, now: time.Now}
}

// Generate creates a key and returns it together with the raw key string.
// The raw key is available exactly once, here.
func (m *APIKeyManager) Generate(ctx context.Context, name, tenantID string, scopes []string, expiresAt *time.Time) (*APIKey, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("name is required")
	}
	if err := validateScopes(scopes); err != nil {
		return nil, "", err
	}
	raw, err := newRawKey()
	if err != nil {
		return nil, "", fmt.Errorf("generating key material: %w", err)
	}
	key := &APIKey{
		ID:        uuid.New(),
		Name:      name,
		KeyHash:   hashKey(raw),
		KeyPrefix: raw[:len(apiKeyPrefix)+6],
		TenantID:  tenantID,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
		CreatedAt: m.now().UTC(),
	}
	if err := m.store.Create(ctx, key); err != nil {
		return nil, "", fmt.Errorf("storing key: %w", err)
	}
	return key, raw, nil
}

// Validate resolves a raw key to its record, rejecting revoked and expired
// keys, and touches LastUsedAt.
func (m *APIKeyManager) Validate(ctx context.Context, raw string) (*APIKey, error) {
	key, err := m.store.GetByHash(ctx, hashKey(raw))
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("looking up key: %w", err)
	}
	if key.Revoked() {
		return nil, ErrKeyRevoked
	}
	now := m.now().UTC()
	if key.Expired(now) {
		return nil, ErrKeyExpired
	}
	key.LastUsedAt = &now
	// A failed touch must not fail the request.
	_ = m.store.Update(ctx, key)
	return key, nil
}

// Revoke marks the key unusable. Revoking an already revoked key succeeds.
func (m *APIKeyManager) Revoke(ctx context.Context, id uuid.UUID) error {
	key, err := m.store.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if key.Revoked() {
		return nil
	}
	now := m.now().UTC()
	key.RevokedAt = &now
	return m.store.Update(ctx, key)
}

// Rotate revokes the key and issues a replacement with the same name, tenant,
// scopes and expiry.
func (m *APIKeyManager) Rotate(ctx context.Context, id uuid.UUID) (*APIKey, string, error) {
	old, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if err := m.Revoke(ctx, id); err != nil {
		return nil, "", fmt.Errorf("revoking old key: %w", err)
	}
	return m.Generate(ctx, old.Name, old.TenantID, old.Scopes, old.ExpiresAt)
}

// Get returns one key by ID.
func (m *APIKeyManager) Get(ctx context.Context, id uuid.UUID) (*APIKey, error) {
	return m.store.GetByID(ctx, id)
}

// List returns the tenant's keys with pagination.
func (m *APIKeyManager) List(ctx context.Context, tenantID string, limit, offset int) ([]*APIKey, int, error) {
	return m.store.ListByTenant(ctx, tenantID, limit, offset)
}
