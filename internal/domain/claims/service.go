package claims

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	payers PayerRepository
	claims ClaimRepository
}

func NewService(payers PayerRepository, claims ClaimRepository) *Service {
	return &Service{payers: payers, claims: claims}
}

// -- Payer --

func (s *Service) CreatePayer(ctx context.Context, p *Payer) error {
	if p.PayerCode == "" {
		return fmt.Errorf("payer_code is required")
	}
	if p.Name == "" {
		p.Name = p.PayerCode
	}
	return s.payers.Create(ctx, p)
}

func (s *Service) GetPayer(ctx context.Context, id uuid.UUID) (*Payer, error) {
	return s.payers.GetByID(ctx, id)
}

func (s *Service) GetPayerByCode(ctx context.Context, code string) (*Payer, error) {
	return s.payers.GetByCode(ctx, code)
}

// EnsurePayer returns the payer with the given code, creating it when absent.
// Ingestion uses this to auto-register payers appearing in claim feeds.
func (s *Service) EnsurePayer(ctx context.Context, code, name string) (*Payer, error) {
	if code == "" {
		return nil, fmt.Errorf("payer_code is required")
	}
	if p, err := s.payers.GetByCode(ctx, code); err == nil {
		return p, nil
	}
	p := &Payer{PayerCode: code, Name: name}
	if p.Name == "" {
		p.Name = code
	}
	if err := s.payers.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPayers(ctx context.Context, limit, offset int) ([]*Payer, int, error) {
	return s.payers.List(ctx, limit, offset)
}

func (s *Service) UpdatePayer(ctx context.Context, p *Payer) error {
	if p.PayerCode == "" {
		return fmt.Errorf("payer_code is required")
	}
	return s.payers.Update(ctx, p)
}

func (s *Service) DeletePayer(ctx context.Context, id uuid.UUID) error {
	return s.payers.Delete(ctx, id)
}

// -- Claim --

var validClaimStatuses = map[string]bool{
	StatusSubmitted: true, StatusPending: true, StatusPaid: true, StatusDenied: true,
}

// validateClaim enforces claim consistency rules shared by create, update,
// and ingestion paths.
func validateClaim(c *Claim) error {
	if c.PayerID == uuid.Nil {
		return fmt.Errorf("payer_id is required")
	}
	if c.MemberRef == "" {
		return fmt.Errorf("member_ref is required")
	}
	if c.ProcedureCode == "" {
		return fmt.Errorf("procedure_code is required")
	}
	if c.BilledAmount < 0 {
		return fmt.Errorf("billed_amount must not be negative")
	}
	if c.Status == "" {
		c.Status = StatusSubmitted
	}
	if !validClaimStatuses[c.Status] {
		return fmt.Errorf("invalid claim status: %s", c.Status)
	}
	if c.SubmittedAt.IsZero() {
		return fmt.Errorf("submitted_at is required")
	}
	if c.Decided() && c.DecidedAt == nil {
		return fmt.Errorf("status %s requires decided_at", c.Status)
	}
	if c.DecidedAt != nil && c.DecidedAt.Before(c.SubmittedAt) {
		return fmt.Errorf("decided_at must not precede submitted_at")
	}
	if c.DenialCode != nil && c.Status != StatusDenied {
		return fmt.Errorf("denial_code only valid for denied claims")
	}
	return nil
}

func (s *Service) CreateClaim(ctx context.Context, c *Claim) error {
	if err := validateClaim(c); err != nil {
		return err
	}
	return s.claims.Create(ctx, c)
}

// UpsertClaim validates and inserts-or-updates a claim by external ref.
func (s *Service) UpsertClaim(ctx context.Context, c *Claim) error {
	if err := validateClaim(c); err != nil {
		return err
	}
	return s.claims.Upsert(ctx, c)
}

func (s *Service) GetClaim(ctx context.Context, id uuid.UUID) (*Claim, error) {
	return s.claims.GetByID(ctx, id)
}

func (s *Service) ListClaims(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	if f.Status != nil && !validClaimStatuses[*f.Status] {
		return nil, 0, fmt.Errorf("invalid claim status: %s", *f.Status)
	}
	return s.claims.List(ctx, f, limit, offset)
}

func (s *Service) UpdateClaim(ctx context.Context, c *Claim) error {
	if err := validateClaim(c); err != nil {
		return err
	}
	return s.claims.Update(ctx, c)
}

func (s *Service) DeleteClaim(ctx context.Context, id uuid.UUID) error {
	return s.claims.Delete(ctx, id)
}
