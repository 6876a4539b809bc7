package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Service struct {
	patients  PatientRepository
	providers ProviderRepository
}

func NewService(patients PatientRepository, providers ProviderRepository) *Service {
	return &Service{patients: patients, providers: providers}
}

// -- Patient --

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.normalize()
	if err := p.validate(); err != nil {
		return err
	}
	if err := s.checkAssignedProvider(ctx, p.AssignedProviderID); err != nil {
		return err
	}
	p.Active = true
	if err := s.patients.Create(ctx, p); err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// UpdatePatient replaces the editable fields of an existing patient. The
// active flag is only changed through DeactivatePatient.
func (s *Service) UpdatePatient(ctx context.Context, p *Patient) error {
	existing, err := s.patients.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.normalize()
	if err := p.validate(); err != nil {
		return err
	}
	if err := s.checkAssignedProvider(ctx, p.AssignedProviderID); err != nil {
		return err
	}
	p.Active = existing.Active
	p.CreatedAt = existing.CreatedAt
	if err := s.patients.Update(ctx, p); err != nil {
		return fmt.Errorf("update patient: %w", err)
	}
	return nil
}

func (s *Service) DeactivatePatient(ctx context.Context, id uuid.UUID) error {
	p, err := s.patients.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Active = false
	return s.patients.Update(ctx, p)
}

func (s *Service) ListPatients(ctx context.Context, f ListFilter) ([]*Patient, int, error) {
	return s.patients.List(ctx, f)
}

func (s *Service) checkAssignedProvider(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	prov, err := s.providers.GetByID(ctx, *id)
	if errors.Is(err, ErrNotFound) {
		return &InvalidError{Field: "assigned_provider_id", Reason: "unknown provider"}
	}
	if err != nil {
		return err
	}
	if prov.Role != RoleProvider {
		return &InvalidError{Field: "assigned_provider_id", Reason: "is not a provider"}
	}
	return nil
}

// -- Provider --

func (s *Service) CreateProvider(ctx context.Context, p *Provider) error {
	p.normalize()
	if err := p.validate(); err != nil {
		return err
	}
	p.Active = true
	if err := s.providers.Create(ctx, p); err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	return nil
}

func (s *Service) GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	return s.providers.GetByID(ctx, id)
}

func (s *Service) UpdateProvider(ctx context.Context, p *Provider) error {
	existing, err := s.providers.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	p.normalize()
	if err := p.validate(); err != nil {
		return err
	}
	p.Active = existing.Active
	p.CreatedAt = existing.CreatedAt
	if err := s.providers.Update(ctx, p); err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	return nil
}

func (s *Service) DeactivateProvider(ctx context.Context, id uuid.UUID) error {
	p, err := s.providers.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.Active = false
	return s.providers.Update(ctx, p)
}

func (s *Service) ListProviders(ctx context.Context, f ListFilter) ([]*Provider, int, error) {
	return s.providers.List(ctx, f)
}
