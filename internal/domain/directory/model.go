package directory

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("record already exists")
)

// InvalidError reports a rejected field on a directory record.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Staff roles a provider record may carry. Only RoleProvider can own
// appointments; the others exist so every token subject can be registered.
const (
	RoleAdministrator = "administrator"
	RoleProvider      = "provider"
	RoleFrontDesk     = "front_desk"
	RoleSupport       = "support"
)

var knownRoles = map[string]bool{
	RoleAdministrator: true,
	RoleProvider:      true,
	RoleFrontDesk:     true,
	RoleSupport:       true,
}

type Patient struct {
	ID                 uuid.UUID  `json:"id"`
	MRN                string     `json:"mrn"`
	FirstName          string     `json:"first_name"`
	LastName           string     `json:"last_name"`
	BirthDate          *time.Time `json:"birth_date,omitempty"`
	Phone              string     `json:"phone,omitempty"`
	Email              string     `json:"email,omitempty"`
	AssignedProviderID *uuid.UUID `json:"assigned_provider_id,omitempty"`
	Active             bool       `json:"active"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (p *Patient) normalize() {
	p.MRN = strings.TrimSpace(p.MRN)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Email = strings.TrimSpace(p.Email)
}

func (p *Patient) validate() error {
	if p.MRN == "" {
		return &InvalidError{Field: "mrn", Reason: "is required"}
	}
	if p.FirstName == "" {
		return &InvalidError{Field: "first_name", Reason: "is required"}
	}
	if p.LastName == "" {
		return &InvalidError{Field: "last_name", Reason: "is required"}
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return &InvalidError{Field: "email", Reason: "is not a valid address"}
		}
	}
	return nil
}

type Provider struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	Specialty string    `json:"specialty,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Provider) normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Role = strings.ToLower(strings.TrimSpace(p.Role))
	p.Specialty = strings.TrimSpace(p.Specialty)
	if p.Role == "" {
		p.Role = RoleProvider
	}
}

func (p *Provider) validate() error {
	if p.FirstName == "" {
		return &InvalidError{Field: "first_name", Reason: "is required"}
	}
	if p.LastName == "" {
		return &InvalidError{Field: "last_name", Reason: "is required"}
	}
	if !knownRoles[p.Role] {
		return &InvalidError{Field: "role", Reason: fmt.Sprintf("unknown role %q", p.Role)}
	}
	return nil
}
