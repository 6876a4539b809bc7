package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AppointmentRepository is the storage collaborator for appointments.
// FindByID returns a *NotFoundError when the appointment is absent.
type AppointmentRepository interface {
	Save(ctx context.Context, a *Appointment) (uuid.UUID, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// FindByProviderAndRange returns the provider's appointments whose
	// interval intersects [start, end), in any state.
	FindByProviderAndRange(ctx context.Context, providerID uuid.UUID, start, end time.Time) ([]*Appointment, error)
	FindByState(ctx context.Context, state State) ([]*Appointment, error)
	Search(ctx context.Context, f Filter) ([]*Appointment, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Directory resolves patient and provider references.
// Both lookups return a *NotFoundError when the record is absent.
type Directory interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProvider(ctx context.Context, id uuid.UUID) (*Provider, error)
}

// Locker provides mutual exclusion keyed by string. Create and edit hold the
// provider's key across validate-then-persist; transitions hold the
// appointment's key. The returned release func must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

func providerKey(id uuid.UUID) string    { return "provider:" + id.String() }
func appointmentKey(id uuid.UUID) string { return "appointment:" + id.String() }

// EventPublisher receives lifecycle events after they are committed.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Event describes a committed change to an appointment.
type Event struct {
	Type          string       `json:"type"`
	AppointmentID uuid.UUID    `json:"appointment_id"`
	ProviderID    uuid.UUID    `json:"provider_id"`
	PatientID     uuid.UUID    `json:"patient_id"`
	State         State        `json:"state"`
	Start         time.Time    `json:"start"`
	End           time.Time    `json:"end"`
	ActorID       uuid.UUID    `json:"actor_id"`
	ActorRole     Role         `json:"actor_role"`
	OccurredAt    time.Time    `json:"occurred_at"`
	Snapshot      *Appointment `json:"appointment,omitempty"`
}

const (
	EventCreated   = "appointment.created"
	EventConfirmed = "appointment.confirmed"
	EventCancelled = "appointment.cancelled"
	EventCompleted = "appointment.completed"
	EventEdited    = "appointment.edited"
	EventDeleted   = "appointment.deleted"
)
