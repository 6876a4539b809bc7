package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxDurationMinutes is the longest appointment that may be booked.
const MaxDurationMinutes = 240

// State is the lifecycle state of an appointment.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

var validStates = map[State]bool{
	StatePending: true, StateConfirmed: true, StateCompleted: true, StateCancelled: true,
}

// ParseState converts a wire value into a State.
func ParseState(s string) (State, error) {
	st := State(strings.ToLower(strings.TrimSpace(s)))
	if !validStates[st] {
		return "", &ValidationError{Field: "state", Reason: fmt.Sprintf("unknown state %q", s)}
	}
	return st, nil
}

// IsActive reports whether the state counts toward conflict detection.
func (s State) IsActive() bool {
	return s == StatePending || s == StateConfirmed
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Role is the role of an actor calling the service.
type Role string

const (
	RoleAdministrator Role = "administrator"
	RoleProvider      Role = "provider"
	RoleFrontDesk     Role = "front_desk"
	RoleSupport       Role = "support"
)

// ParseRole converts a wire value into a Role.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdministrator, RoleProvider, RoleFrontDesk, RoleSupport:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Actor is the identity on whose behalf an operation runs.
type Actor struct {
	ID     uuid.UUID `json:"id"`
	Role   Role      `json:"role"`
	Active bool      `json:"active"`
}

// Provider is the directory view of a clinician whose calendar is booked.
type Provider struct {
	ID     uuid.UUID
	Role   Role
	Active bool
}

// Patient is the directory view of a patient.
type Patient struct {
	ID                 uuid.UUID
	AssignedProviderID *uuid.UUID
	Active             bool
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds the interval covered by an appointment starting at start.
func NewInterval(start time.Time, durationMinutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}
}

// Overlaps reports whether the two half-open intervals intersect.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && i.End.After(o.Start)
}

// Format renders the interval as "2006-01-02 15:04–15:04" in loc.
func (i Interval) Format(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	s, e := i.Start.In(loc), i.End.In(loc)
	if s.YearDay() == e.YearDay() && s.Year() == e.Year() {
		return s.Format("2006-01-02 15:04") + "–" + e.Format("15:04")
	}
	return s.Format("2006-01-02 15:04") + "–" + e.Format("2006-01-02 15:04")
}

// Appointment is a booking of a patient on a provider's calendar.
type Appointment struct {
	ID              uuid.UUID `db:"id" json:"id"`
	PatientID       uuid.UUID `db:"patient_id" json:"patient_id"`
	ProviderID      uuid.UUID `db:"provider_id" json:"provider_id"`
	Start           time.Time `db:"start_time" json:"start"`
	DurationMinutes int       `db:"duration_minutes" json:"duration_minutes"`
	Reason          string    `db:"reason" json:"reason"`
	State           State     `db:"state" json:"state"`
	Notes           string    `db:"notes" json:"notes,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// NewAppointment builds a Pending appointment and stamps CreatedAt with now.
// The ID is assigned by the repository on first save.
func NewAppointment(in CreateInput, now time.Time) *Appointment {
	return &Appointment{
		PatientID:       in.PatientID,
		ProviderID:      in.ProviderID,
		Start:           in.Start,
		DurationMinutes: in.DurationMinutes,
		Reason:          strings.TrimSpace(in.Reason),
		State:           StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// End returns the instant the appointment finishes.
func (a *Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// Interval returns the half-open interval the appointment occupies.
func (a *Appointment) Interval() Interval {
	return NewInterval(a.Start, a.DurationMinutes)
}

// AppendNote adds a line to the notes log. Existing lines are never rewritten.
func (a *Appointment) AppendNote(line string) {
	if a.Notes == "" {
		a.Notes = line
		return
	}
	a.Notes += "\n" + line
}

func (a *Appointment) clone() *Appointment {
	c := *a
	return &c
}

// CreateInput is the payload for booking a new appointment.
type CreateInput struct {
	PatientID       uuid.UUID `json:"patient_id"`
	ProviderID      uuid.UUID `json:"provider_id"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	Reason          string    `json:"reason"`
}

// EditInput carries the fields that may change while an appointment is modifiable.
// Nil fields are left untouched.
type EditInput struct {
	Start           *time.Time `json:"start,omitempty"`
	DurationMinutes *int       `json:"duration_minutes,omitempty"`
	Reason          *string    `json:"reason,omitempty"`
}

func (e EditInput) reschedules() bool {
	return e.Start != nil || e.DurationMinutes != nil
}

// TransitionPayload carries the optional text attached to a transition.
type TransitionPayload struct {
	Reason string `json:"reason,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

// Filter narrows a Query. Zero values mean "any".
type Filter struct {
	ProviderID *uuid.UUID
	PatientID  *uuid.UUID
	State      *State
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

func validateDuration(minutes int) error {
	if minutes <= 0 || minutes > MaxDurationMinutes {
		return &ValidationError{
			Field:  "duration_minutes",
			Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxDurationMinutes, minutes),
		}
	}
	return nil
}

func validateFutureStart(start, now time.Time) error {
	if start.IsZero() {
		return &ValidationError{Field: "start", Reason: "is required"}
	}
	if !start.After(now) {
		return &ValidationError{Field: "start", Reason: "must be in the future"}
	}
	return nil
}

func validateReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Field: "reason", Reason: "is required"}
	}
	return nil
}
