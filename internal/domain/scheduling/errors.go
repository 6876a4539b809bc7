package scheduling

import (
	"fmt"

	"github.com/google/uuid"
)

// ValidationError reports malformed input or a business-hours violation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// ConflictError reports an overlapping booking on the same provider.
type ConflictError struct {
	AppointmentID uuid.UUID
	Range         string
}

func (e *ConflictError) Error() string {
	if e.AppointmentID == uuid.Nil {
		return "provider already has an appointment in this time range"
	}
	return fmt.Sprintf("provider already booked by appointment %s (%s)", e.AppointmentID, e.Range)
}

// AuthorizationError reports that the actor lacks a capability.
type AuthorizationError struct {
	ActorID uuid.UUID
	Role    Role
	Action  Action
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s with role %s may not %s", e.ActorID, e.Role, e.Action)
}

// NotFoundError reports a missing appointment, patient or provider.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// IllegalStateTransitionError reports an action that is not legal from the current state.
type IllegalStateTransitionError struct {
	State  State
	Action Action
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s an appointment in state %s", e.Action, e.State)
}
