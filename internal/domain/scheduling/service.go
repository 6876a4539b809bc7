package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/clinic/scheduler/internal/platform/lock"
)

const tracerName = "github.com/clinic/scheduler/internal/domain/scheduling"

// Service is the scheduling orchestrator. Every operation takes the acting
// identity explicitly; nothing is read from ambient state.
type Service struct {
	appointments AppointmentRepository
	directory    Directory
	hours        BusinessHours
	policy       *Policy
	detector     *ConflictDetector
	locker       Locker
	events       EventPublisher
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithLocker replaces the default in-process locker.
func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

// WithEvents publishes lifecycle events to p after each committed change.
func WithEvents(p EventPublisher) Option { return func(s *Service) { s.events = p } }

// WithLogger sets the service logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

// WithClock overrides time.Now. Use the same clock for the Policy.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(appts AppointmentRepository, dir Directory, hours BusinessHours, policy *Policy, opts ...Option) *Service {
	s := &Service{
		appointments: appts,
		directory:    dir,
		hours:        hours,
		policy:       policy,
		detector:     NewConflictDetector(appts, hours.location()),
		locker:       lock.NewKeyedMutex(),
		logger:       zerolog.Nop(),
		tracer:       otel.Tracer(tracerName),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Hours returns the business-hours policy in force.
func (s *Service) Hours() BusinessHours { return s.hours }

// -- Create --

func (s *Service) Create(ctx context.Context, in CreateInput, actor Actor) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Create", actor)
	defer func() { endSpan(span, err) }()

	now := s.now()
	draft := NewAppointment(in, now)
	if err := s.policy.Authorize(actor, ActionCreate, Subject{Appointment: draft}); err != nil {
		return nil, err
	}
	if err := validateCreate(in, now); err != nil {
		return nil, err
	}
	if err := s.checkParticipants(ctx, in.PatientID, in.ProviderID); err != nil {
		return nil, err
	}
	if err := s.hours.Validate(in.Start); err != nil {
		return nil, err
	}

	err = s.withLock(ctx, providerKey(in.ProviderID), func() error {
		if err := s.detector.Check(ctx, in.ProviderID, draft.Interval(), uuid.Nil); err != nil {
			return err
		}
		id, err := s.appointments.Save(ctx, draft)
		if err != nil {
			return s.storageErr("save appointment", err)
		}
		draft.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventCreated, draft, actor)
	return draft, nil
}

func validateCreate(in CreateInput, now time.Time) error {
	if in.PatientID == uuid.Nil {
		return &ValidationError{Field: "patient_id", Reason: "is required"}
	}
	if in.ProviderID == uuid.Nil {
		return &ValidationError{Field: "provider_id", Reason: "is required"}
	}
	if err := validateReason(in.Reason); err != nil {
		return err
	}
	if err := validateDuration(in.DurationMinutes); err != nil {
		return err
	}
	return validateFutureStart(in.Start, now)
}

func (s *Service) checkParticipants(ctx context.Context, patientID, providerID uuid.UUID) error {
	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return err
	}
	if !patient.Active {
		return &ValidationError{Field: "patient_id", Reason: "refers to an inactive patient"}
	}
	provider, err := s.directory.GetProvider(ctx, providerID)
	if err != nil {
		return err
	}
	if provider.Role != RoleProvider {
		return &ValidationError{Field: "provider_id", Reason: fmt.Sprintf("refers to a %s, not a provider", provider.Role)}
	}
	if !provider.Active {
		return &ValidationError{Field: "provider_id", Reason: "refers to an inactive provider"}
	}
	return nil
}

// -- Transitions --

// Transition applies confirm, cancel or complete to the appointment.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, action Action, actor Actor, payload TransitionPayload) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Transition", actor)
	span.SetAttributes(attribute.String("appointment.action", string(action)))
	defer func() { endSpan(span, err) }()

	var next *Appointment
	err = s.withLock(ctx, appointmentKey(id), func() error {
		current, err := s.appointments.FindByID(ctx, id)
		if err != nil {
			return err
		}
		switch action {
		case ActionConfirm, ActionCancel, ActionComplete:
		default:
			return &IllegalStateTransitionError{State: current.State, Action: action}
		}
		if err := s.policy.Authorize(actor, action, Subject{Appointment: current}); err != nil {
			return err
		}

		next = current.clone()
		if err := ApplyTransition(next, action, payload); err != nil {
			return err
		}
		next.UpdatedAt = s.now()
		if _, err := s.appointments.Save(ctx, next); err != nil {
			return s.storageErr("save appointment", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, eventForAction[action], next, actor)
	return next, nil
}

var eventForAction = map[Action]string{
	ActionConfirm:  EventConfirmed,
	ActionCancel:   EventCancelled,
	ActionComplete: EventCompleted,
}

func (s *Service) Confirm(ctx context.Context, id uuid.UUID, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, ActionConfirm, actor, TransitionPayload{})
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, ActionCancel, actor, TransitionPayload{Reason: reason})
}

func (s *Service) Complete(ctx context.Context, id uuid.UUID, notes string, actor Actor) (*Appointment, error) {
	return s.Transition(ctx, id, ActionComplete, actor, TransitionPayload{Notes: notes})
}

// -- Edit --

// Edit changes the start, duration or reason of a modifiable appointment.
// Rescheduling re-runs the business-hours and conflict checks under the
// provider lock.
func (s *Service) Edit(ctx context.Context, id uuid.UUID, in EditInput, actor Actor) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Edit", actor)
	defer func() { endSpan(span, err) }()

	var next *Appointment
	err = s.withLock(ctx, appointmentKey(id), func() error {
		current, err := s.appointments.FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := s.policy.Authorize(actor, ActionEdit, Subject{Appointment: current}); err != nil {
			return err
		}
		if _, err := NextState(current.State, ActionEdit); err != nil {
			return err
		}

		now := s.now()
		next = current.clone()
		if in.Reason != nil {
			if err := validateReason(*in.Reason); err != nil {
				return err
			}
			next.Reason = strings.TrimSpace(*in.Reason)
		}
		if in.DurationMinutes != nil {
			if err := validateDuration(*in.DurationMinutes); err != nil {
				return err
			}
			next.DurationMinutes = *in.DurationMinutes
		}
		if in.Start != nil {
			if err := validateFutureStart(*in.Start, now); err != nil {
				return err
			}
			next.Start = *in.Start
		}
		next.UpdatedAt = now

		if !in.reschedules() {
			return s.save(ctx, next)
		}
		if err := s.hours.Validate(next.Start); err != nil {
			return err
		}
		return s.withLock(ctx, providerKey(next.ProviderID), func() error {
			if err := s.detector.Check(ctx, next.ProviderID, next.Interval(), next.ID); err != nil {
				return err
			}
			return s.save(ctx, next)
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, EventEdited, next, actor)
	return next, nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID, actor Actor) (appt *Appointment, err error) {
	ctx, span := s.startSpan(ctx, "Get", actor)
	defer func() { endSpan(span, err) }()

	if err := s.policy.Precheck(actor, ActionView); err != nil {
		return nil, err
	}
	appt, err = s.appointments.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	subj, err := s.viewSubject(ctx, appt, actor)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Authorize(actor, ActionView, subj); err != nil {
		return nil, err
	}
	return appt, nil
}

// viewSubject resolves the patient only when the actor's role can gain
// visibility through patient assignment.
func (s *Service) viewSubject(ctx context.Context, appt *Appointment, actor Actor) (Subject, error) {
	subj := Subject{Appointment: appt}
	if actor.Role != RoleProvider || appt.ProviderID == actor.ID {
		return subj, nil
	}
	patient, err := s.directory.GetPatient(ctx, appt.PatientID)
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		return subj, nil
	case err != nil:
		return subj, err
	}
	subj.Patient = patient
	return subj, nil
}

type queryScope int

const (
	scopeGlobal queryScope = iota
	scopeOwnCalendar
	scopeToday
)

var queryScopes = map[Role]queryScope{
	RoleAdministrator: scopeGlobal,
	RoleFrontDesk:     scopeGlobal,
	RoleProvider:      scopeOwnCalendar,
	RoleSupport:       scopeToday,
}

// Query lists appointments. Providers only ever see their own calendar and
// support staff only today's appointments, whatever the filter asks for.
func (s *Service) Query(ctx context.Context, f Filter, actor Actor) (items []*Appointment, total int, err error) {
	ctx, span := s.startSpan(ctx, "Query", actor)
	defer func() { endSpan(span, err) }()

	scope, ok := queryScopes[actor.Role]
	if !ok || !actor.Active {
		return nil, 0, &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: ActionView}
	}
	switch scope {
	case scopeOwnCalendar:
		own := actor.ID
		f.ProviderID = &own
	case scopeToday:
		from, to := s.policy.Today()
		f.From, f.To = &from, &to
	}
	if f.From != nil && f.To != nil && !f.To.After(*f.From) {
		return nil, 0, &ValidationError{Field: "to", Reason: "must be after from"}
	}
	items, total, err = s.appointments.Search(ctx, f)
	if err != nil {
		return nil, 0, s.storageErr("search appointments", err)
	}
	return items, total, nil
}

// PatientHistory lists every appointment of a patient.
func (s *Service) PatientHistory(ctx context.Context, patientID uuid.UUID, limit, offset int, actor Actor) (items []*Appointment, total int, err error) {
	ctx, span := s.startSpan(ctx, "PatientHistory", actor)
	span.SetAttributes(attribute.String("patient.id", patientID.String()))
	defer func() { endSpan(span, err) }()

	if err := s.policy.Precheck(actor, ActionViewPatientHistory); err != nil {
		return nil, 0, err
	}
	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, 0, err
	}
	if err := s.policy.Authorize(actor, ActionViewPatientHistory, Subject{Patient: patient}); err != nil {
		return nil, 0, err
	}
	items, total, err = s.appointments.Search(ctx, Filter{PatientID: &patientID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, s.storageErr("search appointments", err)
	}
	return items, total, nil
}

// -- Delete --

// Delete removes the appointment outright. It is not a lifecycle transition
// and ignores the current state.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor Actor) (err error) {
	ctx, span := s.startSpan(ctx, "Delete", actor)
	defer func() { endSpan(span, err) }()

	if err := s.policy.Precheck(actor, ActionDelete); err != nil {
		return err
	}
	var appt *Appointment
	err = s.withLock(ctx, appointmentKey(id), func() error {
		found, err := s.appointments.FindByID(ctx, id)
		if err != nil {
			return err
		}
		appt = found
		if err := s.policy.Authorize(actor, ActionDelete, Subject{Appointment: appt}); err != nil {
			return err
		}
		if err := s.appointments.Delete(ctx, id); err != nil {
			return s.storageErr("delete appointment", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(ctx, EventDeleted, appt, actor)
	return nil
}

// -- helpers --

// withLock runs fn while holding key. Events are published by the caller
// after the lock is released.
func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) save(ctx context.Context, appt *Appointment) error {
	if _, err := s.appointments.Save(ctx, appt); err != nil {
		return s.storageErr("save appointment", err)
	}
	return nil
}

// storageErr passes domain errors raised by the store (a translated
// exclusion-constraint violation, a missing row) through untouched.
func (s *Service) storageErr(op string, err error) error {
	var conflict *ConflictError
	var nf *NotFoundError
	if errors.As(err, &conflict) || errors.As(err, &nf) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Service) publish(ctx context.Context, eventType string, appt *Appointment, actor Actor) {
	if s.events == nil {
		return
	}
	evt := Event{
		Type:          eventType,
		AppointmentID: appt.ID,
		ProviderID:    appt.ProviderID,
		PatientID:     appt.PatientID,
		State:         appt.State,
		Start:         appt.Start,
		End:           appt.End(),
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		OccurredAt:    s.now(),
		Snapshot:      appt.clone(),
	}
	if err := s.events.Publish(ctx, evt); err != nil {
		s.logger.Warn().Err(err).
			Str("event", eventType).
			Str("appointment_id", appt.ID.String()).
			Msg("failed to publish appointment event")
	}
}

func (s *Service) startSpan(ctx context.Context, op string, actor Actor) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "scheduling."+op, trace.WithAttributes(
		attribute.String("actor.id", actor.ID.String()),
		attribute.String("actor.role", string(actor.Role)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
