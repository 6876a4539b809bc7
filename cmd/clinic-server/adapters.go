package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinic/scheduler/internal/domain/directory"
	"github.com/clinic/scheduler/internal/domain/scheduling"
	"github.com/clinic/scheduler/internal/platform/db"
	"github.com/clinic/scheduler/internal/platform/events"
)

// directoryAdapter exposes the directory service as the scheduling
// Directory, keeping the two domain packages independent.
type directoryAdapter struct {
	svc *directory.Service
}

func (a directoryAdapter) GetPatient(ctx context.Context, id uuid.UUID) (*scheduling.Patient, error) {
	p, err := a.svc.GetPatient(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, &scheduling.NotFoundError{Resource: "patient", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return &scheduling.Patient{ID: p.ID, AssignedProviderID: p.AssignedProviderID, Active: p.Active}, nil
}

// GetProvider maps the staff record's role. An unrecognized role maps to
// the empty role, which no appointment may be booked against.
func (a directoryAdapter) GetProvider(ctx context.Context, id uuid.UUID) (*scheduling.Provider, error) {
	p, err := a.svc.GetProvider(ctx, id)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, &scheduling.NotFoundError{Resource: "provider", ID: id}
	}
	if err != nil {
		return nil, err
	}
	role, _ := scheduling.ParseRole(p.Role)
	return &scheduling.Provider{ID: p.ID, Role: role, Active: p.Active}, nil
}

// EventCounter is told the type of every published event.
type EventCounter interface {
	AppointmentEvent(eventType string)
}

// eventPublisher encodes scheduling events onto the broker envelope, keyed
// by appointment so one appointment's events stay ordered.
type eventPublisher struct {
	pub     events.Publisher
	counter EventCounter
}

type clinicEvent struct {
	ClinicID string `json:"clinic_id,omitempty"`
	scheduling.Event
}

func (p *eventPublisher) Publish(ctx context.Context, evt scheduling.Event) error {
	payload, err := json.Marshal(clinicEvent{ClinicID: db.ClinicFromContext(ctx), Event: evt})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", evt.Type, err)
	}
	msg := events.Message{
		ID:         uuid.NewString(),
		Type:       evt.Type,
		Key:        evt.AppointmentID.String(),
		Payload:    payload,
		OccurredAt: evt.OccurredAt,
	}
	if err := p.pub.Publish(ctx, msg); err != nil {
		return err
	}
	if p.counter != nil {
		p.counter.AppointmentEvent(evt.Type)
	}
	return nil
}
