package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ConflictDetector finds active bookings that overlap a proposed interval.
type ConflictDetector struct {
	appointments AppointmentRepository
	loc          *time.Location
}

// NewConflictDetector returns a detector reading candidates from repo.
// loc is used only to format the range reported in a ConflictError.
func NewConflictDetector(repo AppointmentRepository, loc *time.Location) *ConflictDetector {
	if loc == nil {
		loc = time.UTC
	}
	return &ConflictDetector{appointments: repo, loc: loc}
}

// FindConflicts returns the provider's Pending or Confirmed appointments whose
// interval intersects proposed, ordered by start. excludeID (when not Nil) is
// left out, so an appointment being edited never conflicts with itself.
func (d *ConflictDetector) FindConflicts(ctx context.Context, providerID uuid.UUID, proposed Interval, excludeID uuid.UUID) ([]*Appointment, error) {
	candidates, err := d.appointments.FindByProviderAndRange(ctx, providerID, proposed.Start, proposed.End)
	if err != nil {
		return nil, fmt.Errorf("load provider calendar: %w", err)
	}
	var conflicts []*Appointment
	for _, existing := range candidates {
		if existing.ProviderID != providerID || !existing.State.IsActive() {
			continue
		}
		if excludeID != uuid.Nil && existing.ID == excludeID {
			continue
		}
		if existing.Interval().Overlaps(proposed) {
			conflicts = append(conflicts, existing)
		}
	}
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Start.Before(conflicts[j].Start)
	})
	return conflicts, nil
}

// Check returns a *ConflictError describing the first overlapping booking, or nil.
func (d *ConflictDetector) Check(ctx context.Context, providerID uuid.UUID, proposed Interval, excludeID uuid.UUID) error {
	conflicts, err := d.FindConflicts(ctx, providerID, proposed, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		return nil
	}
	first := conflicts[0]
	return &ConflictError{AppointmentID: first.ID, Range: first.Interval().Format(d.loc)}
}
