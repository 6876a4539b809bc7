package scheduling

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestPolicy(opts PolicyOptions) *Policy {
	return NewPolicy(DefaultCapabilities(opts), time.UTC, func() time.Time { return testNow })
}

func TestPolicy_Matrix(t *testing.T) {
	p := newTestPolicy(PolicyOptions{})
	tests := []struct {
		role   Role
		action Action
		rel    Relation
		want   bool
	}{
		{RoleAdministrator, ActionDelete, 0, true},
		{RoleAdministrator, ActionViewPatientHistory, 0, true},

		{RoleProvider, ActionView, RelOwner, true},
		{RoleProvider, ActionView, RelPatientOfActor, true},
		{RoleProvider, ActionView, RelSameDay, false},
		{RoleProvider, ActionCreate, RelOwner, true},
		{RoleProvider, ActionCreate, RelPatientOfActor, false},
		{RoleProvider, ActionConfirm, RelOwner, true},
		{RoleProvider, ActionCancel, RelOwner, true},
		{RoleProvider, ActionComplete, RelOwner, true},
		{RoleProvider, ActionComplete, 0, false},
		{RoleProvider, ActionDelete, RelOwner, false},
		{RoleProvider, ActionViewPatientHistory, RelPatientOfActor, true},
		{RoleProvider, ActionViewPatientHistory, RelOwner, false},

		{RoleFrontDesk, ActionView, 0, true},
		{RoleFrontDesk, ActionCreate, 0, true},
		{RoleFrontDesk, ActionConfirm, 0, true},
		{RoleFrontDesk, ActionEdit, 0, false},
		{RoleFrontDesk, ActionCancel, 0, false},
		{RoleFrontDesk, ActionComplete, 0, false},
		{RoleFrontDesk, ActionDelete, 0, false},

		{RoleSupport, ActionView, RelSameDay, true},
		{RoleSupport, ActionView, 0, false},
		{RoleSupport, ActionCreate, RelSameDay, false},
		{RoleSupport, ActionViewPatientHistory, RelSameDay, false},

		{Role("auditor"), ActionView, RelOwner | RelSameDay, false},
	}
	for _, tt := range tests {
		if got := p.Allowed(tt.role, tt.action, tt.rel); got != tt.want {
			t.Errorf("Allowed(%s, %s, %b) = %v, want %v", tt.role, tt.action, tt.rel, got, tt.want)
		}
	}
}

func TestPolicy_FrontDeskMayCancel(t *testing.T) {
	p := newTestPolicy(PolicyOptions{FrontDeskMayCancel: true})
	if !p.Allowed(RoleFrontDesk, ActionCancel, 0) {
		t.Error("expected front desk cancel to be enabled")
	}
	if p.Allowed(RoleFrontDesk, ActionComplete, 0) {
		t.Error("front desk complete must stay denied")
	}
}

func TestPolicy_Relations(t *testing.T) {
	p := newTestPolicy(PolicyOptions{})
	me := uuid.New()
	other := uuid.New()

	appt := &Appointment{ProviderID: me, Start: at(0, 15, 0)}
	if rel := p.Relations(Actor{ID: me}, Subject{Appointment: appt}); !rel.Has(RelOwner | RelSameDay) {
		t.Errorf("expected owner and same day, got %b", rel)
	}

	tomorrow := &Appointment{ProviderID: other, Start: at(1, 9, 0)}
	if rel := p.Relations(Actor{ID: me}, Subject{Appointment: tomorrow}); rel != 0 {
		t.Errorf("expected no relation, got %b", rel)
	}

	patient := &Patient{AssignedProviderID: &me}
	if rel := p.Relations(Actor{ID: me}, Subject{Patient: patient}); rel != RelPatientOfActor {
		t.Errorf("expected patient relation, got %b", rel)
	}
	if rel := p.Relations(Actor{ID: me}, Subject{Patient: &Patient{}}); rel != 0 {
		t.Errorf("unassigned patient: expected no relation, got %b", rel)
	}
}

func TestPolicy_SameDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 2030-06-03 02:00 UTC is still 2030-06-02 at UTC-5.
	now := time.Date(2030, 6, 3, 2, 0, 0, 0, time.UTC)
	p := NewPolicy(DefaultCapabilities(PolicyOptions{}), loc, func() time.Time { return now })

	lateEvening := &Appointment{Start: time.Date(2030, 6, 3, 3, 0, 0, 0, time.UTC)}
	if !p.Relations(Actor{}, Subject{Appointment: lateEvening}).Has(RelSameDay) {
		t.Error("expected same local day")
	}
	nextMorning := &Appointment{Start: time.Date(2030, 6, 3, 14, 0, 0, 0, time.UTC)}
	if p.Relations(Actor{}, Subject{Appointment: nextMorning}).Has(RelSameDay) {
		t.Error("expected different local day")
	}

	start, end := p.Today()
	if !start.Equal(time.Date(2030, 6, 2, 5, 0, 0, 0, time.UTC)) || end.Sub(start) != 24*time.Hour {
		t.Errorf("unexpected today bounds %v - %v", start, end)
	}
}

func TestPolicy_Authorize(t *testing.T) {
	p := newTestPolicy(PolicyOptions{})
	actor := Actor{ID: uuid.New(), Role: RoleFrontDesk, Active: true}

	if err := p.Authorize(actor, ActionCreate, Subject{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	err := p.Authorize(actor, ActionDelete, Subject{})
	ae, ok := err.(*AuthorizationError)
	if !ok {
		t.Fatalf("expected *AuthorizationError, got %T", err)
	}
	if ae.Role != RoleFrontDesk || ae.Action != ActionDelete || ae.ActorID != actor.ID {
		t.Errorf("unexpected error detail %+v", ae)
	}

	actor.Active = false
	if p.Can(actor, ActionView, Subject{}) {
		t.Error("inactive actors must be denied")
	}
}

func TestPolicy_Precheck(t *testing.T) {
	p := newTestPolicy(PolicyOptions{})
	tests := []struct {
		role   Role
		active bool
		action Action
		want   bool
	}{
		{RoleAdministrator, true, ActionDelete, true},
		{RoleAdministrator, false, ActionView, false},
		{RoleProvider, true, ActionView, true},
		{RoleProvider, true, ActionViewPatientHistory, true},
		{RoleProvider, true, ActionDelete, false},
		{RoleFrontDesk, true, ActionDelete, false},
		{RoleSupport, true, ActionView, true},
		{RoleSupport, true, ActionViewPatientHistory, false},
		{Role("auditor"), true, ActionView, false},
	}
	for _, tt := range tests {
		actor := Actor{ID: uuid.New(), Role: tt.role, Active: tt.active}
		if got := p.Precheck(actor, tt.action) == nil; got != tt.want {
			t.Errorf("Precheck(%s active=%v, %s) allowed = %v, want %v", tt.role, tt.active, tt.action, got, tt.want)
		}
	}
}
