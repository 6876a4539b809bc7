package scheduling

import (
	"time"
)

// Relation is a set of associations between an actor and the subject of an action.
type Relation uint8

const (
	// RelOwner: the appointment is booked on the actor's own calendar.
	RelOwner Relation = 1 << iota
	// RelPatientOfActor: the patient is assigned to the actor.
	RelPatientOfActor
	// RelSameDay: the appointment falls on the current date.
	RelSameDay
)

// Has reports whether every bit in want is present.
func (r Relation) Has(want Relation) bool { return r&want == want }

// Rule decides an action for one role given the relation set.
type Rule struct {
	allow bool
	anyOf Relation
}

// Always grants the action unconditionally.
func Always() Rule { return Rule{allow: true} }

// Never denies the action.
func Never() Rule { return Rule{} }

// When grants the action if at least one of rels holds.
func When(rels ...Relation) Rule {
	var mask Relation
	for _, r := range rels {
		mask |= r
	}
	return Rule{allow: true, anyOf: mask}
}

func (r Rule) permits(have Relation) bool {
	if !r.allow {
		return false
	}
	if r.anyOf == 0 {
		return true
	}
	return have&r.anyOf != 0
}

// CapabilityTable maps role and action to a rule. Missing entries deny.
type CapabilityTable map[Role]map[Action]Rule

// PolicyOptions holds the configurable parts of the capability matrix.
type PolicyOptions struct {
	// FrontDeskMayCancel lets front-desk staff cancel any modifiable appointment.
	FrontDeskMayCancel bool
}

// DefaultCapabilities returns the clinic capability matrix.
func DefaultCapabilities(opts PolicyOptions) CapabilityTable {
	frontDeskCancel := Never()
	if opts.FrontDeskMayCancel {
		frontDeskCancel = Always()
	}
	return CapabilityTable{
		RoleAdministrator: {
			ActionView:               Always(),
			ActionCreate:             Always(),
			ActionEdit:               Always(),
			ActionConfirm:            Always(),
			ActionCancel:             Always(),
			ActionComplete:           Always(),
			ActionDelete:             Always(),
			ActionViewPatientHistory: Always(),
		},
		RoleProvider: {
			ActionView:               When(RelOwner, RelPatientOfActor),
			ActionCreate:             When(RelOwner),
			ActionEdit:               When(RelOwner),
			ActionConfirm:            When(RelOwner),
			ActionCancel:             When(RelOwner),
			ActionComplete:           When(RelOwner),
			ActionDelete:             Never(),
			ActionViewPatientHistory: When(RelPatientOfActor),
		},
		RoleFrontDesk: {
			ActionView:               Always(),
			ActionCreate:             Always(),
			ActionEdit:               Never(),
			ActionConfirm:            Always(),
			ActionCancel:             frontDeskCancel,
			ActionComplete:           Never(),
			ActionDelete:             Never(),
			ActionViewPatientHistory: Always(),
		},
		RoleSupport: {
			ActionView: When(RelSameDay),
		},
	}
}

// Subject is what an action is applied to. Either field may be nil.
type Subject struct {
	Appointment *Appointment
	Patient     *Patient
}

// Policy evaluates capabilities. It is a pure function of its inputs and the
// injected clock, and never loads data itself.
type Policy struct {
	table CapabilityTable
	loc   *time.Location
	now   func() time.Time
}

// NewPolicy builds a Policy over table. loc defines calendar days for the
// same-day relation; now defaults to time.Now.
func NewPolicy(table CapabilityTable, loc *time.Location, now func() time.Time) *Policy {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Policy{table: table, loc: loc, now: now}
}

// Allowed is the bare lookup: may role perform action given rel.
func (p *Policy) Allowed(role Role, action Action, rel Relation) bool {
	rule, ok := p.table[role][action]
	if !ok {
		return false
	}
	return rule.permits(rel)
}

// Relations derives the relation set between actor and subj.
func (p *Policy) Relations(actor Actor, subj Subject) Relation {
	var rel Relation
	if a := subj.Appointment; a != nil {
		if a.ProviderID == actor.ID {
			rel |= RelOwner
		}
		if sameDate(a.Start.In(p.loc), p.now().In(p.loc)) {
			rel |= RelSameDay
		}
	}
	if pt := subj.Patient; pt != nil && pt.AssignedProviderID != nil && *pt.AssignedProviderID == actor.ID {
		rel |= RelPatientOfActor
	}
	return rel
}

// Can reports whether actor may perform action on subj. Inactive actors are
// denied everything.
func (p *Policy) Can(actor Actor, action Action, subj Subject) bool {
	if !actor.Active {
		return false
	}
	return p.Allowed(actor.Role, action, p.Relations(actor, subj))
}

// Authorize is Can returning an *AuthorizationError on denial.
func (p *Policy) Authorize(actor Actor, action Action, subj Subject) error {
	if p.Can(actor, action, subj) {
		return nil
	}
	return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: action}
}

// anyRelation holds every relation. A role denied under it is denied for
// every subject.
const anyRelation = RelOwner | RelPatientOfActor | RelSameDay

// Precheck denies actor before any record is loaded when no subject could
// make action permissible for its role, so lookups do not reveal which ids
// exist.
func (p *Policy) Precheck(actor Actor, action Action) error {
	if actor.Active && p.Allowed(actor.Role, action, anyRelation) {
		return nil
	}
	return &AuthorizationError{ActorID: actor.ID, Role: actor.Role, Action: action}
}

// Today returns the [start, end) bounds of the current date in the policy location.
func (p *Policy) Today() (time.Time, time.Time) {
	n := p.now().In(p.loc)
	start := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, p.loc)
	return start, start.AddDate(0, 0, 1)
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
