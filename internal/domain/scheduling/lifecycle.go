package scheduling

import "strings"

// Action is an operation an actor may attempt.
type Action string

const (
	ActionView               Action = "view"
	ActionCreate             Action = "create"
	ActionEdit               Action = "edit"
	ActionConfirm            Action = "confirm"
	ActionCancel             Action = "cancel"
	ActionComplete           Action = "complete"
	ActionDelete             Action = "delete"
	ActionViewPatientHistory Action = "viewPatientHistory"
)

const (
	cancellationTag     = "[CANCELLATION]"
	completionTag       = "[COMPLETED]"
	defaultCancelReason = "unspecified"
)

// transitions maps (from, action) to the resulting state.
var transitions = map[State]map[Action]State{
	StatePending: {
		ActionConfirm: StateConfirmed,
		ActionCancel:  StateCancelled,
		ActionEdit:    StatePending,
	},
	StateConfirmed: {
		ActionCancel:   StateCancelled,
		ActionComplete: StateCompleted,
		ActionEdit:     StateConfirmed,
	},
}

// IsModifiable reports whether field edits and cancellation are allowed.
func IsModifiable(s State) bool {
	return s == StatePending || s == StateConfirmed
}

// NextState returns the state reached by applying action in from, or an
// *IllegalStateTransitionError when the pair is not in the transition table.
func NextState(from State, action Action) (State, error) {
	if to, ok := transitions[from][action]; ok {
		return to, nil
	}
	return from, &IllegalStateTransitionError{State: from, Action: action}
}

// ApplyTransition moves a to the state reached by action and records the
// associated note. a is left untouched on error.
func ApplyTransition(a *Appointment, action Action, payload TransitionPayload) error {
	to, err := NextState(a.State, action)
	if err != nil {
		return err
	}
	switch action {
	case ActionCancel:
		reason := strings.TrimSpace(payload.Reason)
		if reason == "" {
			reason = defaultCancelReason
		}
		a.AppendNote(cancellationTag + " " + reason)
	case ActionComplete:
		if notes := strings.TrimSpace(payload.Notes); notes != "" {
			a.AppendNote(completionTag + " " + notes)
		}
	}
	a.State = to
	return nil
}

// Transitionable returns the actions legal from s, used to render hints to clients.
func Transitionable(s State) []Action {
	var out []Action
	for _, a := range []Action{ActionConfirm, ActionCancel, ActionComplete, ActionEdit} {
		if _, ok := transitions[s][a]; ok {
			out = append(out, a)
		}
	}
	return out
}
