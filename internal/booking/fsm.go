// Package booking provides the FSM-based booking workflow.
package booking

// State represents the current step of the booking workflow.
type State string

const (
	StateSelectingDate   State = "selecting_date"
	StateSelectingTime   State = "selecting_time"
	StateEnteringDetails State = "entering_details"
	StateConfirmed       State = "confirmed"
)

// Mode selects between booking and calendar administration.
type Mode string

const (
	ModeUser  Mode = "user"
	ModeAdmin Mode = "admin"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeUser, ModeAdmin:
		return Mode(s), nil
	}
	return "", ErrUnknownMode
}

// FSM manages state transitions for the booking workflow.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
// Every state may return to StateSelectingDate.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateSelectingDate:   {StateSelectingTime, StateSelectingDate},
			StateSelectingTime:   {StateSelectingTime, StateEnteringDetails, StateSelectingDate},
			StateEnteringDetails: {StateSelectingTime, StateEnteringDetails, StateConfirmed, StateSelectingDate},
			StateConfirmed:       {StateSelectingDate},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	allowed, ok := f.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}
