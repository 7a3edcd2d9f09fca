package offer

// State is a step in the offer lifecycle.
type State string

// Lifecycle states.
const (
	StateParsed               State = "PARSED"
	StateAwaitingConfirmation State = "AWAITING_CONFIRMATION"
	StateConfirmed            State = "CONFIRMED"
	StateAwaitingOnboarding   State = "AWAITING_ONBOARDING"
	StateOnboarded            State = "ONBOARDED"
	StateCancelled            State = "CANCELLED"
)

var ranks = map[State]int{
	StateParsed:               1,
	StateAwaitingConfirmation: 2,
	StateConfirmed:            3,
	StateAwaitingOnboarding:   4,
	StateOnboarded:            5,
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := ranks[s]
	return ok || s == StateCancelled
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateOnboarded || s == StateCancelled
}

// AtLeast reports whether s is o or a later forward state.
// Cancelled is never at least anything but itself.
func (s State) AtLeast(o State) bool {
	if s == StateCancelled || o == StateCancelled {
		return s == o
	}
	return ranks[s] >= ranks[o] && ranks[o] > 0
}

// CanTransition reports whether s may move to next.
// Forward moves may skip the implicit AWAITING_ONBOARDING step; cancellation
// is only possible before confirmation.
func (s State) CanTransition(next State) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == StateCancelled {
		return s == StateParsed || s == StateAwaitingConfirmation
	}
	return ranks[next] > ranks[s]
}

// States lists every state in lifecycle order, cancelled last.
func States() []State {
	return []State{
		StateParsed, StateAwaitingConfirmation, StateConfirmed,
		StateAwaitingOnboarding, StateOnboarded, StateCancelled,
	}
}
