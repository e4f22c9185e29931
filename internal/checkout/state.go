package checkout

type State string

const (
	StateIdle                   State = "idle"
	StateValidating             State = "validating"
	StateAuthorizationRequested State = "authorization_requested"
	StateConfirming             State = "confirming"
	StateSucceeded              State = "succeeded"
	StateFailed                 State = "failed"
)

var transitions = map[State][]State{
	StateIdle:                   {StateValidating},
	StateValidating:             {StateIdle, StateAuthorizationRequested},
	StateAuthorizationRequested: {StateIdle, StateConfirming, StateFailed},
	StateConfirming:             {StateSucceeded, StateFailed},
}

func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}
