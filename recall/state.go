package recall

// State is the phase of the current synthesis lifecycle.
type State string

const (
	StateIdle          State = "idle"
	StateValidating    State = "validating"
	StateEnriching     State = "enriching"
	StateRequesting    State = "requesting"
	StateStreaming     State = "streaming"
	StateCompleted     State = "completed"
	StatePersisting    State = "persisting"
	StatePersisted     State = "persisted"
	StatePersistFailed State = "persist_failed"
	StateFailed        State = "failed"
)

// Terminal reports whether a new synthesis may start from s.
func (s State) Terminal() bool {
	switch s {
	case StateIdle, StateCompleted, StatePersisted, StatePersistFailed, StateFailed:
		return true
	default:
		return false
	}
}

var transitions = map[State][]State{
	StateIdle:          {StateValidating},
	StateValidating:    {StateEnriching, StateRequesting, StateFailed},
	StateEnriching:     {StateRequesting, StateFailed},
	StateRequesting:    {StateStreaming, StateCompleted, StateFailed},
	StateStreaming:     {StateCompleted, StateFailed},
	StateCompleted:     {StatePersisting, StateValidating},
	StatePersisting:    {StatePersisted, StatePersistFailed},
	StatePersisted:     {StateValidating},
	StatePersistFailed: {StateValidating},
	StateFailed:        {StateValidating},
}

func canTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
