package daemon

// State is the orchestrator's position in the session lifecycle.
type State int32

const (
	Idle State = iota
	Recording
	Transcribing
	Injecting
	// Aborted is transient: a failed session passes through it on its way
	// back to Idle.
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	case Injecting:
		return "injecting"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// SignalKind is a request to the orchestrator.
type SignalKind uint8

const (
	SignalEngage SignalKind = iota + 1
	SignalDisengage
	// SignalToggle comes from the control socket and resolves to Engage or
	// Disengage on the orchestrator goroutine.
	SignalToggle
	SignalCancel
)

func (k SignalKind) String() string {
	switch k {
	case SignalEngage:
		return "engage"
	case SignalDisengage:
		return "disengage"
	case SignalToggle:
		return "toggle"
	case SignalCancel:
		return "cancel"
	default:
		return "unknown"
	}
}
