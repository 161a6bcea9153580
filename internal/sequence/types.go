package sequence

// State enumerates player states.
type State string

const (
	Stopped State = "stopped"
	Running State = "running"
)
