package ioworker

// State is a worker's position in its lifecycle (spec §4.4 "State
// machine"). The zero value is Init.
type State int

const (
	StateInit State = iota
	StatePrefilling
	StateRunning
	StateDraining
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StatePrefilling:
		return "Prefilling"
	case StateRunning:
		return "Running"
	case StateDraining:
		return "Draining"
	case StateDone:
		return "Done"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}
