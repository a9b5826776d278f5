// Package engine drives the segmentation state machine: it pulls packets
// from a source, decides where to cut, rebases timestamps and hands packets
// to exactly one open output segment at a time.
package engine

// State is the engine lifecycle phase.
type State int

// Engine states.
//
//	CONNECTING -> STREAMING -> ROTATING -> STREAMING ... -> DRAINING -> STOPPED
//
// ERROR is reachable from every state.
const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateRotating
	StateDraining
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateRotating:
		return "rotating"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether the engine has finished.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateError
}
