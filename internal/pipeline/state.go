package pipeline

import "fmt"

// State is the position of a run in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateRecognizing
	StateResolving
	StateAwaitingNext
	StateFinished
)

var stateNames = map[State]string{
	StateIdle:         "idle",
	StateCapturing:    "capturing",
	StateRecognizing:  "recognizing",
	StateResolving:    "resolving",
	StateAwaitingNext: "awaiting_next",
	StateFinished:     "finished",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal successors of every state. Finished has none.
var transitions = map[State][]State{
	StateIdle:         {StateCapturing, StateFinished},
	StateCapturing:    {StateRecognizing, StateResolving, StateIdle},
	StateRecognizing:  {StateResolving, StateIdle},
	StateResolving:    {StateAwaitingNext, StateFinished, StateIdle},
	StateAwaitingNext: {StateIdle},
}

// CanTransition reports whether a run may move from one state to another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Mode selects what a successful resolution does to the run.
type Mode string

const (
	// ModeSingle ends the run on the first resolved card.
	ModeSingle Mode = "single"

	// ModeBatch accumulates resolved cards until the run is finished
	// explicitly.
	ModeBatch Mode = "batch"
)

// ParseMode accepts "single" or "batch"; the empty string means single.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSingle:
		return ModeSingle, nil
	case ModeBatch:
		return ModeBatch, nil
	}
	return "", fmt.Errorf("pipeline: unknown mode %q", s)
}

// Status is the user-visible result of one capture cycle.
type Status string

const (
	StatusResolved           Status = "resolved"
	StatusCaptureUnavailable Status = "capture_unavailable"
	StatusRecognitionFailed  Status = "recognition_failed"
	StatusNothingDetected    Status = "nothing_detected"
	StatusResolutionNotFound Status = "not_found"
	StatusTransportError     Status = "transport_error"

	// StatusDiscarded marks a cycle that completed after the run was closed.
	// Its result was not applied.
	StatusDiscarded Status = "discarded"
)
