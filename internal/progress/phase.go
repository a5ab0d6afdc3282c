package progress

import "sync/atomic"

// Phase state of a cursor-driven computation.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseComputing
	PhaseSaving
	PhaseCursorAdvanced
)

func (p Phase) String() string {
	switch p {
	case PhaseComputing:
		return "computing"
	case PhaseSaving:
		return "saving"
	case PhaseCursorAdvanced:
		return "cursor-advanced"
	default:
		return "idle"
	}
}

// Tracker records the current phase of an engine.
// Transitions follow Idle -> Computing -> Saving -> CursorAdvanced -> (Computing | Idle).
type Tracker struct {
	phase atomic.Int32
}

// Set moves the tracker to p.
func (t *Tracker) Set(p Phase) {
	t.phase.Store(int32(p))
}

// Phase returns the current phase.
func (t *Tracker) Phase() Phase {
	return Phase(t.phase.Load())
}
