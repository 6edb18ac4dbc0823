package chat

import "fmt"

// Phase is the request lifecycle of a conversation.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSending
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSending:
		return "sending"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseIdle, PhaseSending, PhaseSucceeded, PhaseFailed} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", text)
}

type event int

const (
	eventSubmit event = iota
	eventReply
	eventFail
	eventSettle
)

// transitions lists every legal move; anything absent is refused.
var transitions = map[Phase]map[event]Phase{
	PhaseIdle: {
		eventSubmit: PhaseSending,
	},
	PhaseSending: {
		eventReply: PhaseSucceeded,
		eventFail:  PhaseFailed,
	},
	PhaseSucceeded: {
		eventSubmit: PhaseSending,
		eventSettle: PhaseIdle,
	},
	PhaseFailed: {
		eventSubmit: PhaseSending,
		eventSettle: PhaseIdle,
	},
}

func next(from Phase, ev event) (Phase, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}
