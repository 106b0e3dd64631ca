package worker

import "context"

type JobType int

const (
	// Effect runs one insurer call or side effect for a conversation.
	Effect JobType = iota
	// Stop retires the pool worker receiving it.
	Stop
)

func (t JobType) String() string {
	switch t {
	case Effect:
		return "effect"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// Job is a unit of work queued per visitor so one busy visitor cannot starve
// the others.
type Job struct {
	Type           JobType
	VisitorID      int64
	ConversationID string
	Name           string
	// Durable jobs still run after their conversation closed.
	Durable bool
	Run     func(ctx context.Context)
}
