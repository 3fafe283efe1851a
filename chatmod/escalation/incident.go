package escalation

import (
	"context"
	"sync"
	"time"
)

// Incident lifecycle states. An incident leaves StateAwaitingSolve exactly
// once, into exactly one of the three terminal states, and never re-enters it.
type State string

const (
	StateAwaitingSolve     State = "awaiting-solve"
	StateResolvedSolved    State = "resolved-solved"
	StateResolvedEscalated State = "resolved-escalated"
	StateResolvedError     State = "resolved-error"
)

func (s State) Terminal() bool {
	return s != StateAwaitingSolve
}

// Subject identifies the user being challenged and where the flagged message
// originated.
type Subject struct {
	UserID      string
	UserTag     string
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
}

// MessageRef is a weak reference to the flagged content, kept for later
// deletion. The message itself is not owned and may already be gone by the
// time remediation runs.
type MessageRef struct {
	ChannelID      string
	MessageID      string
	Content        string
	AttachmentURLs []string
}

// MessageHandle identifies a notification message the engine sent, so it can
// be edited when the incident resolves.
type MessageHandle struct {
	ChannelID string
	MessageID string
}

// Incident tracks one flagged message from detection to resolution. One
// workflow goroutine owns its timers; the state field is the single point of
// mutual exclusion between the two competing resolution triggers.
type Incident struct {
	// opaque identifier issued by the challenge backend
	ID       string
	Subject  Subject
	Origin   MessageRef
	Reason   string
	SolveURL string

	// set once at creation, never mutated
	CreatedAt time.Time
	Deadline  time.Time

	mu    sync.Mutex
	state State

	notice    MessageHandle
	hasNotice bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (inc *Incident) State() State {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	return inc.state
}

func (inc *Incident) Resolved() bool {
	return inc.State().Terminal()
}

// claim is the atomic check-and-set both resolution triggers must pass before
// performing any terminal side effect. Exactly one caller per incident ever
// gets true; the race loser does nothing.
func (inc *Incident) claim(next State) bool {
	inc.mu.Lock()
	defer inc.mu.Unlock()
	if inc.state != StateAwaitingSolve {
		return false
	}
	inc.state = next
	return true
}
