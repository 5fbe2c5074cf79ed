package reconcile

import (
	"sync"
	"time"

	"github.com/anddigital/diagnosis-platform/internal/diagnosis"
)

// State is the lifecycle of one submission's wait for a result.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateWaiting
	StateResolved
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateWaiting:
		return "waiting"
	case StateResolved:
		return "resolved"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Channel identifies which delivery path produced a result.
type Channel string

const (
	// ChannelDirect is the blocking workflow-run response.
	ChannelDirect Channel = "direct"
	// ChannelStore is the webhook relay's durable-store write.
	ChannelStore Channel = "webhook_store"
	// ChannelNotify is the in-process bus (webhook or entry-URL push).
	ChannelNotify Channel = "notify"
	// ChannelFallback is a direct-call payload promoted at deadline.
	ChannelFallback Channel = "direct_fallback"
)

// Session is the ephemeral per-submission state: one bounded wait across
// all delivery channels. It is created when a submission starts and
// superseded by the next submission or an explicit restart.
type Session struct {
	ID     string
	User   string
	Tenant string

	mu        sync.Mutex
	state     State
	startedAt time.Time
	deadline  time.Time
	winner    Channel
	result    *diagnosis.Result
	cancel    func()
	done      chan struct{}
}

func newSession(id, user, tenant string, cancel func()) *Session {
	return &Session{
		ID:     id,
		User:   user,
		Tenant: tenant,
		state:  StateSubmitting,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the winning result and channel once resolved.
func (s *Session) Result() (*diagnosis.Result, Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateResolved {
		return nil, "", false
	}
	return s.result, s.winner, true
}

// Done is closed when the session leaves the waiting states.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) enterWaiting(now time.Time, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSubmitting {
		return
	}
	s.state = StateWaiting
	s.startedAt = now
	s.deadline = now.Add(timeout)
}

// resolve transitions to Resolved exactly once. A second arrival of the
// same underlying event through another channel is a no-op.
func (s *Session) resolve(res *diagnosis.Result, ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateResolved || s.state == StateErrored {
		return false
	}
	s.state = StateResolved
	s.result = res
	s.winner = ch
	s.cancel()
	close(s.done)
	return true
}

func (s *Session) fail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateResolved || s.state == StateErrored {
		return false
	}
	s.state = StateErrored
	s.cancel()
	close(s.done)
	return true
}

// discard cancels a session that is being superseded or restarted.
func (s *Session) discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateResolved || s.state == StateErrored {
		return
	}
	s.state = StateErrored
	s.cancel()
	close(s.done)
}

// Snapshot is a read-only view of a session for status endpoints and the
// archive.
type Snapshot struct {
	SessionID string            `json:"session_id"`
	Tenant    string            `json:"tenant,omitempty"`
	State     string            `json:"state"`
	Channel   Channel           `json:"channel,omitempty"`
	StartedAt time.Time         `json:"started_at,omitzero"`
	Deadline  time.Time         `json:"deadline,omitzero"`
	Result    *diagnosis.Result `json:"result,omitempty"`
}

// Snapshot captures the session under its lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID: s.ID,
		Tenant:    s.Tenant,
		State:     s.state.String(),
		Channel:   s.winner,
		StartedAt: s.startedAt,
		Deadline:  s.deadline,
		Result:    s.result,
	}
}
