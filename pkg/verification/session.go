package verification

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State represents the current step of a verification conversation.
type State string

const (
	StateAwaitingEmail State = "awaiting_email"
	StateAwaitingCode  State = "awaiting_code"
	StateGranting      State = "granting"
	StateCompleted     State = "completed"
	StateFailed        State = "failed"
	StateExpired       State = "expired"
)

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateExpired
}

// replyBuffer bounds how many unprocessed DM replies a session will hold.
// Replies beyond the buffer are dropped rather than blocking the event
// handler that delivers them.
const replyBuffer = 8

// Session is one user's in-flight verification conversation. It is created
// by the Store, mutated only by the Service goroutine that runs it, and
// removed from the Store on reaching a terminal state.
type Session struct {
	ID        uuid.UUID
	UserID    string
	CreatedAt time.Time

	mu       sync.Mutex
	state    State
	email    string
	code     string
	deadline time.Time

	replies chan string
}

func newSession(userID string) *Session {
	return &Session{
		ID:        uuid.New(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		state:     StateAwaitingEmail,
		replies:   make(chan string, replyBuffer),
	}
}

// State returns the current conversation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Email returns the validated address, or "" before one is collected.
func (s *Session) Email() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.email
}

// Deadline returns the time by which the current step must complete.
func (s *Session) Deadline() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deadline
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) setEmail(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.email = email
}

// setCode records the freshly generated code. The code is never exposed
// through an accessor; comparison happens inside the Service runner only.
func (s *Session) setCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code = code
}

func (s *Session) setDeadline(deadline time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadline = deadline
}

// deliver hands an inbound DM reply to the session without blocking the
// caller. It returns false when the session is already terminal or the
// reply buffer is full, in which case the reply is discarded.
func (s *Session) deliver(text string) bool {
	if s.State().Terminal() {
		return false
	}
	select {
	case s.replies <- text:
		return true
	default:
		return false
	}
}

// await blocks until the next reply arrives, the deadline passes, or ctx is
// canceled. No lock is held across the wait. Replies are consumed in
// arrival order.
func (s *Session) await(ctx context.Context, deadline time.Time) (string, error) {
	s.setDeadline(deadline)

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case text := <-s.replies:
		return text, nil
	case <-timer.C:
		return "", ErrSessionExpired
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
