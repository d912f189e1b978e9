// Package latch guards lead creation so it fires at most once per session.
// The in-memory state is a same-process fast path; the session's lead id
// is the authoritative guard.
package latch

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/model"
)

// State is the per-session latch position.
type State int

const (
	NotRequested State = iota
	Requesting
	Fulfilled
	FailedRecoverable
)

func (s State) String() string {
	switch s {
	case NotRequested:
		return "not_requested"
	case Requesting:
		return "requesting"
	case Fulfilled:
		return "fulfilled"
	case FailedRecoverable:
		return "failed_recoverable"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Decision is the outcome of an acquire attempt.
type Decision int

const (
	// Acquired means the caller now owns the request and must call
	// Fulfill or Fail when it completes.
	Acquired Decision = iota
	// HasLead means the session already carries a lead.
	HasLead
	// InFlight means another caller owns the request.
	InFlight
	// Incomplete means required inputs are missing; nothing was latched.
	Incomplete
	// NeedsRetry means the last attempt failed and only an explicit retry
	// may re-arm the latch.
	NeedsRetry
)

func (d Decision) String() string {
	switch d {
	case Acquired:
		return "acquired"
	case HasLead:
		return "has_lead"
	case InFlight:
		return "in_flight"
	case Incomplete:
		return "incomplete"
	case NeedsRetry:
		return "needs_retry"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Marker is an optional cross-process guard consulted after the local
// latch is taken.
type Marker interface {
	// Mark records an in-flight request and reports false if one was
	// already recorded.
	Mark(ctx context.Context, sessionID string) (bool, error)
	// Clear removes the record.
	Clear(ctx context.Context, sessionID string) error
}

// Latch tracks lead acquisition for many sessions.
type Latch struct {
	mu     sync.Mutex
	states map[string]State
	marker Marker
}

// Option configures a Latch.
type Option func(*Latch)

// WithMarker adds a cross-process marker.
func WithMarker(m Marker) Option {
	return func(l *Latch) {
		l.marker = m
	}
}

// New creates an empty latch.
func New(opts ...Option) *Latch {
	l := &Latch{states: make(map[string]State)}
	for _, o := range opts {
		o(l)
	}
	return l
}

// State returns the latch state for sessionID.
func (l *Latch) State(sessionID string) State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.states[sessionID]
}

// Acquire moves NotRequested to Requesting when sess has no lead and all
// lead inputs are present. The transition happens under the lock before any
// I/O so exactly one caller observes NotRequested. The returned slice names
// missing inputs when the decision is Incomplete.
func (l *Latch) Acquire(ctx context.Context, sess *model.Session) (Decision, []string) {
	return l.acquire(ctx, sess, false)
}

// Retry is Acquire that also re-arms a FailedRecoverable latch. It is only
// called on an explicit user request.
func (l *Latch) Retry(ctx context.Context, sess *model.Session) (Decision, []string) {
	return l.acquire(ctx, sess, true)
}

func (l *Latch) acquire(ctx context.Context, sess *model.Session, retry bool) (Decision, []string) {
	if sess.HasLead() {
		l.set(sess.ID, Fulfilled)
		return HasLead, nil
	}
	if missing := MissingInputs(sess); len(missing) > 0 {
		return Incomplete, missing
	}

	l.mu.Lock()
	switch l.states[sess.ID] {
	case Requesting:
		l.mu.Unlock()
		return InFlight, nil
	case Fulfilled:
		l.mu.Unlock()
		// The local latch saw a lead the session copy does not have yet.
		return HasLead, nil
	case FailedRecoverable:
		if !retry {
			l.mu.Unlock()
			return NeedsRetry, nil
		}
	}
	l.states[sess.ID] = Requesting
	l.mu.Unlock()

	if l.marker != nil {
		ok, err := l.marker.Mark(ctx, sess.ID)
		switch {
		case err != nil:
			zap.L().Warn("latch: marker unavailable, using local latch only",
				zap.String("session_id", sess.ID), zap.Error(err))
		case !ok:
			l.set(sess.ID, NotRequested)
			return InFlight, nil
		}
	}
	return Acquired, nil
}

// Fulfill records a successful lead creation.
func (l *Latch) Fulfill(sessionID string) {
	l.set(sessionID, Fulfilled)
}

// Fail records a failed attempt. Only Retry can re-arm the latch afterwards.
func (l *Latch) Fail(ctx context.Context, sessionID string) {
	l.set(sessionID, FailedRecoverable)
	l.clearMarker(ctx, sessionID)
}

// Release returns an acquired latch to NotRequested without recording a
// failure, for attempts abandoned before any request was sent.
func (l *Latch) Release(ctx context.Context, sessionID string) {
	l.mu.Lock()
	if l.states[sessionID] == Requesting {
		l.states[sessionID] = NotRequested
	}
	l.mu.Unlock()
	l.clearMarker(ctx, sessionID)
}

// Forget drops all state for sessionID.
func (l *Latch) Forget(ctx context.Context, sessionID string) {
	l.mu.Lock()
	delete(l.states, sessionID)
	l.mu.Unlock()
	l.clearMarker(ctx, sessionID)
}

func (l *Latch) set(sessionID string, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states[sessionID] = s
}

func (l *Latch) clearMarker(ctx context.Context, sessionID string) {
	if l.marker == nil {
		return
	}
	if err := l.marker.Clear(ctx, sessionID); err != nil {
		zap.L().Warn("latch: clear marker failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// MissingInputs lists the lead inputs sess lacks: zip, email, at least one
// pet with a name and a complete date of birth.
func MissingInputs(sess *model.Session) []string {
	var missing []string
	if sess.Zip == "" {
		missing = append(missing, "zip")
	}
	if sess.Email == "" {
		missing = append(missing, "email")
	}
	if len(sess.Pets) == 0 {
		missing = append(missing, "pets")
	}
	for i, p := range sess.Pets {
		if p.Name == "" {
			missing = append(missing, fmt.Sprintf("pets[%d].name", i))
		}
		if _, err := model.ResolveDate(p.DateOfBirth); err != nil {
			missing = append(missing, fmt.Sprintf("pets[%d].date_of_birth", i))
		}
	}
	return missing
}
