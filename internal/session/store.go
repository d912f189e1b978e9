// Package session holds the client-side view of one enrollment session.
// The view is only ever replaced wholesale with the persistence API's
// authoritative record; it is never merged field by field.
package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/sells-group/enroll-cli/internal/model"
)

// Kind is the load lifecycle position of a Store.
type Kind int

const (
	Idle Kind = iota
	Loading
	Ready
	Error
)

func (k Kind) String() string {
	switch k {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// State is a snapshot of the Store. Session is set only when Kind is Ready
// and Message only when Kind is Error. Stale is set when Kind is Loading or
// Error and an earlier Ready session is still held.
type State struct {
	Kind    Kind
	Session *model.Session
	Message string
	Stale   bool
}

// Backend is the session persistence API: GET returns the full record and
// PATCH returns the full record after the update.
type Backend interface {
	Get(ctx context.Context, id string) (*model.Session, error)
	Patch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error)
}

// Store holds the canonical session for one session id.
type Store struct {
	backend Backend

	mu    sync.RWMutex
	id    string
	state State
	// last is the most recent Ready session. It survives a refetch in
	// progress and a failed one; only Rebind clears it.
	last *model.Session
	// gen increments on every Replace so an in-flight load that started
	// before the replace cannot overwrite it.
	gen uint64

	group singleflight.Group
}

// New creates an Idle store for session id.
func New(backend Backend, id string) *Store {
	return &Store{backend: backend, id: id}
}

// ID returns the session id the store is bound to.
func (s *Store) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// State returns the current snapshot. The session is a copy.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	st.Session = st.Session.Clone()
	return st
}

// Session returns a copy of the last Ready session, or nil if the store has
// never been Ready for its current id.
func (s *Store) Session() *model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last.Clone()
}

// Load fetches the session from the backend. Transport and decode errors
// become an Error state; Load never returns an error.
func (s *Store) Load(ctx context.Context) State {
	s.mu.Lock()
	id := s.id
	gen := s.gen
	s.state = State{Kind: Loading, Stale: s.last != nil}
	s.mu.Unlock()

	sess, err := s.backend.Get(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen || s.id != id {
		zap.L().Debug("session: discarding stale load", zap.String("session_id", id))
		st := s.state
		st.Session = st.Session.Clone()
		return st
	}
	if err != nil {
		zap.L().Warn("session: load failed", zap.String("session_id", id), zap.Error(err))
		s.state = State{Kind: Error, Message: err.Error(), Stale: s.last != nil}
		return s.state
	}
	s.last = sess.Clone()
	s.state = State{Kind: Ready, Session: sess.Clone()}
	return State{Kind: Ready, Session: sess.Clone()}
}

// Refetch re-runs Load. Concurrent refetches for the same session share a
// single backend read.
func (s *Store) Refetch(ctx context.Context) State {
	v, _, _ := s.group.Do(s.ID(), func() (any, error) {
		return s.Load(ctx), nil
	})
	st := v.(State)
	st.Session = st.Session.Clone()
	return st
}

// Replace overwrites the store with sess unconditionally.
func (s *Store) Replace(sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.last = sess.Clone()
	s.state = State{Kind: Ready, Session: sess.Clone()}
}

// Persist sends patch to the backend and replaces the store with the full
// record it returns. On error the store is left untouched.
func (s *Store) Persist(ctx context.Context, patch model.SessionPatch) (*model.Session, error) {
	sess, err := s.backend.Patch(ctx, s.ID(), patch)
	if err != nil {
		return nil, err
	}
	s.Replace(sess)
	return sess.Clone(), nil
}

// Rebind points the store at a different session id and resets it to Idle.
func (s *Store) Rebind(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.gen++
	s.last = nil
	s.state = State{Kind: Idle}
}
