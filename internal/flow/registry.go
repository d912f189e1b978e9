package flow

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/session"
)

// Factory builds an orchestrator bound to a session id.
type Factory func(sessionID string) *Orchestrator

// Registry keeps one orchestrator per live session so concurrent requests
// for a session share its busy flag and intent. An orchestrator is never
// dropped or replaced while a transition is in flight.
type Registry struct {
	factory Factory
	now     func() time.Time

	mu    sync.Mutex
	items map[string]*Orchestrator
	used  map[string]time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		now:     time.Now,
		items:   make(map[string]*Orchestrator),
		used:    make(map[string]time.Time),
	}
}

// Get returns the orchestrator for id, creating and loading it on first
// use. A busy orchestrator is returned as is. A session that has never
// loaded is not cached; one that loaded before stays cached when a reload
// fails.
func (r *Registry) Get(ctx context.Context, id string) (*Orchestrator, error) {
	r.mu.Lock()
	o, ok := r.items[id]
	if !ok {
		o = r.factory(id)
		r.items[id] = o
	}
	r.used[id] = r.now()
	r.mu.Unlock()

	if ok && (o.Busy() || o.State().Kind == session.Ready) {
		return o, nil
	}
	st := o.Load(ctx)
	if st.Kind == session.Ready {
		return o, nil
	}
	if o.Busy() {
		return o, nil
	}
	if o.Session() == nil {
		r.mu.Lock()
		if r.items[id] == o && !o.Busy() {
			delete(r.items, id)
			delete(r.used, id)
		}
		r.mu.Unlock()
	}
	return nil, eris.Errorf("flow: load session %s: %s", id, st.Message)
}

// Resume switches the orchestrator for id to the earlier session ref and
// re-keys it. A busy orchestrator already registered for ref is kept.
func (r *Registry) Resume(ctx context.Context, id, ref string) (*model.Session, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	sess, err := o.ResumeSession(ctx, ref)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[id] == o {
		delete(r.items, id)
		delete(r.used, id)
	}
	if cur, ok := r.items[sess.ID]; ok && cur != o && cur.Busy() {
		zap.L().Warn("flow: resumed session already has a transition in flight",
			zap.String("session_id", sess.ID))
		return sess, nil
	}
	r.items[sess.ID] = o
	r.used[sess.ID] = r.now()
	return sess, nil
}

// Release drops the orchestrator for id once its session is complete.
// It reports whether anything was dropped.
func (r *Registry) Release(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.items[id]
	if !ok || !evictable(o, true) {
		return false
	}
	delete(r.items, id)
	delete(r.used, id)
	return true
}

// Sweep drops idle orchestrators: those unused for longer than maxIdle and
// those whose session is complete. Busy orchestrators are skipped. It
// returns how many were dropped.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	n := 0
	for id, o := range r.items {
		stale := maxIdle > 0 && r.used[id].Before(cutoff)
		if !evictable(o, !stale) {
			continue
		}
		delete(r.items, id)
		delete(r.used, id)
		n++
	}
	if n > 0 {
		zap.L().Debug("flow: swept idle orchestrators", zap.Int("evicted", n), zap.Int("remaining", len(r.items)))
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval, maxIdle time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(maxIdle)
		}
	}
}

// evictable reports whether o may be dropped. With terminalOnly set only a
// completed session qualifies.
func evictable(o *Orchestrator, terminalOnly bool) bool {
	if o.Busy() {
		return false
	}
	if !terminalOnly {
		return true
	}
	sess := o.Session()
	return sess != nil && sess.CurrentStep.Terminal()
}

// Forget drops the orchestrator for id unless a transition is in flight.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.items[id]; ok && o.Busy() {
		return
	}
	delete(r.items, id)
	delete(r.used, id)
}

// Len returns the number of live orchestrators.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}
