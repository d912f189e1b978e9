package flow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/enrollment"
	"github.com/sells-group/enroll-cli/internal/latch"
	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/session"
	"github.com/sells-group/enroll-cli/internal/store"
)

func newTestRegistry(st store.Store, adapter enrollment.Adapter) *Registry {
	l := latch.New()
	return NewRegistry(func(id string) *Orchestrator {
		return New(adapter, session.New(session.StoreBackend{Store: st}, id),
			WithLatch(l), WithAffiliateCode("test-aff"), WithRecorder(st))
	})
}

func TestRegistry_GetCachesOrchestrator(t *testing.T) {
	st := newTestStore(t)
	seeded := seedSession(t, st, "reg@example.com")
	reg := newTestRegistry(st, enrollment.NewSimulatedAdapter())
	ctx := context.Background()

	a, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)
	b, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, 1, reg.Len())

	reg.Forget(seeded.ID)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_GetUnknownSessionNotCached(t *testing.T) {
	st := newTestStore(t)
	reg := newTestRegistry(st, enrollment.NewSimulatedAdapter())

	_, err := reg.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_ResumeRekeys(t *testing.T) {
	st := newTestStore(t)
	sim := enrollment.NewSimulatedAdapter()
	reg := newTestRegistry(st, sim)
	ctx := context.Background()

	first := seedSession(t, st, "rekey@example.com")
	a, err := reg.Get(ctx, first.ID)
	require.NoError(t, err)
	_, err = a.AcquireLead(ctx)
	require.NoError(t, err)

	second := seedSession(t, st, "rekey@example.com")
	b, err := reg.Get(ctx, second.ID)
	require.NoError(t, err)
	_, err = b.AcquireLead(ctx)
	requireFailure(t, err, ClassRejection)

	sess, err := reg.Resume(ctx, second.ID, "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, sess.ID)

	got, err := reg.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Same(t, b, got)
	assert.Equal(t, 1, reg.Len())
}

func newBackendRegistry(backend session.Backend, adapter enrollment.Adapter) *Registry {
	return NewRegistry(func(id string) *Orchestrator {
		return New(adapter, session.New(backend, id), WithAffiliateCode("test-aff"))
	})
}

func detailsStepPatch() model.SessionPatch {
	return model.SessionPatch{
		Step:          model.Ptr(model.StepDetails),
		LeadID:        model.Ptr("L1"),
		QuoteDetailID: model.Ptr("Q1"),
		Plan:          &model.Plan{Tier: model.TierStandard, Reimbursement: 0.8, Deductible: 500, PlanID: "P1"},
	}
}

func TestRegistry_BusyOrchestratorSurvivesFailedReload(t *testing.T) {
	st := newTestStore(t)
	seeded := seedSession(t, st, "busy@example.com", detailsStepPatch())
	backend := &flakyBackend{StoreBackend: session.StoreBackend{Store: st}}

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	ad := &mockAdapter{}
	ad.On("SetupPending", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		once.Do(func() { close(started) })
		<-release
	}).Return(&model.EnrollmentResult{Step: model.StepPayment, AccountID: "A1", MonthlyTotalPayment: 41.50}, nil)

	reg := newBackendRegistry(backend, ad)
	ctx := context.Background()

	o1, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := o1.SubmitDetails(ctx, DetailsInput{Owner: testOwner(), Consent: true})
		done <- err
	}()
	<-started
	require.True(t, o1.Busy())

	backend.failGet.Store(true)
	st1 := o1.StepChanged(ctx, model.StepDetails)
	assert.Equal(t, session.Error, st1.Kind)
	got, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Same(t, o1, got)
	backend.failGet.Store(false)

	o2, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)
	require.Same(t, o1, o2)
	_, err = o2.SubmitDetails(ctx, DetailsInput{Owner: testOwner(), Consent: true})
	assert.ErrorIs(t, err, ErrBusy)

	close(release)
	require.NoError(t, <-done)
	ad.AssertNumberOfCalls(t, "SetupPending", 1)
	assert.Equal(t, model.StepPayment, o1.Session().CurrentStep)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_FailedReloadKeepsLoadedOrchestrator(t *testing.T) {
	st := newTestStore(t)
	seeded := seedSession(t, st, "reload@example.com")
	backend := &flakyBackend{StoreBackend: session.StoreBackend{Store: st}}
	reg := newBackendRegistry(backend, enrollment.NewSimulatedAdapter())
	ctx := context.Background()

	a, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)

	backend.failGet.Store(true)
	a.StepChanged(ctx, model.StepQuote)
	_, err = reg.Get(ctx, seeded.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 1, reg.Len())
	require.NotNil(t, a.Session())

	backend.failGet.Store(false)
	b, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistry_ReleaseOnlyCompletedSessions(t *testing.T) {
	st := newTestStore(t)
	pending := seedSession(t, st, "open@example.com")
	completed := seedSession(t, st, "done@example.com", paymentStepPatch(), model.SessionPatch{
		Step:            model.Ptr(model.StepConfirm),
		ConfirmationRef: model.Ptr("conf-1"),
	})
	reg := newTestRegistry(st, enrollment.NewSimulatedAdapter())
	ctx := context.Background()

	_, err := reg.Get(ctx, pending.ID)
	require.NoError(t, err)
	_, err = reg.Get(ctx, completed.ID)
	require.NoError(t, err)

	assert.False(t, reg.Release(pending.ID))
	assert.True(t, reg.Release(completed.ID))
	assert.False(t, reg.Release("missing"))
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_SweepDropsIdle(t *testing.T) {
	st := newTestStore(t)
	stale := seedSession(t, st, "stale@example.com")
	fresh := seedSession(t, st, "fresh@example.com")
	reg := newTestRegistry(st, enrollment.NewSimulatedAdapter())
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }
	_, err := reg.Get(ctx, stale.ID)
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	_, err = reg.Get(ctx, fresh.ID)
	require.NoError(t, err)

	now = now.Add(15 * time.Minute)
	assert.Equal(t, 1, reg.Sweep(30*time.Minute))
	assert.Equal(t, 1, reg.Len())

	got, err := reg.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, got.SessionID())
}

func TestRegistry_SweepSkipsBusy(t *testing.T) {
	st := newTestStore(t)
	seeded := seedSession(t, st, "sweep@example.com", detailsStepPatch())

	started := make(chan struct{})
	release := make(chan struct{})
	ad := &mockAdapter{}
	ad.On("SetupPending", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(&model.EnrollmentResult{Step: model.StepPayment, AccountID: "A1", MonthlyTotalPayment: 41.50}, nil).Once()
	reg := newTestRegistry(st, ad)
	ctx := context.Background()

	o, err := reg.Get(ctx, seeded.ID)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() {
		_, err := o.SubmitDetails(ctx, DetailsInput{Owner: testOwner(), Consent: true})
		done <- err
	}()
	<-started

	reg.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Equal(t, 0, reg.Sweep(time.Minute))
	reg.Forget(seeded.ID)
	assert.Equal(t, 1, reg.Len())

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, reg.Sweep(time.Minute))
	assert.Equal(t, 0, reg.Len())
}
