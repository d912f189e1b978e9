package flow

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/enrollment"
	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/session"
	"github.com/sells-group/enroll-cli/internal/store"
)

type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) result(args mock.Arguments) (*model.EnrollmentResult, error) {
	if r, ok := args.Get(0).(*model.EnrollmentResult); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAdapter) CreateLead(ctx context.Context, in enrollment.CreateLeadInput) (*model.EnrollmentResult, error) {
	return m.result(m.Called(ctx, in))
}

func (m *mockAdapter) SetPlan(ctx context.Context, in enrollment.SetPlanInput) (*model.EnrollmentResult, error) {
	return m.result(m.Called(ctx, in))
}

func (m *mockAdapter) SetupPending(ctx context.Context, in enrollment.SetupPendingInput) (*model.EnrollmentResult, error) {
	return m.result(m.Called(ctx, in))
}

func (m *mockAdapter) Enroll(ctx context.Context, in enrollment.EnrollInput) (*model.EnrollmentResult, error) {
	return m.result(m.Called(ctx, in))
}

// flakyBackend counts reads and can be told to fail reads or writes.
type flakyBackend struct {
	session.StoreBackend
	gets      atomic.Int32
	failGet   atomic.Bool
	failPatch atomic.Bool
}

func (b *flakyBackend) Get(ctx context.Context, id string) (*model.Session, error) {
	b.gets.Add(1)
	if b.failGet.Load() {
		return nil, eris.New("sessions: connection reset")
	}
	return b.StoreBackend.Get(ctx, id)
}

func (b *flakyBackend) Patch(ctx context.Context, id string, patch model.SessionPatch) (*model.Session, error) {
	if b.failPatch.Load() {
		return nil, eris.New("sessions: disk full")
	}
	return b.StoreBackend.Patch(ctx, id, patch)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "flow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testPets() []model.Pet {
	return []model.Pet{{Name: "Biscuit", Species: "dog", DateOfBirth: "2021-04-02"}}
}

func testOwner() model.Owner {
	return model.Owner{
		FirstName: "Pat",
		LastName:  "Lee",
		Email:     "pat@example.com",
		Phone:     "(415) 555-0134",
		Street:    "1 Market St",
		City:      "San Francisco",
		State:     "ca",
		Zip:       "94107",
	}
}

// seedSession creates a session with lead inputs and applies extra patches.
func seedSession(t *testing.T, st store.Store, email string, patches ...model.SessionPatch) *model.Session {
	t.Helper()
	ctx := context.Background()
	sess, err := st.CreateSession(ctx, "94107", email)
	require.NoError(t, err)
	sess, err = st.PatchSession(ctx, sess.ID, model.SessionPatch{Pets: testPets()})
	require.NoError(t, err)
	for _, p := range patches {
		sess, err = st.PatchSession(ctx, sess.ID, p)
		require.NoError(t, err)
	}
	return sess
}

// paymentStepPatch puts a session on the payment step with everything the
// earlier steps would have saved.
func paymentStepPatch() model.SessionPatch {
	owner := testOwner()
	owner.Phone = "4155550134"
	owner.State = "CA"
	return model.SessionPatch{
		Step:          model.Ptr(model.StepPayment),
		LeadID:        model.Ptr("L1"),
		QuoteDetailID: model.Ptr("Q1"),
		Plan: &model.Plan{
			Tier:          model.TierStandard,
			Reimbursement: 0.8,
			Deductible:    500,
			PlanID:        "P-80-500",
		},
		Owner:                   &owner,
		Consent:                 model.Ptr(true),
		AccountID:               model.Ptr("A1"),
		MonthlyAuthorizedAmount: model.Ptr(41.50),
	}
}

func newTestOrchestrator(t *testing.T, adapter enrollment.Adapter, backend session.Backend, id string, opts ...Option) *Orchestrator {
	t.Helper()
	o := New(adapter, session.New(backend, id), append([]Option{WithAffiliateCode("test-aff")}, opts...)...)
	st := o.Load(context.Background())
	require.Equal(t, session.Ready, st.Kind, st.Message)
	return o
}

func requireFailure(t *testing.T, err error, class Class) *Failure {
	t.Helper()
	require.Error(t, err)
	f, ok := AsFailure(err)
	require.True(t, ok, "expected a *Failure, got %T: %v", err, err)
	require.Equal(t, class, f.Class, f.Message)
	return f
}
