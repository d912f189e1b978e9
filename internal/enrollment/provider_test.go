package enrollment

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/resilience"
	"github.com/sells-group/enroll-cli/pkg/insurer"
)

type mockInsurer struct {
	mock.Mock
}

func (m *mockInsurer) CreateLead(ctx context.Context, req insurer.CreateLeadRequest) (*insurer.CreateLeadResponse, error) {
	args := m.Called(ctx, req)
	if r, ok := args.Get(0).(*insurer.CreateLeadResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInsurer) SetPlan(ctx context.Context, quoteDetailID string, req insurer.SetPlanRequest) (*insurer.SetPlanResponse, error) {
	args := m.Called(ctx, quoteDetailID, req)
	if r, ok := args.Get(0).(*insurer.SetPlanResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInsurer) SetupPending(ctx context.Context, leadID string, req insurer.SetupPendingRequest) (*insurer.SetupPendingResponse, error) {
	args := m.Called(ctx, leadID, req)
	if r, ok := args.Get(0).(*insurer.SetupPendingResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockInsurer) Enroll(ctx context.Context, leadID string, req insurer.EnrollRequest) (*insurer.EnrollResponse, error) {
	args := m.Called(ctx, leadID, req)
	if r, ok := args.Get(0).(*insurer.EnrollResponse); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func leadInput() CreateLeadInput {
	return CreateLeadInput{Zip: "94107", Email: "pat@example.com", Pets: []model.Pet{{Name: "Rex", DateOfBirth: "2020-03-04"}}}
}

func TestProviderAdapter_CreateLead(t *testing.T) {
	m := &mockInsurer{}
	m.On("CreateLead", mock.Anything, mock.MatchedBy(func(r insurer.CreateLeadRequest) bool {
		return r.Zip == "94107" && r.AffiliateCode == "AFF" && len(r.Pets) == 1 && r.Pets[0].Name == "Rex"
	})).Return(&insurer.CreateLeadResponse{
		LeadID:        "L1",
		QuoteDetailID: "Q1",
		PlanID:        "P1",
		Offers: []insurer.Offer{
			{PlanID: "P1", Reimbursement: 80, Deductible: 500, MonthlyPremium: "39.99"},
			{PlanID: "P2", IsHighDeductible: true, Reimbursement: 0.7, Deductible: 1000, MonthlyPremium: "22.10"},
		},
	}, nil).Once()

	a := NewProviderAdapter(m, WithAffiliateCode("AFF"))
	res, err := a.CreateLead(context.Background(), leadInput())
	require.NoError(t, err)
	require.NoError(t, res.Validate())
	assert.Equal(t, model.StepQuote, res.Step)
	assert.Equal(t, "L1", res.LeadID)
	assert.Equal(t, "Q1", res.QuoteDetailID)
	require.Len(t, res.Policies, 2)
	assert.InDelta(t, 0.8, res.Policies[0].Reimbursement, 1e-9)
	assert.Equal(t, model.TierValue, res.Policies[1].Tier())
	m.AssertExpectations(t)
}

func TestProviderAdapter_ContractErrorMakesNoCall(t *testing.T) {
	m := &mockInsurer{}
	a := NewProviderAdapter(m)

	_, err := a.CreateLead(context.Background(), CreateLeadInput{Zip: "94107"})
	assert.True(t, IsContract(err))

	_, err = a.SetupPending(context.Background(), SetupPendingInput{
		LeadID:  "L1",
		Consent: model.Ptr(true),
		Pets:    []PendingPet{{Name: "Rex", Deductible: 500, Reimbursement: 0.8, DateOfBirth: "2019"}},
	})
	assert.True(t, IsValidation(err))

	_, err = a.Enroll(context.Background(), EnrollInput{LeadID: "L1"})
	assert.True(t, IsContract(err))

	m.AssertNotCalled(t, "CreateLead", mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "SetupPending", mock.Anything, mock.Anything, mock.Anything)
	m.AssertNotCalled(t, "Enroll", mock.Anything, mock.Anything, mock.Anything)
}

func TestProviderAdapter_DuplicateLeadIsResumable(t *testing.T) {
	m := &mockInsurer{}
	m.On("CreateLead", mock.Anything, mock.Anything).Return(nil, eris.Wrap(&insurer.APIError{
		StatusCode: http.StatusConflict,
		Code:       "DUPLICATE_LEAD",
		Message:    "lead exists",
		ResumeRef:  "prev-session",
	}, "insurer: create lead"))

	a := NewProviderAdapter(m)
	res, err := a.CreateLead(context.Background(), leadInput())
	require.NoError(t, err)
	assert.True(t, res.Rejected())
	assert.Equal(t, "DUPLICATE_LEAD", res.ErrorCode)
	assert.Equal(t, "prev-session", res.ResumeRef)
	assert.Empty(t, res.LeadID)
}

func TestProviderAdapter_UnlistedCodeIsPlainRejection(t *testing.T) {
	m := &mockInsurer{}
	m.On("CreateLead", mock.Anything, mock.Anything).Return(nil, &insurer.APIError{
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "INELIGIBLE_ZIP",
		Message:    "not sold in this state",
		ResumeRef:  "ignored",
	})

	a := NewProviderAdapter(m)
	res, err := a.CreateLead(context.Background(), leadInput())
	require.NoError(t, err)
	assert.Equal(t, "not sold in this state", res.Error)
	assert.Empty(t, res.ResumeRef)
}

func TestProviderAdapter_ConfiguredCodes(t *testing.T) {
	m := &mockInsurer{}
	m.On("CreateLead", mock.Anything, mock.Anything).Return(nil, &insurer.APIError{
		StatusCode: http.StatusServiceUnavailable,
		Code:       "LEAD_LOCKED",
		Message:    "lead is being processed",
		ResumeRef:  "prev",
	})

	a := NewProviderAdapter(m, WithErrorCodes(ErrorCodes{"LEAD_LOCKED": ClassResumable}))
	res, err := a.CreateLead(context.Background(), leadInput())
	require.NoError(t, err, "a configured code is a rejection even on a 5xx status")
	assert.Equal(t, "prev", res.ResumeRef)
}

func TestProviderAdapter_TransientStatus(t *testing.T) {
	m := &mockInsurer{}
	m.On("SetPlan", mock.Anything, "Q1", mock.Anything).Return(nil, &insurer.APIError{
		StatusCode: http.StatusGatewayTimeout,
		Message:    "Gateway Timeout",
	})

	a := NewProviderAdapter(m)
	_, err := a.SetPlan(context.Background(), SetPlanInput{QuoteDetailID: "Q1", PlanID: "P1", Email: "e", AffiliateCode: "a", Zip: "z"})
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.True(t, resilience.IsTimeout(err))
	assert.False(t, IsContract(err))
}

func TestProviderAdapter_TransportErrorIsTransient(t *testing.T) {
	m := &mockInsurer{}
	m.On("Enroll", mock.Anything, "L1", mock.Anything).Return(nil, errors.New("read tcp: connection reset by peer"))

	a := NewProviderAdapter(m)
	_, err := a.Enroll(context.Background(), EnrollInput{
		LeadID: "L1", PaymentToken: "tok", TransactionID: "txn", AuthorizedAmount: 41.5,
		Billing: model.Owner{FirstName: "Pat", LastName: "Lee", Street: "1 Main", City: "SF", State: "CA", Zip: "94107"},
	})
	require.Error(t, err)
	var te *resilience.TransientError
	assert.True(t, errors.As(err, &te))
}

func TestProviderAdapter_CircuitTripsOnlyOnTransient(t *testing.T) {
	m := &mockInsurer{}
	m.On("SetPlan", mock.Anything, "REJ", mock.Anything).Return(nil, &insurer.APIError{StatusCode: 400, Message: "bad plan"})
	m.On("SetPlan", mock.Anything, "DOWN", mock.Anything).Return(nil, &insurer.APIError{StatusCode: 503, Message: "down"})

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 2})
	a := NewProviderAdapter(m, WithCircuitBreaker(cb))
	in := SetPlanInput{PlanID: "P1", Email: "e", AffiliateCode: "a", Zip: "z"}

	for range 3 {
		in.QuoteDetailID = "REJ"
		res, err := a.SetPlan(context.Background(), in)
		require.NoError(t, err)
		assert.True(t, res.Rejected())
	}
	assert.Equal(t, resilience.CircuitClosed, cb.State())

	in.QuoteDetailID = "DOWN"
	for range 2 {
		_, err := a.SetPlan(context.Background(), in)
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	_, err := a.SetPlan(context.Background(), in)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsTransient(err))
	m.AssertNumberOfCalls(t, "SetPlan", 5)
}

func TestProviderAdapter_SetupPendingNormalizesDates(t *testing.T) {
	m := &mockInsurer{}
	m.On("SetupPending", mock.Anything, "L1", mock.MatchedBy(func(r insurer.SetupPendingRequest) bool {
		return r.Consent && r.Owner != nil && r.Owner.FirstName == "Pat" && r.Pets[0].DateOfBirth == "2020-03-04"
	})).Return(&insurer.SetupPendingResponse{AccountID: "A1", MonthlyTotalPayment: 41.50}, nil)

	a := NewProviderAdapter(m)
	res, err := a.SetupPending(context.Background(), SetupPendingInput{
		LeadID:  "L1",
		Consent: model.Ptr(true),
		Owner:   &model.Owner{FirstName: "Pat"},
		Pets:    []PendingPet{{Name: "Rex", Deductible: 500, Reimbursement: 0.8, DateOfBirth: "03/04/2020"}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StepPayment, res.Step)
	assert.Equal(t, "A1", res.AccountID)
	assert.InDelta(t, 41.50, res.MonthlyTotalPayment, 1e-9)
	m.AssertExpectations(t)
}

func TestProviderAdapter_SetPlanFallsBackToRequestedPlan(t *testing.T) {
	m := &mockInsurer{}
	m.On("SetPlan", mock.Anything, "Q1", mock.Anything).Return(&insurer.SetPlanResponse{}, nil)

	a := NewProviderAdapter(m)
	res, err := a.SetPlan(context.Background(), SetPlanInput{QuoteDetailID: "Q1", PlanID: "P9", Email: "e", AffiliateCode: "a", Zip: "z"})
	require.NoError(t, err)
	assert.Equal(t, model.StepDetails, res.Step)
	assert.Equal(t, "P9", res.PlanID)
}

func TestProviderAdapter_EnrollSuccess(t *testing.T) {
	m := &mockInsurer{}
	m.On("Enroll", mock.Anything, "L1", mock.MatchedBy(func(r insurer.EnrollRequest) bool {
		return r.PaymentToken == "tok" && r.AuthorizedAmount == 41.5 && r.Billing.State == "CA"
	})).Return(&insurer.EnrollResponse{RedirectRef: "https://provider.example/welcome/abc"}, nil)

	a := NewProviderAdapter(m)
	res, err := a.Enroll(context.Background(), EnrollInput{
		LeadID: "L1", PaymentToken: "tok", TransactionID: "txn", AuthorizedAmount: 41.5,
		Billing: model.Owner{FirstName: "Pat", LastName: "Lee", Street: "1 Main", City: "SF", State: "CA", Zip: "94107"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.StepConfirm, res.Step)
	assert.Equal(t, "https://provider.example/welcome/abc", res.RedirectRef)
}
