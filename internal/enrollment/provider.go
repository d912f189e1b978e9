package enrollment

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/resilience"
	"github.com/sells-group/enroll-cli/pkg/insurer"
)

// ProviderAdapter is the network-backed Adapter over the provider API.
type ProviderAdapter struct {
	client        insurer.Client
	affiliateCode string
	codes         ErrorCodes
	breaker       *resilience.CircuitBreaker
}

// ProviderOption configures a ProviderAdapter.
type ProviderOption func(*ProviderAdapter)

// WithAffiliateCode sets the affiliate code sent on lead creation.
func WithAffiliateCode(code string) ProviderOption {
	return func(a *ProviderAdapter) {
		a.affiliateCode = code
	}
}

// WithErrorCodes replaces the provider error code table.
func WithErrorCodes(codes ErrorCodes) ProviderOption {
	return func(a *ProviderAdapter) {
		if codes != nil {
			a.codes = codes
		}
	}
}

// WithCircuitBreaker guards every provider call with cb.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) ProviderOption {
	return func(a *ProviderAdapter) {
		a.breaker = cb
	}
}

// NewProviderAdapter wraps an insurer client.
func NewProviderAdapter(client insurer.Client, opts ...ProviderOption) *ProviderAdapter {
	a := &ProviderAdapter{client: client, codes: DefaultErrorCodes()}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *ProviderAdapter) CreateLead(ctx context.Context, in CreateLeadInput) (*model.EnrollmentResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	req := insurer.CreateLeadRequest{
		Zip:           in.Zip,
		Email:         in.Email,
		AffiliateCode: a.affiliateCode,
		ExternalRef:   in.SessionRef,
		ForceNew:      in.ForceNew,
	}
	for _, p := range in.Pets {
		req.Pets = append(req.Pets, insurer.PetDescriptor{
			Name:        p.Name,
			Species:     p.Species,
			Breed:       p.Breed,
			Gender:      p.Gender,
			DateOfBirth: p.DateOfBirth,
		})
	}

	var resp *insurer.CreateLeadResponse
	rej, err := a.run(ctx, OpCreateLead, func(ctx context.Context) error {
		var err error
		resp, err = a.client.CreateLead(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rej != nil {
		return a.codes.rejected(model.StepQuote, rej.Code, rej.Message, rej.ResumeRef), nil
	}
	if resp.LeadID == "" || resp.QuoteDetailID == "" {
		return nil, eris.New("enrollment: create_lead: provider response is missing lead or quote detail id")
	}

	res := &model.EnrollmentResult{
		Step:          model.StepQuote,
		LeadID:        resp.LeadID,
		QuoteDetailID: resp.QuoteDetailID,
		PlanID:        resp.PlanID,
		Policies:      policiesFromOffers(resp.Offers),
	}
	return res, nil
}

func (a *ProviderAdapter) SetPlan(ctx context.Context, in SetPlanInput) (*model.EnrollmentResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var resp *insurer.SetPlanResponse
	rej, err := a.run(ctx, OpSetPlan, func(ctx context.Context) error {
		var err error
		resp, err = a.client.SetPlan(ctx, in.QuoteDetailID, insurer.SetPlanRequest{
			PlanID:        in.PlanID,
			Email:         in.Email,
			AffiliateCode: in.AffiliateCode,
			Zip:           in.Zip,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if rej != nil {
		return a.codes.rejected(model.StepQuote, rej.Code, rej.Message, rej.ResumeRef), nil
	}

	planID := resp.PlanID
	if planID == "" {
		planID = in.PlanID
	}
	return &model.EnrollmentResult{Step: model.StepDetails, PlanID: planID}, nil
}

func (a *ProviderAdapter) SetupPending(ctx context.Context, in SetupPendingInput) (*model.EnrollmentResult, error) {
	norm, err := in.normalize()
	if err != nil {
		return nil, err
	}

	req := insurer.SetupPendingRequest{Consent: *norm.Consent}
	if norm.Owner != nil {
		c := contactFromOwner(*norm.Owner)
		req.Owner = &c
	}
	for _, p := range norm.Pets {
		req.Pets = append(req.Pets, insurer.PendingPet{
			Name:          p.Name,
			Deductible:    p.Deductible,
			Reimbursement: p.Reimbursement,
			DateOfBirth:   p.DateOfBirth,
		})
	}

	var resp *insurer.SetupPendingResponse
	rej, err := a.run(ctx, OpSetupPending, func(ctx context.Context) error {
		var err error
		resp, err = a.client.SetupPending(ctx, norm.LeadID, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if rej != nil {
		return a.codes.rejected(model.StepDetails, rej.Code, rej.Message, rej.ResumeRef), nil
	}
	if resp.AccountID == "" {
		return nil, eris.New("enrollment: setup_pending: provider response is missing account id")
	}

	return &model.EnrollmentResult{
		Step:                model.StepPayment,
		AccountID:           resp.AccountID,
		MonthlyTotalPayment: resp.MonthlyTotalPayment,
	}, nil
}

func (a *ProviderAdapter) Enroll(ctx context.Context, in EnrollInput) (*model.EnrollmentResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	var resp *insurer.EnrollResponse
	rej, err := a.run(ctx, OpEnroll, func(ctx context.Context) error {
		var err error
		resp, err = a.client.Enroll(ctx, in.LeadID, insurer.EnrollRequest{
			PaymentToken:     in.PaymentToken,
			TransactionID:    in.TransactionID,
			PaymentMethod:    in.PaymentMethod,
			ConvenienceFee:   in.ConvenienceFee,
			AuthorizedAmount: in.AuthorizedAmount,
			Billing:          contactFromOwner(in.Billing),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if rej != nil {
		return a.codes.rejected(model.StepPayment, rej.Code, rej.Message, rej.ResumeRef), nil
	}

	return &model.EnrollmentResult{Step: model.StepConfirm, RedirectRef: resp.RedirectRef}, nil
}

// run executes fn through the circuit breaker. A provider rejection is
// returned as an *insurer.APIError with a nil error. Transient statuses and
// transport faults come back as *resilience.TransientError.
func (a *ProviderAdapter) run(ctx context.Context, op string, fn func(ctx context.Context) error) (*insurer.APIError, error) {
	var rej *insurer.APIError
	exec := func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var apiErr *insurer.APIError
		if errors.As(err, &apiErr) {
			_, known := a.codes[strings.ToUpper(apiErr.Code)]
			if known || !resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
				rej = apiErr
				return nil
			}
			return resilience.NewTransientError(err, apiErr.StatusCode)
		}
		if resilience.IsTransient(err) {
			return resilience.NewTransientError(err, 0)
		}
		return err
	}

	var err error
	if a.breaker != nil {
		err = a.breaker.Execute(ctx, exec)
	} else {
		err = exec(ctx)
	}
	if err != nil {
		zap.L().Warn("enrollment: provider call failed",
			zap.String("op", op),
			zap.Bool("transient", resilience.IsTransient(err)),
			zap.Error(err),
		)
		return nil, eris.Wrapf(err, "enrollment: %s", op)
	}
	if rej != nil {
		zap.L().Info("enrollment: provider rejected request",
			zap.String("op", op),
			zap.String("code", rej.Code),
			zap.Int("status", rej.StatusCode),
		)
	}
	return rej, nil
}

func policiesFromOffers(offers []insurer.Offer) []model.Policy {
	out := make([]model.Policy, 0, len(offers))
	for _, o := range offers {
		out = append(out, model.Policy{
			PlanID:           o.PlanID,
			IsHighDeductible: o.IsHighDeductible,
			Reimbursement:    normalizeReimbursement(o.Reimbursement),
			Deductible:       o.Deductible,
			MonthlyPremium:   o.MonthlyPremium,
		})
	}
	return out
}

// normalizeReimbursement converts whole percentages (80) to fractions (0.8).
func normalizeReimbursement(r float64) float64 {
	if r > 1 {
		return r / 100
	}
	return r
}

func contactFromOwner(o model.Owner) insurer.Contact {
	return insurer.Contact{
		FirstName: o.FirstName,
		LastName:  o.LastName,
		Email:     o.Email,
		Phone:     o.Phone,
		Street:    o.Street,
		Street2:   o.Street2,
		City:      o.City,
		State:     o.State,
		Zip:       o.Zip,
	}
}
