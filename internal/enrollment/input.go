package enrollment

import (
	"errors"
	"fmt"

	"github.com/sells-group/enroll-cli/internal/model"
)

// Operation names used in errors, logs and metrics.
const (
	OpCreateLead   = "create_lead"
	OpSetPlan      = "set_plan"
	OpSetupPending = "setup_pending"
	OpEnroll       = "enroll"
)

// CreateLeadInput starts a quote. SessionRef is stored by the provider so a
// later duplicate can point back at this session. ForceNew asks the provider
// to open a fresh lead even if one already exists for the email.
type CreateLeadInput struct {
	Zip        string
	Email      string
	Pets       []model.Pet
	SessionRef string
	ForceNew   bool
}

func (in CreateLeadInput) Validate() error {
	var m missing
	m.str("zip", in.Zip)
	m.str("email", in.Email)
	if len(in.Pets) == 0 {
		m = append(m, "pets")
	}
	for i, p := range in.Pets {
		m.str(fmt.Sprintf("pets[%d].name", i), p.Name)
	}
	return m.err(OpCreateLead)
}

// SetPlanInput selects a plan on an existing quote.
type SetPlanInput struct {
	QuoteDetailID string
	PlanID        string
	Email         string
	AffiliateCode string
	Zip           string
}

func (in SetPlanInput) Validate() error {
	var m missing
	m.str("quote_detail_id", in.QuoteDetailID)
	m.str("plan_id", in.PlanID)
	m.str("email", in.Email)
	m.str("affiliate_code", in.AffiliateCode)
	m.str("zip", in.Zip)
	return m.err(OpSetPlan)
}

// PendingPet is the per-pet coverage sent with a pending account.
type PendingPet struct {
	Name          string
	Deductible    float64
	Reimbursement float64
	DateOfBirth   string
}

// SetupPendingInput creates the provider's pending account. Consent must be
// given explicitly; a nil Consent is a contract error.
type SetupPendingInput struct {
	LeadID  string
	Consent *bool
	Owner   *model.Owner
	Pets    []PendingPet
}

// Validate checks required fields and that every date of birth resolves to
// a full calendar date.
func (in SetupPendingInput) Validate() error {
	_, err := in.normalize()
	return err
}

// normalize returns a copy with dates of birth rewritten to YYYY-MM-DD.
func (in SetupPendingInput) normalize() (SetupPendingInput, error) {
	var m missing
	m.str("lead_id", in.LeadID)
	if in.Consent == nil {
		m = append(m, "consent")
	}
	if len(in.Pets) == 0 {
		m = append(m, "pets")
	}
	for i, p := range in.Pets {
		m.positive(fmt.Sprintf("pets[%d].deductible", i), p.Deductible)
		m.positive(fmt.Sprintf("pets[%d].reimbursement", i), p.Reimbursement)
		m.str(fmt.Sprintf("pets[%d].date_of_birth", i), p.DateOfBirth)
	}
	if err := m.err(OpSetupPending); err != nil {
		return in, err
	}
	if !*in.Consent {
		return in, &ValidationError{Op: OpSetupPending, Field: "consent", Message: "consent must be given"}
	}

	out := in
	out.Pets = make([]PendingPet, len(in.Pets))
	for i, p := range in.Pets {
		dob, err := model.ResolveDate(p.DateOfBirth)
		if err != nil {
			return in, dateError(OpSetupPending, fmt.Sprintf("pets[%d].date_of_birth", i), err)
		}
		p.DateOfBirth = dob
		out.Pets[i] = p
	}
	return out, nil
}

func dateError(op, field string, err error) error {
	var inc *model.IncompleteDateError
	if errors.As(err, &inc) {
		return &ValidationError{Op: op, Field: field, Message: inc.Error()}
	}
	return &ValidationError{Op: op, Field: field, Message: err.Error()}
}

// EnrollInput finalizes the enrollment with the payment widget's token.
type EnrollInput struct {
	LeadID           string
	PaymentToken     string
	TransactionID    string
	PaymentMethod    string
	ConvenienceFee   float64
	AuthorizedAmount float64
	Billing          model.Owner
}

func (in EnrollInput) Validate() error {
	var m missing
	m.str("lead_id", in.LeadID)
	m.str("payment_token", in.PaymentToken)
	m.str("transaction_id", in.TransactionID)
	m.positive("authorized_amount", in.AuthorizedAmount)
	m.str("billing.first_name", in.Billing.FirstName)
	m.str("billing.last_name", in.Billing.LastName)
	m.str("billing.street", in.Billing.Street)
	m.str("billing.city", in.Billing.City)
	m.str("billing.state", in.Billing.State)
	m.str("billing.zip", in.Billing.Zip)
	return m.err(OpEnroll)
}
