package insurer

import "fmt"

// PetDescriptor describes a pet on a quote request.
type PetDescriptor struct {
	Name        string `json:"name"`
	Species     string `json:"species,omitempty"`
	Breed       string `json:"breed,omitempty"`
	Gender      string `json:"gender,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// CreateLeadRequest is the body of POST /leads.
type CreateLeadRequest struct {
	Zip           string          `json:"zip"`
	Email         string          `json:"email"`
	Pets          []PetDescriptor `json:"pets"`
	AffiliateCode string          `json:"affiliate_code,omitempty"`
	ExternalRef   string          `json:"external_ref,omitempty"`
	ForceNew      bool            `json:"force_new,omitempty"`
}

// Offer is one priced plan in a quote.
type Offer struct {
	PlanID           string  `json:"plan_id"`
	IsHighDeductible bool    `json:"is_high_deductible"`
	Reimbursement    float64 `json:"reimbursement"`
	Deductible       float64 `json:"deductible"`
	MonthlyPremium   string  `json:"monthly_premium"`
}

// CreateLeadResponse is the response of POST /leads.
type CreateLeadResponse struct {
	LeadID        string  `json:"lead_id"`
	QuoteDetailID string  `json:"quote_detail_id"`
	PlanID        string  `json:"plan_id"`
	Offers        []Offer `json:"offers"`
}

// SetPlanRequest is the body of POST /quotes/{quote_detail_id}/plan.
type SetPlanRequest struct {
	PlanID        string `json:"plan_id"`
	Email         string `json:"email"`
	AffiliateCode string `json:"affiliate_code"`
	Zip           string `json:"zip"`
}

// SetPlanResponse is the response of POST /quotes/{quote_detail_id}/plan.
type SetPlanResponse struct {
	PlanID         string `json:"plan_id"`
	MonthlyPremium string `json:"monthly_premium,omitempty"`
}

// PendingPet carries per-pet coverage on a pending account request.
type PendingPet struct {
	Name          string  `json:"name,omitempty"`
	Deductible    float64 `json:"deductible"`
	Reimbursement float64 `json:"reimbursement"`
	DateOfBirth   string  `json:"date_of_birth"`
}

// Contact is the policyholder block sent with pending accounts and enrollments.
type Contact struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Street    string `json:"street"`
	Street2   string `json:"street2,omitempty"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zip       string `json:"zip"`
}

// SetupPendingRequest is the body of POST /leads/{lead_id}/pending-account.
type SetupPendingRequest struct {
	Consent bool         `json:"consent"`
	Owner   *Contact     `json:"owner,omitempty"`
	Pets    []PendingPet `json:"pets"`
}

// SetupPendingResponse is the response of POST /leads/{lead_id}/pending-account.
type SetupPendingResponse struct {
	AccountID           string  `json:"account_id"`
	MonthlyTotalPayment float64 `json:"monthly_total_payment"`
}

// EnrollRequest is the body of POST /leads/{lead_id}/enroll.
type EnrollRequest struct {
	PaymentToken     string  `json:"payment_token"`
	TransactionID    string  `json:"transaction_id"`
	PaymentMethod    string  `json:"payment_method,omitempty"`
	ConvenienceFee   float64 `json:"convenience_fee,omitempty"`
	AuthorizedAmount float64 `json:"authorized_amount"`
	Billing          Contact `json:"billing"`
}

// EnrollResponse is the response of POST /leads/{lead_id}/enroll.
type EnrollResponse struct {
	RedirectRef string `json:"redirect_ref"`
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	ResumeRef  string `json:"resume_session_id,omitempty"`
	Body       string `json:"-"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("insurer: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("insurer: status %d: %s", e.StatusCode, e.Message)
}
