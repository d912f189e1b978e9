package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// EnrollmentResult is what every adapter operation returns. It carries either
// an operation payload or a provider rejection, never both.
type EnrollmentResult struct {
	// Step is the funnel step the operation advances the session to.
	Step Step `json:"step"`

	LeadID              string   `json:"lead_id,omitempty"`
	QuoteDetailID       string   `json:"quote_detail_id,omitempty"`
	PlanID              string   `json:"plan_id,omitempty"`
	Policies            []Policy `json:"policies,omitempty"`
	AccountID           string   `json:"account_id,omitempty"`
	MonthlyTotalPayment float64  `json:"monthly_total_payment,omitempty"`
	RedirectRef         string   `json:"redirect_ref,omitempty"`

	// Provider rejection. ErrorCode is the provider's machine-readable code;
	// ResumeRef is set when the provider offers an earlier session to resume.
	Error     string `json:"error,omitempty"`
	ErrorCode string `json:"error_code,omitempty"`
	ResumeRef string `json:"resume_ref,omitempty"`
}

// Rejected reports whether the provider refused the operation.
func (r *EnrollmentResult) Rejected() bool {
	return r != nil && r.Error != ""
}

func (r *EnrollmentResult) hasPayload() bool {
	return r.LeadID != "" || r.QuoteDetailID != "" || r.PlanID != "" ||
		len(r.Policies) > 0 || r.AccountID != "" || r.MonthlyTotalPayment != 0 ||
		r.RedirectRef != ""
}

// Validate enforces the payload-xor-error shape.
func (r *EnrollmentResult) Validate() error {
	if r == nil {
		return eris.New("model: nil enrollment result")
	}
	if r.Error != "" && r.hasPayload() {
		return eris.Errorf("model: enrollment result carries both a payload and error %q", r.Error)
	}
	if r.Error == "" && (r.ErrorCode != "" || r.ResumeRef != "") {
		return eris.New("model: enrollment result has an error code without an error message")
	}
	return nil
}

// PaymentResult is the terminal success message of the payment widget.
type PaymentResult struct {
	PaymentToken   string  `json:"payment_token"`
	TransactionID  string  `json:"transaction_id"`
	PaymentMethod  string  `json:"payment_method"`
	ConvenienceFee float64 `json:"convenience_fee,omitempty"`
}

// TransitionRecord is one audited orchestrator transition attempt.
type TransitionRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	From      Step      `json:"from"`
	To        Step      `json:"to"`
	Trigger   string    `json:"trigger"`
	Outcome   string    `json:"outcome"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
