package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Session is the durable record of one enrollment attempt. The server copy
// is authoritative; clients replace their local copy wholesale with it.
type Session struct {
	ID                      string    `json:"id"`
	CurrentStep             Step      `json:"current_step"`
	Zip                     string    `json:"zip,omitempty"`
	Email                   string    `json:"email,omitempty"`
	LeadID                  string    `json:"lead_id,omitempty"`
	QuoteDetailID           string    `json:"quote_detail_id,omitempty"`
	Plan                    *Plan     `json:"plan,omitempty"`
	Owner                   *Owner    `json:"owner,omitempty"`
	Pets                    []Pet     `json:"pets,omitempty"`
	Policies                []Policy  `json:"policies,omitempty"`
	Consent                 bool      `json:"consent"`
	AccountID               string    `json:"account_id,omitempty"`
	MonthlyAuthorizedAmount float64   `json:"monthly_authorized_amount,omitempty"`
	CardOverlayDismissed    bool      `json:"card_overlay_dismissed"`
	ConfirmationRef         string    `json:"confirmation_ref,omitempty"`
	CreatedAt               time.Time `json:"created_at"`
	UpdatedAt               time.Time `json:"updated_at"`
}

// Plan is the customer's selected product.
type Plan struct {
	Tier           Tier    `json:"tier"`
	Reimbursement  float64 `json:"reimbursement"`
	Deductible     float64 `json:"deductible"`
	PlanID         string  `json:"plan_id"`
	MonthlyPremium string  `json:"monthly_premium,omitempty"`
}

// Owner holds the policyholder's contact and billing details.
type Owner struct {
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

// Pet describes one insured animal.
type Pet struct {
	Name        string `json:"name"`
	Species     string `json:"species,omitempty"`
	Breed       string `json:"breed,omitempty"`
	Gender      string `json:"gender,omitempty"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
}

// HasLead reports whether the provider lead has been created.
func (s *Session) HasLead() bool {
	return s != nil && s.LeadID != "" && s.QuoteDetailID != ""
}

// Validate checks the structural invariants of a session record.
func (s *Session) Validate() error {
	if s == nil {
		return eris.New("model: nil session")
	}
	if s.ID == "" {
		return eris.New("model: session id is required")
	}
	if !s.CurrentStep.Valid() {
		return eris.Errorf("model: session %s has unknown step %q", s.ID, s.CurrentStep)
	}
	if (s.LeadID == "") != (s.QuoteDetailID == "") {
		return eris.Errorf("model: session %s has a partial lead (lead_id=%q quote_detail_id=%q)", s.ID, s.LeadID, s.QuoteDetailID)
	}
	return nil
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Plan != nil {
		p := *s.Plan
		c.Plan = &p
	}
	if s.Owner != nil {
		o := *s.Owner
		c.Owner = &o
	}
	if s.Pets != nil {
		c.Pets = append([]Pet(nil), s.Pets...)
	}
	if s.Policies != nil {
		c.Policies = append([]Policy(nil), s.Policies...)
	}
	return &c
}

// SessionPatch is a partial update sent to the persistence API. Nil fields
// are left untouched. Step is the target step.
type SessionPatch struct {
	Step                    *Step    `json:"step,omitempty"`
	Zip                     *string  `json:"zip,omitempty"`
	Email                   *string  `json:"email,omitempty"`
	LeadID                  *string  `json:"lead_id,omitempty"`
	QuoteDetailID           *string  `json:"quote_detail_id,omitempty"`
	Plan                    *Plan    `json:"plan,omitempty"`
	Owner                   *Owner   `json:"owner,omitempty"`
	Pets                    []Pet    `json:"pets,omitempty"`
	Policies                []Policy `json:"policies,omitempty"`
	Consent                 *bool    `json:"consent,omitempty"`
	AccountID               *string  `json:"account_id,omitempty"`
	MonthlyAuthorizedAmount *float64 `json:"monthly_authorized_amount,omitempty"`
	CardOverlayDismissed    *bool    `json:"card_overlay_dismissed,omitempty"`
	ConfirmationRef         *string  `json:"confirmation_ref,omitempty"`
}

// Apply writes the patch onto s. Lead, quote detail and account ids are
// set-once: a patch may repeat the stored value but never replace it.
func (p SessionPatch) Apply(s *Session) error {
	if s == nil {
		return eris.New("model: apply patch to nil session")
	}
	if (p.LeadID == nil) != (p.QuoteDetailID == nil) {
		return eris.New("model: lead_id and quote_detail_id must be patched together")
	}
	if p.LeadID != nil {
		if *p.LeadID == "" || *p.QuoteDetailID == "" {
			return eris.New("model: lead_id and quote_detail_id must both be non-empty")
		}
		if err := checkSetOnce("lead_id", s.LeadID, *p.LeadID); err != nil {
			return err
		}
		if err := checkSetOnce("quote_detail_id", s.QuoteDetailID, *p.QuoteDetailID); err != nil {
			return err
		}
	}
	if p.AccountID != nil {
		if err := checkSetOnce("account_id", s.AccountID, *p.AccountID); err != nil {
			return err
		}
	}
	if p.Step != nil && !p.Step.Valid() {
		return eris.Errorf("model: unknown step %q", *p.Step)
	}

	if p.LeadID != nil {
		s.LeadID = *p.LeadID
		s.QuoteDetailID = *p.QuoteDetailID
	}
	if p.AccountID != nil {
		s.AccountID = *p.AccountID
	}
	if p.Step != nil {
		s.CurrentStep = *p.Step
	}
	if p.Zip != nil {
		s.Zip = *p.Zip
	}
	if p.Email != nil {
		s.Email = *p.Email
	}
	if p.Plan != nil {
		plan := *p.Plan
		s.Plan = &plan
	}
	if p.Owner != nil {
		owner := *p.Owner
		s.Owner = &owner
	}
	if p.Pets != nil {
		s.Pets = append([]Pet(nil), p.Pets...)
	}
	if p.Policies != nil {
		s.Policies = append([]Policy(nil), p.Policies...)
	}
	if p.Consent != nil {
		s.Consent = *p.Consent
	}
	if p.MonthlyAuthorizedAmount != nil {
		s.MonthlyAuthorizedAmount = *p.MonthlyAuthorizedAmount
	}
	if p.CardOverlayDismissed != nil {
		s.CardOverlayDismissed = *p.CardOverlayDismissed
	}
	if p.ConfirmationRef != nil {
		s.ConfirmationRef = *p.ConfirmationRef
	}
	return nil
}

func checkSetOnce(field, current, v string) error {
	if current != "" && current != v {
		return eris.Errorf("model: %s already set to %q", field, current)
	}
	return nil
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T {
	return &v
}
