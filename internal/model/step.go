package model

import (
	"github.com/rotisserie/eris"
)

// Step is a position in the enrollment funnel.
type Step string

const (
	StepQuote   Step = "quote"
	StepDetails Step = "details"
	StepPayment Step = "payment"
	StepConfirm Step = "confirm"
)

// stepOrder is the single source of step ordering.
var stepOrder = []Step{StepQuote, StepDetails, StepPayment, StepConfirm}

// Steps returns the funnel steps in order.
func Steps() []Step {
	out := make([]Step, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// Index returns the position of s in the funnel, or -1 if s is unknown.
func (s Step) Index() int {
	for i, st := range stepOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is a known step.
func (s Step) Valid() bool {
	return s.Index() >= 0
}

// Before reports whether s comes strictly before other.
func (s Step) Before(other Step) bool {
	return s.Index() < other.Index()
}

// Next returns the step that follows s. Confirm is terminal.
func (s Step) Next() (Step, bool) {
	i := s.Index()
	if i < 0 || i == len(stepOrder)-1 {
		return "", false
	}
	return stepOrder[i+1], true
}

// Terminal reports whether s is the last step.
func (s Step) Terminal() bool {
	return s == StepConfirm
}

// Editable reports whether a customer may jump back to s.
func (s Step) Editable() bool {
	return s == StepQuote || s == StepDetails || s == StepPayment
}

// ParseStep converts a string to a Step.
func ParseStep(v string) (Step, error) {
	s := Step(v)
	if !s.Valid() {
		return "", eris.Errorf("model: unknown step %q", v)
	}
	return s, nil
}
