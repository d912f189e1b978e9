package flow

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/enrollment"
	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/payment"
	"github.com/sells-group/enroll-cli/internal/resilience"
	"github.com/sells-group/enroll-cli/internal/selection"
)

// ErrBusy is returned when a transition is requested while another one is
// outstanding. The request is dropped, not queued.
var ErrBusy = eris.New("flow: transition already in progress")

// Class is the failure taxonomy surfaced to the operator of the flow.
type Class string

const (
	ClassContract   Class = "contract"
	ClassValidation Class = "validation"
	ClassRejection  Class = "rejection"
	ClassTransient  Class = "transient"
	ClassUnknown    Class = "unknown"
)

// Failure is a classified transition failure. Retryable means "try again"
// may re-invoke the same transition.
type Failure struct {
	Class     Class  `json:"class"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	ResumeRef string `json:"resume_ref,omitempty"`
	Retryable bool   `json:"retryable"`

	Err error `json:"-"`
}

func (f *Failure) Error() string {
	if f.Code != "" {
		return fmt.Sprintf("flow: %s (%s): %s", f.Class, f.Code, f.Message)
	}
	return fmt.Sprintf("flow: %s: %s", f.Class, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts the Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// Codes attached to failures the orchestrator raises itself.
const (
	CodeSelectionMismatch = "SELECTION_MISMATCH"
	CodeTimeout           = "TIMEOUT"
	CodeCircuitOpen       = "PROVIDER_UNAVAILABLE"
	CodeResumable         = "RESUMABLE"
)

func validation(field, format string, args ...any) *Failure {
	return &Failure{Class: ClassValidation, Field: field, Message: fmt.Sprintf(format, args...)}
}

// rejection converts a provider rejection result into a Failure.
func rejection(res *model.EnrollmentResult) *Failure {
	f := &Failure{
		Class:     ClassRejection,
		Message:   res.Error,
		Code:      res.ErrorCode,
		ResumeRef: res.ResumeRef,
	}
	if f.Code == "" && f.ResumeRef != "" {
		f.Code = CodeResumable
	}
	return f
}

// classify maps any error onto the failure taxonomy.
func classify(err error) *Failure {
	if f, ok := AsFailure(err); ok {
		return f
	}

	var (
		ce *enrollment.ContractError
		ve *enrollment.ValidationError
		me *selection.MismatchError
		pf *payment.FailedError
		pi *payment.IncompleteError
	)
	switch {
	case errors.As(err, &ce):
		return &Failure{Class: ClassContract, Message: ce.Error(), Err: err}
	case errors.As(err, &ve):
		return &Failure{Class: ClassValidation, Field: ve.Field, Message: ve.Message, Err: err}
	case errors.As(err, &me):
		return &Failure{Class: ClassValidation, Code: CodeSelectionMismatch, Field: "plan", Message: me.Error(), Err: err}
	case errors.As(err, &pf):
		return &Failure{Class: ClassRejection, Field: "payment", Message: pf.Error(), Err: err}
	case errors.As(err, &pi):
		return &Failure{Class: ClassValidation, Field: "payment", Message: pi.Error(), Err: err}
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &Failure{Class: ClassTransient, Code: CodeCircuitOpen, Message: "the insurance provider is temporarily unavailable", Retryable: true, Err: err}
	case resilience.IsTimeout(err):
		return &Failure{Class: ClassTransient, Code: CodeTimeout, Message: "the insurance provider did not respond in time", Retryable: true, Err: err}
	case resilience.IsTransient(err):
		return &Failure{Class: ClassTransient, Message: err.Error(), Retryable: true, Err: err}
	default:
		return &Failure{Class: ClassUnknown, Message: err.Error(), Err: err}
	}
}
