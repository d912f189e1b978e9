// Package enrollment is the only boundary allowed to call the insurance
// provider's workflow operations. Adapters validate their inputs, fail with
// a ContractError or ValidationError before any request when inputs are
// incomplete, and otherwise return a tagged model.EnrollmentResult. No
// adapter retries internally.
package enrollment

import (
	"context"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/model"
)

// Adapter runs the four provider workflow operations. A provider rejection
// is returned as a result with Error set, not as a Go error; errors are
// reserved for contract violations, validation failures and transport
// faults.
type Adapter interface {
	CreateLead(ctx context.Context, in CreateLeadInput) (*model.EnrollmentResult, error)
	SetPlan(ctx context.Context, in SetPlanInput) (*model.EnrollmentResult, error)
	SetupPending(ctx context.Context, in SetupPendingInput) (*model.EnrollmentResult, error)
	Enroll(ctx context.Context, in EnrollInput) (*model.EnrollmentResult, error)
}

// CodeClass says how a provider error code is treated.
type CodeClass string

const (
	// ClassResumable marks a rejection that offers an earlier session to
	// resume; its resume reference is passed through to the caller.
	ClassResumable CodeClass = "resumable"
	// ClassRejection marks a plain business-rule rejection.
	ClassRejection CodeClass = "rejection"
)

// ErrorCodes maps provider error codes to their class. Codes that are not
// listed are plain rejections and never carry a resume reference.
type ErrorCodes map[string]CodeClass

// DefaultErrorCodes returns the code table used when none is configured.
func DefaultErrorCodes() ErrorCodes {
	return ErrorCodes{"DUPLICATE_LEAD": ClassResumable}
}

// ParseErrorCodes builds an ErrorCodes table from configuration values.
// Codes are matched case-insensitively.
func ParseErrorCodes(raw map[string]string) (ErrorCodes, error) {
	out := make(ErrorCodes, len(raw))
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, code := range keys {
		class := CodeClass(strings.ToLower(strings.TrimSpace(raw[code])))
		switch class {
		case ClassResumable, ClassRejection:
			out[strings.ToUpper(code)] = class
		default:
			return nil, eris.Errorf("enrollment: error code %s has unknown class %q", code, raw[code])
		}
	}
	return out, nil
}

// Classify returns the class of code.
func (c ErrorCodes) Classify(code string) CodeClass {
	if class, ok := c[strings.ToUpper(code)]; ok {
		return class
	}
	return ClassRejection
}

// rejected builds a rejection result for step.
func (c ErrorCodes) rejected(step model.Step, code, message, resumeRef string) *model.EnrollmentResult {
	res := &model.EnrollmentResult{Step: step, Error: message, ErrorCode: code}
	if res.Error == "" {
		res.Error = "provider rejected the request"
	}
	if resumeRef != "" && c.Classify(code) == ClassResumable {
		res.ResumeRef = resumeRef
	}
	return res
}
