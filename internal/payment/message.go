// Package payment validates the terminal message posted by the embedded
// payment widget before the flow uses it.
package payment

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/model"
)

// Message is the widget's terminal message as delivered to the flow.
type Message struct {
	Status         string  `json:"status"`
	PaymentToken   string  `json:"payment_token"`
	TransactionID  string  `json:"transaction_id"`
	PaymentMethod  string  `json:"payment_method"`
	ConvenienceFee float64 `json:"convenience_fee"`
	Error          string  `json:"error"`
}

// Widget statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// FailedError is a failure reported by the widget itself.
type FailedError struct {
	Reason string
}

func (e *FailedError) Error() string {
	if e.Reason == "" {
		return "payment: widget reported a failure"
	}
	return "payment: widget reported a failure: " + e.Reason
}

// IncompleteError is a success message lacking required fields.
type IncompleteError struct {
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("payment: success message is missing %s", strings.Join(e.Missing, ", "))
}

// Parse decodes and validates a raw widget message.
func Parse(data []byte) (*model.PaymentResult, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "payment: decode widget message")
	}
	return m.Result()
}

// Result validates m and converts a success into a PaymentResult.
func (m Message) Result() (*model.PaymentResult, error) {
	switch strings.ToLower(strings.TrimSpace(m.Status)) {
	case StatusSuccess:
	case StatusFailure:
		return nil, &FailedError{Reason: m.Error}
	default:
		return nil, eris.Errorf("payment: unknown widget status %q", m.Status)
	}

	var missing []string
	if strings.TrimSpace(m.PaymentToken) == "" {
		missing = append(missing, "payment_token")
	}
	if strings.TrimSpace(m.TransactionID) == "" {
		missing = append(missing, "transaction_id")
	}
	if strings.TrimSpace(m.PaymentMethod) == "" {
		missing = append(missing, "payment_method")
	}
	if len(missing) > 0 {
		return nil, &IncompleteError{Missing: missing}
	}
	if m.ConvenienceFee < 0 {
		return nil, eris.Errorf("payment: negative convenience fee %.2f", m.ConvenienceFee)
	}

	return &model.PaymentResult{
		PaymentToken:   m.PaymentToken,
		TransactionID:  m.TransactionID,
		PaymentMethod:  m.PaymentMethod,
		ConvenienceFee: m.ConvenienceFee,
	}, nil
}
