package model

import (
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Tier is the coarse product level of a policy.
type Tier string

const (
	// TierStandard is the regular-deductible product.
	TierStandard Tier = "standard"
	// TierValue is the high-deductible product.
	TierValue Tier = "value"
)

// TierFor maps the provider's high-deductible flag to a Tier.
func TierFor(isHighDeductible bool) Tier {
	if isHighDeductible {
		return TierValue
	}
	return TierStandard
}

// HighDeductible reports whether t is the high-deductible tier.
func (t Tier) HighDeductible() bool {
	return t == TierValue
}

// ParseTier converts a string to a Tier.
func ParseTier(v string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(v))) {
	case TierStandard:
		return TierStandard, nil
	case TierValue, "high_deductible", "high-deductible":
		return TierValue, nil
	default:
		return "", eris.Errorf("model: unknown tier %q", v)
	}
}

// Policy is one premium offer returned by the provider. Policies are
// immutable once received in a quote response.
type Policy struct {
	PlanID           string  `json:"plan_id"`
	IsHighDeductible bool    `json:"is_high_deductible"`
	Reimbursement    float64 `json:"reimbursement"`
	Deductible       float64 `json:"deductible"`
	MonthlyPremium   string  `json:"monthly_premium"`
}

// Tier returns the product tier of the policy.
func (p Policy) Tier() Tier {
	return TierFor(p.IsHighDeductible)
}

// Premium parses MonthlyPremium. Currency symbols and thousands separators are ignored.
func (p Policy) Premium() (float64, error) {
	return ParseAmount(p.MonthlyPremium)
}

// Matches reports whether the policy is exactly the (tier, reimbursement, deductible) tuple.
func (p Policy) Matches(tier Tier, reimbursement, deductible float64) bool {
	return p.Tier() == tier &&
		ReimbursementKey(p.Reimbursement) == ReimbursementKey(reimbursement) &&
		DeductibleKey(p.Deductible) == DeductibleKey(deductible)
}

// ReimbursementKey normalizes a reimbursement fraction to basis points so
// 0.8 and 0.80000001 compare equal. Whole percentages (80) are accepted too.
func ReimbursementKey(r float64) int {
	if r > 1 {
		r /= 100
	}
	return int(math.Round(r * 10000))
}

// DeductibleKey normalizes a currency amount to cents.
func DeductibleKey(d float64) int {
	return int(math.Round(d * 100))
}

// ParseAmount parses a decimal currency string such as "34.99" or "$1,034.99".
func ParseAmount(v string) (float64, error) {
	s := strings.TrimSpace(v)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, eris.New("model: empty amount")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "model: parse amount %q", v)
	}
	return f, nil
}
