// Package selection reconciles a customer's (tier, reimbursement,
// deductible) choice against the policies the provider actually returned.
// Every function is pure and only ever offers combinations present in the
// provider's list.
package selection

import (
	"fmt"
	"math"
	"sort"

	"github.com/sells-group/enroll-cli/internal/model"
)

// Choice is a customer's displayed selection.
type Choice struct {
	Tier          model.Tier `json:"tier"`
	Reimbursement float64    `json:"reimbursement"`
	Deductible    float64    `json:"deductible"`
}

func (c Choice) String() string {
	return fmt.Sprintf("%s %.0f%%/$%.0f", c.Tier, float64(model.ReimbursementKey(c.Reimbursement))/100, c.Deductible)
}

// ChoiceOf returns the choice a policy represents.
func ChoiceOf(p model.Policy) Choice {
	return Choice{Tier: p.Tier(), Reimbursement: p.Reimbursement, Deductible: p.Deductible}
}

// Match returns the policy exactly matching c on tier, reimbursement and
// deductible, or false. The first match in provider order wins.
func Match(policies []model.Policy, c Choice) (model.Policy, bool) {
	for _, p := range policies {
		if p.Matches(c.Tier, c.Reimbursement, c.Deductible) {
			return p, true
		}
	}
	return model.Policy{}, false
}

// Default picks the policy shown when nothing is selected yet: standard tier
// if any standard policy exists, then lowest premium, highest reimbursement,
// lowest deductible. Remaining ties keep provider order.
func Default(policies []model.Policy) (model.Policy, bool) {
	if len(policies) == 0 {
		return model.Policy{}, false
	}

	candidates := make([]int, 0, len(policies))
	for i, p := range policies {
		if p.Tier() == model.TierStandard {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i := range policies {
			candidates = append(candidates, i)
		}
	}

	best := candidates[0]
	for _, i := range candidates[1:] {
		if less(policies[i], policies[best]) {
			best = i
		}
	}
	return policies[best], true
}

// less orders policies for Default. Unparseable premiums sort last.
func less(a, b model.Policy) bool {
	pa, errA := a.Premium()
	pb, errB := b.Premium()
	switch {
	case errA != nil && errB == nil:
		return false
	case errA == nil && errB != nil:
		return true
	case errA == nil && errB == nil && cents(pa) != cents(pb):
		return pa < pb
	}
	if ra, rb := model.ReimbursementKey(a.Reimbursement), model.ReimbursementKey(b.Reimbursement); ra != rb {
		return ra > rb
	}
	if da, db := model.DeductibleKey(a.Deductible), model.DeductibleKey(b.Deductible); da != db {
		return da < db
	}
	return false
}

// Tiers lists the tiers present in policies, standard first.
func Tiers(policies []model.Policy) []model.Tier {
	var hasStd, hasValue bool
	for _, p := range policies {
		if p.IsHighDeductible {
			hasValue = true
		} else {
			hasStd = true
		}
	}
	var out []model.Tier
	if hasStd {
		out = append(out, model.TierStandard)
	}
	if hasValue {
		out = append(out, model.TierValue)
	}
	return out
}

// AvailableReimbursements lists the distinct reimbursement fractions offered
// in tier, ascending.
func AvailableReimbursements(policies []model.Policy, tier model.Tier) []float64 {
	seen := make(map[int]bool)
	var out []float64
	for _, p := range policies {
		if p.Tier() != tier {
			continue
		}
		k := model.ReimbursementKey(p.Reimbursement)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p.Reimbursement)
	}
	sort.Float64s(out)
	return out
}

// AvailableDeductibles lists the distinct deductibles offered in tier at the
// given reimbursement, ascending.
func AvailableDeductibles(policies []model.Policy, tier model.Tier, reimbursement float64) []float64 {
	rk := model.ReimbursementKey(reimbursement)
	seen := make(map[int]bool)
	var out []float64
	for _, p := range policies {
		if p.Tier() != tier || model.ReimbursementKey(p.Reimbursement) != rk {
			continue
		}
		k := model.DeductibleKey(p.Deductible)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, p.Deductible)
	}
	sort.Float64s(out)
	return out
}

// MismatchError reports a selection that cannot be submitted as-is.
type MismatchError struct {
	Choice Choice
	PlanID string
	// Expected is the plan id the policy list resolves Choice to; empty when
	// no policy matches.
	Expected string
}

func (e *MismatchError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("selection: no offered plan matches %s", e.Choice)
	}
	return fmt.Sprintf("selection: plan %s does not match %s (expected %s)", e.PlanID, e.Choice, e.Expected)
}

// Validate recomputes the policy for c from policies and checks that planID
// is that policy's id. An empty planID only checks that c exists.
func Validate(policies []model.Policy, c Choice, planID string) (model.Policy, error) {
	p, ok := Match(policies, c)
	if !ok {
		return model.Policy{}, &MismatchError{Choice: c, PlanID: planID}
	}
	if planID != "" && p.PlanID != planID {
		return model.Policy{}, &MismatchError{Choice: c, PlanID: planID, Expected: p.PlanID}
	}
	return p, nil
}

// Adjust keeps as much of c as the policy list allows after the customer
// changes one dimension: an unavailable reimbursement falls back to the
// tier's first, then an unavailable deductible to the closest offered one.
func Adjust(policies []model.Policy, c Choice) (Choice, bool) {
	reimbs := AvailableReimbursements(policies, c.Tier)
	if len(reimbs) == 0 {
		return c, false
	}
	if !containsKey(reimbs, c.Reimbursement, model.ReimbursementKey) {
		c.Reimbursement = reimbs[0]
	}
	deds := AvailableDeductibles(policies, c.Tier, c.Reimbursement)
	if len(deds) == 0 {
		return c, false
	}
	if !containsKey(deds, c.Deductible, model.DeductibleKey) {
		c.Deductible = closest(deds, c.Deductible)
	}
	return c, true
}

func cents(f float64) int {
	return int(math.Round(f * 100))
}

func containsKey(vals []float64, v float64, key func(float64) int) bool {
	k := key(v)
	for _, x := range vals {
		if key(x) == k {
			return true
		}
	}
	return false
}

func closest(vals []float64, v float64) float64 {
	best := vals[0]
	for _, x := range vals[1:] {
		if math.Abs(x-v) < math.Abs(best-v) {
			best = x
		}
	}
	return best
}

