package selection

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/model"
)

func std(id string, r, d float64, premium string) model.Policy {
	return model.Policy{PlanID: id, Reimbursement: r, Deductible: d, MonthlyPremium: premium}
}

func value(id string, r, d float64, premium string) model.Policy {
	p := std(id, r, d, premium)
	p.IsHighDeductible = true
	return p
}

func grid() []model.Policy {
	return []model.Policy{
		std("S-70-250", 0.7, 250, "44.00"),
		std("S-70-500", 0.7, 500, "39.00"),
		std("S-80-500", 0.8, 500, "42.00"),
		std("S-90-500", 0.9, 500, "47.00"),
		value("V-70-1000", 0.7, 1000, "21.00"),
		value("V-80-1500", 0.8, 1500, "19.00"),
	}
}

func TestDefault_LowestPremium(t *testing.T) {
	t.Parallel()

	policies := []model.Policy{
		std("P-80", 0.8, 500, "39.99"),
		std("P-70", 0.7, 500, "34.99"),
	}
	got, ok := Default(policies)
	require.True(t, ok)
	assert.Equal(t, "P-70", got.PlanID)
}

func TestDefault_PrefersStandardTier(t *testing.T) {
	t.Parallel()

	got, ok := Default(grid())
	require.True(t, ok)
	assert.Equal(t, "S-70-500", got.PlanID, "value tier is cheaper but standard wins")
}

func TestDefault_FallsBackToValueTier(t *testing.T) {
	t.Parallel()

	got, ok := Default([]model.Policy{value("V1", 0.7, 1000, "21.00"), value("V2", 0.8, 1500, "19.00")})
	require.True(t, ok)
	assert.Equal(t, "V2", got.PlanID)
}

func TestDefault_TieBreaks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policies []model.Policy
		want     string
	}{
		{
			name:     "highest reimbursement",
			policies: []model.Policy{std("A", 0.7, 500, "40.00"), std("B", 0.9, 500, "40.00"), std("C", 0.8, 500, "40")},
			want:     "B",
		},
		{
			name:     "lowest deductible",
			policies: []model.Policy{std("A", 0.8, 750, "40.00"), std("B", 0.8, 250, "$40.00")},
			want:     "B",
		},
		{
			name:     "provider order",
			policies: []model.Policy{std("A", 0.8, 500, "40.00"), std("B", 0.8, 500, "40.00")},
			want:     "A",
		},
		{
			name:     "unparseable premium sorts last",
			policies: []model.Policy{std("A", 0.8, 500, "call us"), std("B", 0.7, 750, "99.00")},
			want:     "B",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Default(tt.policies)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.PlanID)
		})
	}
}

func TestDefault_Deterministic(t *testing.T) {
	t.Parallel()

	policies := grid()
	first, _ := Default(policies)
	for range 20 {
		again, _ := Default(policies)
		assert.Equal(t, first, again)
	}
}

func TestDefault_Empty(t *testing.T) {
	t.Parallel()

	_, ok := Default(nil)
	assert.False(t, ok)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	p, ok := Match(grid(), Choice{Tier: model.TierStandard, Reimbursement: 0.8, Deductible: 500})
	require.True(t, ok)
	assert.Equal(t, "S-80-500", p.PlanID)

	p, ok = Match(grid(), Choice{Tier: model.TierStandard, Reimbursement: 80, Deductible: 500.0000001})
	require.True(t, ok, "whole percentages and float noise still match")
	assert.Equal(t, "S-80-500", p.PlanID)

	_, ok = Match(grid(), Choice{Tier: model.TierValue, Reimbursement: 0.8, Deductible: 500})
	assert.False(t, ok, "tier must agree")

	_, ok = Match(grid(), Choice{Tier: model.TierStandard, Reimbursement: 0.8, Deductible: 250})
	assert.False(t, ok)
}

func TestAvailableProjections(t *testing.T) {
	t.Parallel()

	policies := append(grid(), std("S-80-500-dup", 0.8, 500, "42.00"))

	if diff := cmp.Diff([]float64{0.7, 0.8, 0.9}, AvailableReimbursements(policies, model.TierStandard)); diff != "" {
		t.Errorf("standard reimbursements mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{0.7, 0.8}, AvailableReimbursements(policies, model.TierValue)); diff != "" {
		t.Errorf("value reimbursements mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{250, 500}, AvailableDeductibles(policies, model.TierStandard, 0.7)); diff != "" {
		t.Errorf("deductibles mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]float64{500}, AvailableDeductibles(policies, model.TierStandard, 0.8)); diff != "" {
		t.Errorf("deductibles mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, AvailableDeductibles(policies, model.TierValue, 0.9))
}

func TestAvailableProjections_NeverSynthesize(t *testing.T) {
	t.Parallel()

	policies := grid()
	for _, tier := range Tiers(policies) {
		for _, r := range AvailableReimbursements(policies, tier) {
			for _, d := range AvailableDeductibles(policies, tier, r) {
				_, ok := Match(policies, Choice{Tier: tier, Reimbursement: r, Deductible: d})
				assert.True(t, ok, "%s %.2f %.0f offered but absent", tier, r, d)
			}
		}
	}
}

func TestTiers(t *testing.T) {
	t.Parallel()

	if diff := cmp.Diff([]model.Tier{model.TierStandard, model.TierValue}, Tiers(grid())); diff != "" {
		t.Errorf("tiers mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, Tiers(nil))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	choice := Choice{Tier: model.TierStandard, Reimbursement: 0.8, Deductible: 500}

	p, err := Validate(grid(), choice, "S-80-500")
	require.NoError(t, err)
	assert.Equal(t, "S-80-500", p.PlanID)

	_, err = Validate(grid(), choice, "S-70-500")
	var me *MismatchError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, "S-80-500", me.Expected)
	assert.Contains(t, err.Error(), "does not match")

	_, err = Validate(grid(), Choice{Tier: model.TierStandard, Reimbursement: 0.8, Deductible: 250}, "")
	require.True(t, errors.As(err, &me))
	assert.Empty(t, me.Expected)
	assert.Contains(t, err.Error(), "no offered plan matches standard 80%/$250")
}

func TestAdjust(t *testing.T) {
	t.Parallel()

	got, ok := Adjust(grid(), Choice{Tier: model.TierValue, Reimbursement: 0.9, Deductible: 500})
	require.True(t, ok)
	assert.Equal(t, Choice{Tier: model.TierValue, Reimbursement: 0.7, Deductible: 1000}, got)

	got, ok = Adjust(grid(), Choice{Tier: model.TierStandard, Reimbursement: 0.7, Deductible: 300})
	require.True(t, ok)
	assert.InDelta(t, 250, got.Deductible, 1e-9)

	_, ok = Adjust(nil, Choice{Tier: model.TierStandard})
	assert.False(t, ok)
}
