package enrollment

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/enroll-cli/internal/model"
)

// simNamespace seeds deterministic simulated ids.
var simNamespace = uuid.MustParse("6f1c3a52-8d0e-4b7a-9a55-2e4f1c0d9b31")

// GridEntry is one row of a simulated quote grid.
type GridEntry struct {
	PlanID         string     `yaml:"plan_id"`
	Tier           model.Tier `yaml:"tier"`
	Reimbursement  float64    `yaml:"reimbursement"`
	Deductible     float64    `yaml:"deductible"`
	MonthlyPremium string     `yaml:"monthly_premium"`
}

type gridFile struct {
	Policies []GridEntry `yaml:"policies"`
}

// DefaultGrid returns the built-in quote grid: standard deductibles
// 250/500/750 at 70/80/90% and value deductibles 1000/1500 at 70/80%.
func DefaultGrid() []GridEntry {
	var out []GridEntry
	for _, r := range []float64{0.7, 0.8, 0.9} {
		for _, d := range []float64{250, 500, 750} {
			out = append(out, GridEntry{Tier: model.TierStandard, Reimbursement: r, Deductible: d})
		}
	}
	for _, r := range []float64{0.7, 0.8} {
		for _, d := range []float64{1000, 1500} {
			out = append(out, GridEntry{Tier: model.TierValue, Reimbursement: r, Deductible: d})
		}
	}
	return fillGrid(out)
}

// ParseGrid decodes a YAML quote grid.
func ParseGrid(data []byte) ([]GridEntry, error) {
	var f gridFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "enrollment: parse quote grid")
	}
	if len(f.Policies) == 0 {
		return nil, eris.New("enrollment: quote grid has no policies")
	}
	for i, e := range f.Policies {
		tier, err := model.ParseTier(string(e.Tier))
		if err != nil {
			return nil, eris.Wrapf(err, "enrollment: quote grid row %d", i)
		}
		f.Policies[i].Tier = tier
		if e.Reimbursement <= 0 || e.Deductible <= 0 {
			return nil, eris.Errorf("enrollment: quote grid row %d needs reimbursement and deductible", i)
		}
		f.Policies[i].Reimbursement = normalizeReimbursement(e.Reimbursement)
	}
	return fillGrid(f.Policies), nil
}

// LoadGrid reads a YAML quote grid from path.
func LoadGrid(path string) ([]GridEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "enrollment: read quote grid %s", path)
	}
	return ParseGrid(data)
}

// fillGrid assigns plan ids and premiums to rows that lack them.
func fillGrid(grid []GridEntry) []GridEntry {
	for i, e := range grid {
		if e.PlanID == "" {
			grid[i].PlanID = fmt.Sprintf("sim-%s-%d-%d", e.Tier, model.ReimbursementKey(e.Reimbursement)/100, int(e.Deductible))
		}
		if e.MonthlyPremium == "" {
			grid[i].MonthlyPremium = fmt.Sprintf("%.2f", simPremium(e.Reimbursement, e.Deductible))
		}
	}
	return grid
}

// simPremium prices one pet: richer reimbursement costs more, higher
// deductibles cost less.
func simPremium(reimbursement, deductible float64) float64 {
	return 25 + 50*reimbursement - deductible/100
}

type simLead struct {
	sessionRef    string
	leadID        string
	quoteDetailID string
	email         string
	pets          int
	planID        string
	accountID     string
}

// SimulatedAdapter is a deterministic in-memory Adapter for tests and
// demos. Ids derive from the request so repeated runs are reproducible.
type SimulatedAdapter struct {
	grid    []GridEntry
	codes   ErrorCodes
	latency time.Duration

	mu      sync.Mutex
	leads   map[string]*simLead // by lead id
	quotes  map[string]*simLead // by quote detail id
	byEmail map[string]*simLead

	calls map[string]*atomic.Int64
}

// SimOption configures a SimulatedAdapter.
type SimOption func(*SimulatedAdapter)

// WithGrid replaces the built-in quote grid.
func WithGrid(grid []GridEntry) SimOption {
	return func(a *SimulatedAdapter) {
		if len(grid) > 0 {
			a.grid = grid
		}
	}
}

// WithLatency delays every operation by d, honoring cancellation.
func WithLatency(d time.Duration) SimOption {
	return func(a *SimulatedAdapter) {
		a.latency = d
	}
}

// WithSimErrorCodes sets the error code table used for simulated rejections.
func WithSimErrorCodes(codes ErrorCodes) SimOption {
	return func(a *SimulatedAdapter) {
		if codes != nil {
			a.codes = codes
		}
	}
}

// NewSimulatedAdapter creates a simulated adapter.
func NewSimulatedAdapter(opts ...SimOption) *SimulatedAdapter {
	a := &SimulatedAdapter{
		grid:    DefaultGrid(),
		codes:   DefaultErrorCodes(),
		leads:   make(map[string]*simLead),
		quotes:  make(map[string]*simLead),
		byEmail: make(map[string]*simLead),
		calls:   make(map[string]*atomic.Int64),
	}
	for _, op := range []string{OpCreateLead, OpSetPlan, OpSetupPending, OpEnroll} {
		a.calls[op] = &atomic.Int64{}
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Calls returns how many times op reached the simulated provider. Calls
// rejected for contract or validation reasons are not counted.
func (a *SimulatedAdapter) Calls(op string) int {
	if c, ok := a.calls[op]; ok {
		return int(c.Load())
	}
	return 0
}

func (a *SimulatedAdapter) CreateLead(ctx context.Context, in CreateLeadInput) (*model.EnrollmentResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := a.enter(ctx, OpCreateLead); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(in.Email))
	prior, dup := a.byEmail[email]
	if dup && !in.ForceNew {
		return a.codes.rejected(model.StepQuote, "DUPLICATE_LEAD",
			"a quote already exists for this email", prior.sessionRef), nil
	}

	seed := fmt.Sprintf("%s|%s|%d", email, in.Zip, len(a.leads))
	lead := &simLead{
		sessionRef:    in.SessionRef,
		leadID:        "lead-" + uuid.NewSHA1(simNamespace, []byte("lead|"+seed)).String(),
		quoteDetailID: "qd-" + uuid.NewSHA1(simNamespace, []byte("quote|"+seed)).String(),
		email:         email,
		pets:          len(in.Pets),
	}
	a.leads[lead.leadID] = lead
	a.quotes[lead.quoteDetailID] = lead
	a.byEmail[email] = lead

	policies := a.policies(lead.pets)
	res := &model.EnrollmentResult{
		Step:          model.StepQuote,
		LeadID:        lead.leadID,
		QuoteDetailID: lead.quoteDetailID,
		Policies:      policies,
	}
	if len(policies) > 0 {
		res.PlanID = policies[0].PlanID
	}
	return res, nil
}

func (a *SimulatedAdapter) SetPlan(ctx context.Context, in SetPlanInput) (*model.EnrollmentResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := a.enter(ctx, OpSetPlan); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	lead, ok := a.quotes[in.QuoteDetailID]
	if !ok {
		return a.codes.rejected(model.StepQuote, "QUOTE_NOT_FOUND", "unknown quote detail id", ""), nil
	}
	if _, ok := a.entry(in.PlanID); !ok {
		return a.codes.rejected(model.StepQuote, "PLAN_UNAVAILABLE", "plan is not offered on this quote", ""), nil
	}
	lead.planID = in.PlanID
	return &model.EnrollmentResult{Step: model.StepDetails, PlanID: in.PlanID}, nil
}

func (a *SimulatedAdapter) SetupPending(ctx context.Context, in SetupPendingInput) (*model.EnrollmentResult, error) {
	norm, err := in.normalize()
	if err != nil {
		return nil, err
	}
	if err := a.enter(ctx, OpSetupPending); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	lead, ok := a.leads[norm.LeadID]
	if !ok {
		return a.codes.rejected(model.StepDetails, "LEAD_NOT_FOUND", "unknown lead id", ""), nil
	}

	var total float64
	for _, p := range norm.Pets {
		e, ok := a.match(p.Reimbursement, p.Deductible)
		if !ok {
			return a.codes.rejected(model.StepDetails, "PLAN_UNAVAILABLE",
				fmt.Sprintf("no plan at %.0f%% reimbursement and $%.0f deductible", normalizeReimbursement(p.Reimbursement)*100, p.Deductible), ""), nil
		}
		premium, err := model.ParseAmount(e.MonthlyPremium)
		if err != nil {
			return nil, eris.Wrap(err, "enrollment: simulated premium")
		}
		total += premium
	}

	if lead.accountID == "" {
		lead.accountID = "acct-" + uuid.NewSHA1(simNamespace, []byte("account|"+lead.leadID)).String()
	}
	return &model.EnrollmentResult{
		Step:                model.StepPayment,
		AccountID:           lead.accountID,
		MonthlyTotalPayment: total,
	}, nil
}

func (a *SimulatedAdapter) Enroll(ctx context.Context, in EnrollInput) (*model.EnrollmentResult, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	if err := a.enter(ctx, OpEnroll); err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	lead, ok := a.leads[in.LeadID]
	if !ok {
		return a.codes.rejected(model.StepPayment, "LEAD_NOT_FOUND", "unknown lead id", ""), nil
	}
	if lead.accountID == "" {
		return a.codes.rejected(model.StepPayment, "ACCOUNT_NOT_PENDING", "pending account has not been set up", ""), nil
	}
	ref := "sim-confirm-" + uuid.NewSHA1(simNamespace, []byte("enroll|"+lead.leadID+"|"+in.TransactionID)).String()
	return &model.EnrollmentResult{Step: model.StepConfirm, RedirectRef: ref}, nil
}

// enter counts the call and applies the configured latency.
func (a *SimulatedAdapter) enter(ctx context.Context, op string) error {
	a.calls[op].Add(1)
	if a.latency <= 0 {
		return eris.Wrapf(ctx.Err(), "enrollment: %s", op)
	}
	t := time.NewTimer(a.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "enrollment: %s", op)
	case <-t.C:
		return nil
	}
}

// policies prices the grid for the given number of pets.
func (a *SimulatedAdapter) policies(pets int) []model.Policy {
	if pets < 1 {
		pets = 1
	}
	out := make([]model.Policy, 0, len(a.grid))
	for _, e := range a.grid {
		premium := e.MonthlyPremium
		if pets > 1 {
			if v, err := model.ParseAmount(e.MonthlyPremium); err == nil {
				premium = fmt.Sprintf("%.2f", v*float64(pets))
			}
		}
		out = append(out, model.Policy{
			PlanID:           e.PlanID,
			IsHighDeductible: e.Tier.HighDeductible(),
			Reimbursement:    e.Reimbursement,
			Deductible:       e.Deductible,
			MonthlyPremium:   premium,
		})
	}
	return out
}

func (a *SimulatedAdapter) entry(planID string) (GridEntry, bool) {
	for _, e := range a.grid {
		if e.PlanID == planID {
			return e, true
		}
	}
	return GridEntry{}, false
}

// match finds the first grid row for a coverage pair in either tier.
func (a *SimulatedAdapter) match(reimbursement, deductible float64) (GridEntry, bool) {
	for _, e := range a.grid {
		if model.ReimbursementKey(e.Reimbursement) == model.ReimbursementKey(reimbursement) &&
			model.DeductibleKey(e.Deductible) == model.DeductibleKey(deductible) {
			return e, true
		}
	}
	return GridEntry{}, false
}
