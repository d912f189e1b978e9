package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enroll-cli/internal/flow"
	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/payment"
	"github.com/sells-group/enroll-cli/internal/selection"
	"github.com/sells-group/enroll-cli/internal/session"
	"github.com/sells-group/enroll-cli/internal/sessionapi"
	"github.com/sells-group/enroll-cli/internal/store"
)

var (
	simLive          bool
	simEmail         string
	simZip           string
	simTier          string
	simReimbursement float64
	simDeductible    float64
	simPetName       string
	simPetDOB        string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Drive one session through the whole enrollment flow",
	Long: `Creates a session, acquires a lead, confirms a plan, submits owner details,
feeds a synthetic payment widget message and confirms enrollment. Uses the
simulated provider unless --live is set. When session_api.base_url is set the
session is created and patched through that API instead of the local store.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, "simulate", simLive)
		if err != nil {
			return err
		}
		defer env.Close()

		backend := simBackendFor(env.Store)
		if cfg.SessionAPI.BaseURL != "" {
			backend = sessionapi.NewClient(cfg.SessionAPI.BaseURL)
		}

		email := simEmail
		if email == "" {
			email = fmt.Sprintf("sim-%s@example.com", uuid.NewString()[:8])
		}
		sess, err := backend.Create(ctx, simZip, email)
		if err != nil {
			return eris.Wrap(err, "simulate: create session")
		}
		pets := []model.Pet{{Name: simPetName, Species: "dog", DateOfBirth: simPetDOB}}
		if _, err := backend.Patch(ctx, sess.ID, model.SessionPatch{Pets: pets}); err != nil {
			return eris.Wrap(err, "simulate: seed pets")
		}

		var choice *selection.Choice
		if simTier != "" {
			tier, err := model.ParseTier(simTier)
			if err != nil {
				return err
			}
			choice = &selection.Choice{Tier: tier, Reimbursement: simReimbursement, Deductible: simDeductible}
		}

		o := env.Orchestrator(backend, sess.ID)
		return runSimulation(ctx, os.Stdout, o, simulationInput{
			Owner:  simOwner(email, simZip),
			Choice: choice,
		})
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simLive, "live", false, "use the live provider API")
	simulateCmd.Flags().StringVar(&simEmail, "email", "", "customer email (default: random sim address)")
	simulateCmd.Flags().StringVar(&simZip, "zip", "94107", "customer zip code")
	simulateCmd.Flags().StringVar(&simTier, "tier", "", "plan tier (standard, value); default plan when empty")
	simulateCmd.Flags().Float64Var(&simReimbursement, "reimbursement", 0.8, "reimbursement fraction, used with --tier")
	simulateCmd.Flags().Float64Var(&simDeductible, "deductible", 500, "deductible amount, used with --tier")
	simulateCmd.Flags().StringVar(&simPetName, "pet-name", "Biscuit", "pet name")
	simulateCmd.Flags().StringVar(&simPetDOB, "pet-dob", "2021-04-02", "pet date of birth (YYYY-MM-DD)")
	rootCmd.AddCommand(simulateCmd)
}

// simBackend is a session backend that can also create sessions.
type simBackend interface {
	session.Backend
	Create(ctx context.Context, zip, email string) (*model.Session, error)
}

type storeSimBackend struct {
	session.StoreBackend
}

func (b storeSimBackend) Create(ctx context.Context, zip, email string) (*model.Session, error) {
	return b.Store.CreateSession(ctx, zip, email)
}

func simBackendFor(st store.Store) simBackend {
	return storeSimBackend{session.StoreBackend{Store: st}}
}

// simulationInput carries the customer-side choices of a simulated run.
type simulationInput struct {
	Owner  model.Owner
	Choice *selection.Choice // nil keeps the default plan
}

// runSimulation walks a loaded session from lead acquisition to
// confirmation, writing one line per step to w.
func runSimulation(ctx context.Context, w io.Writer, o *flow.Orchestrator, in simulationInput) error {
	if st := o.Load(ctx); st.Kind != session.Ready {
		return eris.Errorf("simulate: load session %s: %s", o.SessionID(), st.Message)
	}
	_, _ = fmt.Fprintf(w, "session   %s\n", o.SessionID())

	sess, err := o.AcquireLead(ctx)
	if err != nil {
		return eris.Wrap(err, "simulate: acquire lead")
	}
	_, _ = fmt.Fprintf(w, "lead      %s (quote %s, %d policies)\n", sess.LeadID, sess.QuoteDetailID, len(sess.Policies))

	intent := o.Intent()
	if in.Choice != nil {
		intent = o.SelectPlan(*in.Choice)
	}
	_, _ = fmt.Fprintf(w, "plan      %s %s\n", intent.Choice, intent.PlanID)

	sess, err = o.ConfirmQuote(ctx)
	if err != nil {
		return eris.Wrap(err, "simulate: confirm quote")
	}
	_, _ = fmt.Fprintf(w, "quote     confirmed %s at %s/mo\n", sess.Plan.PlanID, sess.Plan.MonthlyPremium)

	sess, err = o.SubmitDetails(ctx, flow.DetailsInput{Owner: in.Owner, Consent: true})
	if err != nil {
		return eris.Wrap(err, "simulate: submit details")
	}
	_, _ = fmt.Fprintf(w, "details   account %s, authorized %.2f/mo\n", sess.AccountID, sess.MonthlyAuthorizedAmount)

	raw, err := json.Marshal(payment.Message{
		Status:        payment.StatusSuccess,
		PaymentToken:  "sim-tok-" + uuid.NewString()[:8],
		TransactionID: fmt.Sprintf("sim-txn-%d", time.Now().UnixNano()),
		PaymentMethod: "card",
	})
	if err != nil {
		return eris.Wrap(err, "simulate: encode payment message")
	}
	pay, err := o.ReceivePayment(raw)
	if err != nil {
		return eris.Wrap(err, "simulate: payment message")
	}
	_, _ = fmt.Fprintf(w, "payment   %s via %s\n", pay.TransactionID, pay.PaymentMethod)

	sess, err = o.ConfirmPayment(ctx, flow.PaymentInput{})
	if err != nil {
		return eris.Wrap(err, "simulate: confirm payment")
	}
	_, _ = fmt.Fprintf(w, "confirm   %s (step %s)\n", sess.ConfirmationRef, sess.CurrentStep)
	return nil
}

func simOwner(email, zip string) model.Owner {
	return model.Owner{
		FirstName: "Sim",
		LastName:  "Customer",
		Email:     email,
		Phone:     "415-555-0100",
		Street:    "1 Market St",
		City:      "San Francisco",
		State:     "CA",
		Zip:       zip,
	}
}
