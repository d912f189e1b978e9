// Package flow drives one enrollment session through quote, details,
// payment and confirm. Transitions run one at a time per session; every
// adapter result is persisted and the persistence API's full response
// replaces the local session.
package flow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/analytics"
	"github.com/sells-group/enroll-cli/internal/enrollment"
	"github.com/sells-group/enroll-cli/internal/latch"
	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/payment"
	"github.com/sells-group/enroll-cli/internal/selection"
	"github.com/sells-group/enroll-cli/internal/session"
)

// Transition triggers, used in the audit log, metrics and analytics.
const (
	TriggerCreateLead     = "create_lead"
	TriggerRetryLead      = "retry_lead"
	TriggerStartOver      = "start_over"
	TriggerResume         = "resume_session"
	TriggerConfirmQuote   = "confirm_quote"
	TriggerSubmitDetails  = "submit_details"
	TriggerConfirmPayment = "confirm_payment"
	TriggerEdit           = "edit"
)

// DefaultCallTimeout bounds each adapter call.
const DefaultCallTimeout = 60 * time.Second

// Recorder appends transition audit records.
type Recorder interface {
	RecordTransition(ctx context.Context, rec model.TransitionRecord) error
}

// Intent is the customer's plan selection before it is committed.
type Intent struct {
	Choice selection.Choice `json:"choice"`
	PlanID string           `json:"plan_id,omitempty"`
	Set    bool             `json:"set"`
}

// Orchestrator is the step state machine for one session.
type Orchestrator struct {
	adapter       enrollment.Adapter
	store         *session.Store
	latch         *latch.Latch
	recorder      Recorder
	sink          analytics.Sink
	affiliateCode string
	callTimeout   time.Duration

	busy atomic.Bool

	mu          sync.Mutex
	intent      Intent
	payment     *model.PaymentResult
	skipStep    model.Step
	resumeRef   string
	leadFailure *Failure
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLatch shares a lead latch between orchestrators.
func WithLatch(l *latch.Latch) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.latch = l
		}
	}
}

// WithRecorder enables the transition audit log.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

// WithSink sets the analytics sink.
func WithSink(s analytics.Sink) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithAffiliateCode sets the affiliate code sent when selecting a plan.
func WithAffiliateCode(code string) Option {
	return func(o *Orchestrator) {
		o.affiliateCode = code
	}
}

// WithCallTimeout bounds each adapter call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.callTimeout = d
		}
	}
}

// New creates an orchestrator over an explicit adapter and session store.
func New(adapter enrollment.Adapter, store *session.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:     adapter,
		store:       store,
		latch:       latch.New(),
		sink:        analytics.Nop{},
		callTimeout: DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Load fetches the committed session.
func (o *Orchestrator) Load(ctx context.Context) session.State {
	return o.store.Load(ctx)
}

// SessionID returns the id of the session the orchestrator drives.
func (o *Orchestrator) SessionID() string {
	return o.store.ID()
}

// Session returns a copy of the committed session, or nil if not loaded.
func (o *Orchestrator) Session() *model.Session {
	return o.store.Session()
}

// State returns the session store snapshot.
func (o *Orchestrator) State() session.State {
	return o.store.State()
}

// Busy reports whether a transition is in flight.
func (o *Orchestrator) Busy() bool {
	return o.busy.Load()
}

// LatchState returns the lead latch state for the session.
func (o *Orchestrator) LatchState() latch.State {
	return o.latch.State(o.store.ID())
}

// ResumeRef returns the earlier session offered by a duplicate-lead
// rejection, if one is pending a user decision.
func (o *Orchestrator) ResumeRef() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.resumeRef
}

// AcquireLead creates the provider lead if the session has none. It is safe
// to call on every render: once latched, repeated calls make no request.
func (o *Orchestrator) AcquireLead(ctx context.Context) (*model.Session, error) {
	return o.run(ctx, TriggerCreateLead, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		return o.acquire(ctx, sess, false, false)
	})
}

// RetryLead re-attempts a failed lead creation on explicit user request.
func (o *Orchestrator) RetryLead(ctx context.Context) (*model.Session, error) {
	return o.run(ctx, TriggerRetryLead, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		return o.acquire(ctx, sess, true, false)
	})
}

// StartOver answers a duplicate-lead rejection by asking the provider for a
// fresh lead.
func (o *Orchestrator) StartOver(ctx context.Context) (*model.Session, error) {
	return o.run(ctx, TriggerStartOver, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		o.mu.Lock()
		pending := o.resumeRef
		o.mu.Unlock()
		if pending == "" {
			return nil, validation("lead", "there is no earlier session to start over from")
		}
		out, err := o.acquire(ctx, sess, true, true)
		if err == nil {
			o.mu.Lock()
			o.resumeRef = ""
			o.mu.Unlock()
		}
		return out, err
	})
}

// ResumeSession answers a duplicate-lead rejection by switching to the
// earlier session. An empty ref uses the one the provider offered.
func (o *Orchestrator) ResumeSession(ctx context.Context, ref string) (*model.Session, error) {
	return o.run(ctx, TriggerResume, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		if ref == "" {
			ref = o.ResumeRef()
		}
		if ref == "" {
			return nil, validation("resume_ref", "there is no earlier session to resume")
		}
		if ref == sess.ID {
			return nil, validation("resume_ref", "session %s is already active", ref)
		}

		o.store.Rebind(ref)
		st := o.store.Load(ctx)
		if st.Kind != session.Ready {
			o.store.Rebind(sess.ID)
			o.store.Replace(sess)
			return nil, &Failure{Class: ClassTransient, Message: "could not load session " + ref + ": " + st.Message, Retryable: true}
		}

		o.latch.Forget(ctx, sess.ID)
		o.mu.Lock()
		o.intent = Intent{}
		o.payment = nil
		o.skipStep = ""
		o.resumeRef = ""
		o.leadFailure = nil
		o.mu.Unlock()
		return st.Session, nil
	})
}

func (o *Orchestrator) acquire(ctx context.Context, sess *model.Session, retry, forceNew bool) (*model.Session, error) {
	var (
		d       latch.Decision
		missing []string
	)
	if retry {
		d, missing = o.latch.Retry(ctx, sess)
	} else {
		d, missing = o.latch.Acquire(ctx, sess)
	}
	latchDecisionsTotal.WithLabelValues(d.String()).Inc()

	switch d {
	case latch.HasLead:
		return sess, nil
	case latch.InFlight:
		return nil, ErrBusy
	case latch.Incomplete:
		return nil, validation(missing[0], "quote details are incomplete: %s", strings.Join(missing, ", "))
	case latch.NeedsRetry:
		o.mu.Lock()
		f := o.leadFailure
		o.mu.Unlock()
		if f != nil {
			return nil, f
		}
		return nil, &Failure{Class: ClassTransient, Message: "the previous quote request failed", Retryable: true}
	}
	return o.createLead(ctx, sess, forceNew)
}

func (o *Orchestrator) createLead(ctx context.Context, sess *model.Session, forceNew bool) (*model.Session, error) {
	in := enrollment.CreateLeadInput{
		Zip:        sess.Zip,
		Email:      sess.Email,
		Pets:       sess.Pets,
		SessionRef: sess.ID,
		ForceNew:   forceNew,
	}
	res, err := o.call(ctx, enrollment.OpCreateLead, func(ctx context.Context) (*model.EnrollmentResult, error) {
		return o.adapter.CreateLead(ctx, in)
	})
	if err != nil {
		f := classify(err)
		o.failLead(ctx, sess.ID, f)
		return nil, f
	}
	if res.Rejected() {
		f := rejection(res)
		o.failLead(ctx, sess.ID, f)
		o.mu.Lock()
		o.resumeRef = f.ResumeRef
		o.mu.Unlock()
		return nil, f
	}

	o.latch.Fulfill(sess.ID)
	o.mu.Lock()
	o.leadFailure = nil
	o.mu.Unlock()

	learned := model.SessionPatch{
		LeadID:        model.Ptr(res.LeadID),
		QuoteDetailID: model.Ptr(res.QuoteDetailID),
		Policies:      res.Policies,
	}
	saved, err := o.store.Persist(ctx, learned)
	if err != nil {
		// The provider lead exists; keep it locally so it is not requested
		// again. The next committed step re-sends the ids.
		local := sess.Clone()
		if aerr := learned.Apply(local); aerr == nil {
			o.store.Replace(local)
		}
		return nil, eris.Wrap(err, "flow: save lead")
	}
	return o.reconcileLead(ctx, saved, res), nil
}

// reconcileLead re-fetches once after a lead is saved and re-applies any
// lead fields the server copy is missing.
func (o *Orchestrator) reconcileLead(ctx context.Context, saved *model.Session, res *model.EnrollmentResult) *model.Session {
	st := o.store.Refetch(ctx)
	if st.Kind != session.Ready {
		zap.L().Warn("flow: refetch after lead failed, keeping saved copy",
			zap.String("session_id", saved.ID), zap.String("error", st.Message))
		o.store.Replace(saved)
		return saved
	}

	fresh := st.Session
	changed := false
	if !fresh.HasLead() {
		fresh.LeadID, fresh.QuoteDetailID = res.LeadID, res.QuoteDetailID
		changed = true
	}
	if len(fresh.Policies) == 0 && len(res.Policies) > 0 {
		fresh.Policies = res.Policies
		changed = true
	}
	if changed {
		zap.L().Info("flow: server copy lagged behind lead creation, re-applied locally",
			zap.String("session_id", fresh.ID))
		o.store.Replace(fresh)
	}
	return fresh
}

func (o *Orchestrator) failLead(ctx context.Context, sessionID string, f *Failure) {
	o.latch.Fail(ctx, sessionID)
	o.mu.Lock()
	o.leadFailure = f
	o.mu.Unlock()
}

// SelectPlan records the customer's displayed selection. Nothing is sent or
// persisted until ConfirmQuote.
func (o *Orchestrator) SelectPlan(c selection.Choice) Intent {
	in := Intent{Choice: c, Set: true}
	if sess := o.store.Session(); sess != nil {
		if p, ok := selection.Match(sess.Policies, c); ok {
			in.PlanID = p.PlanID
		}
	}
	o.mu.Lock()
	o.intent = in
	o.mu.Unlock()
	return in
}

// Intent returns the active selection: the explicit one, else the committed
// plan, else the default policy.
func (o *Orchestrator) Intent() Intent {
	o.mu.Lock()
	in := o.intent
	o.mu.Unlock()
	if in.Set {
		return in
	}

	sess := o.store.Session()
	if sess == nil {
		return Intent{}
	}
	if sess.Plan != nil {
		return Intent{
			Choice: selection.Choice{Tier: sess.Plan.Tier, Reimbursement: sess.Plan.Reimbursement, Deductible: sess.Plan.Deductible},
			PlanID: sess.Plan.PlanID,
			Set:    true,
		}
	}
	if p, ok := selection.Default(sess.Policies); ok {
		return Intent{Choice: selection.ChoiceOf(p), PlanID: p.PlanID, Set: true}
	}
	return Intent{}
}

// ConfirmQuote submits the selected plan and advances to details.
func (o *Orchestrator) ConfirmQuote(ctx context.Context) (*model.Session, error) {
	return o.run(ctx, TriggerConfirmQuote, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		if sess.CurrentStep != model.StepQuote {
			return nil, validation("step", "a quote can only be confirmed on the quote step (current: %s)", sess.CurrentStep)
		}
		if !sess.HasLead() {
			return nil, validation("lead", "no quote has been created yet")
		}
		intent := o.Intent()
		if !intent.Set {
			return nil, validation("plan", "no plan is selected")
		}
		p, err := selection.Validate(sess.Policies, intent.Choice, intent.PlanID)
		if err != nil {
			return nil, err
		}

		res, err := o.call(ctx, enrollment.OpSetPlan, func(ctx context.Context) (*model.EnrollmentResult, error) {
			return o.adapter.SetPlan(ctx, enrollment.SetPlanInput{
				QuoteDetailID: sess.QuoteDetailID,
				PlanID:        p.PlanID,
				Email:         sess.Email,
				AffiliateCode: o.affiliateCode,
				Zip:           sess.Zip,
			})
		})
		if err != nil {
			return nil, err
		}
		if res.Rejected() {
			return nil, rejection(res)
		}
		if res.PlanID != p.PlanID {
			zap.L().Warn("flow: provider echoed a different plan id",
				zap.String("session_id", sess.ID), zap.String("sent", p.PlanID), zap.String("echoed", res.PlanID))
		}

		return o.commit(ctx, model.StepDetails, model.SessionPatch{
			Step:          model.Ptr(model.StepDetails),
			LeadID:        model.Ptr(sess.LeadID),
			QuoteDetailID: model.Ptr(sess.QuoteDetailID),
			Policies:      sess.Policies,
			Plan: &model.Plan{
				Tier:           p.Tier(),
				Reimbursement:  p.Reimbursement,
				Deductible:     p.Deductible,
				PlanID:         p.PlanID,
				MonthlyPremium: p.MonthlyPremium,
			},
		})
	})
}

// SubmitDetails sets up the provider's pending account and advances to
// payment.
func (o *Orchestrator) SubmitDetails(ctx context.Context, in DetailsInput) (*model.Session, error) {
	return o.run(ctx, TriggerSubmitDetails, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		if sess.CurrentStep != model.StepDetails {
			return nil, validation("step", "details can only be submitted on the details step (current: %s)", sess.CurrentStep)
		}
		if sess.Plan == nil {
			return nil, validation("plan", "no plan has been confirmed")
		}
		owner, pets, err := in.normalize(sess)
		if err != nil {
			return nil, err
		}

		pending := make([]enrollment.PendingPet, 0, len(pets))
		for _, p := range pets {
			pending = append(pending, enrollment.PendingPet{
				Name:          p.Name,
				Deductible:    sess.Plan.Deductible,
				Reimbursement: sess.Plan.Reimbursement,
				DateOfBirth:   p.DateOfBirth,
			})
		}
		res, err := o.call(ctx, enrollment.OpSetupPending, func(ctx context.Context) (*model.EnrollmentResult, error) {
			return o.adapter.SetupPending(ctx, enrollment.SetupPendingInput{
				LeadID:  sess.LeadID,
				Consent: model.Ptr(in.Consent),
				Owner:   &owner,
				Pets:    pending,
			})
		})
		if err != nil {
			return nil, err
		}
		if res.Rejected() {
			return nil, rejection(res)
		}

		return o.commit(ctx, model.StepPayment, model.SessionPatch{
			Step:                    model.Ptr(model.StepPayment),
			Owner:                   &owner,
			Pets:                    pets,
			Consent:                 model.Ptr(true),
			AccountID:               model.Ptr(res.AccountID),
			MonthlyAuthorizedAmount: model.Ptr(res.MonthlyTotalPayment),
		})
	})
}

// ReceivePayment accepts the payment widget's terminal message. A valid
// success is held until ConfirmPayment.
func (o *Orchestrator) ReceivePayment(raw []byte) (*model.PaymentResult, error) {
	sess := o.store.Session()
	if sess == nil || sess.CurrentStep != model.StepPayment {
		return nil, validation("step", "payment is not expected now")
	}
	res, err := payment.Parse(raw)
	if err != nil {
		f := classify(err)
		zap.L().Info("flow: payment message rejected",
			zap.String("session_id", sess.ID), zap.String("class", string(f.Class)), zap.String("reason", f.Message))
		return nil, f
	}
	o.mu.Lock()
	o.payment = res
	o.mu.Unlock()
	o.sink.Track(analytics.Event{Name: "payment_received", SessionID: sess.ID, Step: string(sess.CurrentStep), At: time.Now().UTC()})
	c := *res
	return &c, nil
}

// ConfirmPayment enrolls with the held payment token and advances to
// confirm.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, in PaymentInput) (*model.Session, error) {
	return o.run(ctx, TriggerConfirmPayment, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		if sess.CurrentStep != model.StepPayment {
			return nil, validation("step", "payment can only be confirmed on the payment step (current: %s)", sess.CurrentStep)
		}
		o.mu.Lock()
		pay := o.payment
		o.mu.Unlock()
		if pay == nil {
			return nil, validation("payment", "the payment form has not been completed")
		}

		amount := in.AuthorizedAmount
		if amount <= 0 {
			amount = sess.MonthlyAuthorizedAmount
		}
		if amount <= 0 {
			return nil, validation("authorized_amount", "no authorized amount is available")
		}

		billing := in.Billing
		if billing == nil {
			billing = sess.Owner
		}
		if billing == nil {
			return nil, validation("billing", "billing details are missing")
		}
		if field := missingBilling(*billing); field != "" {
			return nil, validation("billing."+field, "billing %s is required", strings.ReplaceAll(field, "_", " "))
		}

		res, err := o.call(ctx, enrollment.OpEnroll, func(ctx context.Context) (*model.EnrollmentResult, error) {
			return o.adapter.Enroll(ctx, enrollment.EnrollInput{
				LeadID:           sess.LeadID,
				PaymentToken:     pay.PaymentToken,
				TransactionID:    pay.TransactionID,
				PaymentMethod:    pay.PaymentMethod,
				ConvenienceFee:   pay.ConvenienceFee,
				AuthorizedAmount: amount,
				Billing:          *billing,
			})
		})
		if err != nil {
			return nil, err
		}
		if res.Rejected() {
			return nil, rejection(res)
		}

		out, err := o.commit(ctx, model.StepConfirm, model.SessionPatch{
			Step:            model.Ptr(model.StepConfirm),
			ConfirmationRef: model.Ptr(res.RedirectRef),
		})
		if err == nil {
			o.mu.Lock()
			o.payment = nil
			o.mu.Unlock()
		}
		return out, err
	})
}

// Edit moves the session back to an earlier step. It never calls the
// adapter; the session is re-fetched so forms rehydrate from the server.
func (o *Orchestrator) Edit(ctx context.Context, target model.Step) (*model.Session, error) {
	return o.run(ctx, TriggerEdit, func(ctx context.Context, sess *model.Session) (*model.Session, error) {
		if !target.Editable() {
			return nil, validation("step", "step %q cannot be edited", target)
		}
		if sess.CurrentStep.Terminal() {
			return nil, validation("step", "enrollment is already complete")
		}
		if !target.Before(sess.CurrentStep) {
			return nil, validation("step", "can only go back to an earlier step (current: %s)", sess.CurrentStep)
		}

		saved, err := o.store.Persist(ctx, model.SessionPatch{Step: model.Ptr(target)})
		if err != nil {
			return nil, eris.Wrap(err, "flow: save edit")
		}
		st := o.store.Refetch(ctx)
		if st.Kind != session.Ready {
			o.store.Replace(saved)
			return saved, nil
		}
		return st.Session, nil
	})
}

// StepChanged is called when the displayed step changes. It re-fetches the
// session unless the change came from a transition that just returned an
// authoritative copy; that suppression is used at most once.
func (o *Orchestrator) StepChanged(ctx context.Context, step model.Step) session.State {
	o.mu.Lock()
	skip := o.skipStep != "" && o.skipStep == step
	o.skipStep = ""
	o.mu.Unlock()

	if skip {
		return o.store.State()
	}
	return o.store.Refetch(ctx)
}

// commit persists patch, replaces the local session with the response and
// arms the skip-next-refetch marker for step.
func (o *Orchestrator) commit(ctx context.Context, step model.Step, patch model.SessionPatch) (*model.Session, error) {
	saved, err := o.store.Persist(ctx, patch)
	if err != nil {
		return nil, eris.Wrapf(err, "flow: save %s step", step)
	}
	o.mu.Lock()
	o.skipStep = step
	o.mu.Unlock()
	return saved, nil
}

// call runs one adapter operation under the call timeout.
func (o *Orchestrator) call(ctx context.Context, op string, fn func(ctx context.Context) (*model.EnrollmentResult, error)) (*model.EnrollmentResult, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := fn(ctx)
	if err == nil && res == nil {
		err = eris.Errorf("flow: %s returned no result", op)
	}
	if err == nil {
		err = res.Validate()
	}

	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(classify(err).Class)
	case res.Rejected():
		outcome = "rejected"
	}
	adapterCallSeconds.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return res, nil
}

// run is the single entry point for transitions. It enforces one transition
// at a time, converts panics and errors into a Failure, and always clears
// the busy flag.
func (o *Orchestrator) run(ctx context.Context, trigger string, fn func(ctx context.Context, sess *model.Session) (*model.Session, error)) (out *model.Session, err error) {
	if !o.busy.CompareAndSwap(false, true) {
		busyRejectionsTotal.WithLabelValues(trigger).Inc()
		zap.L().Debug("flow: transition dropped, another is in flight",
			zap.String("session_id", o.store.ID()), zap.String("trigger", trigger))
		return nil, ErrBusy
	}
	defer o.busy.Store(false)

	sess := o.store.Session()
	sessionID := o.store.ID()
	var from model.Step
	if sess != nil {
		from = sess.CurrentStep
	}
	log := zap.L().With(
		zap.String("session_id", sessionID),
		zap.String("trigger", trigger),
		zap.String("step", string(from)),
	)
	log.Debug("flow: transition started")

	defer func() {
		if r := recover(); r != nil {
			log.Error("flow: transition panicked", zap.Any("panic", r))
			out, err = nil, &Failure{Class: ClassUnknown, Message: fmt.Sprint(r)}
			if o.latch.State(sessionID) == latch.Requesting {
				o.latch.Fail(ctx, sessionID)
			}
		}
		if err != nil && eris.Is(err, ErrBusy) {
			busyRejectionsTotal.WithLabelValues(trigger).Inc()
			return
		}

		var f *Failure
		to := from
		if err != nil {
			f = classify(err)
			err = f
		} else if out != nil {
			to = out.CurrentStep
		}
		o.finish(ctx, log, sessionID, trigger, from, to, f)
	}()

	if sess == nil {
		return nil, &Failure{Class: ClassUnknown, Message: "session is not loaded", Retryable: true}
	}
	return fn(ctx, sess)
}

func (o *Orchestrator) finish(ctx context.Context, log *zap.Logger, sessionID, trigger string, from, to model.Step, f *Failure) {
	outcome := "ok"
	rec := model.TransitionRecord{SessionID: sessionID, From: from, To: to, Trigger: trigger, Outcome: outcome}
	ev := analytics.Event{Name: trigger, SessionID: sessionID, Step: string(to), At: time.Now().UTC()}
	if f != nil {
		outcome = string(f.Class)
		rec.Outcome = outcome
		rec.Message = f.Message
		ev.Name = trigger + "_failed"
		ev.Properties = map[string]string{"class": outcome, "code": f.Code}
		log.Info("flow: transition failed",
			zap.String("class", outcome),
			zap.String("code", f.Code),
			zap.String("reason", f.Message),
			zap.Bool("retryable", f.Retryable),
		)
	} else {
		log.Info("flow: transition complete", zap.String("to", string(to)))
	}
	transitionsTotal.WithLabelValues(trigger, outcome).Inc()
	o.sink.Track(ev)

	if o.recorder != nil && sessionID != "" {
		if err := o.recorder.RecordTransition(context.WithoutCancel(ctx), rec); err != nil {
			log.Warn("flow: record transition failed", zap.Error(err))
		}
	}
}
