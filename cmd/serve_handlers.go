package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/enroll-cli/internal/flow"
	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/selection"
	"github.com/sells-group/enroll-cli/internal/store"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	store store.Store
	flows *flow.Registry
}

// flowResponse is returned by every flow endpoint: the committed session
// and, when the transition failed, the classified failure.
type flowResponse struct {
	Session *model.Session `json:"session,omitempty"`
	Intent  *flow.Intent   `json:"intent,omitempty"`
	Failure *flow.Failure  `json:"failure,omitempty"`
}

type quoteResponse struct {
	Session        *model.Session `json:"session"`
	Intent         flow.Intent    `json:"intent"`
	Tiers          []model.Tier   `json:"tiers"`
	Reimbursements []float64      `json:"reimbursements"`
	Deductibles    []float64      `json:"deductibles"`
}

type createSessionRequest struct {
	Zip   string      `json:"zip"`
	Email string      `json:"email"`
	Pets  []model.Pet `json:"pets,omitempty"`
}

func decodeBody(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func (h *handlers) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := h.store.CreateSession(r.Context(), req.Zip, req.Email)
	if err != nil {
		h.storeError(w, err)
		return
	}
	if len(req.Pets) > 0 {
		sess, err = h.store.PatchSession(r.Context(), sess.ID, model.SessionPatch{Pets: req.Pets})
		if err != nil {
			h.storeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.SessionFilter{Step: model.Step(q.Get("step")), Email: q.Get("email")}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	if filter.Step != "" && !filter.Step.Valid() {
		writeError(w, http.StatusBadRequest, "unknown step "+string(filter.Step))
		return
	}
	sessions, err := h.store.ListSessions(r.Context(), filter)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *handlers) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.store.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) patchSession(w http.ResponseWriter, r *http.Request) {
	var patch model.SessionPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := h.store.PatchSession(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *handlers) listTransitions(w http.ResponseWriter, r *http.Request) {
	recs, err := h.store.ListTransitions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *handlers) storeError(w http.ResponseWriter, err error) {
	var invalid *store.InvalidPatchError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusUnprocessableEntity, invalid.Err.Error())
	default:
		zap.L().Error("session store failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// orchestrator resolves the session's orchestrator, writing a 404 when the
// session cannot be loaded.
func (h *handlers) orchestrator(w http.ResponseWriter, r *http.Request) (*flow.Orchestrator, bool) {
	o, err := h.flows.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		zap.L().Info("flow session unavailable", zap.String("session_id", chi.URLParam(r, "id")), zap.Error(err))
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return o, true
}

// transition runs fn against the session's orchestrator and writes the
// outcome.
func (h *handlers) transition(w http.ResponseWriter, r *http.Request, fn func(o *flow.Orchestrator) (*model.Session, error)) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	sess, err := fn(o)
	writeFlow(w, o, sess, err)
}

func writeFlow(w http.ResponseWriter, o *flow.Orchestrator, sess *model.Session, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, flowResponse{Session: sess})
		return
	}
	if errors.Is(err, flow.ErrBusy) {
		writeError(w, http.StatusConflict, "another step is in progress")
		return
	}
	f, ok := flow.AsFailure(err)
	if !ok {
		f = &flow.Failure{Class: flow.ClassUnknown, Message: err.Error()}
	}
	writeJSON(w, failureStatus(f), flowResponse{Session: o.Session(), Failure: f})
}

func failureStatus(f *flow.Failure) int {
	switch f.Class {
	case flow.ClassValidation, flow.ClassContract:
		return http.StatusBadRequest
	case flow.ClassRejection:
		return http.StatusUnprocessableEntity
	case flow.ClassTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) acquireLead(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		return o.AcquireLead(r.Context())
	})
}

func (h *handlers) retryLead(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		return o.RetryLead(r.Context())
	})
}

func (h *handlers) startOver(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		return o.StartOver(r.Context())
	})
}

func (h *handlers) resumeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ref string `json:"ref"`
	}
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	id := chi.URLParam(r, "id")
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	sess, err := h.flows.Resume(r.Context(), id, req.Ref)
	writeFlow(w, o, sess, err)
}

func (h *handlers) getQuote(w http.ResponseWriter, r *http.Request) {
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	sess := o.Session()
	if sess == nil {
		writeError(w, http.StatusServiceUnavailable, "session is loading")
		return
	}
	in := o.Intent()
	writeJSON(w, http.StatusOK, quoteResponse{
		Session:        sess,
		Intent:         in,
		Tiers:          selection.Tiers(sess.Policies),
		Reimbursements: selection.AvailableReimbursements(sess.Policies, in.Choice.Tier),
		Deductibles:    selection.AvailableDeductibles(sess.Policies, in.Choice.Tier, in.Choice.Reimbursement),
	})
}

func (h *handlers) selectPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier          string  `json:"tier"`
		Reimbursement float64 `json:"reimbursement"`
		Deductible    float64 `json:"deductible"`
		Adjust        bool    `json:"adjust"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	tier, err := model.ParseTier(req.Tier)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	c := selection.Choice{Tier: tier, Reimbursement: req.Reimbursement, Deductible: req.Deductible}
	if req.Adjust {
		if sess := o.Session(); sess != nil {
			if adjusted, ok := selection.Adjust(sess.Policies, c); ok {
				c = adjusted
			}
		}
	}
	in := o.SelectPlan(c)
	writeJSON(w, http.StatusOK, flowResponse{Session: o.Session(), Intent: &in})
}

func (h *handlers) confirmQuote(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		return o.ConfirmQuote(r.Context())
	})
}

func (h *handlers) submitDetails(w http.ResponseWriter, r *http.Request) {
	var in flow.DetailsInput
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		return o.SubmitDetails(r.Context(), in)
	})
}

func (h *handlers) receivePayment(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		if _, err := o.ReceivePayment(raw); err != nil {
			return nil, err
		}
		return o.Session(), nil
	})
}

func (h *handlers) confirmPayment(w http.ResponseWriter, r *http.Request) {
	var in flow.PaymentInput
	if r.ContentLength != 0 {
		if err := decodeBody(r, &in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		sess, err := o.ConfirmPayment(r.Context(), in)
		if err == nil {
			h.flows.Release(chi.URLParam(r, "id"))
		}
		return sess, err
	})
}

type stepRequest struct {
	Step model.Step `json:"step"`
}

func (h *handlers) edit(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.transition(w, r, func(o *flow.Orchestrator) (*model.Session, error) {
		return o.Edit(r.Context(), req.Step)
	})
}

func (h *handlers) stepChanged(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	o, ok := h.orchestrator(w, r)
	if !ok {
		return
	}
	st := o.StepChanged(r.Context(), req.Step)
	sess := st.Session
	if sess == nil && st.Stale {
		sess = o.Session()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"state":   st.Kind.String(),
		"session": sess,
		"stale":   st.Stale,
		"message": st.Message,
	})
}
