package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/report"
	"github.com/sells-group/enroll-cli/internal/store"
)

func seedExportStore(t *testing.T) store.Store {
	t.Helper()
	useTestConfig(t)
	ctx := context.Background()
	st, err := openStore(ctx, "sessions")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck

	a, err := st.CreateSession(ctx, "94107", "a@example.com")
	require.NoError(t, err)
	_, err = st.PatchSession(ctx, a.ID, model.SessionPatch{
		LeadID: model.Ptr("L1"), QuoteDetailID: model.Ptr("Q1"), Step: model.Ptr(model.StepDetails),
	})
	require.NoError(t, err)
	require.NoError(t, st.RecordTransition(ctx, model.TransitionRecord{
		SessionID: a.ID, Trigger: "confirm_quote", From: model.StepQuote, To: model.StepDetails, Outcome: "ok",
	}))

	_, err = st.CreateSession(ctx, "10001", "b@example.com")
	require.NoError(t, err)
	return st
}

func TestExportSessions_CSV(t *testing.T) {
	st := seedExportStore(t)

	var buf bytes.Buffer
	n, err := exportSessions(context.Background(), st, store.SessionFilter{}, &buf, "", false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, report.SessionHeader, records[0])
}

func TestExportSessions_XLSXWithHistory(t *testing.T) {
	st := seedExportStore(t)
	path := filepath.Join(t.TempDir(), "export.xlsx")

	n, err := exportSessions(context.Background(), st, store.SessionFilter{Step: model.StepDetails}, nil, path, true)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := report.ReadXLSX(path, report.SessionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a@example.com", rows[1][2])
	assert.Equal(t, "L1", rows[1][5])

	rows, err = report.ReadXLSX(path, report.TransitionsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "confirm_quote", rows[1][2])
}

func TestSessionFilterFromFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().String("step", "", "")
	cmd.Flags().String("email", "", "")
	cmd.Flags().Int("limit", 50, "")

	require.NoError(t, cmd.Flags().Set("step", "payment"))
	require.NoError(t, cmd.Flags().Set("email", "a@example.com"))
	f, err := sessionFilterFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, model.StepPayment, f.Step)
	assert.Equal(t, "a@example.com", f.Email)
	assert.Equal(t, 50, f.Limit)

	require.NoError(t, cmd.Flags().Set("step", "checkout"))
	_, err = sessionFilterFromFlags(cmd)
	assert.Error(t, err)
}

func TestFormatSessionsList(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 30, 0, 0, time.UTC)
	sessions := []model.Session{
		{
			ID:          "abc12345-6789-0000-0000-000000000000",
			CurrentStep: model.StepPayment,
			Email:       "pat@example.com",
			LeadID:      "L1",
			Plan:        &model.Plan{PlanID: "P-80-500"},
			UpdatedAt:   now,
		},
		{ID: "def12345", CurrentStep: model.StepQuote, Email: "sam@example.com", UpdatedAt: now},
	}

	var buf bytes.Buffer
	formatSessionsList(&buf, sessions)

	output := buf.String()
	assert.Contains(t, output, "STEP")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "P-80-500")
	assert.Contains(t, output, "sam@example.com")
	assert.Contains(t, output, "2026-06-15 10:30")
}

func TestFormatTransitions(t *testing.T) {
	var buf bytes.Buffer
	formatTransitions(&buf, nil)
	assert.Contains(t, buf.String(), "No transitions recorded.")

	buf.Reset()
	formatTransitions(&buf, []model.TransitionRecord{{
		Trigger: "create_lead", From: model.StepQuote, To: model.StepQuote, Outcome: "rejection", Message: "duplicate",
	}})
	assert.Contains(t, buf.String(), "create_lead")
	assert.Contains(t, buf.String(), "rejection")
	assert.Contains(t, buf.String(), "duplicate")
}

func TestOpenStore_RejectsBadConfig(t *testing.T) {
	useTestConfig(t)
	cfg.Store.DatabaseURL = ""

	_, err := openStore(context.Background(), "migrate")
	assert.ErrorContains(t, err, "store.database_url")
}

func TestComputeFunnelStats(t *testing.T) {
	sessions := []model.Session{
		{CurrentStep: model.StepQuote},
		{CurrentStep: model.StepQuote, LeadID: "L1", QuoteDetailID: "Q1"},
		{CurrentStep: model.StepDetails, LeadID: "L2", QuoteDetailID: "Q2", Plan: &model.Plan{PlanID: "P"}},
		{CurrentStep: model.StepConfirm, LeadID: "L3", QuoteDetailID: "Q3", Plan: &model.Plan{PlanID: "P"}, ConfirmationRef: "C1"},
	}

	s := computeFunnelStats(sessions)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, 2, s.ByStep[model.StepQuote])
	assert.Equal(t, 0, s.ByStep[model.StepPayment])
	assert.Equal(t, 3, s.WithLead)
	assert.Equal(t, 2, s.WithPlan)
	assert.Equal(t, 1, s.Confirmed)

	var buf bytes.Buffer
	formatFunnelStats(&buf, s)
	assert.Contains(t, buf.String(), "Total sessions:")
	assert.Contains(t, buf.String(), "At payment:")
	assert.Contains(t, buf.String(), "25.0%")
}
