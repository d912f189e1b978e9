// Package report exports sessions and their transition history as CSV or
// XLSX for operations review.
package report

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/enroll-cli/internal/model"
)

// SessionHeader is the column order of a session export.
var SessionHeader = []string{
	"id", "step", "email", "zip", "pets", "lead_id", "quote_detail_id",
	"plan_id", "tier", "reimbursement", "deductible", "monthly_premium",
	"account_id", "monthly_authorized_amount", "confirmation_ref",
	"created_at", "updated_at",
}

// TransitionHeader is the column order of a transition export.
var TransitionHeader = []string{"session_id", "at", "trigger", "from", "to", "outcome", "message"}

// SessionRow flattens s into SessionHeader order.
func SessionRow(s model.Session) []string {
	row := []string{
		s.ID,
		string(s.CurrentStep),
		s.Email,
		s.Zip,
		strconv.Itoa(len(s.Pets)),
		s.LeadID,
		s.QuoteDetailID,
		"", "", "", "", "",
		s.AccountID,
		formatAmount(s.MonthlyAuthorizedAmount),
		s.ConfirmationRef,
		formatTime(s.CreatedAt),
		formatTime(s.UpdatedAt),
	}
	if p := s.Plan; p != nil {
		row[7] = p.PlanID
		row[8] = string(p.Tier)
		row[9] = strconv.Itoa(model.ReimbursementKey(p.Reimbursement)/100) + "%"
		row[10] = formatAmount(p.Deductible)
		row[11] = p.MonthlyPremium
	}
	return row
}

// TransitionRow flattens r into TransitionHeader order.
func TransitionRow(r model.TransitionRecord) []string {
	return []string{r.SessionID, formatTime(r.CreatedAt), r.Trigger, string(r.From), string(r.To), r.Outcome, r.Message}
}

// WriteCSV writes sessions as CSV with a header row.
func WriteCSV(w io.Writer, sessions []model.Session) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(SessionHeader); err != nil {
		return eris.Wrap(err, "report: write csv header")
	}
	for _, s := range sessions {
		if err := cw.Write(SessionRow(s)); err != nil {
			return eris.Wrapf(err, "report: write csv row %s", s.ID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush csv")
}

func formatAmount(v float64) string {
	if v == 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
