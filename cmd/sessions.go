package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enroll-cli/internal/model"
	"github.com/sells-group/enroll-cli/internal/report"
	"github.com/sells-group/enroll-cli/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect enrollment sessions",
	Long:  "Commands for listing sessions, viewing their transition history and exporting them.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enrollment sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := sessionFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		sessions, err := st.ListSessions(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions history --

var sessionsHistoryCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show the transition history of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if _, err := st.GetSession(ctx, args[0]); err != nil {
			return eris.Wrap(err, "sessions history")
		}
		recs, err := st.ListTransitions(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions history")
		}

		formatTransitions(os.Stdout, recs)
		return nil
	},
}

// -- sessions export --

var sessionsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions as CSV (stdout) or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := sessionFilterFromFlags(cmd)
		if err != nil {
			return err
		}
		xlsxPath, _ := cmd.Flags().GetString("xlsx")
		withHistory, _ := cmd.Flags().GetBool("history")

		n, err := exportSessions(ctx, st, filter, os.Stdout, xlsxPath, withHistory)
		if err != nil {
			return err
		}
		if xlsxPath != "" {
			fmt.Fprintf(os.Stderr, "Exported %d sessions to %s\n", n, xlsxPath)
		}
		return nil
	},
}

// -- sessions stats --

var sessionsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show how far sessions got through the funnel",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		sessions, err := st.ListSessions(ctx, store.SessionFilter{Limit: limit})
		if err != nil {
			return eris.Wrap(err, "sessions stats")
		}

		formatFunnelStats(os.Stdout, computeFunnelStats(sessions))
		return nil
	},
}

func init() {
	sessionsStatsCmd.Flags().Int("limit", 10000, "max number of recent sessions to include")

	for _, c := range []*cobra.Command{sessionsListCmd, sessionsExportCmd} {
		c.Flags().String("step", "", "filter by current step (quote, details, payment, confirm)")
		c.Flags().String("email", "", "filter by customer email")
		c.Flags().Int("limit", 50, "max number of sessions")
	}
	sessionsExportCmd.Flags().String("xlsx", "", "write an XLSX workbook to this path instead of CSV to stdout")
	sessionsExportCmd.Flags().Bool("history", false, "include a transitions sheet (XLSX only)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsHistoryCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)
	sessionsCmd.AddCommand(sessionsStatsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// openStore validates config for mode and returns a migrated store.
func openStore(ctx context.Context, mode string) (store.Store, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func sessionFilterFromFlags(cmd *cobra.Command) (store.SessionFilter, error) {
	stepFlag, _ := cmd.Flags().GetString("step")
	email, _ := cmd.Flags().GetString("email")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := store.SessionFilter{Email: email, Limit: limit}
	if stepFlag != "" {
		step, err := model.ParseStep(stepFlag)
		if err != nil {
			return filter, err
		}
		filter.Step = step
	}
	return filter, nil
}

// exportSessions writes the filtered sessions as CSV to w, or as XLSX to
// xlsxPath when set. It returns the number of sessions exported.
func exportSessions(ctx context.Context, st store.Store, filter store.SessionFilter, w io.Writer, xlsxPath string, withHistory bool) (int, error) {
	sessions, err := st.ListSessions(ctx, filter)
	if err != nil {
		return 0, eris.Wrap(err, "sessions export")
	}

	if xlsxPath == "" {
		return len(sessions), report.WriteCSV(w, sessions)
	}

	var transitions []model.TransitionRecord
	if withHistory {
		for _, s := range sessions {
			recs, err := st.ListTransitions(ctx, s.ID)
			if err != nil {
				return 0, eris.Wrapf(err, "sessions export: history %s", s.ID)
			}
			transitions = append(transitions, recs...)
		}
	}
	return len(sessions), report.WriteXLSX(xlsxPath, sessions, transitions)
}

// funnelStats counts sessions by how far they progressed.
type funnelStats struct {
	Total     int
	ByStep    map[model.Step]int
	WithLead  int
	WithPlan  int
	Confirmed int
}

// computeFunnelStats aggregates a list of sessions.
func computeFunnelStats(sessions []model.Session) funnelStats {
	s := funnelStats{Total: len(sessions), ByStep: make(map[model.Step]int)}
	for _, sess := range sessions {
		s.ByStep[sess.CurrentStep]++
		if sess.HasLead() {
			s.WithLead++
		}
		if sess.Plan != nil {
			s.WithPlan++
		}
		if sess.ConfirmationRef != "" {
			s.Confirmed++
		}
	}
	return s
}

// formatFunnelStats writes funnel stats to out.
func formatFunnelStats(out io.Writer, s funnelStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total sessions:\t%d\n", s.Total)
	for _, step := range model.Steps() {
		_, _ = fmt.Fprintf(w, "  At %s:\t%d\n", step, s.ByStep[step])
	}
	_, _ = fmt.Fprintf(w, "With lead:\t%d\n", s.WithLead)
	_, _ = fmt.Fprintf(w, "With plan:\t%d\n", s.WithPlan)
	_, _ = fmt.Fprintf(w, "Enrolled:\t%d\n", s.Confirmed)
	if s.Total > 0 {
		_, _ = fmt.Fprintf(w, "Conversion:\t%.1f%%\n", 100*float64(s.Confirmed)/float64(s.Total))
	}
	_ = w.Flush()
}

// formatSessionsList writes a tabular list of sessions to out.
func formatSessionsList(out io.Writer, sessions []model.Session) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTEP\tEMAIL\tLEAD\tPLAN\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t----\t----\t-------")

	for _, s := range sessions {
		plan := ""
		if s.Plan != nil {
			plan = s.Plan.PlanID
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(s.ID),
			s.CurrentStep,
			s.Email,
			s.LeadID,
			plan,
			s.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatTransitions writes a session's transition log to out.
func formatTransitions(out io.Writer, recs []model.TransitionRecord) {
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "No transitions recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "AT\tTRIGGER\tFROM\tTO\tOUTCOME\tMESSAGE")
	for _, r := range recs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Format("2006-01-02 15:04:05"),
			r.Trigger,
			r.From,
			r.To,
			r.Outcome,
			r.Message,
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
