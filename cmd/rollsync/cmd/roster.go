package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/campusworks/rollsync/internal/reconcile"
	"github.com/campusworks/rollsync/internal/roster"
)

// rosterCmd is the parent command for batch operations.
var rosterCmd = &cobra.Command{
	Use:   "roster",
	Short: "Apply reconciliation rosters (batch mode)",
	Long: `Batch reconciliation from a YAML roster file.

A roster lists one entry per person:

  entries:
    - role: student
      prn: RBT24CS028
      email: t28.gfm@gmail.com
      password_env: STUDENT_DEFAULT_PASSWORD
      full_name: G. F. M.
      branch: CSE
      year_of_study: "2"
      division: A

Passwords may be literal (password:) or named by environment variable
(password_env:); use the latter for rosters that live in version control.`,
}

func init() {
	rosterCmd.AddCommand(rosterApplyCmd)
	rosterCmd.AddCommand(rosterWatchCmd)
}

// rosterApplyCmd runs one batch and exits.
var rosterApplyCmd = &cobra.Command{
	Use:   "apply <roster.yaml>",
	Short: "Reconcile every roster entry once",
	Long: `Loads the roster, validates every entry up front, then reconciles them
in order. A failing entry does not stop the batch; the summary reports
per-kind counts at the end.

Exits non-zero when any entry ended in conflict or failure.

Examples:
  rollsync roster apply students.yaml
  rollsync roster apply staff.yaml --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		requests, err := roster.Load(args[0])
		if err != nil {
			return err
		}

		summary := roster.Apply(cmd.Context(), reconciler, requests)

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			if err := printJSON(summaryJSON(summary)); err != nil {
				return err
			}
		} else {
			printSummary(summary)
		}

		if summary.Failed() {
			return fmt.Errorf("roster finished with conflicts or failures")
		}
		return nil
	},
}

func init() {
	rosterApplyCmd.Flags().Bool("json", false, "print the summary as JSON")
}

// rosterWatchCmd keeps re-applying the roster whenever the file changes.
var rosterWatchCmd = &cobra.Command{
	Use:   "watch <roster.yaml>",
	Short: "Re-apply the roster on every file change",
	Long: `Applies the roster once at startup, then watches the file and re-applies
it whenever it changes (bursts of writes are debounced). Reconciliation is
idempotent, so an unchanged entry costs one credential refresh and nothing
else.

Runs until interrupted.

Examples:
  rollsync roster watch students.yaml
  rollsync roster watch students.yaml --debounce 5s`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debounce, _ := cmd.Flags().GetDuration("debounce")

		w, err := roster.NewWatcher(args[0], reconciler, roster.WatcherConfig{
			DebounceInterval: debounce,
			Logger:           logger,
			OnApply: func(s roster.Summary) {
				printSummary(s)
			},
			OnError: func(err error) {
				logger.Error().Err(err).Msg("roster apply failed")
			},
		})
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return w.Run(ctx)
	},
}

func init() {
	rosterWatchCmd.Flags().Duration("debounce", 2*time.Second, "quiet period before re-applying after a change")
}

func printSummary(s roster.Summary) {
	for _, r := range s.Results {
		out := r.Outcome
		switch out.Kind {
		case reconcile.Failed:
			fmt.Printf("  %-8s %s/%s: %v\n", out.Kind, out.Role, out.PRN, out.Err)
		case reconcile.Conflict:
			fmt.Printf("  %-8s %s/%s: email %s owned by %s\n",
				out.Kind, out.Role, out.PRN, out.Conflict.ExistingEmail, out.Conflict.ExistingIdentityID)
		default:
			fmt.Printf("  %-8s %s/%s -> %s\n", out.Kind, out.Role, out.PRN, out.IdentityID)
		}
	}
	fmt.Printf("total %d: %d created, %d linked, %d updated, %d conflict, %d failed\n",
		len(s.Results),
		s.Counts[reconcile.Created], s.Counts[reconcile.Linked], s.Counts[reconcile.Updated],
		s.Counts[reconcile.Conflict], s.Counts[reconcile.Failed])
}

// summaryJSON flattens a Summary for machine consumption. Outcome errors
// do not marshal, so the message is carried separately.
func summaryJSON(s roster.Summary) any {
	type entry struct {
		reconcile.Outcome
		Error string `json:"error,omitempty"`
	}
	entries := make([]entry, 0, len(s.Results))
	for _, r := range s.Results {
		e := entry{Outcome: r.Outcome}
		if r.Outcome.Err != nil {
			e.Error = r.Outcome.Err.Error()
		}
		entries = append(entries, e)
	}
	return struct {
		Entries []entry                `json:"entries"`
		Counts  map[reconcile.Kind]int `json:"counts"`
	}{entries, s.Counts}
}
