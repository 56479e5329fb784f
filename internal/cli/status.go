package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/unburden/solvency/internal/model"
)

var statusJSON bool

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status <request-id>",
	Short: "Show where a request stands in its gate pipeline",
	Long: `Status prints the route of a request, the gates it has passed, where and
why its latest run halted, and its gate audit trail.

Example:
  solvency status pet-1
  solvency status prod-7 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		status, err := a.Dispatcher.Status(context.Background(), args[0])
		if errors.Is(err, model.ErrUnknownRequest) {
			fmt.Fprintf(os.Stderr, "No pipeline state for %s\n", args[0])
			return err
		}
		if err != nil {
			return err
		}
		if statusJSON {
			return writeJSON(cmd.OutOrStdout(), status)
		}
		printStatus(cmd.OutOrStdout(), status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the full status as JSON")
}

func printStatus(w io.Writer, s model.RequestStatus) {
	fmt.Fprintf(w, "Request:   %s (revision %d)\n", s.RequestID, s.Revision)
	switch {
	case s.Status == "":
		fmt.Fprintf(w, "Status:    running\n")
	case s.InFlight:
		fmt.Fprintf(w, "Status:    %s (resubmission running)\n", s.Status)
	default:
		fmt.Fprintf(w, "Status:    %s\n", s.Status)
	}
	if len(s.Route) > 0 {
		fmt.Fprintf(w, "Route:     %s\n", strings.Join(s.Route, " -> "))
	}
	fmt.Fprintf(w, "Progress:  %.1f%% (%d passed, %d failed)\n", s.Progress, len(s.Completed), len(s.Failed))
	if s.HaltedAt != "" {
		reason := s.Reason
		if reason == "" {
			reason = "changes requested"
		}
		fmt.Fprintf(w, "Halted at: %s (%s)\n", s.HaltedAt, reason)
	}
	if s.LastResult != nil {
		for _, issue := range s.LastResult.Issues {
			fmt.Fprintf(w, "  [%s] %s\n", issue.Severity, issue.Note)
		}
	}
	fmt.Fprintf(w, "Audit:     %d records\n", len(s.AuditTrail))
}
