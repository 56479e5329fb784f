package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/unburden/solvency/internal/model"
)

var auditRoute bool

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit <artifact-id>",
	Short: "Print the audit trail of an artifact",
	Long: `Audit prints every record appended for an artifact, oldest first.

Routing decisions are kept under their own artifact id; pass --route to
see them instead of the gate records.

Example:
  solvency audit pet-1
  solvency audit pet-1 --route`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		id := args[0]
		if auditRoute {
			id = model.RouteArtifactID(id)
		}
		records, err := a.Audit.QueryByArtifact(context.Background(), id)
		if err != nil {
			return fmt.Errorf("query audit: %w", err)
		}
		if len(records) == 0 {
			fmt.Fprintf(os.Stderr, "No audit records for %s\n", id)
			records = []model.AuditRecord{}
		}
		return writeJSON(cmd.OutOrStdout(), records)
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().BoolVar(&auditRoute, "route", false, "show routing decisions instead of gate records")
}
