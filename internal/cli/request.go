package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/unburden/solvency/internal/model"
)

var requestTimeout time.Duration

// routeCmd represents the route command
var routeCmd = &cobra.Command{
	Use:   "route <request.json>",
	Short: "Route a request without running its gates",
	Long: `Route validates a request and prints the routing decision: the gates it
would pass through, or the one question that blocks it.

Use "-" to read the request from stdin.

Example:
  solvency route petition.json
  echo '{"intent":"debug"}' | solvency route -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readRequest(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		decision, err := a.Dispatcher.Route(ctx, req)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), decision)
	},
}

// submitCmd represents the submit command
var submitCmd = &cobra.Command{
	Use:   "submit <request.json>",
	Short: "Route a request and run it through its gates",
	Long: `Submit routes a request and, when the route is accepted, runs every gate
in order. The combined decision and pipeline result are printed as JSON.

Resubmit with a higher "revision" after a revise verdict to resume from
the gate that asked for changes.

Example:
  solvency submit produce.json
  solvency submit - < petition.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readRequest(args[0], cmd.InOrStdin())
		if err != nil {
			return err
		}
		a, cleanup, err := openApp()
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		sub, err := a.Dispatcher.Submit(ctx, req)
		if err != nil {
			return err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "%s: %s\n", sub.Decision.RequestID, sub.Outcome())
		}
		return writeJSON(cmd.OutOrStdout(), sub)
	},
}

func init() {
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(submitCmd)

	for _, c := range []*cobra.Command{routeCmd, submitCmd} {
		c.Flags().DurationVar(&requestTimeout, "timeout", 2*time.Minute, "overall timeout")
	}
}

// readRequest decodes one request from path, or from stdin when path is "-"
func readRequest(path string, stdin io.Reader) (model.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return model.Request{}, fmt.Errorf("read request: %w", err)
	}

	var req model.Request
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return model.Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
