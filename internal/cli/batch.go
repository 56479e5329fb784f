package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unburden/solvency/internal/worker"
)

var (
	outputFile   string
	batchTimeout time.Duration
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <requests.jsonl>",
	Short: "Submit many requests from a file in parallel",
	Long: `Batch submits requests concurrently:
- Read requests from a JSON lines file (one request per line, # comments allowed)
- Route and run each request on a bounded worker pool
- Print one summary line per request
- Optionally write every submission to a JSON file

Example:
  solvency batch requests.jsonl
  solvency batch requests.jsonl --concurrency 10 --output results.json
  solvency batch requests.jsonl --timeout 5m`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().Int("concurrency", 0, "number of concurrent workers (default: concurrency.workers)")
	batchCmd.Flags().StringVar(&outputFile, "output", "", "write submissions as JSON to this file")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "total timeout for batch processing")
	_ = viper.BindPFlag("concurrency.workers", batchCmd.Flags().Lookup("concurrency"))
}

// batchEntry is one line of the --output file
type batchEntry struct {
	RequestID  string `json:"request_id"`
	Outcome    string `json:"outcome,omitempty"`
	Error      string `json:"error,omitempty"`
	Submission any    `json:"submission,omitempty"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	workers := a.Config.Concurrency.Workers
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Solvency Batch Processing\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Input file:   %s\n", file)
	fmt.Fprintf(os.Stderr, "  Workers:      %d\n", workers)
	fmt.Fprintf(os.Stderr, "  Timeout:      %v\n", batchTimeout)
	fmt.Fprintf(os.Stderr, "\n")

	processor := worker.NewBatchProcessor(a.Dispatcher, workers)
	processor.OnResult = func(r *worker.SubmitResult) {
		if r.Error != nil {
			fmt.Fprintf(os.Stderr, "✗ %s: %v\n", r.RequestID, r.Error)
			return
		}
		fmt.Fprintf(os.Stderr, "✓ %s: %s\n", r.RequestID, r.Submission.Outcome())
	}

	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	counts := make(map[string]int)
	failures := 0
	entries := make([]batchEntry, 0, len(results))
	for _, r := range results {
		entry := batchEntry{RequestID: r.RequestID}
		if r.Error != nil {
			failures++
			entry.Error = r.Error.Error()
		} else {
			entry.Outcome = r.Submission.Outcome()
			entry.Submission = r.Submission
			counts[entry.Outcome]++
		}
		entries = append(entries, entry)
	}

	if outputFile != "" {
		if err := writeBatchOutput(outputFile, entries); err != nil {
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "  Batch Complete\n")
	fmt.Fprintf(os.Stderr, "═══════════════════════════════════════════════════════════\n")
	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:       %d requests\n", len(results))
	for _, outcome := range []string{"accepted", "revise", "needs_info", "blocked", "cancelled"} {
		if counts[outcome] > 0 {
			fmt.Fprintf(os.Stderr, "  %-12s %d\n", outcome+":", counts[outcome])
		}
	}
	fmt.Fprintf(os.Stderr, "  Failures:    %d\n", failures)
	if outputFile != "" {
		fmt.Fprintf(os.Stderr, "  Output:      %s\n", outputFile)
	}
	fmt.Fprintf(os.Stderr, "\n")

	return nil
}

func writeBatchOutput(path string, entries []batchEntry) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	if err := writeJSON(f, entries); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return nil
}
