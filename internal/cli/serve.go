package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/unburden/solvency/internal/rpc"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-RPC endpoint",
	Long: `Serve exposes the router on POST /rpc and a health check on GET /health.

Methods:
  route_intent   route a request, run nothing
  submit         route a request and run its gates
  query_audit    list audit records for {"artifact_id": ...}

Example:
  solvency serve --port 8780
  curl -s localhost:8780/rpc -d '{"method":"route_intent","params":{"intent":"debug"},"id":1}'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "listen host")
	serveCmd.Flags().Int("port", 0, "listen port")
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(cmd *cobra.Command, args []string) error {
	a, cleanup, err := openApp()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := rpc.New(a.Config.Server, a.Dispatcher, a.Audit,
		rpc.WithLogger(a.Logger),
		rpc.WithVersion(version),
	)
	fmt.Fprintf(os.Stderr, "solvency v%s listening on %s (state: %s)\n", version, srv.Addr(), a.Config.State.Dir)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	a.Logger.Info("server stopped", slog.String("addr", srv.Addr()))
	return nil
}
