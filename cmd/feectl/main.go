package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"feeindex/internal/bootstrap"
	"feeindex/internal/config"
	"feeindex/internal/infrastructure/logging"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

var (
	actionFlag string
	rootCmd    = &cobra.Command{
		Use:   "feectl",
		Short: "Query and maintain the pool fee index",
		Long: `feectl prices pool transactions in the quote currency using the same
cache, explorer, node and price collaborators as the API, configured
from the environment.`,
		SilenceUsage: true,
	}
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&actionFlag, "action", "a", "", "explorer action: tokentx, txlist or txlistinternal")
}

// withApp loads configuration, builds the components and hands them to run.
// Logs go to stderr so stdout stays machine readable.
func withApp(cmd *cobra.Command, run func(ctx context.Context, app *bootstrap.App) error) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	if _, err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cmd.ErrOrStderr(),
	}); err != nil {
		return err
	}
	app, err := bootstrap.Build(cfg, nil)
	if err != nil {
		return err
	}
	defer app.Close()
	return run(cmd.Context(), app)
}

func printJSON(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
