// Package cmd defines the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/config"
	"github.com/JakeFAU/ed-forum-harvester/internal/logging"
	"github.com/JakeFAU/ed-forum-harvester/internal/telemetry"
)

type collectOptions struct {
	host      string
	token     string
	outputDir string
	opsAddr   string
}

// newCollectCmd creates the 'collect' subcommand, which performs one harvest
// and prints its summary as JSON.
func newCollectCmd(root *rootOptions) *cobra.Command {
	opts := &collectOptions{}
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Harvest every course into one corpus document",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "forum API base URL (overrides api.host)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token (overrides api.token; prefer HARVESTER_API_TOKEN)")
	cmd.Flags().StringVar(&opts.outputDir, "output-dir", "", "local output directory (overrides output.base_dir)")
	cmd.Flags().StringVar(&opts.opsAddr, "ops-addr", "", "serve health and metrics on this address during the run")
	return cmd
}

func (o *collectOptions) overrides() map[string]any {
	out := map[string]any{}
	if o.host != "" {
		out["api.host"] = o.host
	}
	if o.token != "" {
		out["api.token"] = o.token
	}
	if o.outputDir != "" {
		out["output.base_dir"] = o.outputDir
	}
	if o.opsAddr != "" {
		out["ops.addr"] = o.opsAddr
	}
	return out
}

func runCollect(cmd *cobra.Command, root *rootOptions, opts *collectOptions) (err error) {
	cfg, err := config.Load(config.Options{
		Path:      root.configFile,
		EnvFile:   root.envFile,
		Overrides: opts.overrides(),
	})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, telemetry.Config{Version: version})
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	defer func() {
		if serr := shutdownTracing(context.WithoutCancel(ctx)); serr != nil {
			logger.Warn("tracer shutdown failed", zap.Error(serr))
		}
	}()

	harvester, err := newRunner(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize harvester: %w", err)
	}
	defer func() {
		if cerr := harvester.Close(); cerr != nil {
			logger.Warn("close harvester", zap.Error(cerr))
		}
	}()

	summary, runErr := harvester.Run(ctx)
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	if runErr != nil {
		return fmt.Errorf("harvest %s: %w", summary.RunID, runErr)
	}
	return nil
}
