package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/ed-forum-harvester/internal/app"
	"github.com/JakeFAU/ed-forum-harvester/internal/config"
)

// version is overridden at build time with -ldflags.
var version = "dev"

type rootOptions struct {
	configFile string
	envFile    string
}

// runner is the slice of *app.App the commands use; tests swap in a fake.
type runner interface {
	Run(ctx context.Context) (app.RunSummary, error)
	Close() error
}

// newRunner is the application factory. It's a variable so tests can
// replace it.
var newRunner = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (runner, error) {
	return app.New(ctx, cfg, logger)
}

// newRootCmd creates and configures the root command.
func newRootCmd(stdout io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Harvests question/answer pairs from an Ed discussion forum.",
		Long: `harvester walks every course visible to a bearer token, pages through
each course's threads, fetches every thread's answers and writes the result
as a single JSON corpus keyed by course name.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with HARVESTER_* variables; ignored when missing")

	cmd.AddCommand(newCollectCmd(opts), newInspectCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "harvester:", err)
		os.Exit(1)
	}
}
