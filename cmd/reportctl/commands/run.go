package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garyjia/report-dispatch/internal/config"
	"github.com/garyjia/report-dispatch/internal/container"
	"github.com/garyjia/report-dispatch/internal/models"
)

var runDryRun bool

var runCmd = &cobra.Command{
	Use:   "run <roster>",
	Short: "Run the pipeline for one roster and print per-student outcomes",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoster,
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "build everything but only log deliveries")
	rootCmd.AddCommand(runCmd)
}

func runRoster(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []config.LoadOption
	if runDryRun {
		opts = append(opts, config.WithOverride("dispatch.dry_run", true))
	}
	cfg, err := loadConfig(opts...)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	path := args[0]
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	app, err := container.NewContainer(cfg.ToContainerConfig(), logger)
	if err != nil {
		return err
	}
	if err := app.Start(ctx); err != nil {
		return err
	}
	defer app.Close()

	result, runErr := app.Orchestrator().Run(ctx, filepath.Base(path), f)
	if result != nil {
		printResult(cmd.OutOrStdout(), result)
	}
	if runErr != nil {
		logger.Error("Run failed", zap.Error(runErr))
		return runErr
	}
	return nil
}

func printResult(out io.Writer, result *models.RunResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tUSN\tOUTCOME\tATTEMPTS\tDETAIL")
	for _, rec := range result.Records {
		detail := rec.Outcome.Reason
		if detail == "" {
			detail = rec.BuildError
		}
		if detail == "" {
			detail = rec.Outcome.MessageID
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", rec.Row, rec.USN, rec.Outcome.Status, rec.Outcome.Attempts, detail)
	}
	tw.Flush()

	s := result.Summary()
	fmt.Fprintf(out, "\nrun %s %s: %d records, %d sent, %d skipped, %d failed, %d build failures\n",
		result.RunID, result.State, s.Total, s.Sent, s.Skipped, s.Failed, s.BuildFailures)
}
