package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/garyjia/report-dispatch/internal/container"
	"github.com/garyjia/report-dispatch/internal/dispatch"
	"github.com/garyjia/report-dispatch/internal/models"
)

var sendTestCaption string

var sendTestCmd = &cobra.Command{
	Use:   "send-test <address> <image>",
	Short: "Send one image to verify channel credentials",
	Long: `send-test delivers a single image through the configured channel, using the
same address normalization and retry policy as a run. Use it to check Lark
credentials and recipient lookup before a real run.`,
	Args: cobra.ExactArgs(2),
	RunE: runSendTest,
}

func init() {
	sendTestCmd.Flags().StringVar(&sendTestCaption, "caption", "", "caption text (defaults to dispatch.caption)")
	rootCmd.AddCommand(sendTestCmd)
}

func runSendTest(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cc := cfg.ToContainerConfig()
	messenger, err := container.ProvideMessenger(cc, logger)
	if err != nil {
		return err
	}
	// a single send has no successor to protect, so do not sit out the pause
	dispatcher := container.ProvideDispatcher(&cc.Dispatch, messenger, cc.Pipeline.DispatchTimeout, logger,
		dispatch.WithPacingOnEntry())

	caption := sendTestCaption
	if caption == "" {
		caption = cc.Dispatch.Caption
	}

	outcome := dispatcher.Dispatch(ctx, args[0], args[1], caption)
	fmt.Fprintf(cmd.OutOrStdout(), "%s attempts=%d", outcome, outcome.Attempts)
	if outcome.MessageID != "" {
		fmt.Fprintf(cmd.OutOrStdout(), " message_id=%s", outcome.MessageID)
	}
	fmt.Fprintln(cmd.OutOrStdout())

	if outcome.Status != models.DeliverySent {
		return fmt.Errorf("test delivery failed: %s", outcome.Reason)
	}
	return nil
}
