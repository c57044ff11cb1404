package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
)

// newRunCmd creates the 'run' subcommand: a single synchronous extraction.
func newRunCmd() *cobra.Command {
	var profileID, provider string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs one extraction for a profile and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if cerr := appInstance.Close(context.WithoutCancel(cmd.Context())); cerr != nil {
					zap.L().Warn("close failed", zap.Error(cerr))
				}
			}()

			// Interrupts cancel the run; the engine still finalizes and flushes.
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := appInstance.Extractor().RunExtraction(ctx, profileID, provider)
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if res.Status == crawler.RunFailed {
				return fmt.Errorf("extraction failed for %s", profileID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&profileID, "profile", "", "profile ID to extract")
	cmd.Flags().StringVar(&provider, "provider", "", "provider tag (defaults to crawler.provider)")
	_ = cmd.MarkFlagRequired("profile")
	return cmd
}
