// Package cmd defines and implements the CLI commands for the scholar-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/scholar-crawler/internal/config"
	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	"github.com/JakeFAU/scholar-crawler/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// Extractor runs one synchronous extraction.
type Extractor interface {
	RunExtraction(ctx context.Context, profileID, providerTag string) crawler.RunResult
}

// App is the slice of the application the commands use. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	Extractor() Extractor
	Close(ctx context.Context) error
}

type serverApp struct {
	*server.App
}

func (a serverApp) Extractor() Extractor {
	return a.Service()
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "scholar-crawler",
		Short: "Extracts publication records for research profiles.",
		Long: `scholar-crawler pages through an author's search results on a
scholarly search engine, parses every record, and stores the
deduplicated results together with a raw-page archive.`,
		SilenceUsage: true,

		// Runs after flags are parsed and before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newRunCmd(), newServeCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point. Cobra prints the error itself.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
