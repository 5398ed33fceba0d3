// Package cmd defines and implements the CLI commands for the mdcrawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/app"
	"github.com/JakeFAU/markdown-crawler/internal/config"
	"github.com/JakeFAU/markdown-crawler/internal/crawler"
	"github.com/JakeFAU/markdown-crawler/internal/logging"
	"github.com/JakeFAU/markdown-crawler/internal/store"
)

const (
	closeTimeout = 15 * time.Second

	// annotationCrawl marks commands that need a crawl target.
	annotationCrawl = "mdcrawler/crawl"
	// annotationLedgerOnly marks commands that never build the engine.
	annotationLedgerOnly = "mdcrawler/ledger-only"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use.
// This allows a fake app to be injected during tests.
type App interface {
	Crawl(ctx context.Context) (crawler.CrawlSummary, error)
	Runs(ctx context.Context, limit, offset int) ([]store.Run, error)
	Serve(ctx context.Context) error
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace
// it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...app.Option) (App, error) {
	a, err := app.New(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mdcrawler",
		Short: "Crawl web pages and Confluence spaces into a tree of markdown files.",
		Long: `mdcrawler walks a site breadth-first from a root URL, extracts the main
content of every in-scope page and writes it as markdown under a directory
per host. Confluence wikis are read through their REST API when credentials
allow, falling back to the rendered page otherwise.`,
		SilenceUsage: true,

		// Config is loaded here so that the subcommand's flags are already
		// parsed and can override file and environment values.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Annotations[annotationCrawl] == "true" {
				if err := cfg.ValidateCrawl(); err != nil {
					return fmt.Errorf("invalid config: %w", err)
				}
			}

			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			var opts []app.Option
			if cmd.Annotations[annotationLedgerOnly] == "true" {
				opts = append(opts, app.LedgerOnly())
			}
			appInstance, err := newApp(cmd.Context(), cfg, logger, opts...)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point. SIGINT and SIGTERM cancel the running
// command, which lets a crawl stop cleanly and still report its summary.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		_ = zap.L().Sync()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// closeApp shuts the app down on a fresh context so that an interrupted
// command still flushes its progress events.
func closeApp(a App) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	a.Close(ctx)
	_ = a.Logger().Sync()
}
