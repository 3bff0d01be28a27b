// Package cmd defines and implements the CLI commands for the scraper executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/config"
	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is the application surface the commands use. Tests inject a fake.
type App interface {
	Run(ctx context.Context) error
	Crawl(ctx context.Context, seedURL string) (crawler.Result, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates the root command. Flags bound to v override the config
// file and SCRAPER_* environment variables.
func newRootCmd() *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Collects the readable content of a page and every page it links to.",
		Long: `scraper fetches a seed URL, discovers the links on it, extracts readable
content for each link through a content extraction service, and bundles the
results into a zip archive of markdown files.`,
		SilenceUsage: true,

		// Builds the application once flags are parsed and before the
		// subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cfgFile != "" {
				v.SetConfigFile(cfgFile)
			}
			cfg, err := config.LoadFrom(v)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			appInstance, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("dev", false, "development logging")
	mustBind(v, "logging.level", cmd.PersistentFlags().Lookup("log-level"))
	mustBind(v, "logging.development", cmd.PersistentFlags().Lookup("dev"))

	cmd.AddCommand(newServeCmd(v))
	cmd.AddCommand(newCrawlCmd(v))
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// closeApp releases the application whether or not the command succeeded.
func closeApp(appInstance App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := appInstance.Close(ctx); err != nil {
		appInstance.Logger().Warn("application close failed", zap.Error(err))
	}
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
