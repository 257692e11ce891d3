// Package cmd defines and implements the CLI commands for the camara-crawler
// executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/config"
	"github.com/JakeFAU/camara-crawler/internal/crawler"
	"github.com/JakeFAU/camara-crawler/internal/logging"
	"github.com/JakeFAU/camara-crawler/internal/server"
)

const closeTimeout = 15 * time.Second

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands use. *server.App
// satisfies it; tests inject fakes.
type App interface {
	Run(ctx context.Context) error
	Crawl(ctx context.Context, resource string) (crawler.Status, error)
	Close(ctx context.Context) error
	Logger() *zap.Logger
}

// appFactory builds the application from the --config path.
type appFactory func(ctx context.Context, cfgPath string) (App, error)

func buildApp(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return app, nil
}

// newRootCmd creates the root command. The application is built after flag
// parsing and before the subcommand runs.
func newRootCmd(newApp appFactory) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "camara-crawler",
		Short: "Incremental ingestion of Câmara dos Deputados open data.",
		Long: `camara-crawler keeps a document store in sync with the Câmara dos
Deputados open data API. Deputies, propositions, and votes are crawled
page by page, and only records whose upstream change marker moved are
fetched in detail and written.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); CAMARA_* environment variables override it")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())

	return cmd
}

// withApp resolves the application for a subcommand and closes it when the
// subcommand returns, successful or not, so buffered progress is flushed.
func withApp(run func(cmd *cobra.Command, app App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		appInstance, err := resolveApp(cmd.Context())
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			if cerr := appInstance.Close(ctx); cerr != nil {
				err = errors.Join(err, fmt.Errorf("close application: %w", cerr))
			}
		}()
		return run(cmd, appInstance, args)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd(buildApp).ExecuteContext(context.Background()); err != nil {
		logger, lerr := logging.New(false)
		if lerr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
