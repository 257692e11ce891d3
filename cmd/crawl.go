package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/camara-crawler/internal/crawler"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl in the
// foreground and prints the final status as JSON.
func newCrawlCmd() *cobra.Command {
	valid := make([]string, 0, len(crawler.Resources()))
	for _, r := range crawler.Resources() {
		valid = append(valid, string(r))
	}
	return &cobra.Command{
		Use:       "crawl <resource>",
		Short:     "Runs one crawl of deputies, propositions, or votes",
		Long:      `Runs a single incremental crawl of the given resource and exits when the listing is exhausted. Ctrl-C stops at the next record boundary.`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: valid,
		RunE:      withApp(runCrawlCommand),
	}
}

func runCrawlCommand(cmd *cobra.Command, appInstance App, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := appInstance.Logger()
	status, err := appInstance.Crawl(ctx, args[0])
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run crawler: %w", err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	logger.Info("crawl command finished",
		zap.String("resource", args[0]),
		zap.Int64("processed", status.Processed),
		zap.Int64("skipped", status.Skipped),
		zap.Int64("failed", status.Failed),
	)
	return nil
}
