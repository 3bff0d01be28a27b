package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
)

// crawlOutput is what the crawl command prints.
type crawlOutput struct {
	JobID      string   `json:"jobId"`
	TrackerID  string   `json:"trackerId"`
	Links      []string `json:"links"`
	Successful int      `json:"successful"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Archive    string   `json:"archive,omitempty"`
	ArchiveURI string   `json:"archiveUri,omitempty"`
	Duration   string   `json:"duration"`
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl without
// the HTTP service and prints the result as JSON.
func newCrawlCmd(v *viper.Viper) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawls one seed URL and writes its archive",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), seedArg),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "abort the crawl after this long (0 means no limit)")
	cmd.Flags().Int("batch-size", 0, "links fetched concurrently per batch (overrides crawler.batch_size)")
	mustBind(v, "crawler.batch_size", cmd.Flags().Lookup("batch-size"))
	return cmd
}

func seedArg(_ *cobra.Command, args []string) error {
	if !crawler.IsHTTPURL(args[0]) {
		return fmt.Errorf("%q is not an absolute http(s) URL", args[0])
	}
	return nil
}

func runCrawl(cmd *cobra.Command, seedURL string, timeout time.Duration) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)

	ctx := cmd.Context()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res, err := appInstance.Crawl(ctx, seedURL)
	if err != nil {
		return err
	}
	appInstance.Logger().Info("crawl command finished", zap.String("job_id", res.JobID))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(crawlOutput{
		JobID:      res.JobID,
		TrackerID:  res.TrackerKey,
		Links:      res.Links,
		Successful: res.Counts.Successful,
		Skipped:    res.Counts.Skipped,
		Failed:     res.Counts.Failed,
		Archive:    res.Archive.Path,
		ArchiveURI: res.Archive.URI,
		Duration:   res.Finished.Sub(res.Started).String(),
	}); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
