package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/markdown-crawler/internal/crawler"
)

// newCrawlCmd creates and configures the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a site into markdown files",
		Long: `Crawls from --url up to --depth link hops, saving every in-scope page as
markdown under --output. Use --confluence for Confluence wikis. The
--username/--password pair is sent as HTTP basic auth to the root host;
Confluence API and session credentials come from the CONFLUENCE_EMAIL,
CONFLUENCE_API_TOKEN and CONFLUENCE_SESSION_COOKIE environment variables.

Page failures are reported in the summary and do not change the exit status.`,
		Annotations: map[string]string{annotationCrawl: "true"},
		RunE:        runCrawlCommand,
	}

	f := cmd.Flags()
	f.String("url", "", "root URL to start crawling from")
	f.StringP("output", "o", "./scraped_content", "output directory")
	f.IntP("depth", "d", 1, "maximum link depth (0 crawls only the root)")
	f.Int("timeout", 30, "per-request timeout in seconds")
	f.String("username", "", "username for HTTP basic auth or Confluence")
	f.String("password", "", "password for HTTP basic auth on the root host (Confluence API tokens come from CONFLUENCE_API_TOKEN)")
	f.Bool("confluence", false, "treat the site as a Confluence wiki")
	f.String("space", "", "Confluence space key")
	f.String("page-id", "", "Confluence page ID to start from")
	f.Bool("force", false, "overwrite existing files instead of adding a suffix")
	f.Int("concurrency", 4, "number of pages fetched in parallel")
	f.String("scope", "domain", "link scope: domain or subpath")
	f.Int("max-pages", 0, "stop after this many pages (0 means unlimited)")
	f.String("metrics", "", "serve /metrics and /healthz on this address during the crawl")
	f.Bool("json", false, "print the summary as JSON")

	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	defer closeApp(appInstance)

	summary, err := appInstance.Crawl(cmd.Context())
	if err != nil {
		return err
	}

	appInstance.Logger().Info("crawl finished",
		zap.String("run_id", summary.RunID),
		zap.Int("saved", summary.Saved),
		zap.Int("failed", summary.Failed),
		zap.Bool("interrupted", summary.Interrupted),
		zap.Duration("elapsed", summary.Duration()),
	)

	asJSON, _ := cmd.Flags().GetBool("json")
	if asJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
	return printSummary(cmd.OutOrStdout(), summary)
}

func printSummary(w io.Writer, s crawler.CrawlSummary) error {
	status := "completed"
	if s.Interrupted {
		status = "interrupted"
	}
	lines := []string{
		fmt.Sprintf("Crawl %s: run %s (%s)", status, s.RunID, s.Duration().Round(time.Millisecond)),
		fmt.Sprintf("  root:         %s", s.RootURL),
		fmt.Sprintf("  visited:      %d", s.Visited),
		fmt.Sprintf("  saved:        %d", s.Saved),
		fmt.Sprintf("  failed:       %d", s.Failed),
		fmt.Sprintf("  duplicates:   %d", s.Duplicates),
		fmt.Sprintf("  out of scope: %d", s.SkippedOutOfScope),
		fmt.Sprintf("  robots:       %d", s.SkippedRobots),
	}
	if s.Abandoned > 0 {
		lines = append(lines, fmt.Sprintf("  abandoned:    %d", s.Abandoned))
	}
	if s.Unvisited > 0 {
		lines = append(lines, fmt.Sprintf("  not visited:  %d (page budget reached)", s.Unvisited))
	}
	if len(s.OutOfScope) > 0 {
		lines = append(lines, "", "Links outside the crawl scope:")
		for _, u := range s.OutOfScope {
			lines = append(lines, "  "+u)
		}
	}
	if len(s.Failures) > 0 {
		lines = append(lines, "", "Failed pages:")
		for _, f := range s.Failures {
			lines = append(lines, fmt.Sprintf("  %s [%s] %s", f.URL, f.Kind, f.Message))
		}
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
