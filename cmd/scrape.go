package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jfaulkner/pinharvest/internal/api"
	"github.com/jfaulkner/pinharvest/internal/pin"
	"github.com/jfaulkner/pinharvest/internal/scraper"
)

// newScrapeCmd creates the 'scrape' subcommand.
func newScrapeCmd() *cobra.Command {
	var (
		count    int
		output   string
		proxy    string
		noImages bool
		headful  bool
		debug    bool
	)

	cmd := &cobra.Command{
		Use:   "scrape <keyword or search URL>",
		Short: "Collect records for a keyword and download their assets",
		Long: `Collects up to --count records for the keyword into
<output>/<keyword>/pinterest.db and, unless --no-images is given, downloads
the assets into <output>/<keyword>/images/. Interrupting the run is safe:
the next invocation resumes the same session.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("output") {
				cfg.Output.Dir = output
			}
			if cmd.Flags().Changed("proxy") {
				cfg.Browser.Proxy = proxy
			}
			if noImages {
				cfg.Output.DownloadImages = false
			}
			if headful {
				cfg.Browser.Headless = false
			}
			if debug {
				cfg.Debug.Enabled = true
			}

			ctx := cmd.Context()

			var (
				mu     sync.Mutex
				status = map[string]any{"state": "starting", "keyword": args[0], "started_at": time.Now().UTC()}
			)
			if cfg.Debug.Enabled {
				srv := api.NewServer(cfg.Debug.Port, func() any {
					mu.Lock()
					defer mu.Unlock()
					snapshot := make(map[string]any, len(status))
					for k, v := range status {
						snapshot[k] = v
					}
					return snapshot
				}, logger)
				go func() {
					if err := srv.Run(ctx); err != nil {
						logger.Warn("debug server stopped", zap.Error(err))
					}
				}()
			}

			mu.Lock()
			status["state"] = "running"
			mu.Unlock()

			s := scraper.New(cfg, logger)
			pins, report, err := s.Scrape(ctx, args[0], count)

			mu.Lock()
			status["state"] = runState(report.Status)
			mu.Unlock()

			switch {
			case err == nil:
			case errors.Is(err, context.Canceled):
				logger.Warn("run interrupted, progress saved",
					zap.String("keyword", report.Keyword),
					zap.String("session_id", report.SessionID))
				return nil
			default:
				return err
			}

			fmt.Printf("keyword:    %s\n", report.Keyword)
			fmt.Printf("session:    %s (resumed=%v)\n", report.SessionID, report.Resumed)
			fmt.Printf("added:      %d (duplicates %d)\n", report.Added, report.Duplicates)
			fmt.Printf("cached:     %d\n", report.TotalCached)
			fmt.Printf("returned:   %d\n", len(pins))
			if cfg.Output.DownloadImages {
				fmt.Printf("downloads:  %d ok, %d failed, %d already on disk\n",
					report.Downloads.Completed, report.Downloads.Failed, report.Schedule.AlreadyPresent)
			}
			fmt.Printf("elapsed:    %s\n", report.Elapsed.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().IntVarP(&count, "count", "n", 50, "number of records to collect")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output directory (overrides config)")
	cmd.Flags().StringVar(&proxy, "proxy", "", "proxy server for browser and downloads")
	cmd.Flags().BoolVar(&noImages, "no-images", false, "skip asset download")
	cmd.Flags().BoolVar(&headful, "headful", false, "run the browser with a visible window")
	cmd.Flags().BoolVar(&debug, "debug", false, "serve /healthz, /statusz and /metrics locally")

	return cmd
}

// runState maps the report status onto the /statusz snapshot. Runs that
// fail before a session exists have no status yet.
func runState(status pin.SessionStatus) string {
	if status == "" {
		return "error"
	}
	return string(status)
}
