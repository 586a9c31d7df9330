package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jfaulkner/pinharvest/internal/merge"
)

// newMergeCmd creates the 'merge' subcommand.
func newMergeCmd() *cobra.Command {
	var (
		into   string
		from   string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "merge --into <primary output dir> --from <donor output dir>",
		Short: "Merge one output tree into another",
		Long: `Copies pins from every keyword partition under --from into the
matching partition under --into, creating partitions that do not exist.
On conflicting pin IDs the --into copy is kept.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, logger, err := buildLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			stats, err := merge.New(into, from, dryRun, logger).Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("keywords:  %d\n", stats.Keywords)
			fmt.Printf("processed: %d\n", stats.Processed)
			fmt.Printf("merged:    %d\n", stats.Merged)
			fmt.Printf("skipped:   %d\n", stats.Skipped)
			if len(stats.Errors) > 0 {
				fmt.Printf("errors:    %d\n", len(stats.Errors))
				for _, e := range stats.Errors {
					fmt.Println("  -", e)
				}
				return fmt.Errorf("merge finished with %d errors", len(stats.Errors))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&into, "into", "", "primary output directory (kept on conflict)")
	cmd.Flags().StringVar(&from, "from", "", "donor output directory (read-only)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing")
	_ = cmd.MarkFlagRequired("into")
	_ = cmd.MarkFlagRequired("from")

	return cmd
}
