package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize store contents and queue state",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	stats, err := a.store.Statistics(ctx)
	if err != nil {
		return err
	}
	queue, err := a.store.ListMergeQueue(ctx, a.cfg.Git.TargetBranch)
	if err != nil {
		return err
	}

	fmt.Printf("base dir: %s\n", a.baseDir)
	fmt.Printf("specs: %d (%d archived)\n", stats.TotalSpecs, stats.ArchivedSpecs)
	fmt.Printf("issues: %d (%d open, %d in progress, %d blocked, %d needs review, %d closed, %d archived)\n",
		stats.TotalIssues, stats.OpenIssues, stats.InProgressIssues, stats.BlockedIssues,
		stats.NeedsReview, stats.ClosedIssues, stats.ArchivedIssues)
	fmt.Printf("merge queue (%s): %d entr(ies)\n", a.cfg.Git.TargetBranch, len(queue))
	if len(a.meta.CollisionLog) > 0 {
		fmt.Printf("id collisions recorded: %d\n", len(a.meta.CollisionLog))
	}
	return nil
}
