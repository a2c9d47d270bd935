package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudocode-ai/sudocode/internal/checkpoint"
	"github.com/sudocode-ai/sudocode/internal/gitx"
	"github.com/sudocode-ai/sudocode/internal/types"
)

var mergeTargetBranch string

var mergeQueueCmd = &cobra.Command{
	Use:   "merge-queue",
	Short: "Inspect and process the merge queue",
}

var mergeQueueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries for the target branch",
	Args:  cobra.NoArgs,
	RunE:  runMergeQueueList,
}

var mergeQueueProcessCmd = &cobra.Command{
	Use:   "process",
	Short: "Merge the next pending entry into the target branch",
	Args:  cobra.NoArgs,
	RunE:  runMergeQueueProcess,
}

var mergeProcessAll bool

func init() {
	mergeQueueCmd.PersistentFlags().StringVar(&mergeTargetBranch, "target", "",
		"target branch (defaults to git.target_branch from config)")
	mergeQueueProcessCmd.Flags().BoolVar(&mergeProcessAll, "all", false,
		"drain the queue instead of processing one entry")
	mergeQueueCmd.AddCommand(mergeQueueListCmd, mergeQueueProcessCmd)
	rootCmd.AddCommand(mergeQueueCmd)
}

func targetBranch(a *app) string {
	if mergeTargetBranch != "" {
		return mergeTargetBranch
	}
	return a.cfg.Git.TargetBranch
}

func runMergeQueueList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	target := targetBranch(a)
	entries, err := a.store.ListMergeQueue(ctx, target)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("merge queue for %s is empty\n", target)
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%2d  %-8s  exec %s  stream %s", e.Position, e.Status, e.ExecutionID, e.StreamID)
		if e.Error != nil {
			line += "  error: " + *e.Error
		}
		fmt.Println(line)
	}
	return nil
}

func runMergeQueueProcess(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	wt := gitx.NewWorktreeManager(a.cfg.RepoRoot(a.baseDir), a.log)
	proc := checkpoint.NewQueueProcessor(a.store, wt, a.bus, a.log)
	target := targetBranch(a)

	if mergeProcessAll {
		entries, err := proc.ProcessAll(ctx, target)
		if err != nil {
			return err
		}
		for _, e := range entries {
			printMergeOutcome(e)
		}
		fmt.Printf("processed %d entr(ies)\n", len(entries))
		return nil
	}

	entry, err := proc.ProcessNext(ctx, target)
	if errors.Is(err, checkpoint.ErrQueueEmpty) {
		fmt.Printf("merge queue for %s is empty\n", target)
		return nil
	}
	if err != nil {
		return err
	}
	printMergeOutcome(entry)
	if entry.Status == types.MergeFailed {
		return fmt.Errorf("merge entry %s failed", entry.ID)
	}
	return nil
}

func printMergeOutcome(e *types.MergeQueueEntry) {
	switch e.Status {
	case types.MergeMerged:
		commit := ""
		if e.MergeCommit != nil {
			commit = " at " + (*e.MergeCommit)[:min(12, len(*e.MergeCommit))]
		}
		fmt.Printf("merged stream %s into %s%s\n", e.StreamID, e.TargetBranch, commit)
	case types.MergeFailed:
		reason := "unknown"
		if e.Error != nil {
			reason = *e.Error
		}
		fmt.Printf("failed to merge stream %s into %s: %s\n", e.StreamID, e.TargetBranch, reason)
	default:
		fmt.Printf("entry %s is %s\n", e.ID, e.Status)
	}
}
