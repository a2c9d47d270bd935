package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudocode-ai/sudocode/internal/checkpoint"
	"github.com/sudocode-ai/sudocode/internal/gitx"
)

var (
	checkpointMessage  string
	checkpointEnqueue  bool
	checkpointPriority int
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint <execution-id>",
	Short: "Land an execution's commits on its issue stream and record a checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpoint,
}

func init() {
	checkpointCmd.Flags().StringVarP(&checkpointMessage, "message", "m", "", "checkpoint message")
	checkpointCmd.Flags().BoolVar(&checkpointEnqueue, "enqueue", false, "add the stream to the merge queue")
	checkpointCmd.Flags().IntVar(&checkpointPriority, "priority", 0, "merge queue priority")
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpoint(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	wt := gitx.NewWorktreeManager(a.cfg.RepoRoot(a.baseDir), a.log)
	creator := checkpoint.NewCreator(a.store, wt, a.bus, a.log)

	cp, err := creator.Create(ctx, checkpoint.CreateOptions{
		ExecutionID: args[0],
		Message:     checkpointMessage,
		Enqueue:     checkpointEnqueue,
		Priority:    checkpointPriority,
	})
	if err != nil {
		return err
	}

	fmt.Printf("checkpoint %s on stream %s at %s (%d file(s), +%d -%d)\n",
		cp.ID, cp.StreamID, cp.CommitSHA[:min(12, len(cp.CommitSHA))],
		cp.ChangedFiles, cp.Additions, cp.Deletions)
	if checkpointEnqueue {
		fmt.Println("merge enqueued")
	}
	return nil
}
