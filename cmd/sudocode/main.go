// sudocode is the command-line entry point for the local developer
// platform: an embedded entity store kept in sync with JSONL snapshots
// and a Markdown tree, plus an execution engine that runs coding agents
// in git worktrees and lands their results through a merge queue.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	baseDirFlag string

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:           "sudocode",
	Short:         "Local platform for spec/issue tracking and agent execution",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&baseDirFlag, "dir", "d", ".sudocode",
		"base directory holding the store, JSONL snapshots and markdown tree")
}

func main() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer rootCancel()

	if err := rootCmd.ExecuteContext(rootCtx); err != nil {
		fmt.Fprintf(os.Stderr, "sudocode: %v\n", err)
		os.Exit(1)
	}
}
