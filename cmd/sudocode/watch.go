package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudocode-ai/sudocode/internal/syncer"
	"github.com/sudocode-ai/sudocode/internal/watcher"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the markdown tree and JSONL snapshots, syncing edits into the store",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	md := syncer.NewMarkdownSync(a.store, a.baseDir, a.log)
	rec := syncer.NewReconciler(syncer.NewImporter(a.store, a.log), a.log)
	w := watcher.New(a.baseDir, md, rec, a.bus, a.log)

	if err := w.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("watching %s (ctrl-c to stop)\n", a.baseDir)

	<-ctx.Done()
	return w.Close()
}
