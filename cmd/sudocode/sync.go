package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sudocode-ai/sudocode/internal/jsonl"
	"github.com/sudocode-ai/sudocode/internal/syncer"
)

var importLenient bool

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Apply the JSONL snapshots to the store",
	Args:  cobra.NoArgs,
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the store back out to the JSONL snapshots",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Bring the markdown tree and JSONL snapshots up to date with the store",
	Args:  cobra.NoArgs,
	RunE:  runSync,
}

func init() {
	importCmd.Flags().BoolVar(&importLenient, "lenient", false,
		"skip unparseable JSONL lines instead of failing")
	rootCmd.AddCommand(importCmd, exportCmd, syncCmd)
}

func runImport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	specs, specErrs, err := jsonl.ReadSpecs(a.specsJSONL(), importLenient)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	issues, issueErrs, err := jsonl.ReadIssues(a.issuesJSONL(), importLenient)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	for _, le := range append(specErrs, issueErrs...) {
		fmt.Fprintf(os.Stderr, "skipped line %d: %v\n", le.Line, le.Err)
	}

	importer := syncer.NewImporter(a.store, a.log)
	result, err := importer.Import(ctx, specs, issues, nil)
	if err != nil {
		return err
	}

	if len(result.Collisions) > 0 {
		a.meta.RecordCollisions(result.Collisions)
		if err := a.meta.Save(a.baseDir); err != nil {
			return err
		}
	}

	fmt.Printf("specs: %d created, %d updated; issues: %d created, %d updated\n",
		result.SpecsCreated, result.SpecsUpdated, result.IssuesCreated, result.IssuesUpdated)
	for _, c := range result.Collisions {
		fmt.Printf("renumbered %s -> %s (%s)\n", c.ID, c.NewID, c.Reason)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", w.Code, w.Message)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	exporter := syncer.NewExporter(a.store, a.log)
	specsWritten, err := exporter.ExportSpecs(ctx, a.specsJSONL())
	if err != nil {
		return err
	}
	issuesWritten, err := exporter.ExportIssues(ctx, a.issuesJSONL())
	if err != nil {
		return err
	}

	fmt.Printf("specs.jsonl: %s; issues.jsonl: %s\n",
		writtenLabel(specsWritten), writtenLabel(issuesWritten))
	return nil
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	md := syncer.NewMarkdownSync(a.store, a.baseDir, a.log)
	if err := md.WriteAll(ctx); err != nil {
		return err
	}
	orphans, err := md.SweepOrphans(ctx)
	if err != nil {
		return err
	}

	exporter := syncer.NewExporter(a.store, a.log)
	if _, err := exporter.ExportSpecs(ctx, a.specsJSONL()); err != nil {
		return err
	}
	if _, err := exporter.ExportIssues(ctx, a.issuesJSONL()); err != nil {
		return err
	}

	fmt.Printf("markdown tree written, %d orphan file(s) removed, snapshots exported\n", orphans)
	return nil
}

func writtenLabel(written bool) string {
	if written {
		return "written"
	}
	return "unchanged"
}
