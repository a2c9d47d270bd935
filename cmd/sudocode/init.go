package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sudocode-ai/sudocode/internal/config"
	"github.com/sudocode-ai/sudocode/internal/storage/sqlite"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the base directory layout and an empty store",
	Args:  cobra.NoArgs,
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, _ []string) error {
	baseDir, err := filepath.Abs(baseDirFlag)
	if err != nil {
		return err
	}

	for _, dir := range []string{baseDir, filepath.Join(baseDir, "specs"), filepath.Join(baseDir, "issues"), filepath.Join(baseDir, "worktrees")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	configPath := filepath.Join(baseDir, config.ConfigFileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		data, err := json.MarshalIndent(config.Default(), "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(configPath, append(data, '\n'), 0o644); err != nil {
			return err
		}
	}

	if _, err := os.Stat(config.MetaPath(baseDir)); os.IsNotExist(err) {
		if err := config.DefaultMeta().Save(baseDir); err != nil {
			return err
		}
	}

	for _, name := range []string{"specs.jsonl", "issues.jsonl"} {
		path := filepath.Join(baseDir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				return err
			}
		}
	}

	// Opening the store once creates the schema.
	store, err := sqlite.Open(cmd.Context(), filepath.Join(baseDir, dbFileName), nil)
	if err != nil {
		return fmt.Errorf("create store: %w", err)
	}
	if err := store.Close(); err != nil {
		return err
	}

	fmt.Printf("initialized %s\n", baseDir)
	return nil
}
