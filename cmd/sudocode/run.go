package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/sudocode-ai/sudocode/internal/agent"
	"github.com/sudocode-ai/sudocode/internal/engine"
	"github.com/sudocode-ai/sudocode/internal/gitx"
	"github.com/sudocode-ai/sudocode/internal/types"
)

var (
	runPrompt   string
	runPriority int
)

var runCmd = &cobra.Command{
	Use:   "run <issue-id>",
	Short: "Run an agent against an issue in a dedicated git worktree",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func init() {
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "override the prompt built from the issue")
	runCmd.Flags().IntVar(&runPriority, "priority", 0, "task priority (0 is highest)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	issue, err := a.store.GetIssue(ctx, args[0])
	if err != nil {
		return fmt.Errorf("issue %s: %w", args[0], err)
	}

	wt := gitx.NewWorktreeManager(a.cfg.RepoRoot(a.baseDir), a.log)
	if !wt.IsValidRepo(ctx) {
		return fmt.Errorf("%s is not a git repository (set git.repo in config.json)", wt.Repo())
	}

	execID := uuid.NewString()
	branch := "sudocode/exec/" + execID[:8]
	wtPath := gitx.ExecutionWorktreePath(a.baseDir, execID)
	if err := wt.Add(ctx, wtPath, branch, false); err != nil {
		return err
	}
	before, err := gitx.CurrentCommit(ctx, wtPath)
	if err != nil {
		return err
	}

	started := time.Now().UTC()
	exec := &types.Execution{
		ID:           execID,
		IssueUUID:    issue.UUID,
		AgentType:    agentType(a.cfg.Agent.Command),
		Status:       types.ExecRunning,
		TargetBranch: a.cfg.Git.TargetBranch,
		BranchName:   branch,
		WorktreePath: wtPath,
		BeforeCommit: before,
		StartedAt:    &started,
	}
	if err := a.store.CreateExecution(ctx, exec); err != nil {
		return err
	}

	procs := agent.NewManager(a.log)
	eng := engine.New(procs, a.bus, a.cfg.Engine.MaxConcurrent, a.log)

	prompt := runPrompt
	if prompt == "" {
		prompt = issuePrompt(issue)
	}
	task := &engine.Task{
		ID:       execID,
		Kind:     engine.TaskIssue,
		EntityID: issue.ID,
		Prompt:   prompt,
		WorkDir:  wtPath,
		Command:  a.cfg.Agent.Command,
		Priority: runPriority,
		Config: engine.TaskConfig{
			Timeout:    a.cfg.AgentTimeout(),
			MaxRetries: a.cfg.Engine.MaxRetries,
		},
	}
	if err := eng.Submit(task); err != nil {
		return err
	}

	result, err := eng.Await(ctx, execID)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = eng.Shutdown(shutdownCtx)
	procs.Shutdown()
	if err != nil {
		return err
	}

	after, err := gitx.CurrentCommit(ctx, wtPath)
	if err != nil {
		return err
	}
	status := types.ExecCompleted
	if !result.Success {
		status = types.ExecFailed
	}
	completed := result.CompletedAt.UTC()
	if _, err := a.store.UpdateExecution(ctx, execID, map[string]any{
		"status":       string(status),
		"after_commit": after,
		"completed_at": &completed,
	}); err != nil {
		return err
	}

	if result.Output != "" {
		fmt.Println(result.Output)
	}
	if !result.Success {
		return fmt.Errorf("execution %s failed after %d attempt(s): %s", execID, result.Attempts, result.Error)
	}
	fmt.Printf("execution %s completed in %s (%s)\n", execID, result.Duration.Round(time.Millisecond), wtPath)
	return nil
}

// agentType labels an execution with the binary it ran.
func agentType(command []string) string {
	if len(command) == 0 {
		return "unknown"
	}
	return command[0]
}

// issuePrompt builds the default agent prompt from the issue record.
func issuePrompt(issue *types.Issue) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Work on issue %s: %s", issue.ID, issue.Title)
	if issue.Content != "" {
		b.WriteString("\n\n")
		b.WriteString(issue.Content)
	}
	return b.String()
}
