package checkpoint

import (
	"context"
	"errors"
	"strings"

	"github.com/sudocode-ai/sudocode/internal/gitx"
)

// ConflictKind classifies a conflicting file.
type ConflictKind string

// Conflict kind constants
const (
	// ConflictAutoResolvable marks platform JSONL files whose hunks
	// resolve by updated_at comparison.
	ConflictAutoResolvable ConflictKind = "auto_resolvable"
	// ConflictCode marks everything else; a human has to look.
	ConflictCode ConflictKind = "code"
)

// FileConflict is one conflicting path from a dry-run merge.
type FileConflict struct {
	Path string       `json:"path"`
	Kind ConflictKind `json:"kind"`
}

// ConflictReport summarizes a dry-run three-way merge between two
// branches.
type ConflictReport struct {
	Clean     bool           `json:"clean"`
	Conflicts []FileConflict `json:"conflicts,omitempty"`
}

// AutoResolvable reports whether every conflict is in platform JSONL.
func (r *ConflictReport) AutoResolvable() bool {
	if r.Clean {
		return true
	}
	for _, c := range r.Conflicts {
		if c.Kind != ConflictAutoResolvable {
			return false
		}
	}
	return true
}

// DetectConflicts runs a three-way merge of source into target entirely
// in the object database (merge-tree), leaving the working tree alone,
// and classifies any conflicting files.
func DetectConflicts(ctx context.Context, repo, source, target string) (*ConflictReport, error) {
	out, err := gitx.Output(ctx, repo, "merge-tree", "--write-tree", "--name-only", target, source)
	if err != nil {
		// Exit code 1 means the merge has conflicts; the listing is
		// still on stdout. Anything else is a real failure.
		var ge *gitx.GitError
		if !errors.As(err, &ge) || ge.ExitCode() != 1 {
			return nil, err
		}
		out = ge.Stdout
	} else {
		return &ConflictReport{Clean: true}, nil
	}

	report := &ConflictReport{}
	lines := strings.Split(out, "\n")
	// Line 0 is the result tree OID; conflicted paths follow until the
	// blank line that starts the informational section.
	for _, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			break
		}
		report.Conflicts = append(report.Conflicts, FileConflict{
			Path: line,
			Kind: classifyConflict(line),
		})
	}
	report.Clean = len(report.Conflicts) == 0
	return report, nil
}

func classifyConflict(path string) ConflictKind {
	if strings.HasPrefix(path, ".sudocode/") && strings.HasSuffix(path, ".jsonl") {
		return ConflictAutoResolvable
	}
	return ConflictCode
}
