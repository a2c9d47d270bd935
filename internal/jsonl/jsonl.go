// Package jsonl reads and writes the append-friendly JSONL snapshots
// (specs.jsonl, issues.jsonl). Files are UTF-8, one entity per line,
// trailing newline mandatory, sorted by created_at ascending with id
// as the tiebreaker so that git diffs stay minimal.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sudocode-ai/sudocode/internal/types"
)

// maxLineSize is the scanner buffer cap. Entities with large bodies
// can exceed bufio's 64 KiB default, so allow lines up to 8 MiB.
const maxLineSize = 8 << 20

// LineError reports a single malformed line. Each bad line is reported
// once, with its 1-based line number.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

// ReadSpecs parses a specs JSONL file. In lenient mode malformed lines
// are skipped and returned as LineErrors; otherwise the first bad line
// aborts the read.
func ReadSpecs(path string, lenient bool) ([]*types.Spec, []*LineError, error) {
	var specs []*types.Spec
	lineErrs, err := readLines(path, lenient, func(line []byte) error {
		var s types.Spec
		if err := json.Unmarshal(line, &s); err != nil {
			return err
		}
		specs = append(specs, &s)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return specs, lineErrs, nil
}

// ReadIssues parses an issues JSONL file. Issues get their defaults
// applied after unmarshal so omitted statuses round-trip as "open".
func ReadIssues(path string, lenient bool) ([]*types.Issue, []*LineError, error) {
	var issues []*types.Issue
	lineErrs, err := readLines(path, lenient, func(line []byte) error {
		var i types.Issue
		if err := json.Unmarshal(line, &i); err != nil {
			return err
		}
		i.SetDefaults()
		issues = append(issues, &i)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return issues, lineErrs, nil
}

// ParseSpecs parses specs JSONL from an in-memory byte slice, for
// content sourced from somewhere other than the live file (a git rev,
// a conflict hunk).
func ParseSpecs(data []byte, lenient bool) ([]*types.Spec, []*LineError, error) {
	var specs []*types.Spec
	lineErrs, err := scanLines(bytes.NewReader(data), "specs", lenient, func(line []byte) error {
		var s types.Spec
		if err := json.Unmarshal(line, &s); err != nil {
			return err
		}
		specs = append(specs, &s)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return specs, lineErrs, nil
}

// ParseIssues is ParseSpecs for issues, with defaults applied.
func ParseIssues(data []byte, lenient bool) ([]*types.Issue, []*LineError, error) {
	var issues []*types.Issue
	lineErrs, err := scanLines(bytes.NewReader(data), "issues", lenient, func(line []byte) error {
		var i types.Issue
		if err := json.Unmarshal(line, &i); err != nil {
			return err
		}
		i.SetDefaults()
		issues = append(issues, &i)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return issues, lineErrs, nil
}

func readLines(path string, lenient bool, parse func([]byte) error) ([]*LineError, error) {
	f, err := os.Open(path) // #nosec G304 -- path is a store-owned JSONL location
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return scanLines(f, filepath.Base(path), lenient, parse)
}

func scanLines(r io.Reader, name string, lenient bool, parse func([]byte) error) ([]*LineError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	var lineErrs []*LineError
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if err := parse(line); err != nil {
			if !lenient {
				return nil, fmt.Errorf("parse %s line %d: %w", name, lineNum, err)
			}
			lineErrs = append(lineErrs, &LineError{Line: lineNum, Err: err})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return lineErrs, nil
}

// WriteSpecs serializes specs to path. Returns true when the file was
// actually written; identical content short-circuits with no write and
// no mtime bump.
func WriteSpecs(path string, specs []*types.Spec) (bool, error) {
	types.SortSpecs(specs)
	lines := make([][]byte, 0, len(specs))
	var maxUpdated time.Time
	for _, s := range specs {
		data, err := json.Marshal(s)
		if err != nil {
			return false, fmt.Errorf("marshal spec %s: %w", s.ID, err)
		}
		lines = append(lines, data)
		if s.UpdatedAt.After(maxUpdated) {
			maxUpdated = s.UpdatedAt
		}
	}
	return writeLines(path, lines, maxUpdated)
}

// WriteIssues serializes issues to path with the same idempotence
// guarantees as WriteSpecs.
func WriteIssues(path string, issues []*types.Issue) (bool, error) {
	types.SortIssues(issues)
	lines := make([][]byte, 0, len(issues))
	var maxUpdated time.Time
	for _, i := range issues {
		data, err := json.Marshal(i)
		if err != nil {
			return false, fmt.Errorf("marshal issue %s: %w", i.ID, err)
		}
		lines = append(lines, data)
		if i.UpdatedAt.After(maxUpdated) {
			maxUpdated = i.UpdatedAt
		}
	}
	return writeLines(path, lines, maxUpdated)
}

// writeLines writes the assembled lines atomically: content comparison
// first (skip identical), then write to a .tmp sibling and rename over
// the target. The final mtime is forced to the max updated_at among
// the entities, converted to UTC, so file time tracks entity time
// rather than wall clock.
func writeLines(path string, lines [][]byte, maxUpdated time.Time) (bool, error) {
	var buf bytes.Buffer
	for _, line := range lines {
		buf.Write(line)
		buf.WriteByte('\n')
	}
	content := buf.Bytes()

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, content) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("mkdir for %s: %w", path, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o644); err != nil {
		return false, fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return false, fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	if !maxUpdated.IsZero() {
		mtime := maxUpdated.UTC()
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			return true, fmt.Errorf("set mtime on %s: %w", path, err)
		}
	}
	return true, nil
}
