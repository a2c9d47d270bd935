package jsonl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sudocode-ai/sudocode/internal/types"
)

func mustParseTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestWriteIssuesSortedWithTrailingNewline(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")

	issues := []*types.Issue{
		{ID: "ISSUE-002", UUID: "u2", Title: "second", Status: types.StatusOpen,
			CreatedAt: mustParseTime(t, "2024-02-01T00:00:00Z"), UpdatedAt: mustParseTime(t, "2024-02-01T00:00:00Z")},
		{ID: "ISSUE-001", UUID: "u1", Title: "first", Status: types.StatusOpen,
			CreatedAt: mustParseTime(t, "2024-01-01T00:00:00Z"), UpdatedAt: mustParseTime(t, "2024-01-02T00:00:00Z")},
	}

	written, err := WriteIssues(path, issues)
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)
	assert.True(t, strings.HasSuffix(content, "\n"), "trailing newline mandatory")

	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"id":"ISSUE-001"`)
	assert.Contains(t, lines[1], `"id":"ISSUE-002"`)
}

func TestWriteIssuesSameMillisecondSortsByID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	ts := mustParseTime(t, "2024-01-01T00:00:00Z")

	issues := []*types.Issue{
		{ID: "ISSUE-010", UUID: "u10", Title: "b", Status: types.StatusOpen, CreatedAt: ts, UpdatedAt: ts},
		{ID: "ISSUE-002", UUID: "u2", Title: "a", Status: types.StatusOpen, CreatedAt: ts, UpdatedAt: ts},
	}
	_, err := WriteIssues(path, issues)
	require.NoError(t, err)

	got, _, err := ReadIssues(path, false)
	require.NoError(t, err)
	require.Len(t, got, 2)
	// Lexicographic id order: ISSUE-002 before ISSUE-010.
	assert.Equal(t, "ISSUE-002", got[0].ID)
	assert.Equal(t, "ISSUE-010", got[1].ID)
}

func TestWriteIdempotentSecondWriteTouchesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	ts := mustParseTime(t, "2024-01-01T00:00:00Z")

	issues := []*types.Issue{{ID: "ISSUE-001", UUID: "u1", Title: "x", Status: types.StatusOpen, CreatedAt: ts, UpdatedAt: ts}}

	written, err := WriteIssues(path, issues)
	require.NoError(t, err)
	assert.True(t, written)

	info1, err := os.Stat(path)
	require.NoError(t, err)

	written, err = WriteIssues(path, issues)
	require.NoError(t, err)
	assert.False(t, written, "identical content must short-circuit")

	info2, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestWriteForcesMtimeToMaxUpdatedAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")

	newest := mustParseTime(t, "2024-06-15T10:30:00Z")
	issues := []*types.Issue{
		{ID: "ISSUE-001", UUID: "u1", Title: "a", Status: types.StatusOpen,
			CreatedAt: mustParseTime(t, "2024-01-01T00:00:00Z"), UpdatedAt: mustParseTime(t, "2024-01-01T00:00:00Z")},
		{ID: "ISSUE-002", UUID: "u2", Title: "b", Status: types.StatusOpen,
			CreatedAt: mustParseTime(t, "2024-02-01T00:00:00Z"), UpdatedAt: newest},
	}
	_, err := WriteIssues(path, issues)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.ModTime().UTC().Equal(newest))
}

func TestReadLenientSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	content := `{"id":"ISSUE-001","uuid":"u1","title":"ok","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}
{not json
{"id":"ISSUE-002","uuid":"u2","title":"also ok","created_at":"2024-01-02T00:00:00Z","updated_at":"2024-01-02T00:00:00Z"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	issues, lineErrs, err := ReadIssues(path, true)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	require.Len(t, lineErrs, 1)
	assert.Equal(t, 2, lineErrs[0].Line)
}

func TestReadStrictFailsOnMalformedLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("{broken\n"), 0o644))

	_, _, err := ReadIssues(path, false)
	assert.Error(t, err)
}

func TestLargeLineRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	ts := mustParseTime(t, "2024-01-01T00:00:00Z")

	// Body larger than 1 MiB must survive the round trip intact.
	body := strings.Repeat("x", (1<<20)+512)
	issues := []*types.Issue{{ID: "ISSUE-001", UUID: "u1", Title: "big", Content: body, Status: types.StatusOpen, CreatedAt: ts, UpdatedAt: ts}}

	_, err := WriteIssues(path, issues)
	require.NoError(t, err)

	got, _, err := ReadIssues(path, false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, body, got[0].Content)
}

func TestFeedbackLegacyFieldNames(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.jsonl")
	content := `{"id":"ISSUE-001","uuid":"u1","title":"x","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z","feedback":[{"id":"F-1","from_id":"u9","issue_id":"u1","feedback_type":"comment","content":"hi","created_at":"2024-01-01T00:00:00Z","updated_at":"2024-01-01T00:00:00Z"}]}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	issues, _, err := ReadIssues(path, false)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	require.Len(t, issues[0].Feedback, 1)

	fb := issues[0].Feedback[0]
	require.NotNil(t, fb.FromUUID)
	assert.Equal(t, "u9", *fb.FromUUID)
	assert.Equal(t, "u1", fb.ToUUID)
}

func TestExternalLinksTriState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "specs.jsonl")
	ts := mustParseTime(t, "2024-01-01T00:00:00Z")

	links := []string{"https://example.com/design"}
	var null []string
	specs := []*types.Spec{
		{ID: "SPEC-001", UUID: "s1", Title: "absent", CreatedAt: ts, UpdatedAt: ts},
		{ID: "SPEC-002", UUID: "s2", Title: "present", CreatedAt: ts.Add(time.Second), UpdatedAt: ts, ExternalLinks: &links},
		{ID: "SPEC-003", UUID: "s3", Title: "cleared", CreatedAt: ts.Add(2 * time.Second), UpdatedAt: ts, ExternalLinks: &null},
	}
	_, err := WriteSpecs(path, specs)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.NotContains(t, lines[0], "external_links")
	assert.Contains(t, lines[1], `"external_links":["https://example.com/design"]`)
	assert.Contains(t, lines[2], `"external_links":null`)
}
