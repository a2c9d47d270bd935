package checkpoint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func conflictBlock(ours, theirs string) string {
	return "<<<<<<< HEAD\n" + ours + "\n=======\n" + theirs + "\n>>>>>>> stream\n"
}

func TestResolveNewerSideWins(t *testing.T) {
	ours := `{"id":"ISSUE-001","title":"old","updated_at":"2026-08-01T10:00:00Z"}`
	theirs := `{"id":"ISSUE-001","title":"new","updated_at":"2026-08-02T10:00:00Z"}`

	resolved, n := ResolveJSONLConflicts(conflictBlock(ours, theirs))
	assert.Equal(t, 1, n)
	assert.Equal(t, theirs+"\n", resolved)
}

func TestResolveTiePrefersOurs(t *testing.T) {
	ours := `{"id":"ISSUE-001","title":"ours","updated_at":"2026-08-01T10:00:00Z"}`
	theirs := `{"id":"ISSUE-001","title":"theirs","updated_at":"2026-08-01T10:00:00Z"}`

	resolved, n := ResolveJSONLConflicts(conflictBlock(ours, theirs))
	assert.Equal(t, 1, n)
	assert.Equal(t, ours+"\n", resolved)
}

func TestResolveMissingTimestampLoses(t *testing.T) {
	ours := `{"id":"ISSUE-001","title":"ours"}`
	theirs := `{"id":"ISSUE-001","title":"theirs","updated_at":"2026-08-01T10:00:00Z"}`

	resolved, _ := ResolveJSONLConflicts(conflictBlock(ours, theirs))
	assert.Equal(t, theirs+"\n", resolved)

	// Both missing: ours for stability.
	theirsBare := `{"id":"ISSUE-001","title":"theirs"}`
	resolved, _ = ResolveJSONLConflicts(conflictBlock(ours, theirsBare))
	assert.Equal(t, ours+"\n", resolved)
}

func TestResolveQuoteStyles(t *testing.T) {
	ours := `{'id':'ISSUE-001','updated_at':'2026-08-03T10:00:00Z'}`
	theirs := `{id:ISSUE-001,updated_at:2026-08-01T10:00:00Z}`

	resolved, _ := ResolveJSONLConflicts(conflictBlock(ours, theirs))
	assert.Equal(t, ours+"\n", resolved)
}

func TestResolveMultipleConflicts(t *testing.T) {
	content := "line before\n" +
		conflictBlock(
			`{"id":"A","updated_at":"2026-08-01T00:00:00Z"}`,
			`{"id":"A","updated_at":"2026-08-05T00:00:00Z"}`) +
		"untouched middle\n" +
		conflictBlock(
			`{"id":"B","updated_at":"2026-08-09T00:00:00Z"}`,
			`{"id":"B","updated_at":"2026-08-02T00:00:00Z"}`) +
		"line after\n"

	resolved, n := ResolveJSONLConflicts(content)
	assert.Equal(t, 2, n)
	assert.NotContains(t, resolved, "<<<<<<<")
	assert.NotContains(t, resolved, "=======")
	assert.Contains(t, resolved, `{"id":"A","updated_at":"2026-08-05T00:00:00Z"}`)
	assert.Contains(t, resolved, `{"id":"B","updated_at":"2026-08-09T00:00:00Z"}`)
	assert.Contains(t, resolved, "untouched middle")
	assert.Contains(t, resolved, "line before")
	assert.Contains(t, resolved, "line after")
}

func TestResolveDiff3Style(t *testing.T) {
	content := "<<<<<<< HEAD\n" +
		`{"id":"A","title":"ours","updated_at":"2026-08-04T00:00:00Z"}` + "\n" +
		"||||||| merged common ancestors\n" +
		`{"id":"A","title":"base","updated_at":"2026-08-01T00:00:00Z"}` + "\n" +
		"=======\n" +
		`{"id":"A","title":"theirs","updated_at":"2026-08-02T00:00:00Z"}` + "\n" +
		">>>>>>> stream\n"

	resolved, n := ResolveJSONLConflicts(content)
	require.Equal(t, 1, n)
	assert.Equal(t, `{"id":"A","title":"ours","updated_at":"2026-08-04T00:00:00Z"}`+"\n", resolved)
}

func TestResolveMultiLineSideUsesNewest(t *testing.T) {
	ours := `{"id":"A","updated_at":"2026-08-01T00:00:00Z"}` + "\n" +
		`{"id":"B","updated_at":"2026-08-06T00:00:00Z"}`
	theirs := `{"id":"A","updated_at":"2026-08-05T00:00:00Z"}` + "\n" +
		`{"id":"B","updated_at":"2026-08-05T00:00:00Z"}`

	resolved, _ := ResolveJSONLConflicts(conflictBlock(ours, theirs))
	assert.True(t, strings.HasPrefix(resolved, `{"id":"A","updated_at":"2026-08-01T00:00:00Z"}`))
}

func TestResolveNoConflictsIsIdentity(t *testing.T) {
	content := `{"id":"A"}` + "\n" + `{"id":"B"}` + "\n"
	resolved, n := ResolveJSONLConflicts(content)
	assert.Equal(t, 0, n)
	assert.Equal(t, content, resolved)
}
