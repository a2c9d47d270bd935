package checkpoint

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Conflict marker prefixes as git writes them.
const (
	markerOurs   = "<<<<<<<"
	markerBase   = "|||||||"
	markerSplit  = "======="
	markerTheirs = ">>>>>>>"
)

// updatedAtRe extracts updated_at values whether the JSON (or a
// mangled hunk of it) uses double quotes, single quotes, or bare
// values.
var updatedAtRe = regexp.MustCompile(`["']?updated_at["']?\s*:\s*["']?([0-9][^"',}\s]*)`)

// conflictSpan is one marked region, in line indices: start is the
// <<<<<<< line and end is the >>>>>>> line, inclusive.
type conflictSpan struct {
	start, split, end int
	base              int // ||||||| line, -1 without diff3
}

// ResolveJSONLConflicts rewrites conflict-marked JSONL content by
// picking, for each marked span, the side whose newest updated_at is
// later. Missing or unparseable timestamps lose to a parsed one; when
// both sides are equal or both missing, ours wins for stability.
// Returns the resolved content and the number of spans resolved.
func ResolveJSONLConflicts(content string) (string, int) {
	lines := strings.Split(content, "\n")
	spans := findConflictSpans(lines)

	// Replace in reverse so earlier indices stay valid.
	for i := len(spans) - 1; i >= 0; i-- {
		span := spans[i]
		oursEnd := span.split
		if span.base >= 0 {
			oursEnd = span.base
		}
		ours := lines[span.start+1 : oursEnd]
		theirs := lines[span.split+1 : span.end]

		winner := ours
		if sideNewer(theirs, ours) {
			winner = theirs
		}
		lines = append(lines[:span.start], append(append([]string{}, winner...), lines[span.end+1:]...)...)
	}
	return strings.Join(lines, "\n"), len(spans)
}

func findConflictSpans(lines []string) []conflictSpan {
	var spans []conflictSpan
	cur := conflictSpan{start: -1, split: -1, base: -1}
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, markerOurs):
			cur = conflictSpan{start: i, split: -1, base: -1}
		case strings.HasPrefix(line, markerBase) && cur.start >= 0:
			cur.base = i
		case strings.HasPrefix(line, markerSplit) && cur.start >= 0 && cur.split < 0:
			cur.split = i
		case strings.HasPrefix(line, markerTheirs) && cur.start >= 0 && cur.split >= 0:
			cur.end = i
			spans = append(spans, cur)
			cur = conflictSpan{start: -1, split: -1, base: -1}
		}
	}
	return spans
}

// sideNewer reports whether side a carries a strictly newer updated_at
// than side b. Unparseable sides never win.
func sideNewer(a, b []string) bool {
	ta, okA := newestUpdatedAt(a)
	tb, okB := newestUpdatedAt(b)
	switch {
	case !okA:
		return false
	case !okB:
		return true
	default:
		return ta.After(tb)
	}
}

// newestUpdatedAt scans the side's lines for updated_at values and
// returns the latest parseable one.
func newestUpdatedAt(lines []string) (time.Time, bool) {
	var newest time.Time
	found := false
	for _, line := range lines {
		for _, m := range updatedAtRe.FindAllStringSubmatch(line, -1) {
			ts, err := parseTimestamp(m[1])
			if err != nil {
				continue
			}
			if !found || ts.After(newest) {
				newest = ts
				found = true
			}
		}
	}
	return newest, found
}

func parseTimestamp(raw string) (time.Time, error) {
	raw = strings.Trim(raw, `"'`)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", raw)
}
