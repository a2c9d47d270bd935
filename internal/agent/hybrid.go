package agent

import (
	"bytes"
	"encoding/json"

	"github.com/sudocode-ai/sudocode/internal/coalescer"
)

// pushHybridLine applies the hybrid-output heuristic to one stdout
// line: lines that start with '{' and end with '}' are treated as JSON
// session updates and pushed to the coalescer; everything else belongs
// to the terminal viewer and is skipped here. Malformed JSON that
// passed the cheap check is skipped too.
func pushHybridLine(c *coalescer.Coalescer, line []byte) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return
	}
	var u coalescer.Update
	if err := json.Unmarshal(trimmed, &u); err != nil {
		return
	}
	if u.Kind == "" {
		return
	}
	c.Push(u)
}
