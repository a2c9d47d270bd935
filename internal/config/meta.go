package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sudocode-ai/sudocode/internal/syncer"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// MetaFileName is the machine-owned state file inside the base dir.
const MetaFileName = "meta.json"

// Meta carries id bookkeeping and the collision audit trail. The
// platform rewrites it on every import; humans should not.
type Meta struct {
	Version    int                         `json:"version"`
	IDPrefixes map[types.EntityType]string `json:"id_prefixes"`
	NextIDs    map[types.EntityType]int    `json:"next_ids"`

	// CollisionLog accumulates one record per renumbering, newest last.
	CollisionLog []syncer.Collision `json:"collision_log,omitempty"`
}

// DefaultMeta returns the state written by `sudocode init`.
func DefaultMeta() *Meta {
	return &Meta{
		Version: 1,
		IDPrefixes: map[types.EntityType]string{
			types.EntitySpec:  "SPEC",
			types.EntityIssue: "ISSUE",
		},
		NextIDs: map[types.EntityType]int{
			types.EntitySpec:  1,
			types.EntityIssue: 1,
		},
	}
}

// MetaPath returns the meta.json location for a base dir.
func MetaPath(baseDir string) string {
	return filepath.Join(baseDir, MetaFileName)
}

// LoadMeta reads meta.json, returning defaults when the file does not
// exist yet.
func LoadMeta(baseDir string) (*Meta, error) {
	data, err := os.ReadFile(MetaPath(baseDir)) // #nosec G304 -- path is the platform base dir
	if os.IsNotExist(err) {
		return DefaultMeta(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", MetaFileName, err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", MetaFileName, err)
	}
	if m.IDPrefixes == nil {
		m.IDPrefixes = DefaultMeta().IDPrefixes
	}
	if m.NextIDs == nil {
		m.NextIDs = DefaultMeta().NextIDs
	}
	return &m, nil
}

// Save writes meta.json atomically (tmp sibling + rename).
func (m *Meta) Save(baseDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", MetaFileName, err)
	}
	data = append(data, '\n')

	path := MetaPath(baseDir)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", baseDir, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// RecordCollisions appends renumbering records to the log.
func (m *Meta) RecordCollisions(collisions []syncer.Collision) {
	m.CollisionLog = append(m.CollisionLog, collisions...)
}

// NextID hands out the next id for the entity type and advances the
// counter. The caller persists with Save.
func (m *Meta) NextID(kind types.EntityType) string {
	prefix := m.IDPrefixes[kind]
	n := m.NextIDs[kind]
	if n == 0 {
		n = 1
	}
	m.NextIDs[kind] = n + 1
	return fmt.Sprintf("%s-%03d", prefix, n)
}
