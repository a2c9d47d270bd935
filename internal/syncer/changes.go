// Package syncer reconciles the three entity representations: the SQL
// store, the markdown tree, and the JSONL snapshots. The store is the
// authoritative relational state; markdown and JSONL are projections
// kept in sync by change detection over UUIDs and canonical hashing.
package syncer

import (
	"github.com/sudocode-ai/sudocode/internal/types"
)

// Changes classifies the delta between two snapshots of a collection.
// Identity is the UUID throughout; the human id only participates via
// the force-update set.
type Changes struct {
	Added   []types.Entity
	Updated []types.Entity
	Deleted []types.Entity
}

// DetectChanges compares the current snapshot against an incoming one.
// An entity is updated when its updated_at differs, or when its id is
// in forceUpdate (manual JSONL edits without a timestamp bump).
// Outputs preserve incoming order; deletions preserve current order.
func DetectChanges(current, incoming []types.Entity, forceUpdate map[string]bool) Changes {
	currentByUUID := make(map[string]types.Entity, len(current))
	for _, e := range current {
		currentByUUID[e.EntityUUID()] = e
	}
	incomingUUIDs := make(map[string]bool, len(incoming))

	var ch Changes
	for _, inc := range incoming {
		incomingUUIDs[inc.EntityUUID()] = true
		cur, ok := currentByUUID[inc.EntityUUID()]
		switch {
		case !ok:
			ch.Added = append(ch.Added, inc)
		case !cur.Updated().Equal(inc.Updated()) || forceUpdate[inc.EntityID()]:
			ch.Updated = append(ch.Updated, inc)
		}
	}
	for _, cur := range current {
		if !incomingUUIDs[cur.EntityUUID()] {
			ch.Deleted = append(ch.Deleted, cur)
		}
	}
	return ch
}
