package syncer

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/sudocode-ai/sudocode/internal/types"
)

// collisionReason and collisionResolution are the fixed strings
// recorded for every renumbering, matching the collision_log format in
// meta.json.
const (
	collisionReason     = "Same ID but different UUID"
	collisionResolution = "renumber"
)

// Collision records one id renumbering performed during import. The
// records accumulate in meta.json's collision_log for later inspection;
// collisions are never surfaced as errors.
type Collision struct {
	ID         string    `json:"id"`
	UUID       string    `json:"uuid"`
	NewID      string    `json:"new_id"`
	Reason     string    `json:"reason"`
	Resolution string    `json:"resolution"`
	ResolvedAt time.Time `json:"resolved_at"`
}

var idSuffix = regexp.MustCompile(`^(.*?)(\d+)$`)

// renumberProbes bounds the linear search for a free id before the
// timestamp fallback kicks in.
const renumberProbes = 1000

// idAllocator picks replacement ids deterministically. The uuid → new
// id mapping is memoized for the lifetime of the allocator so the same
// logical entity always resolves to the same id within one pass.
type idAllocator struct {
	used     map[string]bool
	assigned map[string]string
	now      func() time.Time
}

func newIDAllocator(usedIDs []string) *idAllocator {
	used := make(map[string]bool, len(usedIDs))
	for _, id := range usedIDs {
		used[id] = true
	}
	return &idAllocator{used: used, assigned: make(map[string]string), now: time.Now}
}

// reserve marks an id as taken without assigning it to anyone.
func (a *idAllocator) reserve(id string) { a.used[id] = true }

// renumber returns the replacement id for the entity. The numeric
// suffix is stripped, bumped by 1000, and incremented until free; after
// renumberProbes failed probes a timestamp id is used instead.
func (a *idAllocator) renumber(id, uuid string) string {
	if newID, ok := a.assigned[uuid]; ok {
		return newID
	}

	prefix := id + "-"
	n := 0
	if m := idSuffix.FindStringSubmatch(id); m != nil {
		prefix = m[1]
		n, _ = strconv.Atoi(m[2])
	}

	newID := ""
	candidate := n + 1000
	for probe := 0; probe < renumberProbes; probe++ {
		c := prefix + strconv.Itoa(candidate)
		if !a.used[c] {
			newID = c
			break
		}
		candidate++
	}
	if newID == "" {
		newID = fmt.Sprintf("%s%d", prefix, a.now().UnixMilli())
	}

	a.used[newID] = true
	a.assigned[uuid] = newID
	return newID
}

// resolveCollisions renumbers incoming entities whose id is already
// claimed by a different UUID, either by a live store entity or by
// another incoming entity. The store entity always keeps its id; among
// incoming claimants the earliest created_at wins, with the smaller
// uuid winning a created_at tie. Incoming entities are mutated in
// place; the returned map carries old id → new id for reference
// rewriting.
func resolveCollisions(liveIDs map[string]string, incoming []types.Entity, alloc *idAllocator, record func(Collision)) map[string]string {
	byID := make(map[string][]types.Entity)
	order := make([]string, 0)
	for _, e := range incoming {
		if _, seen := byID[e.EntityID()]; !seen {
			order = append(order, e.EntityID())
		}
		byID[e.EntityID()] = append(byID[e.EntityID()], e)
	}

	renames := make(map[string]string)
	for _, id := range order {
		group := byID[id]
		ownerUUID, ownedByStore := liveIDs[id]

		keeperUUID := ""
		if ownedByStore {
			keeperUUID = ownerUUID
		} else {
			// Earliest created_at keeps the id; ties break toward the
			// lexicographically smaller uuid so resolution is stable
			// regardless of input order.
			sorted := make([]types.Entity, len(group))
			copy(sorted, group)
			sort.SliceStable(sorted, func(i, j int) bool {
				if !sorted[i].Created().Equal(sorted[j].Created()) {
					return sorted[i].Created().Before(sorted[j].Created())
				}
				return sorted[i].EntityUUID() < sorted[j].EntityUUID()
			})
			keeperUUID = sorted[0].EntityUUID()
		}

		for _, e := range group {
			if e.EntityUUID() == keeperUUID {
				alloc.reserve(id)
				continue
			}
			newID := alloc.renumber(id, e.EntityUUID())
			renames[id] = newID
			record(Collision{
				ID:         id,
				UUID:       e.EntityUUID(),
				NewID:      newID,
				Reason:     collisionReason,
				Resolution: collisionResolution,
				ResolvedAt: time.Now().UTC(),
			})
			setEntityID(e, newID)
		}
	}
	return renames
}

func setEntityID(e types.Entity, id string) {
	switch v := e.(type) {
	case *types.Spec:
		v.ID = id
	case *types.Issue:
		v.ID = id
	}
}
