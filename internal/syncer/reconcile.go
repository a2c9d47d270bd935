package syncer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sudocode-ai/sudocode/internal/canonical"
	"github.com/sudocode-ai/sudocode/internal/jsonl"
	"github.com/sudocode-ai/sudocode/internal/types"
)

// Reconciler turns JSONL file changes into import calls. It keeps a
// per-file cache of canonical entity hashes; an entity whose hash
// differs, or whose uuid is new to the cache, goes through the import
// pipeline with force_update set so manual edits without a timestamp
// bump still propagate.
type Reconciler struct {
	importer *Importer
	hasher   *canonical.Hasher
	log      zerolog.Logger

	mu    sync.Mutex
	cache map[string]map[string]string // path -> entity uuid -> hash
}

// NewReconciler creates a reconciler that feeds the importer.
func NewReconciler(importer *Importer, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		importer: importer,
		hasher:   canonical.NewHasher(),
		log:      log.With().Str("component", "reconciler").Logger(),
		cache:    make(map[string]map[string]string),
	}
}

// PrimeSpecs seeds the hash cache from the file's current content so
// the first change event after startup does not appear to touch every
// entity. Missing files prime an empty cache.
func (r *Reconciler) PrimeSpecs(path string) error {
	specs, _, err := jsonl.ReadSpecs(path, true)
	if err != nil {
		specs = nil
	}
	return r.prime(path, specEntities(specs))
}

// PrimeIssues seeds the hash cache for an issues JSONL file.
func (r *Reconciler) PrimeIssues(path string) error {
	issues, _, err := jsonl.ReadIssues(path, true)
	if err != nil {
		issues = nil
	}
	return r.prime(path, issueEntities(issues))
}

func (r *Reconciler) prime(path string, entities []types.Entity) error {
	hashes, err := r.hashAll(entities)
	if err != nil {
		return fmt.Errorf("prime %s: %w", path, err)
	}
	r.mu.Lock()
	r.cache[path] = hashes
	r.mu.Unlock()
	return nil
}

// ReconcileSpecs parses the specs JSONL file and imports the entities
// whose canonical hash changed. Parse errors on individual lines are
// logged and skipped.
func (r *Reconciler) ReconcileSpecs(ctx context.Context, path string) (*ImportResult, error) {
	specs, lineErrs, err := jsonl.ReadSpecs(path, true)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", path, err)
	}
	r.logLineErrors(path, lineErrs)
	return r.reconcile(ctx, path, specEntities(specs), func(force map[string]bool) (*ImportResult, error) {
		return r.importer.Import(ctx, specs, nil, force)
	})
}

// ReconcileIssues is the issues-file counterpart of ReconcileSpecs.
func (r *Reconciler) ReconcileIssues(ctx context.Context, path string) (*ImportResult, error) {
	issues, lineErrs, err := jsonl.ReadIssues(path, true)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", path, err)
	}
	r.logLineErrors(path, lineErrs)
	return r.reconcile(ctx, path, issueEntities(issues), func(force map[string]bool) (*ImportResult, error) {
		return r.importer.Import(ctx, nil, issues, force)
	})
}

func (r *Reconciler) reconcile(ctx context.Context, path string, entities []types.Entity, doImport func(map[string]bool) (*ImportResult, error)) (*ImportResult, error) {
	hashes, err := r.hashAll(entities)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", path, err)
	}

	r.mu.Lock()
	prior := r.cache[path]
	r.mu.Unlock()

	force := make(map[string]bool)
	for _, e := range entities {
		prev, seen := prior[e.EntityUUID()]
		if !seen || prev != hashes[e.EntityUUID()] {
			force[e.EntityID()] = true
		}
	}

	result, err := doImport(force)
	if err != nil {
		return nil, err
	}

	// Rehash after import: renumbering may have rewritten ids in place,
	// and the cache must reflect what the next export will serialize.
	if len(result.Renames) > 0 {
		if hashes, err = r.hashAll(entities); err != nil {
			return nil, fmt.Errorf("reconcile %s: %w", path, err)
		}
	}
	r.mu.Lock()
	r.cache[path] = hashes
	r.mu.Unlock()

	r.log.Debug().Str("path", path).Int("entities", len(entities)).
		Int("forced", len(force)).Msg("jsonl reconciled")
	return result, nil
}

func (r *Reconciler) hashAll(entities []types.Entity) (map[string]string, error) {
	hashes := make(map[string]string, len(entities))
	for _, e := range entities {
		h, err := r.hasher.Hash(e)
		if err != nil {
			return nil, fmt.Errorf("hash %s: %w", e.EntityID(), err)
		}
		hashes[e.EntityUUID()] = h
	}
	return hashes, nil
}

func (r *Reconciler) logLineErrors(path string, lineErrs []*jsonl.LineError) {
	for _, le := range lineErrs {
		r.log.Warn().Str("path", path).Int("line", le.Line).Err(le.Err).
			Msg("skipping malformed jsonl line")
	}
}
