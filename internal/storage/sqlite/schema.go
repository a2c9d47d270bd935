package sqlite

import (
	"context"
	"fmt"
)

// schema is the full DDL. Timestamps are TEXT (RFC3339Nano, UTC);
// external_links and checkpoint snapshots are serialized JSON.
const schema = `
CREATE TABLE IF NOT EXISTS specs (
	uuid           TEXT PRIMARY KEY,
	id             TEXT NOT NULL,
	title          TEXT NOT NULL,
	file_path      TEXT,
	content        TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL DEFAULT 2,
	parent_uuid    TEXT,
	archived       INTEGER NOT NULL DEFAULT 0,
	archived_at    TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	external_links TEXT
);
CREATE INDEX IF NOT EXISTS idx_specs_id ON specs(id);
CREATE INDEX IF NOT EXISTS idx_specs_parent ON specs(parent_uuid);
CREATE UNIQUE INDEX IF NOT EXISTS idx_specs_live_path
	ON specs(file_path) WHERE archived = 0 AND file_path IS NOT NULL;

CREATE TABLE IF NOT EXISTS issues (
	uuid           TEXT PRIMARY KEY,
	id             TEXT NOT NULL,
	title          TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'open',
	content        TEXT NOT NULL DEFAULT '',
	priority       INTEGER NOT NULL DEFAULT 2,
	assignee       TEXT,
	parent_uuid    TEXT,
	archived       INTEGER NOT NULL DEFAULT 0,
	archived_at    TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	closed_at      TEXT,
	external_links TEXT
);
CREATE INDEX IF NOT EXISTS idx_issues_id ON issues(id);
CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
CREATE INDEX IF NOT EXISTS idx_issues_parent ON issues(parent_uuid);

CREATE TABLE IF NOT EXISTS relationships (
	from_uuid TEXT NOT NULL,
	from_type TEXT NOT NULL,
	to_uuid   TEXT NOT NULL,
	to_type   TEXT NOT NULL,
	type      TEXT NOT NULL,
	PRIMARY KEY (from_uuid, to_uuid, type)
);
CREATE INDEX IF NOT EXISTS idx_rel_to ON relationships(to_uuid);

CREATE TABLE IF NOT EXISTS tags (
	entity_uuid TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	tag         TEXT NOT NULL,
	PRIMARY KEY (entity_uuid, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS feedback (
	id            TEXT PRIMARY KEY,
	from_uuid     TEXT,
	to_uuid       TEXT NOT NULL,
	feedback_type TEXT NOT NULL,
	content       TEXT NOT NULL,
	anchor        TEXT,
	dismissed     INTEGER NOT NULL DEFAULT 0,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_to ON feedback(to_uuid);

CREATE TABLE IF NOT EXISTS events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_uuid TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	actor       TEXT,
	old_value   TEXT,
	new_value   TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_entity ON events(entity_uuid);

CREATE TABLE IF NOT EXISTS executions (
	id                    TEXT PRIMARY KEY,
	issue_uuid            TEXT NOT NULL,
	agent_type            TEXT NOT NULL,
	status                TEXT NOT NULL,
	target_branch         TEXT,
	branch_name           TEXT,
	worktree_path         TEXT,
	before_commit         TEXT,
	after_commit          TEXT,
	stream_id             TEXT,
	parent_execution_id   TEXT,
	workflow_execution_id TEXT,
	created_at            TEXT NOT NULL,
	updated_at            TEXT NOT NULL,
	started_at            TEXT,
	completed_at          TEXT
);
CREATE INDEX IF NOT EXISTS idx_exec_issue ON executions(issue_uuid);
CREATE INDEX IF NOT EXISTS idx_exec_worktree ON executions(worktree_path);

CREATE TABLE IF NOT EXISTS checkpoints (
	id              TEXT PRIMARY KEY,
	issue_uuid      TEXT NOT NULL,
	execution_id    TEXT NOT NULL,
	stream_id       TEXT NOT NULL,
	commit_sha      TEXT NOT NULL,
	parent_commit   TEXT,
	changed_files   INTEGER NOT NULL DEFAULT 0,
	additions       INTEGER NOT NULL DEFAULT 0,
	deletions       INTEGER NOT NULL DEFAULT 0,
	message         TEXT,
	checkpointed_at TEXT NOT NULL,
	review_status   TEXT NOT NULL DEFAULT 'pending',
	issue_snapshot  TEXT,
	spec_snapshot   TEXT
);
CREATE INDEX IF NOT EXISTS idx_ckpt_stream ON checkpoints(stream_id);

CREATE TABLE IF NOT EXISTS streams (
	id                 TEXT PRIMARY KEY,
	scope              TEXT NOT NULL,
	issue_uuid         TEXT,
	execution_id       TEXT,
	branch_name        TEXT NOT NULL,
	checkpoint_count   INTEGER NOT NULL DEFAULT 0,
	last_checkpoint_id TEXT,
	review_state       TEXT,
	created_at         TEXT NOT NULL,
	updated_at         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_streams_issue ON streams(issue_uuid);

CREATE TABLE IF NOT EXISTS merge_queue (
	id            TEXT PRIMARY KEY,
	execution_id  TEXT NOT NULL,
	stream_id     TEXT NOT NULL,
	target_branch TEXT NOT NULL,
	position      INTEGER NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	added_at      TEXT NOT NULL,
	merge_commit  TEXT,
	error         TEXT
);
CREATE INDEX IF NOT EXISTS idx_mq_branch ON merge_queue(target_branch, position);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
