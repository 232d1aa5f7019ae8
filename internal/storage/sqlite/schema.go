package sqlite

const schema = `
-- Orphans table
-- One row per canonical signature. Rows are never deleted on graduation;
-- graduated rows keep serving as routing lookup targets.
CREATE TABLE IF NOT EXISTS orphans (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    signature TEXT NOT NULL UNIQUE,
    original_signature TEXT NOT NULL DEFAULT '',
    product_area TEXT NOT NULL DEFAULT '',
    component TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '' CHECK(length(title) <= 500),
    first_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    last_seen_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    graduated_at DATETIME,
    story_id TEXT
);

CREATE INDEX IF NOT EXISTS idx_orphans_graduated ON orphans(graduated_at);
CREATE INDEX IF NOT EXISTS idx_orphans_product_area ON orphans(product_area);
CREATE INDEX IF NOT EXISTS idx_orphans_last_seen ON orphans(last_seen_at);

-- Orphan conversation references
-- The composite primary key is what makes evidence appends idempotent:
-- INSERT OR IGNORE is a single atomic dedup-and-append.
CREATE TABLE IF NOT EXISTS orphan_conversations (
    orphan_id INTEGER NOT NULL,
    conversation_id TEXT NOT NULL,
    source TEXT NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (orphan_id, conversation_id),
    FOREIGN KEY (orphan_id) REFERENCES orphans(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_orphan_conversations_orphan ON orphan_conversations(orphan_id);

-- Stories table
CREATE TABLE IF NOT EXISTS stories (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL CHECK(length(title) <= 500),
    description TEXT NOT NULL DEFAULT '',
    product_area TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'open' CHECK(status IN ('open', 'in_progress', 'closed')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status);
CREATE INDEX IF NOT EXISTS idx_stories_product_area ON stories(product_area);
CREATE INDEX IF NOT EXISTS idx_stories_created_at ON stories(created_at);

-- Story evidence, same idempotent-append shape as orphan_conversations
CREATE TABLE IF NOT EXISTS story_evidence (
    story_id TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    source TEXT NOT NULL,
    excerpt TEXT NOT NULL DEFAULT '',
    added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (story_id, conversation_id),
    FOREIGN KEY (story_id) REFERENCES stories(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_story_evidence_story ON story_evidence(story_id);

-- Pipeline runs table
-- running is the only initial state; stopped/completed/failed are terminal.
CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'running' CHECK(status IN ('running', 'stopping', 'stopped', 'completed', 'failed')),
    started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME,
    fetched INTEGER NOT NULL DEFAULT 0,
    classified INTEGER NOT NULL DEFAULT 0,
    themes_extracted INTEGER NOT NULL DEFAULT 0,
    routed INTEGER NOT NULL DEFAULT 0,
    orphans_created INTEGER NOT NULL DEFAULT 0,
    stories_created INTEGER NOT NULL DEFAULT 0,
    routed_to_story INTEGER NOT NULL DEFAULT 0,
    no_evidence_service INTEGER NOT NULL DEFAULT 0,
    failed INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_pipeline_runs_status ON pipeline_runs(status);
CREATE INDEX IF NOT EXISTS idx_pipeline_runs_started_at ON pipeline_runs(started_at);
`
