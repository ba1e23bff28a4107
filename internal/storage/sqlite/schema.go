package sqlite

// schema is the baseline DDL for a fresh database. It is re-run on every
// Open via CREATE TABLE/INDEX/VIEW IF NOT EXISTS, so it is always safe to
// apply against an existing database — idempotent initialization per
// The baseline schema. Columns added after it shipped live in
// migrations.go instead, the same split the teacher uses (schema.go for
// the steady-state shape, migrations.go for incremental deltas).
const schema = `
CREATE TABLE IF NOT EXISTS entries (
    id               TEXT PRIMARY KEY,
    type             TEXT NOT NULL CHECK (type IN ('fact','decision','preference','todo','lesson','event')),
    subject          TEXT NOT NULL,
    content          TEXT NOT NULL,
    canonical_key    TEXT,
    subject_key      TEXT,
    importance       INTEGER NOT NULL DEFAULT 7 CHECK (importance BETWEEN 1 AND 10),
    expiry           TEXT NOT NULL DEFAULT 'permanent' CHECK (expiry IN ('core','permanent','temporary','session-only')),
    scope            TEXT NOT NULL DEFAULT 'private' CHECK (scope IN ('private','personal','public')),
    platform         TEXT,
    project          TEXT,
    source_file      TEXT,
    source_context   TEXT,
    embedding        BLOB,
    content_hash     TEXT NOT NULL,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    last_recalled_at TEXT,
    recall_count     INTEGER NOT NULL DEFAULT 0 CHECK (recall_count >= 0),
    confirmations    INTEGER NOT NULL DEFAULT 0 CHECK (confirmations >= 0),
    contradictions   INTEGER NOT NULL DEFAULT 0 CHECK (contradictions >= 0),
    recall_intervals TEXT NOT NULL DEFAULT '[]',
    superseded_by    TEXT REFERENCES entries(id),
    retired          INTEGER NOT NULL DEFAULT 0,
    retired_at       TEXT,
    retired_reason   TEXT,
    suppressed_contexts TEXT NOT NULL DEFAULT '[]',
    CHECK ((superseded_by IS NOT NULL) OR (retired IN (0,1)))
);

CREATE INDEX IF NOT EXISTS idx_entries_created_at    ON entries(created_at);
CREATE INDEX IF NOT EXISTS idx_entries_importance    ON entries(importance);
CREATE INDEX IF NOT EXISTS idx_entries_type          ON entries(type);
CREATE INDEX IF NOT EXISTS idx_entries_expiry        ON entries(expiry);
CREATE INDEX IF NOT EXISTS idx_entries_platform      ON entries(platform);
CREATE INDEX IF NOT EXISTS idx_entries_project       ON entries(project);
CREATE INDEX IF NOT EXISTS idx_entries_superseded_by ON entries(superseded_by);
CREATE INDEX IF NOT EXISTS idx_entries_subject_key   ON entries(subject_key);
CREATE INDEX IF NOT EXISTS idx_entries_canonical_key ON entries(canonical_key);
CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_content_hash ON entries(content_hash);

CREATE TABLE IF NOT EXISTS tags (
    entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    tag      TEXT NOT NULL,
    PRIMARY KEY (entry_id, tag)
);
CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS relations (
    source_id     TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    target_id     TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL CHECK (relation_type IN ('supersedes','contradicts','elaborates','related')),
    created_at    TEXT NOT NULL,
    PRIMARY KEY (source_id, target_id, relation_type)
);
CREATE INDEX IF NOT EXISTS idx_relations_target ON relations(target_id);

CREATE TABLE IF NOT EXISTS ingest_log (
    id           TEXT PRIMARY KEY,
    file_path    TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    ingested_at  TEXT NOT NULL,
    added        INTEGER NOT NULL DEFAULT 0,
    updated      INTEGER NOT NULL DEFAULT 0,
    skipped      INTEGER NOT NULL DEFAULT 0,
    duration_ms  INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_ingest_log_ingested_at ON ingest_log(ingested_at);

CREATE TABLE IF NOT EXISTS conflict_log (
    id          TEXT PRIMARY KEY,
    entry_a     TEXT NOT NULL,
    entry_b     TEXT NOT NULL,
    relation    TEXT NOT NULL,
    confidence  REAL NOT NULL,
    resolution  TEXT NOT NULL DEFAULT 'pending',
    created_at  TEXT NOT NULL,
    resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_conflict_log_resolution ON conflict_log(resolution);

CREATE TABLE IF NOT EXISTS signal_watermarks (
    consumer TEXT PRIMARY KEY,
    rowid_high INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
    subject, content, content='entries', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS entries_fts_ai AFTER INSERT ON entries BEGIN
    INSERT INTO entries_fts(rowid, subject, content) VALUES (new.rowid, new.subject, new.content);
END;
CREATE TRIGGER IF NOT EXISTS entries_fts_ad AFTER DELETE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, subject, content) VALUES ('delete', old.rowid, old.subject, old.content);
END;
CREATE TRIGGER IF NOT EXISTS entries_fts_au AFTER UPDATE ON entries BEGIN
    INSERT INTO entries_fts(entries_fts, rowid, subject, content) VALUES ('delete', old.rowid, old.subject, old.content);
    INSERT INTO entries_fts(rowid, subject, content) VALUES (new.rowid, new.subject, new.content);
END;

CREATE VIEW IF NOT EXISTS active_entries AS
SELECT * FROM entries WHERE superseded_by IS NULL AND retired = 0;
`

const schemaVersion = 1
