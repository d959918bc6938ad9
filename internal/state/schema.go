package state

// Schema v1 - crawl bookkeeping
const schemaV1 = `
-- Notes that have been fetched and committed to a raw store
CREATE TABLE IF NOT EXISTS seen_notes (
  note_id TEXT PRIMARY KEY,
  keyword TEXT,
  fetched_at TEXT NOT NULL,
  first_seen_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_seen_notes_keyword ON seen_notes(keyword);

-- Resumable pagination cursor per keyword
CREATE TABLE IF NOT EXISTS cursors (
  keyword TEXT PRIMARY KEY,
  next_page INTEGER NOT NULL,
  search_id TEXT NOT NULL
);

-- Crawl run history
CREATE TABLE IF NOT EXISTS runs (
  id TEXT PRIMARY KEY,
  keywords TEXT,
  started_at TEXT NOT NULL,
  finished_at TEXT,
  fetched INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
