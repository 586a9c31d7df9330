package sqlite

// schema is applied on every open; all statements are idempotent so an
// existing partition database is never disturbed.
const schema = `
CREATE TABLE IF NOT EXISTS pins (
	id                TEXT PRIMARY KEY,
	query             TEXT NOT NULL,
	title             TEXT,
	description       TEXT,
	creator_name      TEXT,
	creator_username  TEXT,
	creator_id        TEXT,
	creator_followers INTEGER NOT NULL DEFAULT 0,
	creator_avatar    TEXT,
	board_id          TEXT,
	board_name        TEXT,
	board_url         TEXT,
	categories        TEXT,
	image_urls        TEXT,
	largest_image_url TEXT,
	stats             TEXT,
	url               TEXT,
	source_link       TEXT,
	downloaded        INTEGER NOT NULL DEFAULT 0,
	download_path     TEXT,
	raw_data          TEXT,
	session_id        TEXT,
	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pins_query_created ON pins (query, created_at);
CREATE INDEX IF NOT EXISTS idx_pins_creator ON pins (creator_id);
CREATE INDEX IF NOT EXISTS idx_pins_board ON pins (board_id);

CREATE TABLE IF NOT EXISTS scraping_sessions (
	id              TEXT PRIMARY KEY,
	query           TEXT NOT NULL,
	target_count    INTEGER NOT NULL DEFAULT 0,
	actual_count    INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'running',
	output_dir      TEXT,
	download_images INTEGER NOT NULL DEFAULT 1,
	started_at      TIMESTAMP NOT NULL,
	completed_at    TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_query_started ON scraping_sessions (query, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON scraping_sessions (status);

CREATE TABLE IF NOT EXISTS download_tasks (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	pin_id        TEXT NOT NULL,
	image_url     TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	local_path    TEXT,
	file_size     INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	created_at    TIMESTAMP NOT NULL,
	updated_at    TIMESTAMP NOT NULL,
	UNIQUE (pin_id, image_url)
);

CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON download_tasks (status, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_pin_status ON download_tasks (pin_id, status);
`
