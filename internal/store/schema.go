package store

// schema is applied in order on every Open. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_text TEXT NOT NULL,
		ai_response TEXT NOT NULL DEFAULT '',
		timestamp TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		session_id TEXT,
		user_name TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_processed ON messages(processed, timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id)`,

	// An explicit integer id keeps FTS rowids stable across VACUUM.
	`CREATE TABLE IF NOT EXISTS profile_facts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key TEXT NOT NULL UNIQUE,
		value TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT 'general',
		confidence REAL NOT NULL DEFAULT 0.8,
		frequency INTEGER NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'extracted',
		last_updated TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_facts_rank ON profile_facts(frequency DESC, confidence DESC)`,

	`CREATE TABLE IF NOT EXISTS memories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		text TEXT NOT NULL,
		topic TEXT NOT NULL DEFAULT 'general',
		frequency INTEGER NOT NULL DEFAULT 1,
		confidence REAL NOT NULL DEFAULT 0.8,
		source TEXT NOT NULL DEFAULT 'extracted',
		first_seen TEXT NOT NULL,
		last_accessed TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_topic ON memories(topic)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_frequency ON memories(frequency)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_last_accessed ON memories(last_accessed)`,

	`CREATE TABLE IF NOT EXISTS topic_stats (
		topic TEXT PRIMARY KEY,
		mention_count INTEGER NOT NULL DEFAULT 0,
		last_mentioned TEXT NOT NULL,
		avg_importance REAL NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS session_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL UNIQUE,
		summary TEXT NOT NULL DEFAULT '',
		message_count INTEGER NOT NULL DEFAULT 0,
		topics TEXT NOT NULL DEFAULT '',
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS image_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filepath TEXT NOT NULL,
		sender TEXT NOT NULL DEFAULT '',
		sender_relation TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		categories TEXT NOT NULL DEFAULT '[]',
		message_text TEXT NOT NULL DEFAULT '',
		source_url TEXT NOT NULL DEFAULT '',
		people_in_image TEXT NOT NULL DEFAULT '[]',
		timestamp TEXT NOT NULL,
		accessed_count INTEGER NOT NULL DEFAULT 0,
		last_accessed TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_images_timestamp ON image_history(timestamp DESC)`,

	`CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		relation_to_primary TEXT NOT NULL DEFAULT 'gjest',
		first_seen TEXT NOT NULL,
		last_active TEXT NOT NULL,
		total_messages INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`,

	`CREATE TABLE IF NOT EXISTS memory_contradictions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fact_key TEXT NOT NULL,
		existing_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		existing_confidence REAL,
		new_confidence REAL,
		source TEXT NOT NULL DEFAULT '',
		detected_at TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS inbound_sms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_name TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		received_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_inbound_sms_pending ON inbound_sms(processed_at, received_at)`,

	`CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,

	// Full-text indexes over external content, kept in sync by triggers.
	`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
		text, content='memories', content_rowid='id', tokenize='unicode61 remove_diacritics 0'
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS profile_facts_fts USING fts5(
		key, value, topic, content='profile_facts', content_rowid='id', tokenize='unicode61 remove_diacritics 0'
	)`,
	`CREATE VIRTUAL TABLE IF NOT EXISTS profile_facts_trigram USING fts5(
		key, value, topic, content='profile_facts', content_rowid='id', tokenize='trigram'
	)`,

	`CREATE TRIGGER IF NOT EXISTS memories_ai AFTER INSERT ON memories BEGIN
		INSERT INTO memories_fts(rowid, text) VALUES (new.id, new.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_ad AFTER DELETE ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', old.id, old.text);
	END`,
	`CREATE TRIGGER IF NOT EXISTS memories_au AFTER UPDATE OF text ON memories BEGIN
		INSERT INTO memories_fts(memories_fts, rowid, text) VALUES ('delete', old.id, old.text);
		INSERT INTO memories_fts(rowid, text) VALUES (new.id, new.text);
	END`,

	`CREATE TRIGGER IF NOT EXISTS profile_facts_ai AFTER INSERT ON profile_facts BEGIN
		INSERT INTO profile_facts_fts(rowid, key, value, topic) VALUES (new.id, new.key, new.value, new.topic);
		INSERT INTO profile_facts_trigram(rowid, key, value, topic) VALUES (new.id, new.key, new.value, new.topic);
	END`,
	`CREATE TRIGGER IF NOT EXISTS profile_facts_ad AFTER DELETE ON profile_facts BEGIN
		INSERT INTO profile_facts_fts(profile_facts_fts, rowid, key, value, topic) VALUES ('delete', old.id, old.key, old.value, old.topic);
		INSERT INTO profile_facts_trigram(profile_facts_trigram, rowid, key, value, topic) VALUES ('delete', old.id, old.key, old.value, old.topic);
	END`,
	`CREATE TRIGGER IF NOT EXISTS profile_facts_au AFTER UPDATE OF key, value, topic ON profile_facts BEGIN
		INSERT INTO profile_facts_fts(profile_facts_fts, rowid, key, value, topic) VALUES ('delete', old.id, old.key, old.value, old.topic);
		INSERT INTO profile_facts_fts(rowid, key, value, topic) VALUES (new.id, new.key, new.value, new.topic);
		INSERT INTO profile_facts_trigram(profile_facts_trigram, rowid, key, value, topic) VALUES ('delete', old.id, old.key, old.value, old.topic);
		INSERT INTO profile_facts_trigram(rowid, key, value, topic) VALUES (new.id, new.key, new.value, new.topic);
	END`,
}

// migrations add columns introduced after the first release.
// Errors are ignored: ALTER fails when the column already exists.
var migrations = []string{
	`ALTER TABLE session_summaries ADD COLUMN session_mood TEXT NOT NULL DEFAULT 'nøytral'`,
	`ALTER TABLE session_summaries ADD COLUMN session_theme TEXT NOT NULL DEFAULT ''`,
	`ALTER TABLE session_summaries ADD COLUMN user_name TEXT NOT NULL DEFAULT ''`,
	`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_name, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_name, last_accessed)`,
	`CREATE INDEX IF NOT EXISTS idx_summaries_end ON session_summaries(end_time DESC)`,
}
