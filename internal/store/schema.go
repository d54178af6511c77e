package store

// migration is one numbered schema change, applied inside a single
// transaction at startup. Modeled on the teacher's
// internal/state/migration_test.go backfill shape: detect the current
// schema_version row, apply every migration after it in order, bump the
// row, all inside one transaction.
type migration struct {
	version int
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS schema_version (
				version INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS devices (
				id TEXT PRIMARY KEY,
				kind TEXT NOT NULL,
				address TEXT,
				default_priority TEXT,
				default_qos INTEGER,
				bandwidth_cap INTEGER,
				control_topic TEXT NOT NULL,
				telemetry_topic TEXT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS intents (
				id TEXT PRIMARY KEY,
				raw_text TEXT NOT NULL,
				intent_type TEXT NOT NULL,
				parsed_json TEXT NOT NULL,
				goal_json TEXT,
				status TEXT NOT NULL,
				submitted_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL,
				submitter TEXT NOT NULL,
				parent_intent_id TEXT,
				hysteresis_blocked_until_tick INTEGER NOT NULL DEFAULT 0,
				warning TEXT
			)`,
			`CREATE INDEX IF NOT EXISTS idx_intents_status ON intents(status)`,
			`CREATE TABLE IF NOT EXISTS policies (
				id TEXT PRIMARY KEY,
				intent_id TEXT NOT NULL,
				plane TEXT NOT NULL,
				kind TEXT NOT NULL,
				target TEXT NOT NULL,
				parameters_json TEXT NOT NULL,
				status TEXT NOT NULL,
				applied_at INTEGER,
				last_error TEXT,
				consecutive_failures INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_policies_intent_id ON policies(intent_id)`,
			`CREATE TABLE IF NOT EXISTS metrics_history (
				metric_name TEXT NOT NULL,
				device_id TEXT,
				value REAL NOT NULL,
				timestamp INTEGER NOT NULL,
				PRIMARY KEY (metric_name, device_id, timestamp)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_metrics_name_ts ON metrics_history(metric_name, timestamp)`,
			`CREATE TABLE IF NOT EXISTS audit_log (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				event_type TEXT NOT NULL,
				severity TEXT NOT NULL,
				intent_id TEXT,
				policy_id TEXT,
				submitter TEXT,
				message TEXT NOT NULL,
				timestamp INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				display_name TEXT
			)`,
		},
	},
}

const currentSchemaVersion = 1
