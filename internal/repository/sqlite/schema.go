package sqlite

// All timestamps are unix milliseconds (UTC). JSON list columns hold string arrays.
const schema = `
CREATE TABLE IF NOT EXISTS principals (
	id           TEXT PRIMARY KEY,
	role         TEXT NOT NULL,
	email        TEXT NOT NULL DEFAULT '',
	display_name TEXT NOT NULL DEFAULT '',
	department   TEXT NOT NULL DEFAULT '',
	locked       INTEGER NOT NULL DEFAULT 0,
	lock_reason  TEXT,
	locked_at    INTEGER,
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_principals_role_department ON principals(role, department);

CREATE TABLE IF NOT EXISTS credentials (
	token_hash   TEXT PRIMARY KEY,
	principal_id TEXT NOT NULL REFERENCES principals(id),
	expires_at   INTEGER
);

CREATE TABLE IF NOT EXISTS treating_relationships (
	doctor_id  TEXT NOT NULL,
	patient_id TEXT NOT NULL,
	active     INTEGER NOT NULL DEFAULT 1,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (doctor_id, patient_id)
);

CREATE TABLE IF NOT EXISTS consents (
	patient_id   TEXT NOT NULL,
	consent_type TEXT NOT NULL,
	granted      INTEGER NOT NULL,
	expires_at   INTEGER,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (patient_id, consent_type)
);

CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS behavior_profiles (
	principal_id      TEXT PRIMARY KEY,
	typical_hours     TEXT NOT NULL DEFAULT '[]',
	typical_ips       TEXT NOT NULL DEFAULT '[]',
	typical_devices   TEXT NOT NULL DEFAULT '[]',
	typical_actions   TEXT NOT NULL DEFAULT '[]',
	anomaly_threshold INTEGER NOT NULL DEFAULT 50,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id                   TEXT PRIMARY KEY,
	principal_id         TEXT NOT NULL,
	role                 TEXT NOT NULL,
	token_hash           TEXT NOT NULL UNIQUE,
	ip_address           TEXT NOT NULL DEFAULT '',
	browser              TEXT NOT NULL DEFAULT '',
	os                   TEXT NOT NULL DEFAULT '',
	device_type          TEXT NOT NULL DEFAULT '',
	device_fingerprint   TEXT NOT NULL DEFAULT '',
	location             TEXT NOT NULL DEFAULT '',
	created_at           INTEGER NOT NULL,
	last_activity        INTEGER NOT NULL,
	expires_at           INTEGER NOT NULL,
	idle_timeout_seconds INTEGER NOT NULL,
	is_active            INTEGER NOT NULL DEFAULT 1,
	terminated_at        INTEGER,
	termination_reason   TEXT
);
CREATE INDEX IF NOT EXISTS idx_sessions_principal_active ON sessions(principal_id, is_active, last_activity);

CREATE TABLE IF NOT EXISTS two_factor_credentials (
	principal_id      TEXT NOT NULL,
	method            TEXT NOT NULL,
	state             TEXT NOT NULL,
	secret_ciphertext TEXT NOT NULL DEFAULT '',
	secret_dek        TEXT NOT NULL DEFAULT '',
	secret_key_id     TEXT NOT NULL DEFAULT '',
	verified_at       INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL,
	PRIMARY KEY (principal_id, method)
);

CREATE TABLE IF NOT EXISTS backup_codes (
	principal_id TEXT NOT NULL,
	method       TEXT NOT NULL,
	code_hash    TEXT NOT NULL,
	position     INTEGER NOT NULL,
	created_at   INTEGER NOT NULL,
	PRIMARY KEY (principal_id, method, code_hash)
);

CREATE TABLE IF NOT EXISTS incidents (
	id                  TEXT PRIMARY KEY,
	incident_type       TEXT NOT NULL,
	severity            TEXT NOT NULL,
	status              TEXT NOT NULL,
	title               TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	affected_principals TEXT NOT NULL DEFAULT '[]',
	affected_systems    TEXT NOT NULL DEFAULT '[]',
	detection_method    TEXT NOT NULL DEFAULT '',
	indicators          TEXT NOT NULL DEFAULT '[]',
	reporter_id         TEXT NOT NULL DEFAULT '',
	assignee_id         TEXT,
	resolution          TEXT,
	escalation_reason   TEXT,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL,
	escalated_at        INTEGER,
	resolved_at         INTEGER,
	closed_at           INTEGER
);
CREATE INDEX IF NOT EXISTS idx_incidents_status_severity ON incidents(status, severity);

CREATE TABLE IF NOT EXISTS incident_notes (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	author_id   TEXT NOT NULL DEFAULT '',
	note        TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incident_notes_incident ON incident_notes(incident_id, seq);

CREATE TABLE IF NOT EXISTS incident_actions (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	incident_id TEXT NOT NULL REFERENCES incidents(id),
	action      TEXT NOT NULL,
	source      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_incident_actions_incident ON incident_actions(incident_id, seq);

CREATE TABLE IF NOT EXISTS audit_events (
	id            TEXT PRIMARY KEY,
	event_type    TEXT NOT NULL,
	actor_id      TEXT NOT NULL DEFAULT '',
	action        TEXT NOT NULL DEFAULT '',
	resource_type TEXT NOT NULL DEFAULT '',
	resource_id   TEXT NOT NULL DEFAULT '',
	success       INTEGER NOT NULL,
	risk_score    INTEGER NOT NULL DEFAULT 0,
	ip_address    TEXT NOT NULL DEFAULT '',
	user_agent    TEXT NOT NULL DEFAULT '',
	purpose       TEXT NOT NULL DEFAULT '',
	metadata      TEXT NOT NULL DEFAULT '{}',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_actor_time ON audit_events(actor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_type_time ON audit_events(event_type, created_at);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_events(resource_type, resource_id);

CREATE TRIGGER IF NOT EXISTS audit_events_no_update BEFORE UPDATE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS audit_events_no_delete BEFORE DELETE ON audit_events
BEGIN
	SELECT RAISE(ABORT, 'audit events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS incidents_no_delete BEFORE DELETE ON incidents
BEGIN
	SELECT RAISE(ABORT, 'incidents are retained');
END;
`
