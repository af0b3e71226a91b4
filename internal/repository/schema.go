package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// Threshold rows are append-only. The partial unique index keeps exactly one
// open row per rule key.
const schemaThresholds = `
CREATE TABLE IF NOT EXISTS fraud_thresholds (
    id TEXT PRIMARY KEY,
    rule_key TEXT NOT NULL,
    display_name TEXT NOT NULL,
    rule_category TEXT NOT NULL,
    threshold_value TEXT NOT NULL,
    weight TEXT,
    severity_floor TEXT,
    is_active INTEGER NOT NULL DEFAULT 1,
    effective_from TIMESTAMP NOT NULL,
    effective_until TIMESTAMP,
    version INTEGER NOT NULL,
    created_by TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    notes TEXT,
    UNIQUE (rule_key, version)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_fraud_thresholds_open ON fraud_thresholds(rule_key) WHERE effective_until IS NULL;
CREATE INDEX IF NOT EXISTS idx_fraud_thresholds_category ON fraud_thresholds(rule_category);
`

const schemaForms = `
CREATE TABLE IF NOT EXISTS forms (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    form_schema TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

const schemaSubmissions = `
CREATE TABLE IF NOT EXISTS submissions (
    id TEXT PRIMARY KEY,
    enumerator_id TEXT NOT NULL,
    respondent_id TEXT,
    questionnaire_form_id TEXT,
    raw_data TEXT,
    gps_latitude DOUBLE PRECISION,
    gps_longitude DOUBLE PRECISION,
    gps_accuracy_m DOUBLE PRECISION,
    completion_time_seconds INTEGER,
    submitted_at TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_enumerator ON submissions(enumerator_id, submitted_at);
CREATE INDEX IF NOT EXISTS idx_submissions_submitted ON submissions(submitted_at);
`

// A detection is keyed by (submission_id, config_version); re-evaluating
// under an unchanged configuration never adds a row.
const schemaDetections = `
CREATE TABLE IF NOT EXISTS fraud_detections (
    id TEXT PRIMARY KEY,
    submission_id TEXT NOT NULL,
    enumerator_id TEXT NOT NULL,
    config_version BIGINT NOT NULL,
    gps_score DOUBLE PRECISION NOT NULL,
    speed_score DOUBLE PRECISION NOT NULL,
    straightline_score DOUBLE PRECISION NOT NULL,
    duplicate_score DOUBLE PRECISION NOT NULL,
    timing_score DOUBLE PRECISION NOT NULL,
    total_score DOUBLE PRECISION NOT NULL,
    severity TEXT NOT NULL,
    details TEXT NOT NULL,
    computed_at TIMESTAMP NOT NULL,
    resolution TEXT,
    resolution_notes TEXT,
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    UNIQUE (submission_id, config_version)
);

CREATE INDEX IF NOT EXISTS idx_fraud_detections_enumerator ON fraud_detections(enumerator_id);
CREATE INDEX IF NOT EXISTS idx_fraud_detections_severity ON fraud_detections(severity);
CREATE INDEX IF NOT EXISTS idx_fraud_detections_computed ON fraud_detections(computed_at);
CREATE INDEX IF NOT EXISTS idx_fraud_detections_resolution ON fraud_detections(resolution);
`

const schemaTeams = `
CREATE TABLE IF NOT EXISTS team_assignments (
    supervisor_id TEXT NOT NULL,
    enumerator_id TEXT NOT NULL,
    assigned_at TIMESTAMP NOT NULL,
    PRIMARY KEY (supervisor_id, enumerator_id)
);

CREATE INDEX IF NOT EXISTS idx_team_assignments_enumerator ON team_assignments(enumerator_id);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaThresholds,
		schemaForms,
		schemaSubmissions,
		schemaDetections,
		schemaTeams,
	}
}
