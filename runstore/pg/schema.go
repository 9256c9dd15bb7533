package pg

// Schema documents the expected table shape for Store. Schema migrations
// are assumed per §1 Non-goals ("it does not own ... schema migrations");
// this module ships no migration runner, only the DDL a deployer is
// expected to apply (e.g. via golang-migrate or goose).
const Schema = `
CREATE TABLE IF NOT EXISTS workflow_runs (
	id                     TEXT PRIMARY KEY,
	workflow_definition_id TEXT NOT NULL,
	status                 TEXT NOT NULL,
	parameters             JSONB,
	trigger                JSONB,
	partition_key          TEXT,
	started_at             TIMESTAMPTZ,
	completed_at           TIMESTAMPTZ,
	duration_ms            BIGINT,
	created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
	error_message          TEXT,
	idempotency_key        TEXT UNIQUE
);
CREATE INDEX IF NOT EXISTS workflow_runs_def_status_idx
	ON workflow_runs (workflow_definition_id, status, completed_at);

CREATE TABLE IF NOT EXISTS workflow_definitions (
	id                  TEXT PRIMARY KEY,
	slug                TEXT NOT NULL,
	version             INT NOT NULL,
	steps               JSONB NOT NULL,
	default_parameters  JSONB,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (slug, version)
);

CREATE TABLE IF NOT EXISTS workflow_schedules (
	id                       TEXT PRIMARY KEY,
	workflow_definition_id   TEXT NOT NULL REFERENCES workflow_definitions (id),
	cron                     TEXT NOT NULL,
	timezone                 TEXT NOT NULL,
	parameters               JSONB,
	catch_up                 BOOLEAN NOT NULL DEFAULT false,
	next_run_at              TIMESTAMPTZ,
	catchup_cursor           TIMESTAMPTZ,
	last_materialized_window JSONB,
	is_active                BOOLEAN NOT NULL DEFAULT true,
	created_at               TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS workflow_schedules_due_idx
	ON workflow_schedules (is_active, next_run_at);
`
