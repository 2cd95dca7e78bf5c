package storage

import "strings"

// migration holds a single schema migration. The SQL uses {{ts}} where a
// timestamp column type is needed; it differs between SQLite and Postgres.
type migration struct {
	version int
	sql     string
}

func (m migration) render(dialect string) string {
	ts := "DATETIME"
	if dialect == DriverPostgres {
		ts = "TIMESTAMPTZ"
	}
	return strings.ReplaceAll(m.sql, "{{ts}}", ts)
}

// migrations is the ordered list of schema migrations.
// Versions must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS scheduled_jobs (
	job_id              TEXT PRIMARY KEY,
	job_key             TEXT NOT NULL,
	tenant_id           TEXT NOT NULL,
	group_name          TEXT NOT NULL DEFAULT '',
	correlation_subject TEXT NOT NULL,
	report_recipient    TEXT NOT NULL,
	fire_at             {{ts}} NOT NULL,
	status              TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'running', 'done', 'failed', 'cancelled')),
	reason              TEXT NOT NULL DEFAULT '',
	created_at          {{ts}} NOT NULL,
	updated_at          {{ts}} NOT NULL,
	started_at          {{ts}},
	finished_at         {{ts}}
);

CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_status_fire_at ON scheduled_jobs(status, fire_at);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_tenant_id ON scheduled_jobs(tenant_id);
CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_job_key ON scheduled_jobs(job_key);

CREATE TABLE IF NOT EXISTS credentials (
	tenant_id     TEXT PRIMARY KEY,
	email         TEXT NOT NULL DEFAULT '',
	access_token  TEXT NOT NULL,
	refresh_token TEXT NOT NULL DEFAULT '',
	token_type    TEXT NOT NULL DEFAULT '',
	expiry        {{ts}},
	scopes        TEXT NOT NULL DEFAULT '',
	updated_at    {{ts}} NOT NULL
);
`,
	},
}
