package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied in order. course_offerings and enrollments belong to the
// course CRUD layer; they are created here only if missing so the gateway
// can run against an empty database.
var schema = []struct {
	name string
	ddl  string
}{
	{"pgcrypto", `CREATE EXTENSION IF NOT EXISTS pgcrypto`},
	{"users", `
	CREATE TABLE IF NOT EXISTS users (
		id                  UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		email               TEXT NOT NULL UNIQUE,
		display_name        TEXT NOT NULL DEFAULT '',
		primary_role        TEXT NOT NULL DEFAULT 'unregistered'
			CHECK (primary_role IN ('unregistered', 'student', 'instructor', 'admin')),
		institution         TEXT NOT NULL DEFAULT 'none'
			CHECK (institution IN ('institutional', 'external', 'none')),
		provider_subject_id TEXT,
		deleted_at          TIMESTAMPTZ,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
	{"users_subject_index", `CREATE INDEX IF NOT EXISTS idx_users_provider_subject_id ON users(provider_subject_id)`},
	{"whitelist_entries", `
	CREATE TABLE IF NOT EXISTS whitelist_entries (
		email       TEXT PRIMARY KEY,
		approved_by TEXT NOT NULL,
		approved_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
	{"access_requests", `
	CREATE TABLE IF NOT EXISTS access_requests (
		email        TEXT PRIMARY KEY,
		reason       TEXT NOT NULL DEFAULT '',
		requested_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
	{"auth_logs", `
	CREATE TABLE IF NOT EXISTS auth_logs (
		id          BIGSERIAL PRIMARY KEY,
		event_type  TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		identifier  TEXT NOT NULL DEFAULT '',
		user_id     UUID,
		path        TEXT NOT NULL DEFAULT '',
		metadata    JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
	{"auth_logs_event_index", `CREATE INDEX IF NOT EXISTS idx_auth_logs_event_type ON auth_logs(event_type, created_at DESC)`},
	{"auth_logs_identifier_index", `CREATE INDEX IF NOT EXISTS idx_auth_logs_identifier ON auth_logs(identifier, created_at DESC)`},
	{"course_offerings", `
	CREATE TABLE IF NOT EXISTS course_offerings (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		code       TEXT NOT NULL,
		title      TEXT NOT NULL DEFAULT '',
		is_active  BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`},
	{"enrollments", `
	CREATE TABLE IF NOT EXISTS enrollments (
		id          BIGSERIAL PRIMARY KEY,
		user_id     UUID NOT NULL REFERENCES users(id),
		offering_id UUID NOT NULL REFERENCES course_offerings(id),
		course_role TEXT NOT NULL CHECK (course_role IN ('student', 'ta', 'tutor')),
		status      TEXT NOT NULL DEFAULT 'enrolled' CHECK (status IN ('enrolled', 'dropped')),
		enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		dropped_at  TIMESTAMPTZ,
		UNIQUE (user_id, offering_id)
	)`},
}

// EnsureSchema creates the gateway's tables if they do not exist. It is not
// a migration tool and never alters existing tables.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("failed to ensure %s: %w", stmt.name, err)
		}
	}
	return nil
}
