package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DB wraps sql.DB for Postgres using pgx.
type DB struct {
	Client *sql.DB
}

// NewDB creates a Postgres connection with sane defaults.
func NewDB(connString string) (*DB, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &DB{Client: db}, db.PingContext(context.Background())
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}

// EnsureSchema creates the tables the engine needs. The attendance
// unique key is what makes duplicate check-ins fail atomically.
func (d *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS identities (
			id            BIGSERIAL PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL,
			student_no    TEXT,
			major         TEXT,
			class_name    TEXT,
			face_vector   TEXT,
			teacher_no    TEXT,
			department    TEXT,
			admin_no      TEXT,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS courses (
			id          BIGSERIAL PRIMARY KEY,
			code        TEXT NOT NULL UNIQUE,
			name        TEXT NOT NULL,
			teacher_id  BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			category    TEXT,
			day_of_week TEXT,
			start_time  TEXT,
			end_time    TEXT,
			location    TEXT,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			id          BIGSERIAL PRIMARY KEY,
			student_id  BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			course_id   BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			enrolled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, course_id)
		)`,
		`CREATE TABLE IF NOT EXISTS attendances (
			id              TEXT PRIMARY KEY,
			student_id      BIGINT NOT NULL REFERENCES identities(id) ON DELETE CASCADE,
			course_id       BIGINT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
			attendance_date DATE NOT NULL,
			check_in_time   TIMESTAMPTZ,
			status          TEXT NOT NULL,
			match_score     DOUBLE PRECISION,
			image_path      TEXT,
			remarks         TEXT NOT NULL DEFAULT '',
			created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (student_id, course_id, attendance_date)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := d.Client.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
