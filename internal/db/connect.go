package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:eulerpro.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/eulerpro?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	dbh, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := dbh.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, dbh, driver); err != nil {
		return nil, err
	}
	return dbh, nil
}

func ensureSchema(ctx context.Context, dbh *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := dbh.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  nombres TEXT,
  apellidos TEXT,
  edad INTEGER,
  correo TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'estudiante'
);

CREATE TABLE IF NOT EXISTS student_groups (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE,
  description TEXT
);

CREATE TABLE IF NOT EXISTS student_group_membership (
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  student_group_id INTEGER NOT NULL REFERENCES student_groups(id) ON DELETE CASCADE,
  PRIMARY KEY (user_id, student_group_id)
);

CREATE TABLE IF NOT EXISTS question_groups (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS questions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  texto_pregunta TEXT NOT NULL,
  opciones TEXT NOT NULL,
  respuesta_correcta_indice INTEGER NOT NULL,
  procedimiento_resolucion TEXT,
  question_group_id INTEGER REFERENCES question_groups(id) ON DELETE SET NULL,
  imagen_url TEXT
);

CREATE TABLE IF NOT EXISTS lessons (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  name TEXT NOT NULL,
  description TEXT,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS lesson_configurations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  lesson_id INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  question_group_id INTEGER NOT NULL REFERENCES question_groups(id) ON DELETE CASCADE,
  num_questions_to_select INTEGER NOT NULL DEFAULT 1,
  time_per_question_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS lesson_student_group_assignment (
  lesson_id INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  student_group_id INTEGER NOT NULL REFERENCES student_groups(id) ON DELETE CASCADE,
  PRIMARY KEY (lesson_id, student_group_id)
);

CREATE TABLE IF NOT EXISTS evaluations (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  lesson_id INTEGER REFERENCES lessons(id) ON DELETE SET NULL,
  score REAL NOT NULL,
  timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_answers (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  evaluation_id INTEGER NOT NULL REFERENCES evaluations(id) ON DELETE CASCADE,
  question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  selected_option_index INTEGER NOT NULL,
  is_correct INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS user_lesson_cycles (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  lesson_id INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  current_cycle_number INTEGER NOT NULL DEFAULT 1,
  UNIQUE (user_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS user_question_seen (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  lesson_id INTEGER NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  cycle_number INTEGER NOT NULL,
  seen_at INTEGER NOT NULL,
  UNIQUE (user_id, lesson_id, question_id, cycle_number)
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  nombres TEXT,
  apellidos TEXT,
  edad INTEGER,
  correo TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL DEFAULT 'estudiante'
);

CREATE TABLE IF NOT EXISTS student_groups (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE,
  description TEXT
);

CREATE TABLE IF NOT EXISTS student_group_membership (
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  student_group_id BIGINT NOT NULL REFERENCES student_groups(id) ON DELETE CASCADE,
  PRIMARY KEY (user_id, student_group_id)
);

CREATE TABLE IF NOT EXISTS question_groups (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS questions (
  id BIGSERIAL PRIMARY KEY,
  texto_pregunta TEXT NOT NULL,
  opciones TEXT NOT NULL,
  respuesta_correcta_indice INTEGER NOT NULL,
  procedimiento_resolucion TEXT,
  question_group_id BIGINT REFERENCES question_groups(id) ON DELETE SET NULL,
  imagen_url TEXT
);

CREATE TABLE IF NOT EXISTS lessons (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  description TEXT,
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS lesson_configurations (
  id BIGSERIAL PRIMARY KEY,
  lesson_id BIGINT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  question_group_id BIGINT NOT NULL REFERENCES question_groups(id) ON DELETE CASCADE,
  num_questions_to_select INTEGER NOT NULL DEFAULT 1,
  time_per_question_seconds INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS lesson_student_group_assignment (
  lesson_id BIGINT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  student_group_id BIGINT NOT NULL REFERENCES student_groups(id) ON DELETE CASCADE,
  PRIMARY KEY (lesson_id, student_group_id)
);

CREATE TABLE IF NOT EXISTS evaluations (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  lesson_id BIGINT REFERENCES lessons(id) ON DELETE SET NULL,
  score DOUBLE PRECISION NOT NULL,
  timestamp BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_answers (
  id BIGSERIAL PRIMARY KEY,
  evaluation_id BIGINT NOT NULL REFERENCES evaluations(id) ON DELETE CASCADE,
  question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  selected_option_index INTEGER NOT NULL,
  is_correct BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS user_lesson_cycles (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  lesson_id BIGINT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  current_cycle_number INTEGER NOT NULL DEFAULT 1,
  UNIQUE (user_id, lesson_id)
);

CREATE TABLE IF NOT EXISTS user_question_seen (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  lesson_id BIGINT NOT NULL REFERENCES lessons(id) ON DELETE CASCADE,
  question_id BIGINT NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
  cycle_number INTEGER NOT NULL,
  seen_at BIGINT NOT NULL,
  UNIQUE (user_id, lesson_id, question_id, cycle_number)
);
`
