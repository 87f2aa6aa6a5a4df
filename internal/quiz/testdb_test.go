package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/euler-pro/platform/internal/db"
)

// openTestDB gives each test its own shared-cache in-memory database with the
// schema applied.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	dbh.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = dbh.Close() })
	return dbh
}

func seedStudent(t *testing.T, dbh *sql.DB, correo string) int64 {
	t.Helper()
	var id int64
	err := dbh.QueryRow(`
		INSERT INTO users (nombres, apellidos, edad, correo, password_hash, role)
		VALUES ('Ana','Gómez',20,$1,'x','estudiante') RETURNING id`, correo).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return id
}

func seedQuestionGroup(t *testing.T, dbh *sql.DB, name string) int64 {
	t.Helper()
	var id int64
	if err := dbh.QueryRow(`INSERT INTO question_groups (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("seed question group: %v", err)
	}
	return id
}

func seedQuestion(t *testing.T, dbh *sql.DB, groupID int64, texto string, opts []string, correct int) int64 {
	t.Helper()
	optsJSON, _ := json.Marshal(opts)
	var id int64
	err := dbh.QueryRow(`
		INSERT INTO questions (texto_pregunta, opciones, respuesta_correcta_indice, procedimiento_resolucion, question_group_id)
		VALUES ($1,$2,$3,'ver apuntes',$4) RETURNING id`,
		texto, string(optsJSON), correct, groupID).Scan(&id)
	if err != nil {
		t.Fatalf("seed question: %v", err)
	}
	return id
}

func seedLesson(t *testing.T, dbh *sql.DB, name string, groupID int64, numToSelect, timePerQ int) int64 {
	t.Helper()
	var id int64
	err := dbh.QueryRow(`
		INSERT INTO lessons (name, description, created_at, updated_at)
		VALUES ($1,'',0,0) RETURNING id`, name).Scan(&id)
	if err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	if _, err := dbh.Exec(`
		INSERT INTO lesson_configurations (lesson_id, question_group_id, num_questions_to_select, time_per_question_seconds)
		VALUES ($1,$2,$3,$4)`, id, groupID, numToSelect, timePerQ); err != nil {
		t.Fatalf("seed lesson config: %v", err)
	}
	return id
}
