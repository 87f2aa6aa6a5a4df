package stats

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/euler-pro/platform/internal/db"
	"github.com/euler-pro/platform/internal/rbac"
)

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

func seedStudentInGroup(t *testing.T, dbh *sql.DB, correo string, groupID int64) int64 {
	t.Helper()
	var id int64
	err := dbh.QueryRow(`
		INSERT INTO users (nombres, apellidos, edad, correo, password_hash, role)
		VALUES ($1,'',20,$2,'x','estudiante') RETURNING id`, correo, correo).Scan(&id)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if _, err := dbh.Exec(`
		INSERT INTO student_group_membership (student_group_id, user_id) VALUES ($1,$2)`, groupID, id); err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	return id
}

func seedAssignedLesson(t *testing.T, dbh *sql.DB, name string, groupID int64) int64 {
	t.Helper()
	var id int64
	if err := dbh.QueryRow(`
		INSERT INTO lessons (name, description, created_at, updated_at)
		VALUES ($1,'',0,0) RETURNING id`, name).Scan(&id); err != nil {
		t.Fatalf("seed lesson: %v", err)
	}
	if _, err := dbh.Exec(`
		INSERT INTO lesson_student_group_assignment (lesson_id, student_group_id) VALUES ($1,$2)`, id, groupID); err != nil {
		t.Fatalf("seed assignment: %v", err)
	}
	return id
}

func seedEvaluation(t *testing.T, dbh *sql.DB, userID, lessonID int64, score float64, ts int64) {
	t.Helper()
	if _, err := dbh.Exec(`
		INSERT INTO evaluations (user_id, lesson_id, score, timestamp) VALUES ($1,$2,$3,$4)`,
		userID, lessonID, score, ts); err != nil {
		t.Fatalf("seed evaluation: %v", err)
	}
}

func asStudent(req *http.Request, userID int64) *http.Request {
	ctx := rbac.WithRole(req.Context(), rbac.RoleStudent)
	ctx = rbac.WithSubject(ctx, fmt.Sprintf("%d", userID))
	return req.WithContext(ctx)
}

func TestAssignedLessonsStatusFollowsAttempts(t *testing.T) {
	dbh := openTestDB(t)
	var groupID int64
	if err := dbh.QueryRow(`INSERT INTO student_groups (name) VALUES ('10-A') RETURNING id`).Scan(&groupID); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	userID := seedStudentInGroup(t, dbh, "ana@example.com", groupID)
	pending := seedAssignedLesson(t, dbh, "Aritmética", groupID)
	tried := seedAssignedLesson(t, dbh, "Geometría", groupID)
	seedEvaluation(t, dbh, userID, tried, 60, 100)
	seedEvaluation(t, dbh, userID, tried, 85, 200)

	req := asStudent(httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/student/assigned_lessons?user_id=%d", userID), nil), userID)
	rec := httptest.NewRecorder()
	AssignedLessonsHandler(dbh)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var lessons []assignedLesson
	if err := json.Unmarshal(rec.Body.Bytes(), &lessons); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lessons) != 2 {
		t.Fatalf("lessons: got %d, want 2", len(lessons))
	}

	byID := map[int64]assignedLesson{}
	for _, l := range lessons {
		byID[l.ID] = l
	}
	if got := byID[pending]; got.Status != "Pendiente" || got.Attempts != 0 {
		t.Fatalf("pending lesson: %+v", got)
	}
	got := byID[tried]
	if got.Status != "Intentada" || got.Attempts != 2 || got.BestScore != 85 {
		t.Fatalf("attempted lesson: %+v", got)
	}
	if len(got.AllScores) != 2 || got.AllScores[0] != 60 {
		t.Fatalf("all_scores should be chronological: %v", got.AllScores)
	}
}

func TestAssignedLessonsBlocksOtherStudents(t *testing.T) {
	dbh := openTestDB(t)
	var groupID int64
	if err := dbh.QueryRow(`INSERT INTO student_groups (name) VALUES ('10-A') RETURNING id`).Scan(&groupID); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	userID := seedStudentInGroup(t, dbh, "ana@example.com", groupID)

	// token subject is someone else
	req := asStudent(httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/student/assigned_lessons?user_id=%d", userID), nil), userID+1)
	rec := httptest.NewRecorder()
	AssignedLessonsHandler(dbh)(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403", rec.Code)
	}
}

func TestLessonRankingUsesFirstAttemptAndOrders(t *testing.T) {
	dbh := openTestDB(t)
	var groupID int64
	if err := dbh.QueryRow(`INSERT INTO student_groups (name) VALUES ('10-A') RETURNING id`).Scan(&groupID); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	ana := seedStudentInGroup(t, dbh, "ana@example.com", groupID)
	beto := seedStudentInGroup(t, dbh, "beto@example.com", groupID)
	lessonID := seedAssignedLesson(t, dbh, "Geometría", groupID)

	// ana: first attempt 70, later 95 (ranking must ignore the retry)
	seedEvaluation(t, dbh, ana, lessonID, 70, 100)
	seedEvaluation(t, dbh, ana, lessonID, 95, 200)
	// beto: first attempt 90
	seedEvaluation(t, dbh, beto, lessonID, 90, 150)

	req := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/student/lesson_ranking_details/%d?user_id=%d", lessonID, ana), nil)
	req = asStudent(req, ana)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("lessonID", fmt.Sprintf("%d", lessonID))
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	LessonRankingHandler(dbh)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Rankings []rankingEntry `json:"rankings"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Rankings) != 2 {
		t.Fatalf("rankings: got %d, want 2", len(resp.Rankings))
	}
	if resp.Rankings[0].StudentID != beto || resp.Rankings[0].FirstAttemptScore != 90 {
		t.Fatalf("first place: %+v", resp.Rankings[0])
	}
	if resp.Rankings[1].StudentID != ana || resp.Rankings[1].FirstAttemptScore != 70 {
		t.Fatalf("second place: %+v", resp.Rankings[1])
	}
	if !resp.Rankings[1].IsCurrentUser {
		t.Fatal("requesting user should be flagged")
	}
}

func TestHistoryIsNewestFirstWithDetails(t *testing.T) {
	dbh := openTestDB(t)
	var groupID int64
	if err := dbh.QueryRow(`INSERT INTO student_groups (name) VALUES ('10-A') RETURNING id`).Scan(&groupID); err != nil {
		t.Fatalf("seed group: %v", err)
	}
	userID := seedStudentInGroup(t, dbh, "ana@example.com", groupID)
	lessonID := seedAssignedLesson(t, dbh, "Geometría", groupID)
	seedEvaluation(t, dbh, userID, lessonID, 50, 100)
	seedEvaluation(t, dbh, userID, lessonID, 75, 200)

	// mark one wrong answer on the older evaluation
	var evalID int64
	if err := dbh.QueryRow(`
		SELECT id FROM evaluations WHERE user_id=$1 AND timestamp=100`, userID).Scan(&evalID); err != nil {
		t.Fatalf("eval id: %v", err)
	}
	var qID int64
	if err := dbh.QueryRow(`
		INSERT INTO questions (texto_pregunta, opciones, respuesta_correcta_indice)
		VALUES ('2+2?','["3","4"]',1) RETURNING id`).Scan(&qID); err != nil {
		t.Fatalf("seed question: %v", err)
	}
	if _, err := dbh.Exec(`
		INSERT INTO user_answers (evaluation_id, question_id, selected_option_index, is_correct)
		VALUES ($1,$2,0,0)`, evalID, qID); err != nil {
		t.Fatalf("seed answer: %v", err)
	}

	req := asStudent(httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/history?user_id=%d", userID), nil), userID)
	rec := httptest.NewRecorder()
	HistoryHandler(dbh)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var history []historyEntry
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("entries: got %d, want 2", len(history))
	}
	if history[0].Score != 75 || history[1].Score != 50 {
		t.Fatalf("order: %v then %v", history[0].Score, history[1].Score)
	}
	details := history[1].IncorrectAnswersDetails
	if len(details) != 1 || details[0].TuRespuestaTexto != "3" || details[0].RespuestaCorrectaTexto != "4" {
		t.Fatalf("details: %+v", details)
	}
}
