// Package stats serves the read models behind the admin statistics pages and
// the student dashboard, history and ranking views. Everything here is
// query-only; writes happen in the quiz and admin packages.
package stats

import (
	"database/sql"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/euler-pro/platform/internal/httpx"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

// displayName mirrors the UI fallback: full name, or correo when both name
// fields are empty.
func displayName(nombres, apellidos, correo string) string {
	name := nombres
	if apellidos != "" {
		if name != "" {
			name += " "
		}
		name += apellidos
	}
	if name == "" {
		return correo
	}
	return name
}

// GET /api/admin/statistics/student_groups_overview
func StudentGroupsOverviewHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := dbh.QueryContext(r.Context(), `
			SELECT g.id, g.name, COALESCE(g.description,''),
			       (SELECT COUNT(*) FROM student_group_membership m WHERE m.student_group_id = g.id)
			FROM student_groups g ORDER BY g.name`)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener resumen de grupos")
			return
		}
		defer rows.Close()

		type row struct {
			ID          int64  `json:"id"`
			Name        string `json:"name"`
			Description string `json:"description"`
			MemberCount int    `json:"member_count"`
		}
		out := []row{}
		for rows.Next() {
			var g row
			if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.MemberCount); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener resumen de grupos")
				return
			}
			out = append(out, g)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

type memberPerformance struct {
	StudentID        int64   `json:"student_id"`
	StudentName      string  `json:"student_name"`
	EvaluationsTaken int     `json:"evaluations_taken"`
	AverageScore     float64 `json:"average_score"`
}

type questionGroupPerformance struct {
	QuestionGroupID      int64   `json:"question_group_id"`
	QuestionGroupName    string  `json:"question_group_name"`
	TotalAnsweredInGroup int     `json:"total_answered_in_group"`
	TotalCorrectInGroup  int     `json:"total_correct_in_group"`
	AccuracyPercentage   float64 `json:"accuracy_percentage"`
}

// GET /api/admin/statistics/group/{groupID}
func GroupStatisticsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}

		var gName string
		var gDesc sql.NullString
		err := dbh.QueryRowContext(r.Context(),
			`SELECT name, description FROM student_groups WHERE id=$1`, id).Scan(&gName, &gDesc)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de estudiantes no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas del grupo")
			return
		}

		// per-member evaluation counts and averages
		mrows, err := dbh.QueryContext(r.Context(), `
			SELECT u.id, COALESCE(u.nombres,''), COALESCE(u.apellidos,''), u.correo,
			       COUNT(e.id), COALESCE(AVG(e.score), 0)
			FROM student_group_membership m
			JOIN users u ON u.id = m.user_id
			LEFT JOIN evaluations e ON e.user_id = u.id
			WHERE m.student_group_id = $1
			GROUP BY u.id, u.nombres, u.apellidos, u.correo`, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas del grupo")
			return
		}
		defer mrows.Close()

		members := []memberPerformance{}
		totalEvals := 0
		var scoreSum float64
		for mrows.Next() {
			var (
				mp                         memberPerformance
				nombres, apellidos, correo string
				avg                        float64
			)
			if err := mrows.Scan(&mp.StudentID, &nombres, &apellidos, &correo, &mp.EvaluationsTaken, &avg); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas del grupo")
				return
			}
			mp.StudentName = displayName(nombres, apellidos, correo)
			mp.AverageScore = round2(avg)
			members = append(members, mp)
			totalEvals += mp.EvaluationsTaken
			scoreSum += avg * float64(mp.EvaluationsTaken)
		}
		sort.Slice(members, func(i, j int) bool { return members[i].StudentName < members[j].StudentName })

		// answer-level aggregates across all members' evaluations
		var answered, correct int
		err = dbh.QueryRowContext(r.Context(), `
			SELECT COUNT(*), COALESCE(SUM(CASE WHEN ua.is_correct THEN 1 ELSE 0 END), 0)
			FROM user_answers ua
			JOIN evaluations e ON e.id = ua.evaluation_id
			WHERE e.user_id IN (SELECT user_id FROM student_group_membership WHERE student_group_id = $1)`, id).
			Scan(&answered, &correct)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas del grupo")
			return
		}

		qrows, err := dbh.QueryContext(r.Context(), `
			SELECT q.question_group_id, COALESCE(g.name, 'Desconocido'),
			       COUNT(*), COALESCE(SUM(CASE WHEN ua.is_correct THEN 1 ELSE 0 END), 0)
			FROM user_answers ua
			JOIN evaluations e ON e.id = ua.evaluation_id
			JOIN questions q ON q.id = ua.question_id
			LEFT JOIN question_groups g ON g.id = q.question_group_id
			WHERE q.question_group_id IS NOT NULL
			  AND e.user_id IN (SELECT user_id FROM student_group_membership WHERE student_group_id = $1)
			GROUP BY q.question_group_id, g.name`, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas del grupo")
			return
		}
		defer qrows.Close()

		byQG := []questionGroupPerformance{}
		for qrows.Next() {
			var p questionGroupPerformance
			if err := qrows.Scan(&p.QuestionGroupID, &p.QuestionGroupName, &p.TotalAnsweredInGroup, &p.TotalCorrectInGroup); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas del grupo")
				return
			}
			if p.TotalAnsweredInGroup > 0 {
				p.AccuracyPercentage = round2(float64(p.TotalCorrectInGroup) / float64(p.TotalAnsweredInGroup) * 100)
			}
			byQG = append(byQG, p)
		}
		sort.Slice(byQG, func(i, j int) bool { return byQG[i].QuestionGroupName < byQG[j].QuestionGroupName })

		avgScore := 0.0
		if totalEvals > 0 {
			avgScore = round2(scoreSum / float64(totalEvals))
		}
		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"group_info": map[string]interface{}{
				"id": id, "name": gName, "description": gDesc.String, "member_count": len(members),
			},
			"overall_statistics": map[string]interface{}{
				"total_evaluations_taken":  totalEvals,
				"average_score":            avgScore,
				"total_questions_answered": answered,
				"total_correct":            correct,
				"total_incorrect":          answered - correct,
			},
			"members_performance":           members,
			"performance_by_question_group": byQG,
		})
	}
}

type lessonStudentPerformance struct {
	StudentID       int64   `json:"student_id"`
	Nombres         string  `json:"nombres"`
	Apellidos       string  `json:"apellidos"`
	Correo          string  `json:"correo"`
	BestScore       float64 `json:"best_score"`
	AttemptsCount   int     `json:"attempts_count"`
	LastAttemptDate string  `json:"last_attempt_date"`
}

// GET /api/admin/lesson_statistics/{lessonID}
func LessonStatisticsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "lessonID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de lección inválido")
			return
		}
		var lessonName string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM lessons WHERE id=$1`, id).Scan(&lessonName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Lección no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas de la lección")
			return
		}

		var totalAttempts, uniqueStudents, assignedGroups int
		var avgScore float64
		err = dbh.QueryRowContext(r.Context(), `
			SELECT COUNT(*), COALESCE(AVG(score), 0), COUNT(DISTINCT user_id)
			FROM evaluations WHERE lesson_id=$1`, id).Scan(&totalAttempts, &avgScore, &uniqueStudents)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas de la lección")
			return
		}
		err = dbh.QueryRowContext(r.Context(),
			`SELECT COUNT(*) FROM lesson_student_group_assignment WHERE lesson_id=$1`, id).Scan(&assignedGroups)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas de la lección")
			return
		}

		rows, err := dbh.QueryContext(r.Context(), `
			SELECT u.id, COALESCE(u.nombres,''), COALESCE(u.apellidos,''), u.correo,
			       MAX(e.score), COUNT(e.id), MAX(e.timestamp)
			FROM evaluations e
			JOIN users u ON u.id = e.user_id
			WHERE e.lesson_id=$1
			GROUP BY u.id, u.nombres, u.apellidos, u.correo`, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas de la lección")
			return
		}
		defer rows.Close()

		perf := []lessonStudentPerformance{}
		for rows.Next() {
			var p lessonStudentPerformance
			var lastTS int64
			if err := rows.Scan(&p.StudentID, &p.Nombres, &p.Apellidos, &p.Correo,
				&p.BestScore, &p.AttemptsCount, &lastTS); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener estadísticas de la lección")
				return
			}
			p.LastAttemptDate = time.Unix(lastTS, 0).UTC().Format(time.RFC3339)
			perf = append(perf, p)
		}
		sort.Slice(perf, func(i, j int) bool { return perf[i].BestScore > perf[j].BestScore })

		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"lesson_id":                 id,
			"lesson_name":               lessonName,
			"total_attempts":            totalAttempts,
			"average_score":             round2(avgScore),
			"unique_students_completed": uniqueStudents,
			"assigned_groups_count":     assignedGroups,
			"student_performance":       perf,
		})
	}
}
