package stats

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/euler-pro/platform/internal/httpx"
	"github.com/euler-pro/platform/internal/rbac"
)

func queryUserID(r *http.Request) (int64, bool) {
	raw := r.URL.Query().Get("user_id")
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil
}

// actingOnSelf allows admins through and otherwise requires the token subject
// to match the requested user_id.
func actingOnSelf(r *http.Request, userID int64) bool {
	if rbac.RoleFromContext(r.Context()) == rbac.RoleAdmin {
		return true
	}
	sub, _ := strconv.ParseInt(rbac.SubjectFromContext(r.Context()), 10, 64)
	return sub == userID
}

type assignedLesson struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	TotalQuestions int       `json:"total_questions"`
	Attempts       int       `json:"attempts"`
	BestScore      float64   `json:"best_score"`
	AllScores      []float64 `json:"all_scores"`
	Status         string    `json:"status"`
}

// GET /api/student/assigned_lessons?user_id=N
// Lessons reached through more than one group membership appear once.
func AssignedLessonsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := queryUserID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "User ID es requerido")
			return
		}
		if !actingOnSelf(r, userID) {
			httpx.Error(w, http.StatusForbidden, "Acceso denegado")
			return
		}
		var role string
		err := dbh.QueryRowContext(r.Context(), `SELECT role FROM users WHERE id=$1`, userID).Scan(&role)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones asignadas")
			return
		}
		if role != rbac.RoleStudent {
			httpx.Error(w, http.StatusForbidden, "Acceso denegado. Solo para estudiantes.")
			return
		}

		rows, err := dbh.QueryContext(r.Context(), `
			SELECT DISTINCT l.id, l.name, COALESCE(l.description,''),
			       (SELECT COALESCE(SUM(num_questions_to_select),0) FROM lesson_configurations c WHERE c.lesson_id = l.id)
			FROM lessons l
			JOIN lesson_student_group_assignment a ON a.lesson_id = l.id
			JOIN student_group_membership m ON m.student_group_id = a.student_group_id
			WHERE m.user_id = $1
			ORDER BY l.name`, userID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones asignadas")
			return
		}
		defer rows.Close()

		out := []assignedLesson{}
		for rows.Next() {
			var l assignedLesson
			if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.TotalQuestions); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones asignadas")
				return
			}
			out = append(out, l)
		}
		rows.Close()

		for i := range out {
			srows, err := dbh.QueryContext(r.Context(), `
				SELECT score FROM evaluations
				WHERE user_id=$1 AND lesson_id=$2 ORDER BY timestamp ASC`, userID, out[i].ID)
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones asignadas")
				return
			}
			scores := []float64{}
			for srows.Next() {
				var s float64
				if err := srows.Scan(&s); err != nil {
					srows.Close()
					httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones asignadas")
					return
				}
				scores = append(scores, s)
			}
			srows.Close()

			out[i].Attempts = len(scores)
			out[i].AllScores = scores
			out[i].Status = "Pendiente"
			if len(scores) > 0 {
				out[i].Status = "Intentada"
				best := scores[0]
				for _, s := range scores[1:] {
					if s > best {
						best = s
					}
				}
				out[i].BestScore = best
			}
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// GET /api/student/lessons_for_ranking_dropdown?user_id=N
// Union of lessons the user attempted and lessons assigned via groups.
func RankingDropdownHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := queryUserID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario es requerido")
			return
		}
		if !actingOnSelf(r, userID) {
			httpx.Error(w, http.StatusForbidden, "Acceso denegado")
			return
		}
		var exists int
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM users WHERE id=$1`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones")
			return
		}

		rows, err := dbh.QueryContext(r.Context(), `
			SELECT id, name FROM lessons WHERE id IN (
				SELECT lesson_id FROM evaluations WHERE user_id=$1 AND lesson_id IS NOT NULL
				UNION
				SELECT a.lesson_id FROM lesson_student_group_assignment a
				JOIN student_group_membership m ON m.student_group_id = a.student_group_id
				WHERE m.user_id=$1
			) ORDER BY name`, userID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones")
			return
		}
		defer rows.Close()

		type item struct {
			ID   int64  `json:"id"`
			Name string `json:"name"`
		}
		out := []item{}
		for rows.Next() {
			var it item
			if err := rows.Scan(&it.ID, &it.Name); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones")
				return
			}
			out = append(out, it)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

type rankingEntry struct {
	StudentID         int64   `json:"student_id"`
	StudentName       string  `json:"student_name"`
	FirstAttemptScore float64 `json:"first_attempt_score"`
	Timestamp         string  `json:"timestamp"`
	IsCurrentUser     bool    `json:"is_current_user"`

	ts int64
}

// GET /api/student/lesson_ranking_details/{lessonID}?user_id=N
// Peers are users sharing at least one group with the requester whose groups
// have the lesson assigned; each is ranked by first-attempt score. A user in
// no group ranks alone.
func LessonRankingHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonID, ok := pathID(r, "lessonID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de lección inválido")
			return
		}
		userID, ok := queryUserID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario solicitante es requerido")
			return
		}
		if !actingOnSelf(r, userID) {
			httpx.Error(w, http.StatusForbidden, "Acceso denegado")
			return
		}
		var exists int
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM users WHERE id=$1`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario solicitante no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el ranking")
			return
		}
		var lessonName string
		err = dbh.QueryRowContext(r.Context(), `SELECT name FROM lessons WHERE id=$1`, lessonID).Scan(&lessonName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Lección no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el ranking")
			return
		}

		peerIDs := map[int64]struct{}{}
		prows, err := dbh.QueryContext(r.Context(), `
			SELECT DISTINCT peer.user_id
			FROM student_group_membership mine
			JOIN student_group_membership peer ON peer.student_group_id = mine.student_group_id
			WHERE mine.user_id = $1
			  AND EXISTS (
				SELECT 1 FROM student_group_membership pg
				JOIN lesson_student_group_assignment a ON a.student_group_id = pg.student_group_id
				WHERE pg.user_id = peer.user_id AND a.lesson_id = $2
			  )`, userID, lessonID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el ranking")
			return
		}
		for prows.Next() {
			var id int64
			if err := prows.Scan(&id); err != nil {
				prows.Close()
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el ranking")
				return
			}
			peerIDs[id] = struct{}{}
		}
		prows.Close()
		if len(peerIDs) == 0 {
			peerIDs[userID] = struct{}{}
		}

		rankings := []rankingEntry{}
		for peerID := range peerIDs {
			var (
				e                          rankingEntry
				nombres, apellidos, correo string
			)
			err := dbh.QueryRowContext(r.Context(), `
				SELECT u.id, COALESCE(u.nombres,''), COALESCE(u.apellidos,''), u.correo, e.score, e.timestamp
				FROM evaluations e JOIN users u ON u.id = e.user_id
				WHERE e.user_id=$1 AND e.lesson_id=$2
				ORDER BY e.timestamp ASC LIMIT 1`, peerID, lessonID).
				Scan(&e.StudentID, &nombres, &apellidos, &correo, &e.FirstAttemptScore, &e.ts)
			if errors.Is(err, sql.ErrNoRows) {
				continue // never attempted the lesson
			}
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el ranking")
				return
			}
			e.StudentName = displayName(nombres, apellidos, correo)
			e.Timestamp = time.Unix(e.ts, 0).UTC().Format(time.RFC3339)
			e.IsCurrentUser = e.StudentID == userID
			rankings = append(rankings, e)
		}
		sort.Slice(rankings, func(i, j int) bool {
			if rankings[i].FirstAttemptScore != rankings[j].FirstAttemptScore {
				return rankings[i].FirstAttemptScore > rankings[j].FirstAttemptScore
			}
			return rankings[i].ts < rankings[j].ts
		})

		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"lesson_id":   lessonID,
			"lesson_name": lessonName,
			"rankings":    rankings,
		})
	}
}

type historyDetail struct {
	QuestionID             int64  `json:"question_id"`
	TextoPregunta          string `json:"texto_pregunta"`
	TuRespuestaTexto       string `json:"tu_respuesta_texto"`
	RespuestaCorrectaTexto string `json:"respuesta_correcta_texto"`
	Procedimiento          string `json:"procedimiento"`
	ImagenURL              string `json:"imagen_url"`
}

type historyEntry struct {
	EvaluationID            int64           `json:"evaluation_id"`
	Timestamp               string          `json:"timestamp"`
	Score                   float64         `json:"score"`
	LessonName              string          `json:"lesson_name"`
	LessonID                *int64          `json:"lesson_id"`
	IncorrectAnswersDetails []historyDetail `json:"incorrect_answers_details"`
}

// GET /api/history?user_id=N
func HistoryHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := queryUserID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "Falta user_id")
			return
		}
		if !actingOnSelf(r, userID) {
			httpx.Error(w, http.StatusForbidden, "Acceso denegado")
			return
		}
		var exists int
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM users WHERE id=$1`, userID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el historial")
			return
		}

		rows, err := dbh.QueryContext(r.Context(), `
			SELECT e.id, e.timestamp, e.score, e.lesson_id, l.name
			FROM evaluations e LEFT JOIN lessons l ON l.id = e.lesson_id
			WHERE e.user_id=$1 ORDER BY e.timestamp DESC`, userID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el historial")
			return
		}
		defer rows.Close()

		out := []historyEntry{}
		for rows.Next() {
			var (
				h          historyEntry
				ts         int64
				lessonID   sql.NullInt64
				lessonName sql.NullString
			)
			if err := rows.Scan(&h.EvaluationID, &ts, &h.Score, &lessonID, &lessonName); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el historial")
				return
			}
			h.Timestamp = time.Unix(ts, 0).UTC().Format(time.RFC3339)
			h.LessonName = "Evaluación General"
			if lessonName.Valid {
				h.LessonName = lessonName.String
			}
			if lessonID.Valid {
				id := lessonID.Int64
				h.LessonID = &id
			}
			out = append(out, h)
		}
		rows.Close()

		for i := range out {
			details, err := incorrectDetails(r, dbh, out[i].EvaluationID)
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener el historial")
				return
			}
			out[i].IncorrectAnswersDetails = details
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

func incorrectDetails(r *http.Request, dbh *sql.DB, evaluationID int64) ([]historyDetail, error) {
	rows, err := dbh.QueryContext(r.Context(), `
		SELECT q.id, q.texto_pregunta, q.opciones, q.respuesta_correcta_indice,
		       COALESCE(q.procedimiento_resolucion,''), COALESCE(q.imagen_url,''),
		       ua.selected_option_index
		FROM user_answers ua
		JOIN questions q ON q.id = ua.question_id
		WHERE ua.evaluation_id=$1 AND ua.is_correct=FALSE`, evaluationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := []historyDetail{}
	for rows.Next() {
		var (
			d          historyDetail
			optsJSON   string
			correctIdx int
			selected   int
		)
		if err := rows.Scan(&d.QuestionID, &d.TextoPregunta, &optsJSON, &correctIdx,
			&d.Procedimiento, &d.ImagenURL, &selected); err != nil {
			return nil, err
		}
		var opts []string
		_ = json.Unmarshal([]byte(optsJSON), &opts)
		d.TuRespuestaTexto = "Opción inválida o no respondida"
		if selected >= 0 && selected < len(opts) {
			d.TuRespuestaTexto = opts[selected]
		}
		if correctIdx >= 0 && correctIdx < len(opts) {
			d.RespuestaCorrectaTexto = opts[correctIdx]
		}
		details = append(details, d)
	}
	return details, nil
}
