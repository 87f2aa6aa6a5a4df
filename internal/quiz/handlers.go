package quiz

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/euler-pro/platform/internal/httpx"
	"github.com/euler-pro/platform/internal/rbac"
)

// QuestionsHandler serves the original fetch contract:
// GET /api/questions?lesson_id=..&user_id=..
// Without lesson_id it lists every question (student-safe form).
func QuestionsHandler(source QuestionSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lessonStr := r.URL.Query().Get("lesson_id")
		if lessonStr == "" {
			qs, err := source.AllQuestions(r.Context())
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener preguntas")
				return
			}
			httpx.JSON(w, http.StatusOK, studentView(qs))
			return
		}
		lessonID, err := strconv.ParseInt(lessonStr, 10, 64)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "Lesson ID o User ID inválido")
			return
		}
		userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "User ID es requerido para obtener preguntas de una lección")
			return
		}
		qs, err := source.QuestionsForLesson(r.Context(), userID, lessonID)
		if err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, studentView(qs))
	}
}

// SubmitEvaluationHandler keeps the original stateless contract:
// POST /api/submit_evaluation {user_id, lesson_id, answers[]}
// Students may only submit for themselves.
func SubmitEvaluationHandler(sink EvaluationSink) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID   int64    `json:"user_id"`
			LessonID *int64   `json:"lesson_id"`
			Answers  []Answer `json:"answers"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		if len(req.Answers) == 0 || req.UserID == 0 {
			httpx.Error(w, http.StatusBadRequest, "Faltan respuestas o ID de usuario")
			return
		}
		if !actingOnSelf(r, req.UserID) {
			httpx.Error(w, http.StatusForbidden, "Acceso denegado")
			return
		}
		res, err := sink.Evaluate(r.Context(), req.UserID, req.LessonID, req.Answers)
		if err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}

// StartSessionHandler opens a server-tracked attempt session.
// POST /api/quiz/session {lesson_id, preview}
func StartSessionHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LessonID int64 `json:"lesson_id"`
			Preview  bool  `json:"preview"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		userID, ok := subjectID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, ErrMissingUser.Error())
			return
		}
		if req.Preview && rbac.RoleFromContext(r.Context()) != rbac.RoleAdmin {
			httpx.Error(w, http.StatusForbidden, "Solo un administrador puede previsualizar")
			return
		}
		view, err := engine.Start(r.Context(), userID, req.LessonID, req.Preview)
		if err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, view)
	}
}

// SelectOptionHandler records an answer for the session.
// POST /api/quiz/session/{sessionID}/select {question_id, display_index}
func SelectOptionHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QuestionID   int64 `json:"question_id"`
			DisplayIndex int   `json:"display_index"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		userID, ok := subjectID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, ErrMissingUser.Error())
			return
		}
		id := chi.URLParam(r, "sessionID")
		if err := engine.SelectOption(id, userID, req.QuestionID, req.DisplayIndex); err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"message": "Respuesta registrada"})
	}
}

// AdvanceHandler moves the session to its next question; on the last
// question it submits.
// POST /api/quiz/session/{sessionID}/advance
func AdvanceHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := subjectID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, ErrMissingUser.Error())
			return
		}
		id := chi.URLParam(r, "sessionID")
		out, err := engine.Advance(r.Context(), id, userID)
		if err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// SubmitSessionHandler is the shared submit path: the terminal question's
// button as well as every forced trigger (tab hidden, in-app navigation
// away, logout) lands here.
// POST /api/quiz/session/{sessionID}/submit
func SubmitSessionHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := subjectID(r)
		if !ok {
			httpx.Error(w, http.StatusBadRequest, ErrMissingUser.Error())
			return
		}
		id := chi.URLParam(r, "sessionID")
		out, err := engine.Submit(r.Context(), id, userID)
		if err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// LogoutHandler force-submits any active quiz before the client clears its
// stored session.
// POST /auth/logout
func LogoutHandler(engine *Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := subjectID(r)
		if !ok {
			httpx.JSON(w, http.StatusOK, map[string]string{"message": "Sesión cerrada"})
			return
		}
		out, err := engine.ForceSubmitForUser(r.Context(), userID)
		if err != nil {
			httpx.Error(w, statusFor(err), err.Error())
			return
		}
		resp := map[string]interface{}{"message": "Sesión cerrada"}
		if out != nil && out.Result != nil {
			resp["evaluation"] = out.Result
		}
		httpx.JSON(w, http.StatusOK, resp)
	}
}

func studentView(qs []Question) []StudentQuestion {
	out := make([]StudentQuestion, 0, len(qs))
	for _, q := range qs {
		out = append(out, StudentQuestion{
			ID:                     q.ID,
			TextoPregunta:          q.TextoPregunta,
			Opciones:               q.Opciones,
			ImagenURL:              q.ImagenURL,
			TimePerQuestionSeconds: q.TimePerQuestionSeconds,
		})
	}
	return out
}

func subjectID(r *http.Request) (int64, bool) {
	sub := rbac.SubjectFromContext(r.Context())
	if sub == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	return id, err == nil && id > 0
}

func actingOnSelf(r *http.Request, userID int64) bool {
	if rbac.RoleFromContext(r.Context()) == rbac.RoleAdmin {
		return true
	}
	id, ok := subjectID(r)
	return ok && id == userID
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrUserNotFound), errors.Is(err, ErrLessonNotFound), errors.Is(err, ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrSubmissionInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrQuestionNotInSession), errors.Is(err, ErrBadOptionIndex),
		errors.Is(err, ErrMissingUser), errors.Is(err, ErrSessionNotActive):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
