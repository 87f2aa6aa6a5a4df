package admin

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/euler-pro/platform/internal/httpx"
)

type lessonConfigInput struct {
	QuestionGroupID       int64 `json:"question_group_id"`
	NumQuestionsToSelect  int   `json:"num_questions_to_select"`
	TimePerQuestionSecond int   `json:"time_per_question_seconds"`
}

type lessonInput struct {
	Name                    *string             `json:"name"`
	Description             *string             `json:"description"`
	Configurations          []lessonConfigInput `json:"configurations"`
	AssignedStudentGroupIDs []int64             `json:"assigned_student_group_ids"`
}

type lessonConfigDTO struct {
	ID                    int64  `json:"id"`
	LessonID              int64  `json:"lesson_id"`
	QuestionGroupID       int64  `json:"question_group_id"`
	QuestionGroupName     string `json:"question_group_name"`
	NumQuestionsToSelect  int    `json:"num_questions_to_select"`
	TimePerQuestionSecond int    `json:"time_per_question_seconds"`
}

type lessonDTO struct {
	ID                         int64             `json:"id"`
	Name                       string            `json:"name"`
	Description                string            `json:"description"`
	TotalQuestions             int               `json:"total_questions"`
	AssignedStudentGroupsCount int               `json:"assigned_student_groups_count"`
	CreatedAt                  string            `json:"created_at"`
	UpdatedAt                  string            `json:"updated_at"`
	Configurations             []lessonConfigDTO `json:"configurations"`
	AssignedStudentGroupIDs    []int64           `json:"assigned_student_group_ids"`
}

// validateLessonConfigs checks each configuration row: the question group must
// exist and num_questions_to_select must be at least 1 and no larger than the
// group's available question count. Returns an HTTP status and message on
// failure.
func validateLessonConfigs(ctx context.Context, q queryer, configs []lessonConfigInput) (int, string) {
	for _, c := range configs {
		if c.QuestionGroupID == 0 || c.NumQuestionsToSelect <= 0 {
			return http.StatusBadRequest, "Configuración de grupo inválida: falta ID de grupo de preguntas o N° de preguntas es <= 0"
		}
		if c.TimePerQuestionSecond < 0 {
			return http.StatusBadRequest, "El tiempo por pregunta no puede ser negativo"
		}
		var available int
		err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM questions WHERE question_group_id=$1`, c.QuestionGroupID).Scan(&available)
		if err != nil {
			return http.StatusInternalServerError, "Error interno al validar la configuración"
		}
		var exists int
		if err := q.QueryRowContext(ctx,
			`SELECT 1 FROM question_groups WHERE id=$1`, c.QuestionGroupID).Scan(&exists); err != nil {
			return http.StatusNotFound, fmt.Sprintf("Grupo de preguntas con ID %d no encontrado", c.QuestionGroupID)
		}
		if c.NumQuestionsToSelect > available {
			return http.StatusBadRequest, fmt.Sprintf(
				"El grupo de preguntas ID %d solo tiene %d preguntas disponibles; no se pueden seleccionar %d",
				c.QuestionGroupID, available, c.NumQuestionsToSelect)
		}
	}
	return 0, ""
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// POST /api/admin/lessons
func CreateLessonHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in lessonInput
		if err := httpx.Decode(r, &in); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		if in.Name == nil || strings.TrimSpace(*in.Name) == "" {
			httpx.Error(w, http.StatusBadRequest, "El nombre de la lección es obligatorio")
			return
		}
		if len(in.Configurations) == 0 {
			httpx.Error(w, http.StatusBadRequest, "Se requiere al menos una configuración de preguntas para la lección")
			return
		}
		if status, msg := validateLessonConfigs(r.Context(), dbh, in.Configurations); status != 0 {
			httpx.Error(w, status, msg)
			return
		}

		tx, err := dbh.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear la lección")
			return
		}
		defer tx.Rollback()

		now := time.Now().Unix()
		desc := ""
		if in.Description != nil {
			desc = *in.Description
		}
		var lessonID int64
		if err := tx.QueryRowContext(r.Context(), `
			INSERT INTO lessons (name, description, created_at, updated_at)
			VALUES ($1,$2,$3,$4) RETURNING id`,
			strings.TrimSpace(*in.Name), desc, now, now).Scan(&lessonID); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear la lección")
			return
		}
		if err := insertLessonChildren(r.Context(), tx, lessonID, in.Configurations, in.AssignedStudentGroupIDs); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear la lección")
			return
		}
		if err := tx.Commit(); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear la lección")
			return
		}

		dto, err := loadLesson(r.Context(), dbh, lessonID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear la lección")
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]interface{}{
			"message": "Lección creada exitosamente",
			"lesson":  dto,
		})
	}
}

// GET /api/admin/lessons
func ListLessonsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := dbh.QueryContext(r.Context(), `SELECT id FROM lessons ORDER BY name`)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones")
			return
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones")
				return
			}
			ids = append(ids, id)
		}
		out := []lessonDTO{}
		for _, id := range ids {
			dto, err := loadLesson(r.Context(), dbh, id)
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener lecciones")
				return
			}
			out = append(out, dto)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// GET /api/admin/lessons/{lessonID}
func GetLessonHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "lessonID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de lección inválido")
			return
		}
		dto, err := loadLesson(r.Context(), dbh, id)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Lección no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener la lección")
			return
		}
		httpx.JSON(w, http.StatusOK, dto)
	}
}

// PUT /api/admin/lessons/{lessonID}
// Configurations and group assignments, when present in the payload, replace
// the stored sets wholesale.
func UpdateLessonHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "lessonID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de lección inválido")
			return
		}
		var in lessonInput
		if err := httpx.Decode(r, &in); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}

		var name, desc string
		err := dbh.QueryRowContext(r.Context(), `SELECT name, COALESCE(description,'') FROM lessons WHERE id=$1`, id).
			Scan(&name, &desc)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Lección no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
			return
		}

		if in.Name != nil {
			name = strings.TrimSpace(*in.Name)
			if name == "" {
				httpx.Error(w, http.StatusBadRequest, "El nombre de la lección no puede estar vacío")
				return
			}
		}
		if in.Description != nil {
			desc = *in.Description
		}
		if in.Configurations != nil {
			if len(in.Configurations) == 0 {
				httpx.Error(w, http.StatusBadRequest, "Una lección debe tener al menos una configuración de preguntas")
				return
			}
			if status, msg := validateLessonConfigs(r.Context(), dbh, in.Configurations); status != 0 {
				httpx.Error(w, status, msg)
				return
			}
		}

		tx, err := dbh.BeginTx(r.Context(), nil)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
			return
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(r.Context(), `
			UPDATE lessons SET name=$1, description=$2, updated_at=$3 WHERE id=$4`,
			name, desc, time.Now().Unix(), id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
			return
		}
		if in.Configurations != nil {
			if _, err := tx.ExecContext(r.Context(), `DELETE FROM lesson_configurations WHERE lesson_id=$1`, id); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
				return
			}
		}
		if in.AssignedStudentGroupIDs != nil {
			if _, err := tx.ExecContext(r.Context(), `DELETE FROM lesson_student_group_assignment WHERE lesson_id=$1`, id); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
				return
			}
		}
		if err := insertLessonChildren(r.Context(), tx, id, in.Configurations, in.AssignedStudentGroupIDs); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
			return
		}
		if err := tx.Commit(); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
			return
		}

		dto, err := loadLesson(r.Context(), dbh, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar la lección")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"message": "Lección actualizada exitosamente",
			"lesson":  dto,
		})
	}
}

// DELETE /api/admin/lessons/{lessonID}
// Configurations and assignments cascade; past evaluations keep a NULL lesson.
func DeleteLessonHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "lessonID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de lección inválido")
			return
		}
		var name string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM lessons WHERE id=$1`, id).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Lección no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar la lección")
			return
		}
		if _, err := dbh.ExecContext(r.Context(), `DELETE FROM lessons WHERE id=$1`, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar la lección")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Lección '%s' eliminada exitosamente", name),
		})
	}
}

func insertLessonChildren(ctx context.Context, tx *sql.Tx, lessonID int64, configs []lessonConfigInput, groupIDs []int64) error {
	for _, c := range configs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lesson_configurations (lesson_id, question_group_id, num_questions_to_select, time_per_question_seconds)
			VALUES ($1,$2,$3,$4)`,
			lessonID, c.QuestionGroupID, c.NumQuestionsToSelect, c.TimePerQuestionSecond); err != nil {
			return err
		}
	}
	for _, gid := range groupIDs {
		// unknown group ids are skipped rather than failing the whole write
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM student_groups WHERE id=$1`, gid).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO lesson_student_group_assignment (lesson_id, student_group_id)
			VALUES ($1,$2)`, lessonID, gid); err != nil {
			return err
		}
	}
	return nil
}

func loadLesson(ctx context.Context, dbh *sql.DB, id int64) (lessonDTO, error) {
	var dto lessonDTO
	var desc sql.NullString
	var createdAt, updatedAt int64
	err := dbh.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, updated_at FROM lessons WHERE id=$1`, id).
		Scan(&dto.ID, &dto.Name, &desc, &createdAt, &updatedAt)
	if err != nil {
		return dto, err
	}
	dto.Description = desc.String
	dto.CreatedAt = time.Unix(createdAt, 0).UTC().Format(time.RFC3339)
	dto.UpdatedAt = time.Unix(updatedAt, 0).UTC().Format(time.RFC3339)

	rows, err := dbh.QueryContext(ctx, `
		SELECT c.id, c.lesson_id, c.question_group_id, g.name, c.num_questions_to_select, c.time_per_question_seconds
		FROM lesson_configurations c
		JOIN question_groups g ON g.id = c.question_group_id
		WHERE c.lesson_id=$1 ORDER BY c.id`, id)
	if err != nil {
		return dto, err
	}
	defer rows.Close()
	dto.Configurations = []lessonConfigDTO{}
	for rows.Next() {
		var c lessonConfigDTO
		if err := rows.Scan(&c.ID, &c.LessonID, &c.QuestionGroupID, &c.QuestionGroupName,
			&c.NumQuestionsToSelect, &c.TimePerQuestionSecond); err != nil {
			return dto, err
		}
		dto.TotalQuestions += c.NumQuestionsToSelect
		dto.Configurations = append(dto.Configurations, c)
	}

	grs, err := dbh.QueryContext(ctx, `
		SELECT student_group_id FROM lesson_student_group_assignment
		WHERE lesson_id=$1 ORDER BY student_group_id`, id)
	if err != nil {
		return dto, err
	}
	defer grs.Close()
	dto.AssignedStudentGroupIDs = []int64{}
	for grs.Next() {
		var gid int64
		if err := grs.Scan(&gid); err != nil {
			return dto, err
		}
		dto.AssignedStudentGroupIDs = append(dto.AssignedStudentGroupIDs, gid)
	}
	dto.AssignedStudentGroupsCount = len(dto.AssignedStudentGroupIDs)
	return dto, nil
}
