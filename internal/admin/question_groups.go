package admin

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/euler-pro/platform/internal/httpx"
)

type questionGroupDTO struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	QuestionCount int    `json:"question_count"`
}

// POST /api/admin/question_groups
func CreateQuestionGroupHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			httpx.Error(w, http.StatusBadRequest, "Nombre de grupo requerido")
			return
		}
		var exists int
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM question_groups WHERE name=$1`, req.Name).Scan(&exists)
		if err == nil {
			httpx.Error(w, http.StatusConflict, "Grupo con este nombre ya existe")
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear grupo de preguntas")
			return
		}
		var id int64
		if err := dbh.QueryRowContext(r.Context(),
			`INSERT INTO question_groups (name) VALUES ($1) RETURNING id`, req.Name).Scan(&id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear grupo de preguntas")
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]interface{}{
			"id": id, "name": req.Name, "message": "Grupo de preguntas creado", "question_count": 0,
		})
	}
}

// GET /api/admin/question_groups
func ListQuestionGroupsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := dbh.QueryContext(r.Context(), `
			SELECT g.id, g.name,
			       (SELECT COUNT(*) FROM questions q WHERE q.question_group_id = g.id)
			FROM question_groups g ORDER BY g.name`)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener grupos de preguntas")
			return
		}
		defer rows.Close()
		out := []questionGroupDTO{}
		for rows.Next() {
			var g questionGroupDTO
			if err := rows.Scan(&g.ID, &g.Name, &g.QuestionCount); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener grupos de preguntas")
				return
			}
			out = append(out, g)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// PUT /api/admin/question_groups/{groupID}
func UpdateQuestionGroupHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}
		var req struct {
			Name string `json:"name"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			httpx.Error(w, http.StatusBadRequest, "El nombre del grupo es requerido")
			return
		}
		var curName string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM question_groups WHERE id=$1`, id).Scan(&curName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de preguntas no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar grupo de preguntas")
			return
		}
		if req.Name != curName {
			var exists int
			err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM question_groups WHERE name=$1`, req.Name).Scan(&exists)
			if err == nil {
				httpx.Error(w, http.StatusConflict, "Un grupo de preguntas con este nombre ya existe")
				return
			}
			if !errors.Is(err, sql.ErrNoRows) {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar grupo de preguntas")
				return
			}
		}
		if _, err := dbh.ExecContext(r.Context(), `UPDATE question_groups SET name=$1 WHERE id=$2`, req.Name, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar grupo de preguntas")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"id": id, "name": req.Name, "message": "Grupo de preguntas actualizado",
		})
	}
}

// DELETE /api/admin/question_groups/{groupID}
// Questions in the group are left ungrouped (FK SET NULL), not deleted.
func DeleteQuestionGroupHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}
		var name string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM question_groups WHERE id=$1`, id).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de preguntas no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar grupo de preguntas")
			return
		}
		if _, err := dbh.ExecContext(r.Context(), `DELETE FROM question_groups WHERE id=$1`, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar grupo de preguntas")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Grupo de preguntas '%s' eliminado. Las preguntas asociadas ahora no tienen grupo.", name),
		})
	}
}
