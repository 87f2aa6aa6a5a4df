package admin

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/euler-pro/platform/internal/httpx"
	"github.com/euler-pro/platform/internal/rbac"
)

type studentGroupDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MemberCount int    `json:"member_count"`
}

// POST /api/admin/student_groups
func CreateStudentGroupHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
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
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM student_groups WHERE name=$1`, req.Name).Scan(&exists)
		if err == nil {
			httpx.Error(w, http.StatusConflict, "Un grupo de estudiantes con este nombre ya existe")
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear grupo de estudiantes")
			return
		}
		var id int64
		if err := dbh.QueryRowContext(r.Context(), `
			INSERT INTO student_groups (name, description) VALUES ($1,$2) RETURNING id`,
			req.Name, req.Description).Scan(&id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear grupo de estudiantes")
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]interface{}{
			"id": id, "name": req.Name, "description": req.Description,
			"message": "Grupo de estudiantes creado", "member_count": 0,
		})
	}
}

// GET /api/admin/student_groups
func ListStudentGroupsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := dbh.QueryContext(r.Context(), `
			SELECT g.id, g.name, COALESCE(g.description,''),
			       (SELECT COUNT(*) FROM student_group_membership m WHERE m.student_group_id = g.id)
			FROM student_groups g ORDER BY g.name`)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener grupos de estudiantes")
			return
		}
		defer rows.Close()
		out := []studentGroupDTO{}
		for rows.Next() {
			var g studentGroupDTO
			if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.MemberCount); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener grupos de estudiantes")
				return
			}
			out = append(out, g)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// DELETE /api/admin/student_groups/{groupID}
func DeleteStudentGroupHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}
		var name string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM student_groups WHERE id=$1`, id).Scan(&name)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de estudiantes no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar el grupo de estudiantes")
			return
		}
		if _, err := dbh.ExecContext(r.Context(), `DELETE FROM student_groups WHERE id=$1`, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar el grupo de estudiantes")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Grupo de estudiantes '%s' eliminado.", name),
		})
	}
}

// GET /api/admin/student_groups/{groupID}/members
func ListGroupMembersHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}
		var exists int
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM student_groups WHERE id=$1`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de estudiantes no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener miembros")
			return
		}
		rows, err := dbh.QueryContext(r.Context(), `
			SELECT u.id, u.nombres, u.apellidos, u.correo
			FROM users u
			JOIN student_group_membership m ON m.user_id = u.id
			WHERE m.student_group_id=$1 ORDER BY u.nombres, u.apellidos`, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener miembros")
			return
		}
		defer rows.Close()
		out := []map[string]interface{}{}
		for rows.Next() {
			var uid int64
			var nombres, apellidos sql.NullString
			var correo string
			if err := rows.Scan(&uid, &nombres, &apellidos, &correo); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener miembros")
				return
			}
			out = append(out, map[string]interface{}{
				"id": uid, "nombres": nombres.String, "apellidos": apellidos.String, "correo": correo,
			})
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// POST /api/admin/student_groups/{groupID}/members  { "user_id": N }
//
// Batch assignment is driven client-side as N individual calls; the response
// distinguishes added vs already-a-member so callers can aggregate a partial
// summary without rollback.
func AddGroupMemberHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}
		var req struct {
			UserID int64 `json:"user_id"`
		}
		if err := httpx.Decode(r, &req); err != nil || req.UserID <= 0 {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario requerido")
			return
		}

		var groupName string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM student_groups WHERE id=$1`, groupID).Scan(&groupName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de estudiantes no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al añadir estudiante al grupo")
			return
		}

		var nombres, apellidos sql.NullString
		var role string
		err = dbh.QueryRowContext(r.Context(),
			`SELECT nombres, apellidos, role FROM users WHERE id=$1`, req.UserID).
			Scan(&nombres, &apellidos, &role)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al añadir estudiante al grupo")
			return
		}
		if role != rbac.RoleStudent {
			httpx.Error(w, http.StatusBadRequest,
				"Solo los usuarios con rol 'estudiante' pueden ser añadidos a grupos de estudiantes.")
			return
		}

		var member int
		err = dbh.QueryRowContext(r.Context(), `
			SELECT 1 FROM student_group_membership WHERE user_id=$1 AND student_group_id=$2`,
			req.UserID, groupID).Scan(&member)
		if err == nil {
			httpx.JSON(w, http.StatusOK, map[string]string{"message": "El estudiante ya es miembro de este grupo."})
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al añadir estudiante al grupo")
			return
		}

		if _, err := dbh.ExecContext(r.Context(), `
			INSERT INTO student_group_membership (user_id, student_group_id) VALUES ($1,$2)`,
			req.UserID, groupID); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al añadir estudiante al grupo")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Estudiante '%s %s' añadido al grupo '%s'.",
				nombres.String, apellidos.String, groupName),
		})
	}
}

// DELETE /api/admin/student_groups/{groupID}/members/{userID}
func RemoveGroupMemberHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		groupID, ok := pathID(r, "groupID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de grupo inválido")
			return
		}
		userID, ok := pathID(r, "userID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario inválido")
			return
		}
		var groupName string
		err := dbh.QueryRowContext(r.Context(), `SELECT name FROM student_groups WHERE id=$1`, groupID).Scan(&groupName)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Grupo de estudiantes no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al quitar estudiante del grupo")
			return
		}
		var nombres, apellidos sql.NullString
		err = dbh.QueryRowContext(r.Context(),
			`SELECT nombres, apellidos FROM users WHERE id=$1`, userID).Scan(&nombres, &apellidos)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al quitar estudiante del grupo")
			return
		}

		res, err := dbh.ExecContext(r.Context(), `
			DELETE FROM student_group_membership WHERE user_id=$1 AND student_group_id=$2`,
			userID, groupID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al quitar estudiante del grupo")
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			httpx.Error(w, http.StatusNotFound, "El estudiante no es miembro de este grupo.")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Estudiante '%s %s' eliminado del grupo '%s'.",
				nombres.String, apellidos.String, groupName),
		})
	}
}
