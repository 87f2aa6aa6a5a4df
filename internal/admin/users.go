package admin

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/euler-pro/platform/internal/auth"
	"github.com/euler-pro/platform/internal/httpx"
	"github.com/euler-pro/platform/internal/rbac"
)

type userDTO struct {
	ID        int64   `json:"id"`
	Nombres   *string `json:"nombres"`
	Apellidos *string `json:"apellidos"`
	Correo    string  `json:"correo"`
	Edad      *int    `json:"edad"`
	Role      string  `json:"role"`
}

// POST /api/admin/create_user
func CreateUserHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Nombres   string `json:"nombres"`
			Apellidos string `json:"apellidos"`
			Edad      *int   `json:"edad"`
			Correo    string `json:"correo"`
			Password  string `json:"password"`
			Role      string `json:"role"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		if req.Role == "" {
			req.Role = rbac.RoleStudent
		}
		if req.Nombres == "" || req.Apellidos == "" || req.Edad == nil || req.Correo == "" || req.Password == "" {
			httpx.Error(w, http.StatusBadRequest, "Faltan campos requeridos")
			return
		}
		if *req.Edad < 0 {
			httpx.Error(w, http.StatusBadRequest, "La edad debe ser un número entero no negativo")
			return
		}
		if req.Role != rbac.RoleStudent && req.Role != rbac.RoleAdmin {
			httpx.Error(w, http.StatusBadRequest, "Rol inválido. Debe ser 'estudiante' o 'administrador'")
			return
		}

		var exists int
		err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM users WHERE correo=$1`, req.Correo).Scan(&exists)
		if err == nil {
			httpx.Error(w, http.StatusConflict, "Un usuario con este correo ya existe")
			return
		}
		if !errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear usuario")
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear usuario")
			return
		}
		var id int64
		if err := dbh.QueryRowContext(r.Context(), `
			INSERT INTO users (nombres, apellidos, edad, correo, password_hash, role)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			req.Nombres, req.Apellidos, *req.Edad, req.Correo, hash, req.Role).Scan(&id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al crear usuario")
			return
		}
		httpx.JSON(w, http.StatusCreated, map[string]interface{}{
			"message": fmt.Sprintf("Usuario '%s' creado.", req.Correo),
			"user": userDTO{
				ID: id, Nombres: &req.Nombres, Apellidos: &req.Apellidos,
				Correo: req.Correo, Edad: req.Edad, Role: req.Role,
			},
		})
	}
}

// GET /api/admin/users?role=...  and  GET /api/admin/users/all
func ListUsersHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := r.URL.Query().Get("role")
		var (
			rows *sql.Rows
			err  error
		)
		if role == "" {
			rows, err = dbh.QueryContext(r.Context(), `
				SELECT id, nombres, apellidos, correo, edad, role FROM users ORDER BY nombres, apellidos`)
		} else {
			rows, err = dbh.QueryContext(r.Context(), `
				SELECT id, nombres, apellidos, correo, edad, role FROM users WHERE role=$1 ORDER BY nombres, apellidos`, role)
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener usuarios")
			return
		}
		defer rows.Close()
		out := []userDTO{}
		for rows.Next() {
			var u userDTO
			var nombres, apellidos sql.NullString
			var edad sql.NullInt64
			if err := rows.Scan(&u.ID, &nombres, &apellidos, &u.Correo, &edad, &u.Role); err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener usuarios")
				return
			}
			if nombres.Valid {
				u.Nombres = &nombres.String
			}
			if apellidos.Valid {
				u.Apellidos = &apellidos.String
			}
			if edad.Valid {
				v := int(edad.Int64)
				u.Edad = &v
			}
			out = append(out, u)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// PUT /api/admin/users/{userID}
func UpdateUserHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "userID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario inválido")
			return
		}
		var req struct {
			Nombres   *string `json:"nombres"`
			Apellidos *string `json:"apellidos"`
			Edad      *int    `json:"edad"`
			Correo    *string `json:"correo"`
			Role      *string `json:"role"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}

		var cur userDTO
		var nombres, apellidos sql.NullString
		var edad sql.NullInt64
		err := dbh.QueryRowContext(r.Context(), `
			SELECT id, nombres, apellidos, correo, edad, role FROM users WHERE id=$1`, id).
			Scan(&cur.ID, &nombres, &apellidos, &cur.Correo, &edad, &cur.Role)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar usuario")
			return
		}
		if nombres.Valid {
			cur.Nombres = &nombres.String
		}
		if apellidos.Valid {
			cur.Apellidos = &apellidos.String
		}
		if edad.Valid {
			v := int(edad.Int64)
			cur.Edad = &v
		}

		if req.Nombres != nil {
			cur.Nombres = req.Nombres
		}
		if req.Apellidos != nil {
			cur.Apellidos = req.Apellidos
		}
		if req.Edad != nil {
			if *req.Edad < 0 {
				httpx.Error(w, http.StatusBadRequest, "La edad debe ser un número no negativo")
				return
			}
			cur.Edad = req.Edad
		}
		if req.Correo != nil && *req.Correo != cur.Correo {
			var exists int
			err := dbh.QueryRowContext(r.Context(),
				`SELECT 1 FROM users WHERE correo=$1 AND id<>$2`, *req.Correo, id).Scan(&exists)
			if err == nil {
				httpx.Error(w, http.StatusConflict, "Este correo ya está en uso por otro usuario")
				return
			}
			if !errors.Is(err, sql.ErrNoRows) {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar usuario")
				return
			}
			cur.Correo = *req.Correo
		}
		if req.Role != nil {
			if *req.Role != rbac.RoleStudent && *req.Role != rbac.RoleAdmin {
				httpx.Error(w, http.StatusBadRequest, "Rol inválido. Debe ser 'estudiante' o 'administrador'")
				return
			}
			cur.Role = *req.Role
		}

		if _, err := dbh.ExecContext(r.Context(), `
			UPDATE users SET nombres=$1, apellidos=$2, edad=$3, correo=$4, role=$5 WHERE id=$6`,
			cur.Nombres, cur.Apellidos, cur.Edad, cur.Correo, cur.Role, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar usuario")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"message": "Usuario actualizado",
			"user":    cur,
		})
	}
}

// PUT /api/admin/users/{userID}/password
func ChangeUserPasswordHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "userID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario inválido")
			return
		}
		var req struct {
			NewPassword string `json:"new_password"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		if req.NewPassword == "" {
			httpx.Error(w, http.StatusBadRequest, "Nueva contraseña requerida")
			return
		}
		if len(req.NewPassword) < 6 {
			httpx.Error(w, http.StatusBadRequest, "La nueva contraseña debe tener al menos 6 caracteres")
			return
		}
		var correo string
		err := dbh.QueryRowContext(r.Context(), `SELECT correo FROM users WHERE id=$1`, id).Scan(&correo)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al cambiar la contraseña")
			return
		}
		hash, err := auth.HashPassword(req.NewPassword)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al cambiar la contraseña")
			return
		}
		if _, err := dbh.ExecContext(r.Context(), `UPDATE users SET password_hash=$1 WHERE id=$2`, hash, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al cambiar la contraseña")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Contraseña para el usuario '%s' actualizada exitosamente.", correo),
		})
	}
}

// DELETE /api/admin/users/{userID}
func DeleteUserHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "userID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de usuario inválido")
			return
		}
		var correo string
		err := dbh.QueryRowContext(r.Context(), `SELECT correo FROM users WHERE id=$1`, id).Scan(&correo)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Usuario no encontrado")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar el usuario")
			return
		}
		if _, err := dbh.ExecContext(r.Context(), `DELETE FROM users WHERE id=$1`, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar el usuario")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Usuario '%s' y todos sus datos asociados han sido eliminados.", correo),
		})
	}
}
