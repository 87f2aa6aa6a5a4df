package auth

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/euler-pro/platform/internal/httpx"
)

// POST /auth/login  { "correo": "...", "password": "..." }
func LoginHandler(dbh *sql.DB, a *AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Correo   string `json:"correo"`
			Password string `json:"password"`
		}
		if err := httpx.Decode(r, &req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "No se recibieron datos")
			return
		}
		req.Correo = strings.TrimSpace(req.Correo)
		if req.Correo == "" || req.Password == "" {
			httpx.Error(w, http.StatusBadRequest, "Faltan correo/usuario o contraseña")
			return
		}

		var (
			id      int64
			nombres sql.NullString
			hash    string
			role    string
		)
		err := dbh.QueryRowContext(r.Context(),
			`SELECT id, nombres, password_hash, role FROM users WHERE correo=$1`,
			req.Correo,
		).Scan(&id, &nombres, &hash, &role)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusUnauthorized, "Correo/usuario o contraseña incorrectos")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al iniciar sesión")
			return
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)) != nil {
			httpx.Error(w, http.StatusUnauthorized, "Correo/usuario o contraseña incorrectos")
			return
		}

		tok, err := a.IssueJWT(strconv.FormatInt(id, 10), role, nombres.String)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al emitir la sesión")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]interface{}{
			"message":      "Login exitoso",
			"access_token": tok,
			"username":     req.Correo,
			"user_id":      id,
			"role":         role,
			"nombres":      nombres.String,
		})
	}
}

// HashPassword wraps bcrypt for the admin user handlers.
func HashPassword(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), 12)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
