package auth

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/euler-pro/platform/internal/db"
	"github.com/euler-pro/platform/internal/rbac"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)

	tok, err := svc.IssueJWT("42", rbac.RoleStudent, "Ana")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Sub != "42" || claims.Role != rbac.RoleStudent || claims.Name != "Ana" {
		t.Fatalf("claims: %+v", claims)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	tok, err := NewAuthService("secret-a", time.Hour).IssueJWT("1", rbac.RoleAdmin, "")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := NewAuthService("secret-b", time.Hour).Parse(tok); err == nil {
		t.Fatal("token signed with another secret must not parse")
	}
}

func openLoginDB(t *testing.T) *sql.DB {
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

func TestLoginHappyPath(t *testing.T) {
	dbh := openLoginDB(t)
	hash, err := HashPassword("clave123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := dbh.Exec(`
		INSERT INTO users (nombres, apellidos, edad, correo, password_hash, role)
		VALUES ('Ana','Gómez',20,'ana@example.com',$1,'estudiante')`, hash); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := NewAuthService("test-secret", time.Hour)
	body, _ := json.Marshal(map[string]string{"correo": "ana@example.com", "password": "clave123"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	LoginHandler(dbh, svc)(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Message     string `json:"message"`
		AccessToken string `json:"access_token"`
		Role        string `json:"role"`
		Nombres     string `json:"nombres"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Message != "Login exitoso" || resp.Role != "estudiante" || resp.Nombres != "Ana" {
		t.Fatalf("response: %+v", resp)
	}

	claims, err := svc.Parse(resp.AccessToken)
	if err != nil {
		t.Fatalf("issued token does not parse: %v", err)
	}
	if claims.Role != rbac.RoleStudent {
		t.Fatalf("token role: %q", claims.Role)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	dbh := openLoginDB(t)
	hash, _ := HashPassword("clave123")
	if _, err := dbh.Exec(`
		INSERT INTO users (correo, password_hash, role) VALUES ('ana@example.com',$1,'estudiante')`, hash); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body, _ := json.Marshal(map[string]string{"correo": "ana@example.com", "password": "otra"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	LoginHandler(dbh, NewAuthService("test-secret", time.Hour))(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
}

func TestJWTMiddlewarePutsIdentityInContext(t *testing.T) {
	svc := NewAuthService("test-secret", time.Hour)
	tok, err := svc.IssueJWT("42", rbac.RoleAdmin, "Admin")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	var gotRole, gotSub string
	h := JWTMiddleware(svc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRole = rbac.RoleFromContext(r.Context())
		gotSub = rbac.SubjectFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotRole != rbac.RoleAdmin || gotSub != "42" {
		t.Fatalf("context identity: role=%q sub=%q", gotRole, gotSub)
	}
}

func TestJWTMiddlewareRejectsMissingTokenWithOrigin(t *testing.T) {
	h := JWTMiddleware(NewAuthService("test-secret", time.Hour))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status: got %d, want 401", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["from"] != "/api/history" {
		t.Fatalf("from: got %q", body["from"])
	}
}
