package rbac

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStudentPermissions(t *testing.T) {
	c := NewChecker(nil)

	if !c.Has(RoleStudent, "quiz:take") {
		t.Fatal("student should be able to take quizzes")
	}
	if c.Has(RoleStudent, "admin:manage") {
		t.Fatal("student must not hold admin permissions")
	}
	if !c.Has(RoleAdmin, "admin:manage") || !c.Has(RoleAdmin, "quiz:take") {
		t.Fatal("admin wildcard should cover everything")
	}
	if c.Has("desconocido", "quiz:take") {
		t.Fatal("unknown role should hold nothing")
	}
}

func TestRequireBlocksBeforeHandler(t *testing.T) {
	reached := false
	h := Require("admin:manage")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req = req.WithContext(WithRole(req.Context(), RoleStudent))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if reached {
		t.Fatal("handler ran despite the missing permission")
	}
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status: got %d, want 403", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body: %v", err)
	}
	if body["from"] != "/api/admin/users" {
		t.Fatalf("from: got %q", body["from"])
	}
}

func TestRequireAllowsAdminThrough(t *testing.T) {
	reached := false
	h := Require("admin:manage")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
	req = req.WithContext(WithRole(req.Context(), RoleAdmin))
	h.ServeHTTP(httptest.NewRecorder(), req)

	if !reached {
		t.Fatal("admin should pass the guard")
	}
}
