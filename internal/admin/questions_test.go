package admin

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/euler-pro/platform/internal/quiz"
	"github.com/euler-pro/platform/internal/storage"
)

func multipartForm(t *testing.T, fields map[string]string, fileField, fileName string, fileBody []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if fileField != "" {
		fw, err := w.CreateFormFile(fileField, fileName)
		if err != nil {
			t.Fatalf("create file part: %v", err)
		}
		if _, err := fw.Write(fileBody); err != nil {
			t.Fatalf("write file part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestCreateQuestionValidatesCorrectIndex(t *testing.T) {
	dbh := openTestDB(t)
	bs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	body, ct := multipartForm(t, map[string]string{
		"texto_pregunta":            "2+2?",
		"opciones":                  "3,4",
		"respuesta_correcta_indice": "5",
	}, "", "", nil)

	req := httptest.NewRequest(http.MethodPost, "/api/admin/questions", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	CreateQuestionHandler(dbh, bs)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var count int
	if err := dbh.QueryRow(`SELECT COUNT(*) FROM questions`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("questions written: %d", count)
	}
}

func TestCreateQuestionStoresImage(t *testing.T) {
	dbh := openTestDB(t)
	base := t.TempDir()
	bs, err := storage.NewFSStore(base)
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	body, ct := multipartForm(t, map[string]string{
		"texto_pregunta":            "¿Qué figura es?",
		"opciones":                  "círculo,cuadrado,triángulo",
		"respuesta_correcta_indice": "0",
		"procedimiento_resolucion":  "observa los lados",
	}, "imagen_pregunta", "figura.png", []byte("png-bytes"))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/questions", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	CreateQuestionHandler(dbh, bs)(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var q quiz.Question
	if err := json.Unmarshal(rec.Body.Bytes(), &q); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(q.ImagenURL, "question_images/") || !strings.HasSuffix(q.ImagenURL, "_figura.png") {
		t.Fatalf("imagen_url: %q", q.ImagenURL)
	}
	if len(q.Opciones) != 3 || q.Opciones[2] != "triángulo" {
		t.Fatalf("opciones: %v", q.Opciones)
	}

	if _, err := os.Stat(filepath.Join(base, filepath.FromSlash(q.ImagenURL))); err != nil {
		t.Fatalf("stored file: %v", err)
	}
}

func TestCreateQuestionRejectsUnknownImageType(t *testing.T) {
	dbh := openTestDB(t)
	bs, err := storage.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	body, ct := multipartForm(t, map[string]string{
		"texto_pregunta":            "2+2?",
		"opciones":                  "3,4",
		"respuesta_correcta_indice": "1",
	}, "imagen_pregunta", "nota.txt", []byte("texto"))

	req := httptest.NewRequest(http.MethodPost, "/api/admin/questions", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	CreateQuestionHandler(dbh, bs)(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d, body %s", rec.Code, rec.Body.String())
	}
}
