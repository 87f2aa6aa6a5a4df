package admin

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/euler-pro/platform/internal/httpx"
	"github.com/euler-pro/platform/internal/quiz"
	"github.com/euler-pro/platform/internal/storage"
)

const maxImageUpload = 10 << 20 // 10 MiB form memory budget

var allowedImageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
}

// POST /api/admin/questions  (multipart/form-data)
func CreateQuestionHandler(dbh *sql.DB, bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(maxImageUpload); err != nil {
			httpx.Error(w, http.StatusBadRequest, "Formulario inválido")
			return
		}

		texto := r.FormValue("texto_pregunta")
		if strings.TrimSpace(texto) == "" {
			httpx.Error(w, http.StatusBadRequest, "El texto de la pregunta es requerido")
			return
		}
		opciones := splitOptions(r.FormValue("opciones"))
		if len(opciones) < 1 {
			httpx.Error(w, http.StatusBadRequest, "Debe haber al menos una opción válida")
			return
		}
		correctIdx, err := strconv.Atoi(r.FormValue("respuesta_correcta_indice"))
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, "Índice de respuesta correcta debe ser un número")
			return
		}
		if correctIdx < 0 || correctIdx >= len(opciones) {
			httpx.Error(w, http.StatusBadRequest, "Índice de respuesta correcta fuera de rango")
			return
		}
		procedimiento := r.FormValue("procedimiento_resolucion")

		var groupID *int64
		if raw := r.FormValue("question_group_id"); raw != "" && raw != "null" {
			gid, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				httpx.Error(w, http.StatusBadRequest, "ID de grupo de preguntas inválido")
				return
			}
			var exists int
			if err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM question_groups WHERE id=$1`, gid).Scan(&exists); err != nil {
				httpx.Error(w, http.StatusNotFound, "Grupo de preguntas no encontrado")
				return
			}
			groupID = &gid
		}

		imageKey, err := saveUploadedImage(r, bs)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}

		optsJSON, _ := json.Marshal(opciones)
		var id int64
		err = dbh.QueryRowContext(r.Context(), `
			INSERT INTO questions (texto_pregunta, opciones, respuesta_correcta_indice,
			                       procedimiento_resolucion, question_group_id, imagen_url)
			VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
			texto, string(optsJSON), correctIdx, procedimiento, groupID, nullIfEmpty(imageKey)).Scan(&id)
		if err != nil {
			if imageKey != "" {
				_ = bs.Delete(imageKey) // orphaned upload
			}
			httpx.Error(w, http.StatusInternalServerError, "Error interno al añadir pregunta")
			return
		}

		q, err := loadQuestion(r, dbh, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al añadir pregunta")
			return
		}
		httpx.JSON(w, http.StatusCreated, q)
	}
}

// GET /api/admin/questions?question_group_id=N
// The group filter re-fetches server-side rather than filtering a cached list.
func ListQuestionsHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var (
			rows *sql.Rows
			err  error
		)
		base := `
			SELECT q.id, q.texto_pregunta, q.opciones, q.respuesta_correcta_indice,
			       q.procedimiento_resolucion, q.question_group_id, g.name, q.imagen_url
			FROM questions q LEFT JOIN question_groups g ON g.id = q.question_group_id`
		if raw := r.URL.Query().Get("question_group_id"); raw != "" {
			gid, perr := strconv.ParseInt(raw, 10, 64)
			if perr != nil {
				httpx.Error(w, http.StatusBadRequest, "ID de grupo de preguntas inválido")
				return
			}
			rows, err = dbh.QueryContext(r.Context(), base+` WHERE q.question_group_id=$1 ORDER BY q.id DESC`, gid)
		} else {
			rows, err = dbh.QueryContext(r.Context(), base+` ORDER BY q.id DESC`)
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener preguntas")
			return
		}
		defer rows.Close()

		out := []quiz.Question{}
		for rows.Next() {
			q, err := scanQuestion(rows)
			if err != nil {
				httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener preguntas")
				return
			}
			out = append(out, q)
		}
		httpx.JSON(w, http.StatusOK, out)
	}
}

// GET /api/admin/questions/{questionID}
func GetQuestionHandler(dbh *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "questionID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de pregunta inválido")
			return
		}
		q, err := loadQuestion(r, dbh, id)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Pregunta no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al obtener la pregunta")
			return
		}
		httpx.JSON(w, http.StatusOK, q)
	}
}

// PUT /api/admin/questions/{questionID}  (multipart/form-data)
// "eliminar_imagen_actual"=true drops the stored image; a new upload
// replaces it.
func UpdateQuestionHandler(dbh *sql.DB, bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "questionID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de pregunta inválido")
			return
		}
		if err := r.ParseMultipartForm(maxImageUpload); err != nil {
			httpx.Error(w, http.StatusBadRequest, "Formulario inválido")
			return
		}

		cur, err := loadQuestion(r, dbh, id)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Pregunta no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar pregunta")
			return
		}

		imageKey := cur.ImagenURL
		if r.FormValue("eliminar_imagen_actual") == "true" && imageKey != "" {
			_ = bs.Delete(imageKey)
			imageKey = ""
		}
		if newKey, err := saveUploadedImage(r, bs); err != nil {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		} else if newKey != "" {
			if imageKey != "" {
				_ = bs.Delete(imageKey)
			}
			imageKey = newKey
		}

		texto := cur.TextoPregunta
		if v, ok := formValue(r, "texto_pregunta"); ok {
			if strings.TrimSpace(v) == "" {
				httpx.Error(w, http.StatusBadRequest, "El texto de la pregunta no puede estar vacío")
				return
			}
			texto = v
		}

		opciones := cur.Opciones
		correctIdx := cur.RespuestaCorrectaIndice
		if v, ok := formValue(r, "opciones"); ok {
			opciones = splitOptions(v)
			if len(opciones) < 1 {
				httpx.Error(w, http.StatusBadRequest, "Formato de opciones inválido o menos de 1 opción")
				return
			}
			if raw, ok := formValue(r, "respuesta_correcta_indice"); ok {
				idx, err := strconv.Atoi(raw)
				if err != nil {
					httpx.Error(w, http.StatusBadRequest, "Índice de respuesta correcta debe ser un número")
					return
				}
				correctIdx = idx
			}
			if correctIdx < 0 || correctIdx >= len(opciones) {
				httpx.Error(w, http.StatusBadRequest, "Índice de respuesta correcta fuera de rango para las opciones dadas")
				return
			}
		}

		procedimiento := cur.ProcedimientoResolucion
		if v, ok := formValue(r, "procedimiento_resolucion"); ok {
			procedimiento = v
		}

		groupID := cur.QuestionGroupID
		if raw, ok := formValue(r, "question_group_id"); ok {
			if raw == "" || raw == "null" {
				groupID = nil
			} else {
				gid, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					httpx.Error(w, http.StatusBadRequest, "ID de grupo de preguntas inválido al actualizar")
					return
				}
				var exists int
				if err := dbh.QueryRowContext(r.Context(), `SELECT 1 FROM question_groups WHERE id=$1`, gid).Scan(&exists); err != nil {
					httpx.Error(w, http.StatusNotFound, "Grupo de preguntas no encontrado al actualizar")
					return
				}
				groupID = &gid
			}
		}

		optsJSON, _ := json.Marshal(opciones)
		if _, err := dbh.ExecContext(r.Context(), `
			UPDATE questions SET texto_pregunta=$1, opciones=$2, respuesta_correcta_indice=$3,
			       procedimiento_resolucion=$4, question_group_id=$5, imagen_url=$6
			WHERE id=$7`,
			texto, string(optsJSON), correctIdx, procedimiento, groupID, nullIfEmpty(imageKey), id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar pregunta")
			return
		}

		q, err := loadQuestion(r, dbh, id)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al actualizar pregunta")
			return
		}
		httpx.JSON(w, http.StatusOK, q)
	}
}

// DELETE /api/admin/questions/{questionID}
func DeleteQuestionHandler(dbh *sql.DB, bs storage.BlobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "questionID")
		if !ok {
			httpx.Error(w, http.StatusBadRequest, "ID de pregunta inválido")
			return
		}
		var img sql.NullString
		err := dbh.QueryRowContext(r.Context(), `SELECT imagen_url FROM questions WHERE id=$1`, id).Scan(&img)
		if errors.Is(err, sql.ErrNoRows) {
			httpx.Error(w, http.StatusNotFound, "Pregunta no encontrada")
			return
		}
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar pregunta")
			return
		}
		if img.String != "" {
			_ = bs.Delete(img.String)
		}
		if _, err := dbh.ExecContext(r.Context(), `DELETE FROM questions WHERE id=$1`, id); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "Error interno al eliminar pregunta")
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]string{
			"message": fmt.Sprintf("Pregunta ID %d eliminada.", id),
		})
	}
}

// ---- helpers ----

func splitOptions(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// formValue distinguishes "field absent" from "field empty" so PUT can be
// partial.
func formValue(r *http.Request, name string) (string, bool) {
	if r.MultipartForm == nil {
		return "", false
	}
	vs, ok := r.MultipartForm.Value[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

func saveUploadedImage(r *http.Request, bs storage.BlobStore) (string, error) {
	f, hdr, err := r.FormFile("imagen_pregunta")
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", nil // no usable file part; treat as absent
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(hdr.Filename))
	if !allowedImageExts[ext] {
		return "", errors.New("Tipo de imagen no permitido (png, jpg, jpeg, gif)")
	}
	key := path.Join("question_images",
		time.Now().Format("20060102150405.000000")+"_"+sanitizeFilename(hdr.Filename))
	return bs.Put(key, f)
}

// sanitizeFilename keeps a conservative character set, like werkzeug's
// secure_filename.
func sanitizeFilename(name string) string {
	name = filepath.Base(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuestion(row rowScanner) (quiz.Question, error) {
	var q quiz.Question
	var optsJSON string
	var proc, groupName, img sql.NullString
	var groupID sql.NullInt64
	if err := row.Scan(&q.ID, &q.TextoPregunta, &optsJSON, &q.RespuestaCorrectaIndice,
		&proc, &groupID, &groupName, &img); err != nil {
		return quiz.Question{}, err
	}
	_ = json.Unmarshal([]byte(optsJSON), &q.Opciones)
	q.ProcedimientoResolucion = proc.String
	q.GroupName = groupName.String
	q.ImagenURL = img.String
	if groupID.Valid {
		gid := groupID.Int64
		q.QuestionGroupID = &gid
	}
	return q, nil
}

func loadQuestion(r *http.Request, dbh *sql.DB, id int64) (quiz.Question, error) {
	row := dbh.QueryRowContext(r.Context(), `
		SELECT q.id, q.texto_pregunta, q.opciones, q.respuesta_correcta_indice,
		       q.procedimiento_resolucion, q.question_group_id, g.name, q.imagen_url
		FROM questions q LEFT JOIN question_groups g ON g.id = q.question_group_id
		WHERE q.id=$1`, id)
	return scanQuestion(row)
}
