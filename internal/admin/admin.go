// Package admin holds the administrator CRUD surface: users, student groups
// and membership, question groups, questions (with image upload), lessons.
package admin

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}
