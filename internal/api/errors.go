package api

import (
	"encoding/json"
	"net/http"

	"github.com/reminder-core/reminder/internal/apperr"
)

// JSONError writes a structured error body, grounded on the teacher's
// pack-wide api.JSONError(w, status, message, code) shape.
func JSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// WriteErr maps err's apperr.Kind to an HTTP status via apperr.HTTPStatus
// and writes the JSON error body.
func WriteErr(w http.ResponseWriter, err error) {
	JSONError(w, apperr.HTTPStatus(err), err.Error())
}

// WriteJSON writes v as a JSON body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
