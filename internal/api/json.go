package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"distmap/internal/model"
	"distmap/internal/score"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeJSON(w, status, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps domain sentinels onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	instance := r.URL.Path
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, score.ErrUnknownCalculator):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), instance)
	case errors.Is(err, model.ErrInvalidArgument), errors.Is(err, score.ErrBadArgument):
		writeProblem(w, http.StatusBadRequest, "Invalid Argument", err.Error(), instance)
	case errors.Is(err, model.ErrLocked):
		writeProblem(w, http.StatusConflict, "District Locked", err.Error(), instance)
	case errors.Is(err, model.ErrForbidden):
		writeProblem(w, http.StatusForbidden, "Forbidden", err.Error(), instance)
	case errors.Is(err, score.ErrDivisionByZero):
		writeProblem(w, http.StatusUnprocessableEntity, "Undefined Result", err.Error(), instance)
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", err.Error(), instance)
	}
}
