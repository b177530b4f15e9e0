package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/clobx/clobd/internal/domain"
)

// writeJSON marshals v and writes it with the given status code. Response
// structs carry their own `success` field; writeJSON does not add one.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		writeRaw(w, http.StatusInternalServerError, `{"success":false,"error":"internal server error"}`)
		return
	}
	writeRaw(w, status, string(data))
}

// writeError sends {success:false, error:msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeErrorWithPlan sends {success:false, error:msg, plan:plan}, the smart
// router's infeasible-plan response shape.
func writeErrorWithPlan(w http.ResponseWriter, status int, msg string, plan domain.ExecutionPlan) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg, "plan": plan})
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}

// parseListOpts extracts standard pagination parameters from the query
// string. Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathParam extracts a named path parameter via Go 1.22+ ServeMux routing.
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
