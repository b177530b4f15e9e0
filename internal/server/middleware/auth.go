package middleware

import (
	"crypto/subtle"
	"net/http"
)

// AdminAuth returns middleware that guards admin-only routes with a shared
// secret presented as either the X-Admin-Key or X-Api-Key header. A missing
// header is 401; a present but mismatched header is 403. If adminKey is
// empty, admin routes are inaccessible (fail closed, never fail open).
func AdminAuth(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-Admin-Key")
			if presented == "" {
				presented = r.Header.Get("X-Api-Key")
			}

			if presented == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing admin credential")
				return
			}
			if adminKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) != 1 {
				writeAuthError(w, http.StatusForbidden, "invalid admin credential")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(`{"success":false,"error":"` + msg + `"}`))
}
