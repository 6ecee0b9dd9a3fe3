package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKey returns middleware that enforces API key authentication on every
// request whose path is not listed in public.
//
// Behaviour:
//   - If mode != "apikey" or key == "", all requests are allowed (pass-through).
//   - Otherwise the key is read from header, or from an
//     "Authorization: Bearer <key>" header, and compared to key.
//   - A missing, empty, or incorrect key is answered with 401.
func APIKey(mode, header, key string, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if mode != "apikey" || key == "" {
			return next
		}
		open := make(map[string]bool, len(public))
		for _, p := range public {
			open[p] = true
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if open[r.URL.Path] || valid(presented(r, header), key) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid api key"}` + "\n"))
		})
	}
}

func presented(r *http.Request, header string) string {
	if v := r.Header.Get(header); v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func valid(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
