package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	_, _ = w.Write([]byte("ok"))
})

func call(t *testing.T, h http.Handler, path string, headers map[string]string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestAPIKey_ModeNone_PassesThrough(t *testing.T) {
	h := APIKey("none", "x-api-key", "secret")(okHandler)
	if code := call(t, h, "/api/v1/lines", nil); code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
}

func TestAPIKey_EmptyKey_PassesThrough(t *testing.T) {
	// key="" means auth is not configured, allow all.
	h := APIKey("apikey", "x-api-key", "")(okHandler)
	if code := call(t, h, "/api/v1/lines", nil); code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
}

func TestAPIKey(t *testing.T) {
	h := APIKey("apikey", "x-api-key", "supersecret", "/api/v1/health")(okHandler)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"correct key", "/api/v1/lines", map[string]string{"X-Api-Key": "supersecret"}, http.StatusOK},
		{"bearer token", "/api/v1/lines", map[string]string{"Authorization": "Bearer supersecret"}, http.StatusOK},
		{"wrong key", "/api/v1/lines", map[string]string{"X-Api-Key": "wrong"}, http.StatusUnauthorized},
		{"wrong bearer", "/api/v1/lines", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"basic auth ignored", "/api/v1/lines", map[string]string{"Authorization": "Basic c3VwZXJzZWNyZXQ="}, http.StatusUnauthorized},
		{"missing header", "/api/v1/lines", nil, http.StatusUnauthorized},
		{"public path", "/api/v1/health", nil, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code := call(t, h, tc.path, tc.headers); code != tc.want {
				t.Errorf("status: got %d, want %d", code, tc.want)
			}
		})
	}
}

func TestAPIKey_CustomHeader(t *testing.T) {
	h := APIKey("apikey", "x-kpi-token", "mytoken")(okHandler)
	if code := call(t, h, "/metrics", map[string]string{"X-Kpi-Token": "mytoken"}); code != http.StatusOK {
		t.Errorf("status: got %d, want 200", code)
	}
	if code := call(t, h, "/metrics", map[string]string{"X-Api-Key": "mytoken"}); code != http.StatusUnauthorized {
		t.Errorf("default header accepted with custom header configured: got %d", code)
	}
}
