package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateToken(t *testing.T) {
	cases := []struct {
		name   string
		token  string
		header string
		query  string
		want   bool
	}{
		{name: "no token configured", token: "", want: true},
		{name: "matching bearer", token: "s3cret", header: "Bearer s3cret", want: true},
		{name: "wrong bearer", token: "s3cret", header: "Bearer nope", want: false},
		{name: "matching query", token: "s3cret", query: "s3cret", want: true},
		{name: "wrong query", token: "s3cret", query: "nope", want: false},
		{name: "missing credentials", token: "s3cret", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := "/api/status"
			if tc.query != "" {
				target += "?token=" + tc.query
			}
			r := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}
			if got := validateToken(r, tc.token); got != tc.want {
				t.Errorf("validateToken = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRestHandlerRejectsWithoutToken(t *testing.T) {
	handler := restHandler("s3cret", func(w http.ResponseWriter, r *http.Request) *apiError {
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})
		return nil
	})

	recorder := httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", recorder.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body not JSON: %v", err)
	}
	if body.Code != "unauthorized" {
		t.Errorf("error code = %q, want %q", body.Code, "unauthorized")
	}
	if recorder.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options header")
	}
}

func TestMethodNotAllowedSetsAllowHeader(t *testing.T) {
	handler := restHandler("", func(w http.ResponseWriter, r *http.Request) *apiError {
		return methodNotAllowed(w, "GET")
	})

	recorder := httptest.NewRecorder()
	handler(recorder, httptest.NewRequest(http.MethodDelete, "/api/status", nil))

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", recorder.Code)
	}
	if recorder.Header().Get("Allow") != "GET" {
		t.Errorf("Allow header = %q, want %q", recorder.Header().Get("Allow"), "GET")
	}
}

func TestIsOriginAllowed(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
	r.Header.Set("Origin", "https://tools.internal")

	if !isOriginAllowed(r, nil) {
		t.Error("empty allow list should accept any origin")
	}
	if !isOriginAllowed(r, []string{"*"}) {
		t.Error("wildcard should accept any origin")
	}
	if !isOriginAllowed(r, []string{"https://tools.internal"}) {
		t.Error("exact match should be accepted")
	}
	if isOriginAllowed(r, []string{"https://other.internal"}) {
		t.Error("non-matching origin should be rejected")
	}
}
