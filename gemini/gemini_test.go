package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	var gotPath, gotKey string
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.URL.Query().Get("key")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":""},{"text":"Dear Government Official,"}]}}]}`))
	}))
	defer srv.Close()

	c := NewClient("test-key", "gemini-1.5-flash").WithBaseURL(srv.URL)
	text, err := c.Generate(context.Background(), "draft please")
	if err != nil {
		t.Fatalf("Generate: unexpected error: %v", err)
	}
	if text != "Dear Government Official," {
		t.Errorf("Unexpected text %q", text)
	}
	if gotPath != "/v1beta/models/gemini-1.5-flash:generateContent" || gotKey != "test-key" {
		t.Errorf("Unexpected request %s key=%s", gotPath, gotKey)
	}
	if len(gotReq.Contents) != 1 || gotReq.Contents[0].Parts[0].Text != "draft please" {
		t.Errorf("Unexpected request body %+v", gotReq)
	}
}

func TestGenerateFallsBackToV1(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.URL.Path)
		if strings.HasPrefix(r.URL.Path, "/v1beta/") {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`))
	}))
	defer srv.Close()

	text, err := NewClient("k", "m").WithBaseURL(srv.URL).Generate(context.Background(), "p")
	if err != nil || text != "ok" {
		t.Fatalf("Expected fallback success, got %q, %v", text, err)
	}
	if len(calls) != 2 {
		t.Errorf("Expected 2 calls, got %v", calls)
	}
}

func TestGenerateErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusInternalServerError, `{"error":"boom"}`},
		{"no candidates", http.StatusOK, `{"candidates":[]}`},
		{"no text", http.StatusOK, `{"candidates":[{"content":{"parts":[]}}]}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			if _, err := NewClient("k", "m").WithBaseURL(srv.URL).Generate(context.Background(), "p"); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}
