package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotReq ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{"choices":[{"message":{"content":"Dear Government Official,"}}]}`))
	}))
	defer srv.Close()

	c := NewClient("sk-test", "gpt-4o").WithEndpoint(srv.URL)
	text, err := c.Generate(context.Background(), "draft please")
	if err != nil {
		t.Fatalf("Generate: unexpected error: %v", err)
	}
	if text != "Dear Government Official," {
		t.Errorf("Unexpected text %q", text)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Unexpected Authorization header %q", gotAuth)
	}
	if gotReq.Model != "gpt-4o" || len(gotReq.Messages) != 2 || gotReq.Messages[1].Content != "draft please" {
		t.Errorf("Unexpected request %+v", gotReq)
	}
}

func TestGenerateErrors(t *testing.T) {
	testCases := []struct {
		name   string
		status int
		body   string
	}{
		{"api error", http.StatusTooManyRequests, `{"error":"rate limited"}`},
		{"no choices", http.StatusOK, `{"choices":[]}`},
		{"bad json", http.StatusOK, `<html>`},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			if _, err := NewClient("k", "m").WithEndpoint(srv.URL).Generate(context.Background(), "p"); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestGenerateCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"late"}}]}`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewClient("k", "m").WithEndpoint(srv.URL).Generate(ctx, "p"); err == nil {
		t.Error("Expected an error for a cancelled context")
	}
}
