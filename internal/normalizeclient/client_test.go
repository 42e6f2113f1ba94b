package normalizeclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func chatResponseBody(content string) chatResponse {
	return chatResponse{Choices: []struct {
		Message chatMessage `json:"message"`
	}{{Message: chatMessage{Role: "assistant", Content: content}}}}
}

func TestNormalizeParsesJSONArray(t *testing.T) {
	payload := `[{"memory":"Prefers green tea in the mornings.","scope":"prefs","confidence":0.8,"language":"en","skip":false},{"memory":"","scope":"facts","confidence":0.1,"language":"en","skip":true}]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponseBody(payload))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, Model: "test-model"})
	out := c.Normalize(context.Background(), []string{"I love green tea in the morning"}, "")
	if len(out) != 1 || out[0] != "Prefers green tea in the mornings." {
		t.Fatalf("expected one normalized sentence, got %v", out)
	}
}

func TestNormalizeFallsBackToLineSplit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatResponseBody("- first fact\n- second fact"))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, Model: "test-model"})
	out := c.Normalize(context.Background(), []string{"raw text"}, "")
	if len(out) != 2 || out[0] != "first fact" || out[1] != "second fact" {
		t.Fatalf("expected line-split fallback, got %v", out)
	}
}

func TestNormalizeFallsBackToPassthroughOnTransportFailure(t *testing.T) {
	c := New(Config{APIKey: "k", BaseURL: "http://127.0.0.1:0", Model: "test-model"})
	in := []string{"unchanged text"}
	out := c.Normalize(context.Background(), in, "")
	if len(out) != 1 || out[0] != "unchanged text" {
		t.Fatalf("expected passthrough on transport failure, got %v", out)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	c := New(Config{APIKey: "k", BaseURL: "http://unused.invalid"})
	out := c.Normalize(context.Background(), nil, "")
	if out != nil {
		t.Fatalf("expected nil for empty input, got %v", out)
	}
}

func TestParseContentNoUsableCandidates(t *testing.T) {
	_, ok := parseContent("   \n  \n")
	if ok {
		t.Fatalf("expected no usable candidates from blank content")
	}
}
