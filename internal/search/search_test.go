package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tavilyRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Query != "go generics" {
			t.Errorf("query = %q", req.Query)
		}
		w.Write([]byte(`{"results":[
			{"title":"Go blog","content":"Generics landed.","url":"https://go.dev/blog"},
			{"title":"","content":"no title","url":"https://example.com"},
			{"title":"Extra","content":"over the count","url":"https://example.org"}
		]}`))
	}))
	defer server.Close()

	s := New("key", server.URL, http.DefaultClient)
	results, err := s.Search(context.Background(), "go generics", 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2 (count honored)", len(results))
	}
	if results[0].Title != "Go blog" || results[0].URL != "https://go.dev/blog" {
		t.Errorf("results[0] = %+v", results[0])
	}
	if results[1].Title != "Untitled" {
		t.Errorf("missing title should default to Untitled, got %q", results[1].Title)
	}
}

func TestSearch_NoAPIKeyReturnsNothing(t *testing.T) {
	s := New("", "https://unused.invalid", http.DefaultClient)
	results, err := s.Search(context.Background(), "anything", 3)
	if err != nil || results != nil {
		t.Errorf("got (%v, %v), want (nil, nil)", results, err)
	}
}

func TestSearch_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := New("key", server.URL, http.DefaultClient)
	if _, err := s.Search(context.Background(), "q", 3); err == nil {
		t.Error("expected an error for a non-200 upstream status")
	}
}

func TestShouldSearch(t *testing.T) {
	positive := []string{
		"latest Go release",
		"what happened at the game last night",
		"bitcoin price",
		"rust vs zig",
	}
	for _, q := range positive {
		if !ShouldSearch(q) {
			t.Errorf("ShouldSearch(%q) = false, want true", q)
		}
	}

	negative := []string{
		"explain binary trees",
		"how do I bake bread",
	}
	for _, q := range negative {
		if ShouldSearch(q) {
			t.Errorf("ShouldSearch(%q) = true, want false", q)
		}
	}
}
