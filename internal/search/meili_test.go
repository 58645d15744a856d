package search

import (
	"encoding/json"
	"reflect"
	"testing"

	meili "github.com/meilisearch/meilisearch-go"
)

func TestBuildRequestScopesToProject(t *testing.T) {
	req := buildRequest(Query{Text: "fib", ProjectID: "proj-1", Language: "go", ActiveOnly: true, Limit: 500, Offset: -3})

	if req.IndexUID != idxCodeSessions {
		t.Errorf("expected index %s, got %s", idxCodeSessions, req.IndexUID)
	}
	if req.Limit != 100 {
		t.Errorf("expected limit clamped to 100, got %d", req.Limit)
	}
	if req.Offset != 0 {
		t.Errorf("expected offset clamped to 0, got %d", req.Offset)
	}
	want := []string{`projectId = "proj-1"`, `language = "go"`, "isActive = true"}
	if !reflect.DeepEqual(req.Filter, want) {
		t.Errorf("expected filters %v, got %v", want, req.Filter)
	}
}

func TestBuildRequestDefaults(t *testing.T) {
	req := buildRequest(Query{Text: "x", ProjectID: "proj-1"})

	if req.Limit != 20 {
		t.Errorf("expected default limit 20, got %d", req.Limit)
	}
	want := []string{`projectId = "proj-1"`}
	if !reflect.DeepEqual(req.Filter, want) {
		t.Errorf("expected filters %v, got %v", want, req.Filter)
	}
}

func TestHitToResultPrefersFormattedFields(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"cs_1"`),
		"projectId":  json.RawMessage(`"proj-1"`),
		"name":       json.RawMessage(`"Fibonacci"`),
		"language":   json.RawMessage(`"go"`),
		"isActive":   json.RawMessage(`true`),
		"_formatted": json.RawMessage(`{"name":"<mark>Fib</mark>onacci","content":"func <mark>fib</mark>(n int)"}`),
	}

	got := hitToResult(hit)

	want := Result{
		ID:        "cs_1",
		ProjectID: "proj-1",
		Name:      "<mark>Fib</mark>onacci",
		Language:  "go",
		Snippet:   "func <mark>fib</mark>(n int)",
		IsActive:  true,
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestHitToResultWithoutFormatting(t *testing.T) {
	hit := meili.Hit{
		"id":   json.RawMessage(`"cs_2"`),
		"name": json.RawMessage(`"Plain"`),
	}

	got := hitToResult(hit)

	if got.Name != "Plain" || got.Snippet != "" || got.IsActive {
		t.Errorf("unexpected result %+v", got)
	}
}
