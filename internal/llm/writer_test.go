package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const planJSON = `{"niche":"nature","topic":"seasons","random_seed":7,"video":{"title":"The Four Seasons","music_type":"calm","layout":[{"id":"s1","dialogue":["Spring wakes."],"images":[{"id":"image_1","prompt":"blossoms"}]}]}}`

func TestParsePlanRawAndFenced(t *testing.T) {
	for name, content := range map[string]string{
		"raw":        planJSON,
		"fenced":     "Here you go:\n```json\n" + planJSON + "\n```\nEnjoy!",
		"bare fence": "```\n" + planJSON + "\n```",
	} {
		plan, err := ParsePlan(content)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if plan.Video.Title != "The Four Seasons" || len(plan.Video.Layout) != 1 {
			t.Fatalf("%s: unexpected plan %+v", name, plan)
		}
	}
}

func TestParsePlanRejects(t *testing.T) {
	for name, content := range map[string]string{
		"prose":        "I cannot help with that.",
		"broken fence": "```json\n{\"video\": \n```",
		"no title":     `{"video":{"layout":[]}}`,
		"path in id":   `{"video":{"title":"x","layout":[{"id":"../../../escaped","dialogue":["hi"]}]}}`,
	} {
		if _, err := ParsePlan(content); !errors.Is(err, ErrInvalidPlan) {
			t.Fatalf("%s: expected ErrInvalidPlan, got %v", name, err)
		}
	}
}

func TestScriptWriterPlan(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "```json\n" + planJSON + "\n```"}}},
		})
	}))
	defer srv.Close()

	writer := New(Options{BaseURL: srv.URL + "/", APIKey: "key", Model: "m", Temperature: 0.7, TopP: 0.7})
	plan, err := writer.Plan(context.Background(), "  A video about the four seasons ")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Video.Title != "The Four Seasons" {
		t.Fatalf("title = %q", plan.Video.Title)
	}
	if got.Model != "m" || len(got.Messages) != 2 || got.Messages[1].Content != "A video about the four seasons" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestScriptWriterHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	_, err := New(Options{BaseURL: srv.URL}).Plan(context.Background(), "x")
	if err == nil || errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
