package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"business-copilot-be/pkg/llm"
)

func TestGenerateStreamCumulativeText(t *testing.T) {
	// Gemini events carry the cumulative text so far; deltas are computed
	// on our side.
	chunks := []string{
		`{"candidates":[{"content":{"parts":[{"text":"thinking","thought":true}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"thinking hard","thought":true}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"thinking hard","thought":true},{"text":"The "}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"thinking hard","thought":true},{"text":"The answer"}]}}]}`,
		`{"candidates":[{"content":{"parts":[{"text":"thinking hard","thought":true},{"text":"The answer"}]}}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	p := NewGeminiProvider("key", srv.URL, "test-model")

	var answers, thoughts []string
	var done int
	res, err := p.GenerateStream(context.Background(), []llm.Message{
		{Role: "system", Content: "rules"},
		{Role: "user", Content: "q"},
	}, llm.StreamHandler{
		OnThoughtDelta: func(d string) { thoughts = append(thoughts, d) },
		OnAnswerDelta:  func(d string) { answers = append(answers, d) },
		OnThoughtDone:  func() { done++ },
	})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if res.Text != "The answer" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.ThoughtContent != "thinking hard" {
		t.Errorf("ThoughtContent = %q", res.ThoughtContent)
	}
	if strings.Join(thoughts, "|") != "thinking| hard" {
		t.Errorf("thought deltas = %q", thoughts)
	}
	if strings.Join(answers, "|") != "The | answer" {
		t.Errorf("answer deltas = %q", answers)
	}
	if done != 1 {
		t.Errorf("thought done count = %d", done)
	}
	// The duplicate final event must not have produced an empty delta.
	for _, d := range answers {
		if d == "" {
			t.Error("callback fired with empty delta")
		}
	}
}

func TestGenerateSingleShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"candidates":[{"content":{"parts":[{"text":"plan","thought":true},{"text":"done"}]}}]}`)
	}))
	defer srv.Close()

	p := NewGeminiProvider("key", srv.URL, "test-model")
	res, err := p.Generate(context.Background(), []llm.Message{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if res.Text != "done" || res.ThoughtContent != "plan" {
		t.Errorf("result = %+v", res)
	}
}
