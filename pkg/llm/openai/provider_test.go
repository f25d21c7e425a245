package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"business-copilot-be/pkg/llm"
)

func sseServer(t *testing.T, chunks []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestGenerateStreamNativeDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"reasoning_content":"hm"}}]}`,
		`{"choices":[{"delta":{"reasoning_content":"m"}}]}`,
		`{"choices":[{"delta":{"content":"4"}}]}`,
		`{"choices":[{"delta":{"content":"2"}}]}`,
	})
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "test-model")

	var answers, thoughts []string
	var done int
	res, err := p.GenerateStream(context.Background(), []llm.Message{{Role: "user", Content: "q"}}, llm.StreamHandler{
		OnThoughtDelta: func(d string) { thoughts = append(thoughts, d) },
		OnAnswerDelta:  func(d string) { answers = append(answers, d) },
		OnThoughtDone:  func() { done++ },
	})
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}

	if res.Text != "42" {
		t.Errorf("Text = %q", res.Text)
	}
	if res.ThoughtContent != "hmm" {
		t.Errorf("ThoughtContent = %q", res.ThoughtContent)
	}
	if strings.Join(answers, "|") != "4|2" {
		t.Errorf("answer deltas = %q", answers)
	}
	if strings.Join(thoughts, "|") != "hm|m" {
		t.Errorf("thought deltas = %q", thoughts)
	}
	if done != 1 {
		t.Errorf("thought done count = %d", done)
	}
}

func TestGenerateStreamNon2xxIsHardError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"bad key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "test-model")
	_, err := p.GenerateStream(context.Background(), []llm.Message{{Role: "user", Content: "q"}}, llm.StreamHandler{})
	if err == nil {
		t.Fatal("want error for non-2xx status")
	}
	if errors.Is(err, llm.ErrAborted) {
		t.Fatal("non-2xx must not be reported as abort")
	}
}

func TestGenerateStreamCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
		flusher.Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	p := NewOpenAIProvider("key", srv.URL, "test-model")

	_, err := p.GenerateStream(ctx, []llm.Message{{Role: "user", Content: "q"}}, llm.StreamHandler{
		OnAnswerDelta: func(string) { cancel() },
	})
	if !errors.Is(err, llm.ErrAborted) {
		t.Fatalf("err = %v, want ErrAborted", err)
	}
}

func TestGenerateSingleShot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"hello","reasoning_content":"r"}}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider("key", srv.URL, "test-model")
	res, err := p.Generate(context.Background(), []llm.Message{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if res.Text != "hello" || res.ThoughtContent != "r" {
		t.Errorf("result = %+v", res)
	}
}
