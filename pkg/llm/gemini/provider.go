package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"business-copilot-be/pkg/llm"
)

type GeminiProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// Ensure GeminiProvider implements Provider
var _ llm.Provider = &GeminiProvider{}

func NewGeminiProvider(apiKey, baseURL, model string) *GeminiProvider {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta" // Default
	}
	return &GeminiProvider{
		apiKey:  apiKey,
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// --- Request/Response structs (Internal to this package) ---

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text    string `json:"text"`
	Thought bool   `json:"thought,omitempty"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

// generateResponse is both the non-streaming body and each streamed event
// payload. In the stream, part texts carry the CUMULATIVE output so far, so
// deltas must be reconstituted on our side.
type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *GeminiProvider) buildRequest(ctx context.Context, history []llm.Message, stream bool, options ...llm.Option) (*http.Request, error) {
	opts := &llm.Options{Model: p.model}
	for _, o := range options {
		o(opts)
	}

	payload := generateRequest{}
	for _, m := range history {
		switch m.Role {
		case "system":
			payload.SystemInstruction = &content{Parts: []part{{Text: m.Content}}}
		case "assistant", "model":
			payload.Contents = append(payload.Contents, content{Role: "model", Parts: []part{{Text: m.Content}}})
		default:
			payload.Contents = append(payload.Contents, content{Role: "user", Parts: []part{{Text: m.Content}}})
		}
	}
	if opts.Temperature > 0 || opts.MaxTokens > 0 {
		payload.GenerationConfig = &generationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	action := "generateContent"
	if stream {
		action = "streamGenerateContent?alt=sse"
	}
	url := fmt.Sprintf("%s/models/%s:%s", p.baseURL, opts.Model, action)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.apiKey)
	return req, nil
}

func (p *GeminiProvider) GenerateStream(ctx context.Context, history []llm.Message, handler llm.StreamHandler, options ...llm.Option) (*llm.Result, error) {
	req, err := p.buildRequest(ctx, history, true, options...)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.ErrAborted
		}
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gemini error: status %d, body: %s", resp.StatusCode, string(body))
	}

	tracker := llm.NewDeltaTracker(handler)

	err = llm.ScanServerEvents(resp.Body, func(ev llm.ServerEvent) error {
		if ctx.Err() != nil {
			return llm.ErrAborted
		}
		if ev.Data == "" {
			return nil
		}

		var chunk generateResponse
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return nil
		}
		if chunk.Error != nil {
			return fmt.Errorf("gemini stream error: %s", chunk.Error.Message)
		}
		thoughtSoFar, answerSoFar := collectParts(&chunk)
		tracker.ObserveThought(thoughtSoFar)
		tracker.ObserveAnswer(answerSoFar)
		return nil
	})
	if err != nil {
		if errors.Is(err, llm.ErrAborted) || ctx.Err() != nil {
			return nil, llm.ErrAborted
		}
		return nil, err
	}

	tracker.CloseThought()
	return tracker.Result(), nil
}

func (p *GeminiProvider) Generate(ctx context.Context, history []llm.Message, options ...llm.Option) (*llm.Result, error) {
	req, err := p.buildRequest(ctx, history, false, options...)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, llm.ErrAborted
		}
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gemini error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed generateResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("gemini api returned error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return nil, fmt.Errorf("empty candidates from gemini api")
	}

	thought, answer := collectParts(&parsed)
	return &llm.Result{Text: answer, ThoughtContent: thought}, nil
}

func collectParts(resp *generateResponse) (thought, answer string) {
	if len(resp.Candidates) == 0 {
		return "", ""
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Thought {
			thought += p.Text
		} else {
			answer += p.Text
		}
	}
	return thought, answer
}
