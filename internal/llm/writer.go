package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelforge/internal/models"
)

// Options configures the chat completions endpoint.
type Options struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	TopP        float64
	Timeout     time.Duration
}

// ScriptWriter asks a chat completions model for a ScriptPlan.
type ScriptWriter struct {
	opts   Options
	client *http.Client
}

// New constructs a ScriptWriter.
func New(opts Options) *ScriptWriter {
	if opts.Timeout == 0 {
		opts.Timeout = 2 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &ScriptWriter{opts: opts, client: &http.Client{Timeout: opts.Timeout}}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	TopP        float64   `json:"top_p"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// Plan requests and parses a plan for prompt. Transport failures are returned
// wrapped; malformed content is reported with ErrInvalidPlan.
func (w *ScriptWriter) Plan(ctx context.Context, prompt string) (*models.ScriptPlan, error) {
	content, err := w.complete(ctx, strings.TrimSpace(prompt))
	if err != nil {
		return nil, err
	}
	return ParsePlan(content)
}

func (w *ScriptWriter) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       w.opts.Model,
		Messages:    messages(prompt),
		Temperature: w.opts.Temperature,
		TopP:        w.opts.TopP,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.opts.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.opts.APIKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("chat completion: status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))
	}

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
