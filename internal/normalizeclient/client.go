// Package normalizeclient turns raw conversation snippets into canonical
// memory-candidate sentences via an OpenRouter-compatible chat-completion
// endpoint.
package normalizeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultTotalTimeout = 15 * time.Second
	maxAttempts         = 3
	baseBackoff         = 500 * time.Millisecond
	maxBackoff          = 4 * time.Second
	defaultRateLimit    = 2.0
	defaultBurst        = 4
)

const promptTemplate = `You are the memory service's synthesizer. Given a list of raw conversation snippets, produce durable memory candidates in strict JSON.

Output Format:
- Respond with a JSON array. Each element must be an object containing:
  - "memory": single sentence (plain text, no markdown) capturing enduring information.
  - "scope": one of ["facts", "prefs", "persona", "constraints"]. Default to "facts" when uncertain.
  - "confidence": float between 0.0 and 1.0 reflecting extraction certainty.
  - "language": BCP-47 code for the memory sentence.
  - "skip": boolean. Set to true when the snippet should not be persisted (ephemeral chatter, questions, sensitive data, fewer than 12 meaningful characters). When skip=true, set "memory" to "".

Guidelines:
- Preserve concrete preferences, profile traits, recurring schedules, commitments, or long-term facts.
- Ignore temporary states, greetings, or content the user denies.
- Normalize tone but keep key entities, times, units, negations, and relationships.
- When multiple snippets refer to the same fact, combine them into one clear sentence.
- If no durable memory exists, return an empty JSON array [] or entries with skip=true.

Return JSON only, no prose, comments, or additional text.`

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

// Client is an HTTP client for an OpenAI-compatible chat-completion
// endpoint, used to normalize candidate memory text before it is gated by
// the write policy.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New constructs a Client.
func New(cfg Config) *Client {
	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: trimSuffixSlash(cfg.BaseURL),
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: defaultTotalTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}
}

func trimSuffixSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type candidate struct {
	Memory     string  `json:"memory"`
	Scope      string  `json:"scope"`
	Confidence float64 `json:"confidence"`
	Language   string  `json:"language"`
	Skip       bool    `json:"skip"`
}

// retryableError marks a transport/HTTP error eligible for retry.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	_, ok := err.(*retryableError)
	return ok
}

// Normalize turns raw candidate texts into canonical memory sentences.
//
// It applies a three-tier fallback: strict JSON array parse (dropping
// skip=true and empty entries), then, only when the content is not a JSON
// array, newline-split with leading "- " stripped, then — if neither
// yields a candidate, or every retry attempt errors — the
// original texts unchanged. It never returns an error: a non-retryable
// failure or exhausted retries falls back to passthrough exactly like the
// rest of the pipeline's defensive posture toward this optional step.
func (c *Client) Normalize(ctx context.Context, texts []string, model string) []string {
	if len(texts) == 0 {
		return nil
	}
	if model == "" {
		model = c.model
	}

	var builder strings.Builder
	for _, t := range texts {
		builder.WriteString("- ")
		builder.WriteString(t)
		builder.WriteString("\n")
	}

	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: promptTemplate},
			{Role: "user", Content: strings.TrimRight(builder.String(), "\n")},
		},
		MaxTokens:   256,
		Temperature: 0.2,
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := baseBackoff * time.Duration(1<<(attempt-1))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return texts
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return texts
		}

		content, err := c.doRequest(ctx, req)
		if err == nil {
			if normalized, ok := parseContent(content); ok {
				return normalized
			}
			return texts
		}

		lastErr = err
		if !isRetryable(err) {
			return texts
		}
	}
	_ = lastErr
	return texts
}

func (c *Client) doRequest(ctx context.Context, req chatRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("normalizeclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("normalizeclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/fyrsmithlabs/memoryd")
	httpReq.Header.Set("X-Title", "memoryd")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("normalizeclient: request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("normalizeclient: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("normalizeclient: rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("normalizeclient: server error (%d): %s", resp.StatusCode, string(respBody))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("normalizeclient: status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("normalizeclient: decode response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("normalizeclient: empty choices in response")
	}
	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

// parseContent implements the three-tier fallback chain: strict JSON array
// first, then line-based splitting when the content is not a JSON array.
// The second return value is false when no usable candidate was produced.
func parseContent(content string) ([]string, bool) {
	var candidates []candidate
	if err := json.Unmarshal([]byte(content), &candidates); err == nil {
		var out []string
		for _, c := range candidates {
			if c.Skip {
				continue
			}
			memory := strings.TrimSpace(c.Memory)
			if memory != "" {
				out = append(out, memory)
			}
		}
		return out, len(out) > 0
	}

	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimLeft(strings.TrimSpace(line), "- ")
		if line != "" {
			out = append(out, line)
		}
	}
	if len(out) > 0 {
		return out, true
	}
	return nil, false
}

// Ping verifies the normalization endpoint is reachable and responsive.
func (c *Client) Ping(ctx context.Context) bool {
	result := c.Normalize(ctx, []string{"ping"}, c.model)
	return len(result) > 0
}
