// Package openrouter implements the ChatProvider port against OpenRouter's
// OpenAI-compatible chat completions API.
package openrouter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/mbrandt/ailab/internal/domain/model"
	"github.com/mbrandt/ailab/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ChatProvider = (*Client)(nil)

// DefaultBaseURL is OpenRouter's production API root.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Client implements the driven.ChatProvider port. Streaming and completion
// calls go through a plain client (no client-level timeout; streams are
// bounded by the request context), while the model catalog goes through an
// httpcache memory-cache transport so repeated listings are served from
// cache until the upstream response expires.
type Client struct {
	http    *http.Client
	catalog *http.Client
	baseURL string
	model   string
	timeout time.Duration
}

// NewClient creates a Client for the given API root and model id. timeout
// bounds non-streaming calls; streaming calls are bounded only by their
// context.
func NewClient(baseURL, modelID string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		http:    &http.Client{},
		catalog: &http.Client{Transport: httpcache.NewMemoryCacheTransport(), Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelID,
		timeout: timeout,
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client and base
// URL. This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, modelID string) *Client {
	return &Client{
		http:    httpClient,
		catalog: httpClient,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   modelID,
		timeout: 30 * time.Second,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream,omitempty"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// StreamChat opens a streaming completion call and delivers delta chunks in
// arrival order. The returned channel is closed after a terminal chunk.
// Cancelling ctx aborts the response body read mid-stream.
func (c *Client) StreamChat(ctx context.Context, apiKey string, messages []driven.ChatMessage) (<-chan driven.StreamChunk, error) {
	resp, err := c.postChat(ctx, apiKey, messages, true)
	if err != nil {
		return nil, err
	}

	ch := make(chan driven.StreamChunk)
	go func() {
		defer resp.Body.Close()
		defer close(ch)

		// Every send must stay cancellable: a consumer that cancels ctx and
		// walks away would otherwise pin this goroutine (and the response
		// body) on a blocking send forever.
		emit := func(chunk driven.StreamChunk) bool {
			select {
			case ch <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" {
				continue
			}
			if payload == "[DONE]" {
				emit(driven.StreamChunk{Done: true})
				return
			}

			var chunk streamResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				// Keep-alive comments and malformed frames are skipped, as
				// the upstream wire format allows.
				continue
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if !emit(driven.StreamChunk{Delta: choice.Delta.Content}) {
						return
					}
				}
				if choice.FinishReason != nil {
					emit(driven.StreamChunk{Done: true})
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			emit(driven.StreamChunk{Done: true, Err: fmt.Errorf("stream read: %w", err)})
			return
		}
		emit(driven.StreamChunk{Done: true})
	}()

	return ch, nil
}

// Complete performs a blocking completion call and returns the assistant
// response text.
func (c *Client) Complete(ctx context.Context, apiKey string, messages []driven.ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.postChat(ctx, apiKey, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ListModels fetches the provider's model catalog through the caching
// transport.
func (c *Client) ListModels(ctx context.Context) ([]model.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("create models request: %w", err)
	}

	resp, err := c.catalog.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: upstream status %d", resp.StatusCode)
	}

	var parsed struct {
		Data []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}

	models := make([]model.ModelInfo, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		models = append(models, model.ModelInfo{ID: m.ID, Name: m.Name})
	}
	return models, nil
}

// postChat issues the chat completions POST shared by StreamChat and
// Complete. The caller owns the response body on success.
func (c *Client) postChat(ctx context.Context, apiKey string, messages []driven.ChatMessage, stream bool) (*http.Response, error) {
	body := chatRequest{
		Model:  c.model,
		Stream: stream,
	}
	body.Messages = make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return resp, nil
}
