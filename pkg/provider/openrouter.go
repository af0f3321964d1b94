package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter talks to the OpenRouter chat-completions API, which
// fronts the remote council models.
type OpenRouter struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenRouter builds a client. baseURL may be empty to use the
// public endpoint.
func NewOpenRouter(apiKey, baseURL string) *OpenRouter {
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (o *OpenRouter) Name() string { return "openrouter" }

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (o *OpenRouter) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, o.baseURL+path, rdr)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Complete sends a blocking chat-completion request. A 404 means the
// model does not exist upstream and is reported as (nil, nil).
func (o *OpenRouter) Complete(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := o.newRequest(ctx, http.MethodPost, "/chat/completions", chatRequest{Model: model, Messages: messages})
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("OpenRouter model not found", "model", model)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("openrouter returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode openrouter response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("openrouter error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("openrouter returned no choices for model %s", model)
	}

	return &Completion{
		Content:   parsed.Choices[0].Message.Content,
		Reasoning: parsed.Choices[0].Message.Reasoning,
	}, nil
}

// Stream sends a streaming chat-completion request and converts the
// server-sent event lines into chunks.
func (o *OpenRouter) Stream(ctx context.Context, model string, messages []Message, timeout time.Duration) (<-chan Chunk, error) {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := o.newRequest(ctx, http.MethodPost, "/chat/completions", chatRequest{Model: model, Messages: messages, Stream: true})
		if err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Message: err.Error()})
			return
		}

		resp, err := o.client.Do(req)
		if err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Message: fmt.Sprintf("openrouter request failed: %v", err)})
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			emit(ctx, ch, Chunk{Type: ChunkError, Message: fmt.Sprintf("openrouter returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))})
			return
		}

		if !emit(ctx, ch, Chunk{Type: ChunkStart}) {
			return
		}

		var full bytes.Buffer
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}
			payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data: ")))
			if bytes.Equal(payload, []byte("[DONE]")) {
				break
			}
			var event chatStreamEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				continue
			}
			if event.Error != nil {
				emit(ctx, ch, Chunk{Type: ChunkError, Message: event.Error.Message})
				return
			}
			if len(event.Choices) > 0 && event.Choices[0].Delta.Content != "" {
				full.WriteString(event.Choices[0].Delta.Content)
				if !emit(ctx, ch, Chunk{Type: ChunkDelta, Content: event.Choices[0].Delta.Content}) {
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Message: fmt.Sprintf("openrouter stream interrupted: %v", err)})
			return
		}

		emit(ctx, ch, Chunk{Type: ChunkDone, Response: full.String()})
	}()
	return ch, nil
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// ListModels fetches the model catalog.
func (o *OpenRouter) ListModels(ctx context.Context) ([]string, error) {
	req, err := o.newRequest(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openrouter request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openrouter returned status %d", resp.StatusCode)
	}

	var parsed modelListResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model list: %w", err)
	}
	ids := make([]string, 0, len(parsed.Data))
	for _, m := range parsed.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}
