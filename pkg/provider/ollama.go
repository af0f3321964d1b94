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
	"os/exec"
	"strings"
	"time"
)

const defaultOllamaURL = "http://localhost:11434"

// Ollama serves local council models through the Ollama HTTP API, with
// a CLI fallback when the daemon is unreachable.
type Ollama struct {
	baseURL string
	cliPath string
	useCLI  bool
	client  *http.Client
}

// OllamaOptions configures the local backend.
type OllamaOptions struct {
	BaseURL string
	CLIPath string
	// UseCLI prefers the CLI over the HTTP API instead of falling
	// back to it.
	UseCLI bool
}

func NewOllama(opts OllamaOptions) *Ollama {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultOllamaURL
	}
	if opts.CLIPath == "" {
		opts.CLIPath = "ollama"
	}
	return &Ollama{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		cliPath: opts.CLIPath,
		useCLI:  opts.UseCLI,
		client:  &http.Client{},
	}
}

func (o *Ollama) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Complete queries a local model. A model that is not installed is
// reported as (nil, nil) so callers can drop it from the council
// instead of failing the whole run.
func (o *Ollama) Complete(ctx context.Context, model string, messages []Message, timeout time.Duration) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	installed, err := o.ListModels(ctx)
	if err == nil && !HasModel(installed, model) {
		slog.Warn("Ollama model not installed", "model", model)
		return nil, nil
	}

	if !o.useCLI {
		text, httpErr := o.chatHTTP(ctx, model, messages)
		if httpErr == nil {
			return &Completion{Content: text}, nil
		}
		slog.Warn("Ollama HTTP request failed, trying CLI", "model", model, "error", httpErr)
	}

	text, cliErr := o.chatCLI(ctx, model, messages)
	if cliErr != nil {
		return nil, fmt.Errorf("ollama request failed for model %s: %w", model, cliErr)
	}
	return &Completion{Content: text}, nil
}

func (o *Ollama) chatHTTP(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: false})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, bytes.TrimSpace(errBody))
	}

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("failed to decode ollama response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	return parsed.Message.Content, nil
}

// chatCLI flattens the chat into a single prompt and runs it through
// the CLI. Local models commonly accept a plain prompt.
func (o *Ollama) chatCLI(ctx context.Context, model string, messages []Message) (string, error) {
	var prompt strings.Builder
	for i, m := range messages {
		if i > 0 {
			prompt.WriteString("\n\n")
		}
		fmt.Fprintf(&prompt, "[%s] %s", m.Role, m.Content)
	}

	cmd := exec.CommandContext(ctx, o.cliPath, "run", model)
	cmd.Stdin = strings.NewReader(prompt.String())
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// Stream streams a chat through the HTTP API, which replies with one
// JSON object per line. When the daemon is unreachable the CLI result
// is promoted into the canonical chunk sequence.
func (o *Ollama) Stream(ctx context.Context, model string, messages []Message, timeout time.Duration) (<-chan Chunk, error) {
	ch := make(chan Chunk)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if o.useCLI {
			o.streamViaCLI(ctx, ch, model, messages)
			return
		}

		body, err := json.Marshal(ollamaChatRequest{Model: model, Messages: messages, Stream: true})
		if err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Message: err.Error()})
			close(ch)
			return
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Message: err.Error()})
			close(ch)
			return
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := o.client.Do(req)
		if err != nil {
			slog.Warn("Ollama HTTP stream failed, trying CLI", "model", model, "error", err)
			o.streamViaCLI(ctx, ch, model, messages)
			return
		}
		defer resp.Body.Close()
		defer close(ch)

		if resp.StatusCode != http.StatusOK {
			errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			emit(ctx, ch, Chunk{Type: ChunkError, Message: fmt.Sprintf("ollama returned status %d: %s", resp.StatusCode, bytes.TrimSpace(errBody))})
			return
		}

		if !emit(ctx, ch, Chunk{Type: ChunkStart}) {
			return
		}

		var full strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var event ollamaChatResponse
			if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
				continue
			}
			if event.Error != "" {
				emit(ctx, ch, Chunk{Type: ChunkError, Message: event.Error})
				return
			}
			if event.Message.Content != "" {
				full.WriteString(event.Message.Content)
				if !emit(ctx, ch, Chunk{Type: ChunkDelta, Content: event.Message.Content}) {
					return
				}
			}
			if event.Done {
				break
			}
		}
		if err := scanner.Err(); err != nil {
			emit(ctx, ch, Chunk{Type: ChunkError, Message: fmt.Sprintf("ollama stream interrupted: %v", err)})
			return
		}

		emit(ctx, ch, Chunk{Type: ChunkDone, Response: full.String()})
	}()
	return ch, nil
}

func (o *Ollama) streamViaCLI(ctx context.Context, ch chan<- Chunk, model string, messages []Message) {
	promote(ctx, ch, func() (string, error) {
		return o.chatCLI(ctx, model, messages)
	})
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ListModels returns the installed model tags, falling back to parsing
// CLI output when the daemon is down.
func (o *Ollama) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, err
	}
	resp, err := o.client.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			var parsed ollamaTagsResponse
			if decErr := json.NewDecoder(resp.Body).Decode(&parsed); decErr == nil {
				names := make([]string, 0, len(parsed.Models))
				for _, m := range parsed.Models {
					names = append(names, m.Name)
				}
				return names, nil
			}
		}
	}
	return o.listModelsCLI(ctx)
}

func (o *Ollama) listModelsCLI(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, o.cliPath, "list")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ollama list failed: %w", err)
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if strings.EqualFold(name, "name") || strings.EqualFold(name, "model") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// Status describes local daemon connectivity for diagnostics.
type OllamaStatus struct {
	DetectedURL string   `json:"detected_url"`
	Reachable   bool     `json:"reachable"`
	UseCLI      bool     `json:"use_cli"`
	Models      []string `json:"models"`
}

// Status probes the daemon and reports what it found.
func (o *Ollama) Status(ctx context.Context) OllamaStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := OllamaStatus{DetectedURL: o.baseURL, UseCLI: o.useCLI, Models: []string{}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return status
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return status
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return status
	}
	status.Reachable = true
	var parsed ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err == nil {
		for _, m := range parsed.Models {
			status.Models = append(status.Models, m.Name)
		}
	}
	return status
}

// InstallEvent is one line of progress from a model install or removal.
type InstallEvent struct {
	Type    string `json:"type"`
	Line    string `json:"line,omitempty"`
	Success bool   `json:"success,omitempty"`
	Output  string `json:"output,omitempty"`
}

// InstallResult is the outcome of a blocking install or removal.
type InstallResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
}

// InstallModel pulls a model through the CLI and blocks until done.
func (o *Ollama) InstallModel(ctx context.Context, model string) InstallResult {
	return o.runManaged(ctx, "pull", model)
}

// UninstallModel removes a model through the CLI.
func (o *Ollama) UninstallModel(ctx context.Context, model string) InstallResult {
	return o.runManaged(ctx, "rm", model)
}

func (o *Ollama) runManaged(ctx context.Context, verb, model string) InstallResult {
	cmd := exec.CommandContext(ctx, o.cliPath, verb, model)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return InstallResult{Success: false, Output: msg}
	}
	return InstallResult{Success: true, Output: strings.TrimSpace(string(out))}
}

// InstallModelStream pulls a model and emits one event per output line
// followed by a terminal install_complete event.
func (o *Ollama) InstallModelStream(ctx context.Context, model string) <-chan InstallEvent {
	ch := make(chan InstallEvent)
	go func() {
		defer close(ch)

		fail := func(msg string) {
			select {
			case ch <- InstallEvent{Type: "install_complete", Success: false, Output: msg}:
			case <-ctx.Done():
			}
		}

		cmd := exec.CommandContext(ctx, o.cliPath, "pull", model)
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			fail(err.Error())
			return
		}
		cmd.Stderr = cmd.Stdout
		if err := cmd.Start(); err != nil {
			fail(err.Error())
			return
		}

		var tail []string
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			tail = append(tail, line)
			if len(tail) > 20 {
				tail = tail[1:]
			}
			select {
			case ch <- InstallEvent{Type: "install_log", Line: line}:
			case <-ctx.Done():
				_ = cmd.Process.Kill()
				_ = cmd.Wait()
				return
			}
		}

		err = cmd.Wait()
		select {
		case ch <- InstallEvent{
			Type:    "install_complete",
			Success: err == nil,
			Output:  strings.Join(tail, "\n"),
		}:
		case <-ctx.Done():
		}
	}()
	return ch
}
