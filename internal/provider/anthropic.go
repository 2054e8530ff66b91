package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AnthropicClient talks to the Anthropic Messages API over plain HTTP. The
// API differs enough from the OpenAI shape (header auth, top-level system
// field, event-typed SSE) that it gets its own thin client.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	version string
	hc      *http.Client
}

// NewAnthropicClient builds a client or nil when no API key is set.
func NewAnthropicClient(apiKey, baseURL, version string) *AnthropicClient {
	if apiKey == "" {
		return nil
	}
	// No client-level timeout: every request runs under the caller's
	// context deadline (chat or reprocess budget from config).
	return &AnthropicClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		version: version,
		hc:      &http.Client{},
	}
}

type anthropicRequest struct {
	Model     string        `json:"model"`
	System    string        `json:"system,omitempty"`
	Messages  []ChatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
	Stream    bool          `json:"stream,omitempty"`
}

type anthropicUsage struct {
	InputTokens          int64 `json:"input_tokens"`
	OutputTokens         int64 `json:"output_tokens"`
	CacheReadInputTokens int64 `json:"cache_read_input_tokens"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// streamEvent is the union of the SSE payloads we care about; the Type field
// discriminates.
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
	Message struct {
		Usage anthropicUsage `json:"usage"`
	} `json:"message"`
	Usage anthropicUsage `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const anthropicMaxTokens = 8192

func (c *AnthropicClient) newRequest(ctx context.Context, body anthropicRequest) (*http.Request, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", c.version)
	return req, nil
}

// Complete implements Client.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	httpReq, err := c.newRequest(ctx, anthropicRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		Messages:  req.Messages,
		MaxTokens: anthropicMaxTokens,
	})
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("anthropic", resp)
	}
	var out anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("anthropic: %s: %s", out.Error.Type, out.Error.Message)
	}
	var sb strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return &Completion{
		Text: sb.String(),
		Usage: Usage{
			InputTokens:       out.Usage.InputTokens,
			OutputTokens:      out.Usage.OutputTokens,
			CachedInputTokens: out.Usage.CacheReadInputTokens,
		},
	}, nil
}

// Stream implements Client. Input usage arrives on message_start, output
// usage on message_delta; both are folded into the returned Completion.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	httpReq, err := c.newRequest(ctx, anthropicRequest{
		Model:     req.Model,
		System:    req.SystemPrompt,
		Messages:  req.Messages,
		MaxTokens: anthropicMaxTokens,
		Stream:    true,
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("anthropic", resp)
	}

	var (
		text  strings.Builder
		usage Usage
	)
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "message_start":
			usage.InputTokens = ev.Message.Usage.InputTokens
			usage.CachedInputTokens = ev.Message.Usage.CacheReadInputTokens
		case "content_block_delta":
			if ev.Delta.Text != "" {
				text.WriteString(ev.Delta.Text)
				if err := onDelta(ev.Delta.Text); err != nil {
					return nil, err
				}
			}
		case "message_delta":
			usage.OutputTokens = ev.Usage.OutputTokens
		case "error":
			if ev.Error != nil {
				return nil, fmt.Errorf("anthropic: %s: %s", ev.Error.Type, ev.Error.Message)
			}
			return nil, fmt.Errorf("anthropic: stream error")
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: read stream: %w", err)
	}
	return &Completion{Text: text.String(), Usage: usage}, nil
}

// statusError reads a bounded slice of the error body for diagnostics.
func statusError(name string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return fmt.Errorf("%s: unexpected status %d", name, resp.StatusCode)
	}
	return fmt.Errorf("%s: unexpected status %d: %s", name, resp.StatusCode, msg)
}
