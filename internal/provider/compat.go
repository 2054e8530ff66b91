package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// CompatClient targets any OpenAI-compatible gateway (vLLM, LiteLLM, local
// runtimes) through raw HTTP. It keeps the wire handling independent of the
// official SDK so quirks of self-hosted gateways stay contained here.
type CompatClient struct {
	apiKey  string
	baseURL string
	hc      *http.Client
}

// NewCompatClient builds a client or nil when no base URL is set. An API key
// is optional for local gateways.
func NewCompatClient(apiKey, baseURL string) *CompatClient {
	if baseURL == "" {
		return nil
	}
	// No client-level timeout: every request runs under the caller's
	// context deadline (chat or reprocess budget from config).
	return &CompatClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{},
	}
}

type compatRequest struct {
	Model         string               `json:"model"`
	Messages      []ChatMessage        `json:"messages"`
	Stream        bool                 `json:"stream,omitempty"`
	StreamOptions *compatStreamOptions `json:"stream_options,omitempty"`
}

type compatStreamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type compatUsage struct {
	PromptTokens        int64 `json:"prompt_tokens"`
	CompletionTokens    int64 `json:"completion_tokens"`
	PromptTokensDetails struct {
		CachedTokens int64 `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type compatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *compatUsage `json:"usage"`
}

func (c *CompatClient) messages(req Request) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, ChatMessage{Role: RoleSystem, Content: req.SystemPrompt})
	}
	return append(msgs, req.Messages...)
}

func (c *CompatClient) do(ctx context.Context, body compatRequest, stream bool) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("compat: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("compat: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("compat: request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("compat", resp)
	}
	return resp, nil
}

// Complete implements Client.
func (c *CompatClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	resp, err := c.do(ctx, compatRequest{Model: req.Model, Messages: c.messages(req)}, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out compatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("compat: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("compat: empty choices")
	}
	comp := &Completion{Text: out.Choices[0].Message.Content}
	if out.Usage != nil {
		comp.Usage = Usage{
			InputTokens:       out.Usage.PromptTokens,
			OutputTokens:      out.Usage.CompletionTokens,
			CachedInputTokens: out.Usage.PromptTokensDetails.CachedTokens,
		}
	}
	return comp, nil
}

// Stream implements Client. With include_usage set, conforming gateways send
// a final chunk with empty choices and the usage object before [DONE].
func (c *CompatClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	resp, err := c.do(ctx, compatRequest{
		Model:         req.Model,
		Messages:      c.messages(req),
		Stream:        true,
		StreamOptions: &compatStreamOptions{IncludeUsage: true},
	}, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

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
		if payload == "" || payload == "[DONE]" {
			continue
		}
		var chunk compatResponse
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if chunk.Usage != nil {
			usage = Usage{
				InputTokens:       chunk.Usage.PromptTokens,
				OutputTokens:      chunk.Usage.CompletionTokens,
				CachedInputTokens: chunk.Usage.PromptTokensDetails.CachedTokens,
			}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			text.WriteString(chunk.Choices[0].Delta.Content)
			if err := onDelta(chunk.Choices[0].Delta.Content); err != nil {
				return nil, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("compat: read stream: %w", err)
	}
	return &Completion{Text: text.String(), Usage: usage}, nil
}
