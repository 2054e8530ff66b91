// Package provider implements the model-backend dispatcher: a closed set of
// interchangeable clients (OpenAI, Anthropic, and a generic OpenAI-compatible
// gateway) behind one streaming-generation contract.
//
// Every client exposes the same two-phase interface: Complete returns the
// full text plus usage, Stream yields incremental text deltas through a
// callback and returns the final usage. The Dispatcher normalizes both
// success and failure into a single event-stream shape so callers never see
// provider-specific errors.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// Provider ids forming the closed set of backends.
const (
	IDOpenAI    = "openai"
	IDAnthropic = "anthropic"
	IDCompat    = "compat"
)

// Roles used in prompt bundles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrUnknownProvider is returned when a thread references a provider id the
// dispatcher was not built with.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrNotConfigured is returned by clients missing credentials.
var ErrNotConfigured = errors.New("provider not configured")

// ChatMessage is one prompt entry in provider-agnostic form.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-agnostic generation request. SystemPrompt travels
// separately from Messages because backends differ on where system text goes.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []ChatMessage
}

// Usage holds the token counters reported at the end of a generation.
// CachedInputTokens stays zero for backends that do not report it.
type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	CachedInputTokens int64 `json:"cached_input_tokens"`
}

// Completion is the final result of a generation: the full text and usage.
type Completion struct {
	Text  string
	Usage Usage
}

// Event is one element of the normalized stream: zero or more delta events,
// then exactly one terminal event carrying either Usage or Err.
type Event struct {
	Delta string
	Usage *Usage
	Err   error
	Done  bool
}

// Client is the uniform interface every backend implements.
//
// Stream must call onDelta once per text fragment, in order, from a single
// goroutine; a non-nil error from onDelta aborts the stream. Both methods
// honor ctx cancellation and deadlines.
type Client interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Stream(ctx context.Context, req Request, onDelta func(delta string) error) (*Completion, error)
}

// Dispatcher routes requests to the configured clients. It is stateless
// with respect to threads: the caller picks the provider id per request.
type Dispatcher struct {
	clients map[string]Client
}

// NewDispatcher builds a dispatcher over an explicit provider set. Nil
// clients are skipped so deployments can run with a subset configured.
func NewDispatcher(clients map[string]Client) *Dispatcher {
	m := make(map[string]Client, len(clients))
	for id, c := range clients {
		if c != nil {
			m[id] = c
		}
	}
	return &Dispatcher{clients: m}
}

// Has reports whether a provider id is available.
func (d *Dispatcher) Has(id string) bool {
	_, ok := d.clients[id]
	return ok
}

// Complete runs a non-streaming generation on the named provider.
func (d *Dispatcher) Complete(ctx context.Context, providerID string, req Request) (*Completion, error) {
	c, ok := d.clients[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, providerID)
	}
	return c.Complete(ctx, req)
}

// Stream runs a streaming generation and returns an unbuffered event channel.
// The channel is closed after the terminal event. Because the channel is
// unbuffered, the consumer's read rate is the backpressure on the provider
// read loop; cancelling ctx aborts the in-flight request.
//
// Provider failures of any kind (missing credentials, network, malformed
// response) surface as a single Event{Err, Done}, never as a panic and
// never as a raw error type leaking to the consumer.
func (d *Dispatcher) Stream(ctx context.Context, providerID string, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		defer func() {
			if r := recover(); r != nil {
				emit(ctx, out, Event{Err: fmt.Errorf("provider %s panicked: %v", providerID, r), Done: true})
			}
		}()

		c, ok := d.clients[providerID]
		if !ok {
			emit(ctx, out, Event{Err: fmt.Errorf("%w: %s", ErrUnknownProvider, providerID), Done: true})
			return
		}

		comp, err := c.Stream(ctx, req, func(delta string) error {
			if delta == "" {
				return nil
			}
			select {
			case out <- Event{Delta: delta}:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			emit(ctx, out, Event{Err: err, Done: true})
			return
		}
		u := comp.Usage
		emit(ctx, out, Event{Usage: &u, Done: true})
	}()
	return out
}

func emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
