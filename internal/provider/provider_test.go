package provider

import (
	"context"
	"errors"
	"testing"
	"time"
)

// scriptClient replays a fixed delta sequence.
type scriptClient struct {
	deltas []string
	usage  Usage
	err    error
}

func (s *scriptClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	var full string
	for _, d := range s.deltas {
		full += d
	}
	return &Completion{Text: full, Usage: s.usage}, nil
}

func (s *scriptClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	var full string
	for _, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		full += d
	}
	return &Completion{Text: full, Usage: s.usage}, nil
}

func TestNewDispatcher_SkipsNilClients(t *testing.T) {
	d := NewDispatcher(map[string]Client{
		IDOpenAI:    &scriptClient{},
		IDAnthropic: nil,
	})
	if !d.Has(IDOpenAI) {
		t.Fatalf("expected openai to be available")
	}
	if d.Has(IDAnthropic) {
		t.Fatalf("nil client must not register")
	}
}

func TestDispatcherComplete_UnknownProvider(t *testing.T) {
	d := NewDispatcher(nil)
	_, err := d.Complete(context.Background(), "nope", Request{})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("stream did not close; events so far: %+v", out)
		}
	}
}

func TestDispatcherStream_DeltasThenTerminalUsage(t *testing.T) {
	d := NewDispatcher(map[string]Client{
		IDOpenAI: &scriptClient{
			deltas: []string{"Hel", "lo"},
			usage:  Usage{InputTokens: 7, OutputTokens: 2},
		},
	})
	events := collect(t, d.Stream(context.Background(), IDOpenAI, Request{}))

	if len(events) != 3 {
		t.Fatalf("expected 2 deltas + terminal, got %d: %+v", len(events), events)
	}
	if events[0].Delta != "Hel" || events[1].Delta != "lo" {
		t.Fatalf("deltas out of order: %+v", events)
	}
	last := events[2]
	if !last.Done || last.Usage == nil || last.Err != nil {
		t.Fatalf("bad terminal event: %+v", last)
	}
	if last.Usage.InputTokens != 7 || last.Usage.OutputTokens != 2 {
		t.Fatalf("usage not carried: %+v", last.Usage)
	}
}

func TestDispatcherStream_UnknownProviderTerminalError(t *testing.T) {
	d := NewDispatcher(nil)
	events := collect(t, d.Stream(context.Background(), "ghost", Request{}))
	if len(events) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d", len(events))
	}
	if !events[0].Done || !errors.Is(events[0].Err, ErrUnknownProvider) {
		t.Fatalf("bad terminal event: %+v", events[0])
	}
}

func TestDispatcherStream_ClientErrorTerminal(t *testing.T) {
	boom := errors.New("backend down")
	d := NewDispatcher(map[string]Client{IDCompat: &scriptClient{err: boom}})
	events := collect(t, d.Stream(context.Background(), IDCompat, Request{}))
	if len(events) != 1 || !events[0].Done || !errors.Is(events[0].Err, boom) {
		t.Fatalf("expected single terminal error event, got %+v", events)
	}
}

// panicClient blows up after a delta, like a client with a nil-deref bug.
type panicClient struct{}

func (panicClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	panic("unreachable")
}

func (panicClient) Stream(ctx context.Context, req Request, onDelta func(string) error) (*Completion, error) {
	_ = onDelta("partial")
	panic("nil response body")
}

func TestDispatcherStream_ClientPanicBecomesTerminalError(t *testing.T) {
	d := NewDispatcher(map[string]Client{IDCompat: panicClient{}})
	events := collect(t, d.Stream(context.Background(), IDCompat, Request{}))

	if len(events) != 2 {
		t.Fatalf("expected delta + terminal, got %+v", events)
	}
	last := events[len(events)-1]
	if !last.Done || last.Err == nil {
		t.Fatalf("panic must surface as a terminal error event: %+v", last)
	}
}

func TestDispatcherStream_CancelDoesNotLeak(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(map[string]Client{
		IDOpenAI: &scriptClient{deltas: []string{"a", "b", "c"}},
	})
	events := d.Stream(ctx, IDOpenAI, Request{})

	<-events // read one delta, then walk away
	cancel()

	// The producer goroutine must close the channel instead of blocking on
	// the unbuffered send forever.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream goroutine leaked after cancel")
		}
	}
}
