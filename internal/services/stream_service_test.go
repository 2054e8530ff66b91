package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/provider"
	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/retrieval"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// streamClient scripts a provider: emits deltas, optionally failing after
// failAfter of them.
type streamClient struct {
	deltas    []string
	usage     provider.Usage
	failAfter int // -1 = never fail
	err       error
}

func (s *streamClient) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	if s.err != nil && s.failAfter == 0 {
		return nil, s.err
	}
	return &provider.Completion{Text: strings.Join(s.deltas, ""), Usage: s.usage}, nil
}

func (s *streamClient) Stream(ctx context.Context, req provider.Request, onDelta func(string) error) (*provider.Completion, error) {
	if s.err != nil && s.failAfter == 0 {
		return nil, s.err
	}
	var full strings.Builder
	for i, d := range s.deltas {
		if err := onDelta(d); err != nil {
			return nil, err
		}
		full.WriteString(d)
		if s.err != nil && s.failAfter == i+1 {
			return nil, s.err
		}
	}
	return &provider.Completion{Text: full.String(), Usage: s.usage}, nil
}

func newStreamService(t *testing.T, db *gorm.DB, client provider.Client) *StreamService {
	t.Helper()
	clients := map[string]provider.Client{}
	if client != nil {
		clients[provider.IDOpenAI] = client
	}
	d := provider.NewDispatcher(clients)
	st := settings.NewStore(db)
	svc := NewStreamService(db, st, retrieval.NewEngine(db, nil), d, nil)
	return svc
}

func seedThread(t *testing.T, db *gorm.DB, id, userID, title string) *domain.Thread {
	t.Helper()
	th := &domain.Thread{ID: id, UserID: userID, Title: title, ActiveModel: provider.IDOpenAI}
	if err := db.Create(th).Error; err != nil {
		t.Fatalf("seed thread: %v", err)
	}
	return th
}

func countMessages(t *testing.T, db *gorm.DB, threadID string) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&domain.Message{}).Where("thread_id = ?", threadID).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

func TestAnswer_ValidationErrors(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{deltas: []string{"x"}, failAfter: -1})
	seedThread(t, db, "th1", "u1", "t")

	if _, err := svc.Answer(context.Background(), "u1", "th1", "   ", nil); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	svc.MaxPromptRunes = 5
	if _, err := svc.Answer(context.Background(), "u1", "th1", "too long message", nil); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}

	svc.MaxPromptRunes = 4000
	if _, err := svc.Answer(context.Background(), "u1", "missing", "hi", nil); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
	if _, err := svc.Answer(context.Background(), "other-user", "th1", "hi", nil); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("ownership must map to ErrThreadNotFound, got %v", err)
	}
}

func TestAnswer_ProviderUnavailable(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, nil) // empty dispatcher
	seedThread(t, db, "th1", "u1", "t")

	if _, err := svc.Answer(context.Background(), "u1", "th1", "hi", nil); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	if n := countMessages(t, db, "th1"); n != 0 {
		t.Fatalf("nothing may be persisted on dispatch failure, found %d rows", n)
	}
}

func TestAnswer_SuccessPersistsPairOnce(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{
		deltas:    []string{"Hello ", "attendee"},
		usage:     provider.Usage{InputTokens: 12, OutputTokens: 3, CachedInputTokens: 2},
		failAfter: -1,
	})
	seedThread(t, db, "th1", "u1", "My custom topic")

	var got []string
	m, err := svc.Answer(context.Background(), "u1", "th1", "hi there", func(d string) error {
		got = append(got, d)
		return nil
	})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(got) != 2 || got[0] != "Hello " || got[1] != "attendee" {
		t.Fatalf("deltas not forwarded in order: %v", got)
	}
	if m.Content != "Hello attendee" || m.Role != "assistant" {
		t.Fatalf("unexpected assistant message: %+v", m)
	}
	if m.InputTokens != 12 || m.OutputTokens != 3 || m.CachedInputTokens != 2 {
		t.Fatalf("usage not persisted: %+v", m)
	}

	if n := countMessages(t, db, "th1"); n != 2 {
		t.Fatalf("expected exactly the user/assistant pair, got %d rows", n)
	}
	var user domain.Message
	if err := db.Where("thread_id = ? AND role = ?", "th1", "user").First(&user).Error; err != nil {
		t.Fatalf("load user message: %v", err)
	}
	if user.Content != "hi there" {
		t.Fatalf("user message content: %q", user.Content)
	}
}

func TestAnswer_PreDeltaFailureLeavesDBUntouched(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{err: errors.New("connect refused"), failAfter: 0})
	seedThread(t, db, "th1", "u1", "t")

	if _, err := svc.Answer(context.Background(), "u1", "th1", "hi", nil); err == nil {
		t.Fatalf("expected provider error")
	}
	if n := countMessages(t, db, "th1"); n != 0 {
		t.Fatalf("pre-delta failure must persist nothing, found %d rows", n)
	}
}

func TestAnswer_MidStreamFailureDiscardsPartialOutput(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{
		deltas:    []string{"partial ", "output"},
		err:       errors.New("connection reset"),
		failAfter: 1, // fail after the first delta
	})
	seedThread(t, db, "th1", "u1", "t")

	var got []string
	_, err := svc.Answer(context.Background(), "u1", "th1", "hi", func(d string) error {
		got = append(got, d)
		return nil
	})
	if err == nil {
		t.Fatalf("expected mid-stream error")
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 forwarded delta before failure, got %d", len(got))
	}
	if n := countMessages(t, db, "th1"); n != 0 {
		t.Fatalf("partial output must never be persisted, found %d rows", n)
	}
}

// stallingClient never produces output; it waits for its context.
type stallingClient struct{}

func (stallingClient) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stallingClient) Stream(ctx context.Context, req provider.Request, onDelta func(string) error) (*provider.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAnswer_ChatTimeoutBoundsGeneration(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, stallingClient{})
	svc.ChatTimeout = 50 * time.Millisecond
	seedThread(t, db, "th1", "u1", "t")

	start := time.Now()
	_, err := svc.Answer(context.Background(), "u1", "th1", "hi", nil)
	if err == nil {
		t.Fatalf("expected the per-message budget to cut the generation off")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout did not bound the stalled provider call")
	}
	if n := countMessages(t, db, "th1"); n != 0 {
		t.Fatalf("timed-out generation must persist nothing, found %d rows", n)
	}
}

func TestAnswer_ConsumerAbortStopsAndPersistsNothing(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{deltas: []string{"a", "b", "c"}, failAfter: -1})
	seedThread(t, db, "th1", "u1", "t")

	_, err := svc.Answer(context.Background(), "u1", "th1", "hi", func(d string) error {
		return ErrStreamAborted
	})
	if !errors.Is(err, ErrStreamAborted) {
		t.Fatalf("expected ErrStreamAborted, got %v", err)
	}
	if n := countMessages(t, db, "th1"); n != 0 {
		t.Fatalf("aborted stream must persist nothing, found %d rows", n)
	}
}

func TestAnswer_ManualRenamePinsTitle(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{deltas: []string{"answer"}, failAfter: -1})
	seedThread(t, db, "th1", "u1", domain.DefaultThreadTitle)

	// First exchange: placeholder title gets replaced.
	if _, err := svc.Answer(context.Background(), "u1", "th1", "conference parking details", nil); err != nil {
		t.Fatalf("first Answer: %v", err)
	}
	var th domain.Thread
	if err := db.First(&th, "id = ?", "th1").Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if th.Title == domain.DefaultThreadTitle || th.Title == "" {
		t.Fatalf("placeholder title not replaced: %q", th.Title)
	}
	if !th.AutoTitled {
		t.Fatalf("pipeline title must be marked auto-titled")
	}
	firstTitle := th.Title

	// A manually renamed thread must never be auto-renamed again.
	if err := repo.UpdateThreadTitle(context.Background(), db, "th1", "u1", "Pinned by user"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := svc.Answer(context.Background(), "u1", "th1", "second question entirely", nil); err != nil {
		t.Fatalf("second Answer: %v", err)
	}
	if err := db.First(&th, "id = ?", "th1").Error; err != nil {
		t.Fatalf("reload thread: %v", err)
	}
	if th.Title != "Pinned by user" {
		t.Fatalf("custom title overwritten: %q (first auto title was %q)", th.Title, firstTitle)
	}
}

// chatOnlyClient streams generations but has no short-completion support,
// which drives title generation onto the keyword fallback.
type chatOnlyClient struct {
	streamClient
}

func (c *chatOnlyClient) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	return nil, errors.New("completions unsupported")
}

func TestAnswer_SecondMessageRefinesAutoTitle(t *testing.T) {
	db := newServicesDB(t)
	client := &chatOnlyClient{streamClient{deltas: []string{"answer"}, failAfter: -1}}
	svc := newStreamService(t, db, client)
	seedThread(t, db, "th1", "u1", domain.DefaultThreadTitle)

	if _, err := svc.Answer(context.Background(), "u1", "th1", "badge pickup", nil); err != nil {
		t.Fatalf("first Answer: %v", err)
	}
	var th domain.Thread
	if err := db.First(&th, "id = ?", "th1").Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if th.Title != "Badge Pickup" {
		t.Fatalf("first title: %q", th.Title)
	}

	// The second prompt refines the title from both opening messages.
	if _, err := svc.Answer(context.Background(), "u1", "th1", "workshop rooms", nil); err != nil {
		t.Fatalf("second Answer: %v", err)
	}
	if err := db.First(&th, "id = ?", "th1").Error; err != nil {
		t.Fatalf("reload thread: %v", err)
	}
	if !strings.Contains(th.Title, "Badge") || !strings.Contains(th.Title, "Workshop") {
		t.Fatalf("second title must cover both opening prompts: %q", th.Title)
	}
	if !th.AutoTitled {
		t.Fatalf("refined title must stay auto-titled")
	}
}

func TestAnswer_NoAutoTitleAfterSecondUserMessage(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{deltas: []string{"a"}, failAfter: -1})
	seedThread(t, db, "th1", "u1", domain.DefaultThreadTitle)

	for _, q := range []string{"first question", "second question"} {
		if _, err := svc.Answer(context.Background(), "u1", "th1", q, nil); err != nil {
			t.Fatalf("Answer %q: %v", q, err)
		}
	}
	// Reset to a placeholder; the third user message must not rename.
	if err := db.Model(&domain.Thread{}).Where("id = ?", "th1").Update("title", domain.DefaultThreadTitle).Error; err != nil {
		t.Fatalf("reset title: %v", err)
	}
	if _, err := svc.Answer(context.Background(), "u1", "th1", "third question keywords", nil); err != nil {
		t.Fatalf("third Answer: %v", err)
	}
	var th domain.Thread
	if err := db.First(&th, "id = ?", "th1").Error; err != nil {
		t.Fatalf("load thread: %v", err)
	}
	if th.Title != domain.DefaultThreadTitle {
		t.Fatalf("auto-title fired past the second user message: %q", th.Title)
	}
}

func TestAnswer_IncludesWindowDocumentsInRequest(t *testing.T) {
	db := newServicesDB(t)
	var captured provider.Request
	client := &capturingClient{inner: &streamClient{deltas: []string{"ok"}, failAfter: -1}, captured: &captured}
	svc := newStreamService(t, db, client)
	seedThread(t, db, "th1", "u1", "t")

	if err := db.Create(&domain.Document{
		ID: "d1", Name: "faq.txt", Content: "Doors open at 9am.",
		ByteSize: 18, Mode: domain.ModeWindow, Enabled: true,
	}).Error; err != nil {
		t.Fatalf("seed document: %v", err)
	}

	if _, err := svc.Answer(context.Background(), "u1", "th1", "when do doors open?", nil); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(captured.SystemPrompt, "[faq.txt]") || !strings.Contains(captured.SystemPrompt, "Doors open at 9am.") {
		t.Fatalf("window document missing from system prompt:\n%s", captured.SystemPrompt)
	}
}

// capturingClient records the request it receives before delegating.
type capturingClient struct {
	inner    provider.Client
	captured *provider.Request
}

func (c *capturingClient) Complete(ctx context.Context, req provider.Request) (*provider.Completion, error) {
	*c.captured = req
	return c.inner.Complete(ctx, req)
}

func (c *capturingClient) Stream(ctx context.Context, req provider.Request, onDelta func(string) error) (*provider.Completion, error) {
	*c.captured = req
	return c.inner.Stream(ctx, req, onDelta)
}

func TestPreview_PureProjection(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{deltas: []string{"x"}, failAfter: -1})
	seedThread(t, db, "th1", "u1", "t")

	b, err := svc.Preview(context.Background(), "u1", "th1", "what about lunch?")
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if b.UserMessage != "what about lunch?" {
		t.Fatalf("user message missing: %+v", b)
	}
	if b.EstimatedTokens() <= 0 {
		t.Fatalf("estimate must be positive")
	}
	if n := countMessages(t, db, "th1"); n != 0 {
		t.Fatalf("preview must not persist, found %d rows", n)
	}

	if _, err := svc.Preview(context.Background(), "u1", "missing", "q"); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
	if _, err := svc.Preview(context.Background(), "u1", "th1", "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestListPage_ThreadScopedAndOrdered(t *testing.T) {
	db := newServicesDB(t)
	svc := newStreamService(t, db, &streamClient{deltas: []string{"r"}, failAfter: -1})
	seedThread(t, db, "th1", "u1", "t")

	for _, q := range []string{"one", "two"} {
		if _, err := svc.Answer(context.Background(), "u1", "th1", q, nil); err != nil {
			t.Fatalf("Answer: %v", err)
		}
	}

	items, total, err := svc.ListPage(context.Background(), "u1", "th1", 1, 20)
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if total != 4 || len(items) != 4 {
		t.Fatalf("expected 4 messages, got total=%d len=%d", total, len(items))
	}
	if items[0].Role != "user" || items[0].Content != "one" {
		t.Fatalf("messages out of order: %+v", items[0])
	}

	if _, _, err := svc.ListPage(context.Background(), "u2", "th1", 1, 20); !errors.Is(err, ErrThreadNotFound) {
		t.Fatalf("expected ErrThreadNotFound for non-owner, got %v", err)
	}
}
