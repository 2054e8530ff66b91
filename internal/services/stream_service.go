// Package services – StreamService
//
// This file implements StreamService, the controller that owns a chat
// generation from validation to persistence. One call runs the whole
// pipeline: ownership check, settings snapshot, history load, retrieval,
// prompt assembly, provider dispatch, delta forwarding, and the final
// atomic persist of the user/assistant message pair.
//
// Persistence is exactly-once and all-or-nothing: nothing is written until
// the provider stream completes, so a failure at any point, before or
// during streaming, leaves the thread untouched and the partial accumulator
// is discarded.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// thread/user/provider identifiers, and Prometheus counters in metrics.go
// track outcomes, durations, and token usage.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/confchat/go-confchat-backend/internal/cache"
	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/prompt"
	"github.com/confchat/go-confchat-backend/internal/provider"
	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/retrieval"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// StreamService coordinates streaming chat generations.
type StreamService struct {
	DB         *gorm.DB
	Settings   *settings.Store
	Engine     *retrieval.Engine
	Dispatcher *provider.Dispatcher
	Titles     *TitleGenerator
	History    *cache.HistoryCache

	// HistoryWindow is the number of recent messages included in prompts.
	HistoryWindow int
	// MaxPromptRunes caps incoming user messages by rune length.
	MaxPromptRunes int
	// ChatTimeout bounds one provider generation. Zero leaves the caller's
	// context as the only bound.
	ChatTimeout time.Duration
}

// NewStreamService constructs a StreamService with default limits.
func NewStreamService(db *gorm.DB, st *settings.Store, eng *retrieval.Engine, d *provider.Dispatcher, hist *cache.HistoryCache) *StreamService {
	return &StreamService{
		DB:             db,
		Settings:       st,
		Engine:         eng,
		Dispatcher:     d,
		Titles:         NewTitleGenerator(d),
		History:        hist,
		HistoryWindow:  10,
		MaxPromptRunes: 4000,
	}
}

// Answer runs one streaming generation for the thread. Each text delta is
// forwarded to onDelta in arrival order; a non-nil error from onDelta
// aborts the provider stream. On success the user and assistant messages
// are persisted in one transaction and the stored assistant message is
// returned.
//
// The settings snapshot is taken once here and used unchanged for
// retrieval, assembly, and dispatch, so an admin save racing this request
// cannot mix parameter generations.
func (s *StreamService) Answer(ctx context.Context, userID, threadID, message string, onDelta func(delta string) error) (*domain.Message, error) {
	tr := otel.Tracer("services/StreamService")
	ctx, span := tr.Start(ctx, "Answer",
		trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(message) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}

	thread, err := repo.GetThread(ctx, s.DB, threadID, userID)
	if err != nil {
		return nil, ErrThreadNotFound
	}
	providerID := thread.ActiveModel
	if !s.Dispatcher.Has(providerID) {
		return nil, ErrProviderUnavailable
	}
	span.SetAttributes(attribute.String("provider.id", providerID))

	snap := s.Settings.Current()
	bundle, err := s.assemble(ctx, snap, threadID, message)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	comp, err := s.stream(ctx, providerID, bundle.Request(snap.ModelFor(providerID)), onDelta)
	streamDur.WithLabelValues(providerID).Observe(time.Since(start).Seconds())
	if err != nil {
		streamOutcomes.WithLabelValues(providerID, "error").Inc()
		return nil, err
	}
	streamOutcomes.WithLabelValues(providerID, "complete").Inc()
	streamTokens.WithLabelValues(providerID, "input").Add(float64(comp.Usage.InputTokens))
	streamTokens.WithLabelValues(providerID, "output").Add(float64(comp.Usage.OutputTokens))
	streamTokens.WithLabelValues(providerID, "cached_input").Add(float64(comp.Usage.CachedInputTokens))

	assistant, err := s.persist(ctx, thread, snap, providerID, message, comp)
	if err != nil {
		return nil, err
	}
	if cerr := s.History.MarkDirty(ctx, threadID); cerr != nil {
		log.Warn().Err(cerr).Str("thread_id", threadID).Msg("history cache invalidation failed")
	}
	return assistant, nil
}

// Preview assembles the bundle a hypothetical next message would produce.
// It is a pure projection: no dispatch, no persistence, no title changes.
func (s *StreamService) Preview(ctx context.Context, userID, threadID, message string) (*prompt.Bundle, error) {
	tr := otel.Tracer("services/StreamService")
	ctx, span := tr.Start(ctx, "Preview",
		trace.WithAttributes(
			attribute.String("thread.id", threadID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if _, err := repo.GetThread(ctx, s.DB, threadID, userID); err != nil {
		return nil, ErrThreadNotFound
	}
	return s.assemble(ctx, s.Settings.Current(), threadID, message)
}

// ListPage returns paginated messages for a thread owned by the user.
func (s *StreamService) ListPage(ctx context.Context, userID, threadID string, page, pageSize int) ([]domain.Message, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetThread(ctx, s.DB, threadID, userID); err != nil {
		return nil, 0, ErrThreadNotFound
	}
	total, err := repo.CountMessages(ctx, s.DB, threadID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, threadID, offset, pageSize)
	return items, total, err
}

// assemble loads history, runs retrieval, and fits everything to the
// snapshot's context budget.
func (s *StreamService) assemble(ctx context.Context, snap settings.Snapshot, threadID, message string) (*prompt.Bundle, error) {
	history, err := s.recentHistory(ctx, threadID)
	if err != nil {
		return nil, err
	}
	res, err := s.Engine.Retrieve(ctx, snap, message)
	if err != nil {
		return nil, err
	}
	bundle := prompt.Assemble(snap, res, history, message)
	if bundle.Truncated {
		assembleTruncations.Inc()
	}
	return bundle, nil
}

// recentHistory reads the prompt window, through the cache when one is
// configured. Cache failures degrade to a direct read.
func (s *StreamService) recentHistory(ctx context.Context, threadID string) ([]domain.Message, error) {
	if msgs, ok, err := s.History.GetHistory(ctx, threadID); err == nil && ok {
		return msgs, nil
	} else if err != nil {
		log.Warn().Err(err).Str("thread_id", threadID).Msg("history cache read failed")
	}
	msgs, err := repo.ListRecentMessages(ctx, s.DB, threadID, s.HistoryWindow)
	if err != nil {
		return nil, err
	}
	if cerr := s.History.SetHistory(ctx, threadID, msgs); cerr != nil {
		log.Warn().Err(cerr).Str("thread_id", threadID).Msg("history cache write failed")
	}
	return msgs, nil
}

// stream consumes the dispatcher's event channel, forwarding deltas. The
// derived cancel tears down the provider request when the consumer aborts
// or the per-message budget runs out.
func (s *StreamService) stream(ctx context.Context, providerID string, req provider.Request, onDelta func(string) error) (*provider.Completion, error) {
	var cancel context.CancelFunc
	if s.ChatTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.ChatTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	var (
		full  strings.Builder
		usage provider.Usage
		done  bool
	)
	events := s.Dispatcher.Stream(ctx, providerID, req)
	for ev := range events {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.Done:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
			done = true
		default:
			full.WriteString(ev.Delta)
			if onDelta != nil {
				if err := onDelta(ev.Delta); err != nil {
					cancel()
					for range events {
					}
					return nil, err
				}
			}
		}
	}
	if !done {
		return nil, ctx.Err()
	}
	return &provider.Completion{Text: full.String(), Usage: usage}, nil
}

// persist writes the user/assistant pair atomically and runs the rename
// step. The rename fires after the first and second user message: the first
// derives a title from that prompt, the second refines it from both opening
// prompts. A manually renamed thread is pinned and never auto-renamed again.
// Title failures are logged and swallowed; they never fail a completed
// generation.
func (s *StreamService) persist(ctx context.Context, thread *domain.Thread, snap settings.Snapshot, providerID, message string, comp *provider.Completion) (*domain.Message, error) {
	priorUserMsgs, err := repo.CountUserMessages(ctx, s.DB, thread.ID)
	if err != nil {
		return nil, err
	}

	var assistant *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := repo.CreateUserMessage(ctx, tx, thread.ID, message); err != nil {
			return err
		}
		m, err := repo.CreateAssistantMessage(ctx, tx, thread.ID, comp.Text, snap.ModelFor(providerID), repo.MessageUsage{
			InputTokens:       comp.Usage.InputTokens,
			OutputTokens:      comp.Usage.OutputTokens,
			CachedInputTokens: comp.Usage.CachedInputTokens,
		})
		if err != nil {
			return err
		}
		assistant = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	if priorUserMsgs < 2 && (thread.AutoTitled || isPlaceholderTitle(thread.Title)) {
		seed := message
		if priorUserMsgs == 1 {
			// Second user message: refine the title from both opening prompts.
			if opening, ferr := repo.ListFirstUserMessages(ctx, s.DB, thread.ID, 2); ferr == nil && len(opening) > 0 {
				parts := make([]string, 0, len(opening))
				for _, om := range opening {
					parts = append(parts, om.Content)
				}
				seed = strings.Join(parts, "\n")
			}
		}
		if gen := s.Titles.Generate(ctx, providerID, snap.ModelFor(providerID), seed); gen != "" {
			if uerr := repo.SetAutoTitle(ctx, s.DB, thread.ID, thread.UserID, gen); uerr != nil {
				log.Warn().Err(uerr).Str("thread_id", thread.ID).Msg("auto-title update failed")
			}
		}
	}
	return assistant, nil
}

// isPlaceholderTitle reports whether the title has never been set to
// anything meaningful.
func isPlaceholderTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" ||
		t == strings.ToLower(domain.DefaultThreadTitle) ||
		t == strings.ToLower(domain.UntitledThreadTitle)
}

// ErrStreamAborted marks a consumer-side abort (client went away).
var ErrStreamAborted = errors.New("stream aborted by consumer")
