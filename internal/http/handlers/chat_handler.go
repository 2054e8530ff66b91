// Chat streaming handlers.
//
// This file exposes the generation endpoints:
//   - POST /threads/{id}/chat  (stream an assistant reply over SSE)
//   - POST /debug/context      (side-effect-free prompt assembly preview)
//
// Wire protocol: the chat endpoint emits Server-Sent Events where every
// record is a JSON object on a single `data:` line. Text deltas arrive as
// {"content":"...","done":false}; the stream ends with exactly one terminal
// record, either {"done":true,"message_id":"..."} on success or
// {"error":"...","done":true} on failure.
//
// Validation failures (unknown or unowned thread, no such provider, bad
// payload) are rejected as plain HTTP errors before any SSE bytes are
// written. The stream opens lazily with the first provider delta; once it
// has begun, all later failures are delivered as the terminal error record,
// never as a late status rewrite.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// result exists for (user, thread, key), the handler replays the recorded
// assistant message as one content record plus the terminal record and sets
// `Idempotency-Replayed: true`.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/services"
)

//
// DTOs
//

// ChatRequest is the JSON payload for sending a user message.
//
// Message is normalized by the handler (line endings and excessive blank
// lines) before being passed to the service layer. The service also enforces
// a maximum rune count, which can be configured in StreamService.
type ChatRequest struct {
	// Message is the user prompt. It must be non-empty.
	Message string `json:"message" binding:"required,min=1" example:"What time does the keynote start?"`
}

// StreamRecord is one SSE data record of the chat stream.
type StreamRecord struct {
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DebugContextRequest is the JSON payload for the context preview endpoint.
type DebugContextRequest struct {
	ThreadID string `json:"thread_id" binding:"required" format:"uuid"`
	Message  string `json:"message" binding:"required,min=1"`
}

// DebugContextSection is one piece of retrieved or pinned material.
type DebugContextSection struct {
	Document string  `json:"document"`
	Ordinal  int     `json:"ordinal,omitempty"`
	Score    float64 `json:"score,omitempty"`
	Content  string  `json:"content"`
}

// DebugContextMessage is one history entry in the preview.
type DebugContextMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// DebugContextResponse is the fully assembled prompt for a hypothetical
// next message, exactly as the providers would receive it.
type DebugContextResponse struct {
	SystemPrompt    string                `json:"system_prompt"`
	WindowDocuments []DebugContextSection `json:"window_documents"`
	Chunks          []DebugContextSection `json:"chunks"`
	History         []DebugContextMessage `json:"history"`
	UserMessage     string                `json:"user_message"`
	EstimatedTokens int                   `json:"estimated_tokens"`
	Truncated       bool                  `json:"truncated"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxPromptRunes inspects the concrete StreamService for a configured
// prompt-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxPromptRunes(streamSvc StreamService) int {
	const fallback = 4000
	if ss, ok := streamSvc.(*services.StreamService); ok {
		if ss.MaxPromptRunes > 0 {
			return ss.MaxPromptRunes
		}
	}
	return fallback
}

// sseStream wraps the response writer for SSE record output.
type sseStream struct {
	c *gin.Context
}

// begin sets the SSE headers. After this point the response status is
// committed and errors must travel as terminal records.
func (s sseStream) begin() {
	h := s.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	s.c.Writer.WriteHeader(http.StatusOK)
	s.c.Writer.Flush()
}

// send writes one data record and flushes it to the client.
func (s sseStream) send(rec StreamRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.c.Writer, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.c.Writer.Flush()
	return nil
}

//
// Handlers
//

// Chat godoc
// @ID          chat
// @Summary     Send a message and stream the assistant reply
// @Description Appends a user message to the thread and streams the assistant reply as Server-Sent Events.
// @Description Each event is a JSON record; the final record has done=true and carries the persisted message id.
// @Description Supports idempotency via the Idempotency-Key header (same key → replay of the recorded reply).
// @Tags        Chat
// @Accept      json
// @Produce     text/event-stream
//
// @Param       X-User-ID        header  string  true  "User ID that owns the thread"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"
// @Param       id               path    string  true  "Thread ID (UUID)"              format(uuid)
// @Param       body             body    handlers.ChatRequest  true  "User message payload"
//
// @Success     200  {string}  string  "SSE stream of handlers.StreamRecord"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Router      /threads/{id}/chat [post]
func (h *Handlers) Chat(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("id")

	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	message := sanitizeContent(req.Message)
	maxRunes := discoverMaxPromptRunes(h.streamSvc)
	if message == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}
	if maxRunes > 0 && utf8.RuneCountInString(message) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("message too long: max %d runes", maxRunes))
		return
	}

	currentUser := userID(c)
	stream := sseStream{c: c}

	// Idempotency (replay path) – read validated key if present.
	idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
	if idemKey != "" {
		if svc, okSvc := h.streamSvc.(*services.StreamService); okSvc && svc.DB != nil {
			if rec, err := repo.GetIdempotency(ctx, svc.DB, currentUser, threadID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(ctx, svc.DB, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					stream.begin()
					_ = stream.send(StreamRecord{Content: prev.Content})
					_ = stream.send(StreamRecord{Done: true, MessageID: prev.ID})
					return
				}
			}
		}
	}

	// The SSE response opens with the first delta, so validation failures
	// below can still be rejected with a real status code.
	started := false
	begin := func() {
		if !started {
			stream.begin()
			started = true
		}
	}

	m, err := h.streamSvc.Answer(ctx, currentUser, threadID, message, func(delta string) error {
		begin()
		return stream.send(StreamRecord{Content: delta})
	})
	if err != nil {
		if !started {
			switch {
			case errors.Is(err, services.ErrThreadNotFound):
				fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
				return
			case errors.Is(err, services.ErrProviderUnavailable):
				fail(c, http.StatusServiceUnavailable, ErrCodeStreamFailed, "provider not available")
				return
			case errors.Is(err, services.ErrEmptyMessage):
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
				return
			case errors.Is(err, services.ErrTooLong):
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message too long")
				return
			}
		}
		begin()
		_ = stream.send(StreamRecord{Done: true, Error: streamErrorMessage(err)})
		return
	}
	begin()

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if svc, okSvc := h.streamSvc.(*services.StreamService); okSvc && svc.DB != nil {
			_, _ = repo.CreateIdempotency(ctx, svc.DB, currentUser, threadID, idemKey, m.ID, http.StatusOK, 24*time.Hour)
		}
	}

	_ = stream.send(StreamRecord{Done: true, MessageID: m.ID})
}

// streamErrorMessage maps service errors to client-safe terminal messages.
// Provider internals are not leaked into the stream.
func streamErrorMessage(err error) string {
	switch {
	case errors.Is(err, services.ErrThreadNotFound):
		return "thread not found"
	case errors.Is(err, services.ErrEmptyMessage):
		return "message required"
	case errors.Is(err, services.ErrTooLong):
		return "message too long"
	case errors.Is(err, services.ErrProviderUnavailable):
		return "provider not available"
	default:
		return "generation failed"
	}
}

// DebugContext godoc
// @ID          debugContext
// @Summary     Preview the assembled prompt
// @Description Returns the full prompt (system prompt, pinned and retrieved material, trimmed history, pending message)
// @Description that the next chat message would produce. No provider call, no persistence, no title changes.
// @Tags        Debug
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "User ID that owns the thread"  example(user123)
// @Param       body       body    handlers.DebugContextRequest  true  "Thread and hypothetical message"
//
// @Success     200  {object}  handlers.DebugContextResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Thread not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /debug/context [post]
func (h *Handlers) DebugContext(c *gin.Context) {
	var req DebugContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread_id and message required")
		return
	}
	if _, err := uuid.Parse(req.ThreadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}
	message := sanitizeContent(req.Message)
	if message == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message required")
		return
	}

	bundle, err := h.streamSvc.Preview(c.Request.Context(), userID(c), req.ThreadID, message)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	resp := DebugContextResponse{
		SystemPrompt:    bundle.SystemPrompt,
		WindowDocuments: make([]DebugContextSection, 0, len(bundle.WindowDocs)),
		Chunks:          make([]DebugContextSection, 0, len(bundle.Chunks)),
		History:         make([]DebugContextMessage, 0, len(bundle.History)),
		UserMessage:     bundle.UserMessage,
		EstimatedTokens: bundle.EstimatedTokens(),
		Truncated:       bundle.Truncated,
	}
	for _, d := range bundle.WindowDocs {
		resp.WindowDocuments = append(resp.WindowDocuments, DebugContextSection{Document: d.Name, Content: d.Content})
	}
	for _, ch := range bundle.Chunks {
		resp.Chunks = append(resp.Chunks, DebugContextSection{
			Document: ch.DocName,
			Ordinal:  ch.Ordinal,
			Score:    ch.Score,
			Content:  ch.Content,
		})
	}
	for _, m := range bundle.History {
		resp.History = append(resp.History, DebugContextMessage{Role: m.Role, Content: m.Content})
	}
	ok(c, http.StatusOK, resp)
}
