// Thread HTTP handlers.
//
// This file exposes REST endpoints for thread resources:
//   - POST   /threads               (create)
//   - GET    /threads               (list, paginated, ETag support)
//   - PUT    /threads/{id}/title    (rename)
//   - PUT    /threads/{id}/model    (switch provider)
//   - GET    /threads/{id}/messages (history, paginated, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/prompt"
	"github.com/confchat/go-confchat-backend/internal/repo"
	"github.com/confchat/go-confchat-backend/internal/services"
	"github.com/confchat/go-confchat-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ThreadService defines thread lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ThreadService interface {
	// Create starts a new thread for userID with an optional title and provider.
	Create(ctx context.Context, userID, title, activeModel string) (*domain.Thread, error)
	// ListPage returns a page of threads for a user and the total count.
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Thread, int64, error)
	// UpdateTitle renames a thread that belongs to userID.
	UpdateTitle(ctx context.Context, userID, threadID, title string) error
	// UpdateModel switches the active provider for a thread owned by userID.
	UpdateModel(ctx context.Context, userID, threadID, providerID string) error
}

// StreamService defines chat generation and history operations.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type StreamService interface {
	// Answer runs a streaming generation, forwarding deltas to onDelta, and
	// persists the user/assistant pair once the stream completes.
	Answer(ctx context.Context, userID, threadID, message string, onDelta func(delta string) error) (*domain.Message, error)
	// Preview assembles the prompt a next message would produce, side-effect free.
	Preview(ctx context.Context, userID, threadID, message string) (*prompt.Bundle, error)
	// ListPage returns a page of messages within a thread and the total count.
	ListPage(ctx context.Context, userID, threadID string, page, pageSize int) ([]domain.Message, int64, error)
}

//
// Handler wiring
//

// Handlers groups the public HTTP endpoints for threads and chat.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	threadSvc ThreadService
	streamSvc StreamService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(threadSvc ThreadService, streamSvc StreamService) *Handlers {
	return &Handlers{threadSvc: threadSvc, streamSvc: streamSvc}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateThreadRequest is the JSON payload for creating a thread.
type CreateThreadRequest struct {
	// Title optionally sets the thread title; a default is used when empty.
	Title string `json:"title" example:"Keynote questions"`
	// Model optionally selects the provider id (openai, anthropic, compat).
	Model string `json:"model" example:"openai"`
}

// UpdateThreadTitleRequest is the JSON payload for updating a thread title.
type UpdateThreadTitleRequest struct {
	// Title is the new thread name (1–255 chars).
	Title string `json:"title" binding:"required,min=1,max=255" example:"Venue logistics"`
}

// UpdateThreadModelRequest is the JSON payload for switching providers.
type UpdateThreadModelRequest struct {
	// Model is the provider id to switch to.
	Model string `json:"model" binding:"required" example:"anthropic"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListThreadsResponse wraps a page of threads and pagination information.
type ListThreadsResponse struct {
	Threads    []domain.Thread `json:"threads"`
	Pagination Pagination      `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages and pagination information.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

func paginationFor(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Handlers
//

// CreateThread godoc
// @ID          createThread
// @Summary     Create a new thread
// @Description Creates a conversation thread for the current user and returns the thread resource.
// @Tags        Threads
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       body       body    handlers.CreateThreadRequest  true  "Create thread payload"
//
// @Success     201  {object}  domain.Thread
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /threads [post]
func (h *Handlers) CreateThread(c *gin.Context) {
	var req CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	t, err := h.threadSvc.Create(c.Request.Context(), userID(c), strings.TrimSpace(req.Title), strings.TrimSpace(req.Model))
	if err != nil {
		if errors.Is(err, services.ErrUnknownProvider) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	ok(c, http.StatusCreated, t)
}

// ListThreads godoc
// @ID          listThreads
// @Summary     List threads (paginated)
// @Description Returns a page of the user's threads. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Threads
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListThreadsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /threads [get]
func (h *Handlers) ListThreads(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.threadDB(); db != nil {
		count, maxTS, err := repo.ThreadsStats(ctx, db, uid)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"threads:%s:%d:%d"`, uid, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.threadSvc.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListThreadsResponse{
		Threads:    items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// UpdateThreadTitle godoc
// @ID          updateThreadTitle
// @Summary     Rename a thread
// @Description Updates the title of a thread owned by the current user.
// @Tags        Threads
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       body       body    handlers.UpdateThreadTitleRequest  true  "New title"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /threads/{id}/title [put]
func (h *Handlers) UpdateThreadTitle(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	var req UpdateThreadTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Title) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "title required (1–255 chars)")
		return
	}

	if err := h.threadSvc.UpdateTitle(c.Request.Context(), userID(c), threadID, req.Title); err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// UpdateThreadModel godoc
// @ID          updateThreadModel
// @Summary     Switch a thread's provider
// @Description Changes which model provider answers future messages in this thread. Prior messages keep their recorded model.
// @Tags        Threads
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  false "User ID (demo header)"  example(user123)
// @Param       id         path    string  true  "Thread ID (UUID)"       format(uuid)
// @Param       body       body    handlers.UpdateThreadModelRequest  true  "Provider id"
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /threads/{id}/model [put]
func (h *Handlers) UpdateThreadModel(c *gin.Context) {
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}

	var req UpdateThreadModelRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Model) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "model required")
		return
	}

	err := h.threadSvc.UpdateModel(c.Request.Context(), userID(c), threadID, strings.TrimSpace(req.Model))
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrUnknownProvider):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, services.ErrThreadNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a thread (paginated)
// @Description Returns a page of messages for a thread owned by the current user. Supports weak ETag via If-None-Match.
// @Tags        Messages
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID (demo header)"       example(user123)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       id             path    string  true  "Thread ID (UUID)"             format(uuid)
// @Param       page           query   int     false "Page number"                  minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"               minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Thread not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /threads/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	threadID := c.Param("id")
	if _, err := uuid.Parse(threadID); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "thread id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if db := h.threadDB(); db != nil {
		count, maxTS, err := repo.MessagesStats(ctx, db, threadID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d"`, threadID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.streamSvc.ListPage(ctx, userID(c), threadID, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrThreadNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "thread not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginationFor(page, pageSize, total),
	})
}

// threadDB exposes the underlying GORM handle for conditional-request
// stats when the concrete services are in use (best effort; nil in tests
// that stub the interfaces).
func (h *Handlers) threadDB() *gorm.DB {
	if svc, ok := h.threadSvc.(*services.ThreadService); ok {
		return svc.DB
	}
	return nil
}
