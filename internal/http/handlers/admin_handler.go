// Admin HTTP handlers.
//
// This file exposes the administrative endpoints behind /admin:
//   - GET    /admin/settings        (current settings snapshot)
//   - PUT    /admin/settings        (validate, version, and publish settings)
//   - POST   /admin/documents       (upload a document)
//   - GET    /admin/documents       (list documents)
//   - PATCH  /admin/documents/{id}  (partial update)
//   - DELETE /admin/documents/{id}  (remove document and chunks)
//   - POST   /admin/reprocess       (re-chunk, re-embed, swap the index)
//
// Handlers are transport-thin and map service sentinels onto the shared
// error envelope.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/services"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// DocumentService defines the corpus operations consumed by admin handlers.
type DocumentService interface {
	Upload(ctx context.Context, name, content, mode string, enabled bool) (*domain.Document, error)
	List(ctx context.Context) ([]domain.Document, error)
	Get(ctx context.Context, id string) (*domain.Document, error)
	Patch(ctx context.Context, id string, p services.DocumentPatch) (*domain.Document, error)
	Delete(ctx context.Context, id string) error
	Reprocess(ctx context.Context) error
}

// SettingsStore defines the snapshot operations consumed by admin handlers.
type SettingsStore interface {
	Current() settings.Snapshot
	Save(ctx context.Context, snap settings.Snapshot) (settings.Snapshot, error)
}

// AdminHandlers groups the administrative endpoints.
type AdminHandlers struct {
	docSvc   DocumentService
	settings SettingsStore
}

// NewAdmin constructs AdminHandlers bound to the given services.
func NewAdmin(docSvc DocumentService, st SettingsStore) *AdminHandlers {
	return &AdminHandlers{docSvc: docSvc, settings: st}
}

//
// DTOs
//

// UploadDocumentRequest is the JSON payload for uploading a document.
type UploadDocumentRequest struct {
	// Name uniquely identifies the document within the installation.
	Name string `json:"name" binding:"required,min=1,max=255" example:"faq.txt"`
	// Content is the raw document text.
	Content string `json:"content" binding:"required,min=1"`
	// Mode is either "window" (always included verbatim) or "vector" (chunked and searched).
	Mode string `json:"mode" binding:"required" example:"window"`
	// Enabled controls inclusion; disabled documents are excluded everywhere.
	Enabled *bool `json:"enabled"`
}

// PatchDocumentRequest carries optional document updates; absent fields are
// left unchanged.
type PatchDocumentRequest struct {
	Name    *string `json:"name"`
	Content *string `json:"content"`
	Mode    *string `json:"mode"`
	Enabled *bool   `json:"enabled"`
}

// SettingsRequest is the JSON payload for replacing the settings snapshot.
// Fields mirror settings.Snapshot minus the server-assigned version.
type SettingsRequest struct {
	BasePrompt      string            `json:"base_prompt"`
	SafetyPrompt    string            `json:"safety_prompt"`
	ContextMode     string            `json:"context_mode" example:"window"`
	ChunkSize       int               `json:"chunk_size" example:"512"`
	ChunkOverlap    int               `json:"chunk_overlap" example:"64"`
	RetrievalTopK   int               `json:"retrieval_top_k" example:"5"`
	MaxContextChars int               `json:"max_context_chars" example:"48000"`
	ActiveProvider  string            `json:"active_provider" example:"openai"`
	ProviderModels  map[string]string `json:"provider_models"`
}

//
// Settings
//

// GetSettings godoc
// @ID          getSettings
// @Summary     Read current settings
// @Description Returns the versioned settings snapshot currently applied to new requests.
// @Tags        Admin
// @Produce     json
// @Success     200  {object}  settings.Snapshot
// @Router      /admin/settings [get]
func (h *AdminHandlers) GetSettings(c *gin.Context) {
	ok(c, http.StatusOK, h.settings.Current())
}

// PutSettings godoc
// @ID          putSettings
// @Summary     Replace settings
// @Description Validates the payload, persists it with a new version, and publishes it atomically.
// @Description In-flight generations keep the snapshot they started with.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.SettingsRequest  true  "New settings"
//
// @Success     200  {object}  settings.Snapshot
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/settings [put]
func (h *AdminHandlers) PutSettings(c *gin.Context) {
	var req SettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	snap, err := h.settings.Save(c.Request.Context(), settings.Snapshot{
		BasePrompt:      req.BasePrompt,
		SafetyPrompt:    req.SafetyPrompt,
		ContextMode:     req.ContextMode,
		ChunkSize:       req.ChunkSize,
		ChunkOverlap:    req.ChunkOverlap,
		RetrievalTopK:   req.RetrievalTopK,
		MaxContextChars: req.MaxContextChars,
		ActiveProvider:  req.ActiveProvider,
		ProviderModels:  req.ProviderModels,
	})
	if err != nil {
		if errors.Is(err, settings.ErrInvalidSnapshot) {
			fail(c, http.StatusBadRequest, ErrCodeInvalidSettings, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, snap)
}

//
// Documents
//

// UploadDocument godoc
// @ID          uploadDocument
// @Summary     Upload a document
// @Description Stores a new document. Vector documents become searchable after the next reprocess.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.UploadDocumentRequest  true  "Document payload"
//
// @Success     201  {object}  domain.Document
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     409  {object}  handlers.ErrorResponse  "Name already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/documents [post]
func (h *AdminHandlers) UploadDocument(c *gin.Context) {
	var req UploadDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "name, content and mode required")
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	doc, err := h.docSvc.Upload(c.Request.Context(), req.Name, req.Content, req.Mode, enabled)
	switch {
	case err == nil:
		ok(c, http.StatusCreated, doc)
	case errors.Is(err, services.ErrDuplicateDocument):
		fail(c, http.StatusConflict, ErrCodeConflict, "document name already exists")
	case errors.Is(err, services.ErrInvalidDocument):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "mode must be window or vector and content non-empty")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeUploadFailed, err.Error())
	}
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List documents
// @Description Returns all documents in upload order.
// @Tags        Admin
// @Produce     json
// @Success     200  {array}   domain.Document
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/documents [get]
func (h *AdminHandlers) ListDocuments(c *gin.Context) {
	docs, err := h.docSvc.List(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, docs)
}

// PatchDocument godoc
// @ID          patchDocument
// @Summary     Update a document
// @Description Applies a partial update. Content or mode changes leave chunks stale until reprocessing.
// @Tags        Admin
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Document ID (UUID)"  format(uuid)
// @Param       body  body  handlers.PatchDocumentRequest  true  "Fields to update"
//
// @Success     200  {object}  domain.Document
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Name already exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/documents/{id} [patch]
func (h *AdminHandlers) PatchDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}
	var req PatchDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	doc, err := h.docSvc.Patch(c.Request.Context(), id, services.DocumentPatch{
		Name:    req.Name,
		Content: req.Content,
		Mode:    req.Mode,
		Enabled: req.Enabled,
	})
	switch {
	case err == nil:
		ok(c, http.StatusOK, doc)
	case errors.Is(err, services.ErrDocumentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "document not found")
	case errors.Is(err, services.ErrDuplicateDocument):
		fail(c, http.StatusConflict, ErrCodeConflict, "document name already exists")
	case errors.Is(err, services.ErrInvalidDocument):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid document fields")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// DeleteDocument godoc
// @ID          deleteDocument
// @Summary     Delete a document
// @Description Removes the document and its chunks; the live index is reloaded without them.
// @Tags        Admin
// @Produce     json
//
// @Param       id  path  string  true  "Document ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string  "No Content"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Document not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /admin/documents/{id} [delete]
func (h *AdminHandlers) DeleteDocument(c *gin.Context) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "document id must be a UUID")
		return
	}
	err := h.docSvc.Delete(c.Request.Context(), id)
	switch {
	case err == nil:
		noContent(c)
	case errors.Is(err, services.ErrDocumentNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "document not found")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// Reprocess godoc
// @ID          reprocess
// @Summary     Rebuild the chunk index
// @Description Re-chunks and re-embeds the enabled vector corpus under current settings, then swaps the live index.
// @Tags        Admin
// @Produce     json
// @Success     202  {object}  map[string]string
// @Failure     500  {object}  handlers.ErrorResponse  "Reprocess failed"
// @Router      /admin/reprocess [post]
func (h *AdminHandlers) Reprocess(c *gin.Context) {
	if err := h.docSvc.Reprocess(c.Request.Context()); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeReprocessFailed, err.Error())
		return
	}
	ok(c, http.StatusAccepted, gin.H{"status": "reprocessed"})
}
