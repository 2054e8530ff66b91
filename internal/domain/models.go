// Package domain defines the persistence models for conversation threads,
// messages, and the admin-managed document corpus. These types are mapped
// with GORM and form the core data layer of the conference chat backend.
package domain

import (
	"encoding/binary"
	"math"
	"time"

	"gorm.io/gorm"
)

// Context modes supported by the retrieval pipeline.
const (
	ModeWindow = "window"
	ModeVector = "vector"
)

// Placeholder titles eligible for auto-generation.
const (
	DefaultThreadTitle  = "New conversation"
	UntitledThreadTitle = "Untitled"
)

// Thread represents a conversation owned by a single attendee. Each thread
// carries the provider id used for the next generation (ActiveModel) and a
// display title that the pipeline rewrites after the first and second user
// prompt, never afterwards. AutoTitled marks a title the pipeline wrote; a
// manual rename clears it and pins the title against further rewrites.
type Thread struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	UserID      string         `json:"user_id"      gorm:"type:varchar(64);not null;index:idx_user_threads"`
	Title       string         `json:"title"        gorm:"type:varchar(255);not null;default:'New conversation'"`
	AutoTitled  bool           `json:"-"            gorm:"not null"`
	ActiveModel string         `json:"active_model" gorm:"type:varchar(32);not null;default:'openai'"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-"            gorm:"index"`
}

// TableName returns the database table name for Thread.
func (Thread) TableName() string { return "threads" }

// Message is a single utterance within a thread, authored by the "user" or
// the "assistant". Messages are append-only; assistant rows are inserted only
// after the provider stream finished, so usage counters and the producing
// model land in the same insert.
//
// Model is set only for assistant messages; token counters stay zero for
// user messages.
type Message struct {
	ID                string         `json:"id"        gorm:"type:char(36);primaryKey"`
	ThreadID          string         `json:"thread_id" gorm:"type:char(36);not null;index:idx_thread_msgs,priority:1"`
	Role              string         `json:"role"      gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content           string         `json:"content"   gorm:"type:text;not null"`
	Model             string         `json:"model,omitempty" gorm:"type:varchar(32)"`
	InputTokens       int64          `json:"input_tokens"`
	OutputTokens      int64          `json:"output_tokens"`
	CachedInputTokens int64          `json:"cached_input_tokens"`
	CreatedAt         time.Time      `json:"created_at" gorm:"index:idx_thread_msgs,priority:2"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-"          gorm:"index"`

	// Thread is the parent conversation. Messages are cascade-deleted
	// if their thread is removed.
	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Document is an admin-uploaded text the pipeline may surface to the model.
// Mode decides how it participates: "window" documents are included verbatim
// when enabled, "vector" documents are chunked and embedded for similarity
// retrieval. A disabled document is excluded from window concatenation and
// from vector retrieval alike.
type Document struct {
	ID        string         `json:"id"        gorm:"type:char(36);primaryKey"`
	Name      string         `json:"name"      gorm:"type:varchar(255);not null;uniqueIndex:ux_doc_name"`
	Content   string         `json:"content"   gorm:"type:text;not null"`
	ByteSize  int64          `json:"byte_size" gorm:"not null"`
	Mode      string         `json:"mode"      gorm:"type:varchar(16);not null;default:'window';check:mode IN ('window','vector')"`
	Enabled   bool           `json:"enabled"   gorm:"not null"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"         gorm:"index"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }

// Chunk is the unit of vector retrieval: a fixed-size (with overlap) slice of
// a vector-mode document plus its embedding. Chunks are derived data; a
// reprocess run discards and regenerates all of them, there is no incremental
// update path. Ordinal is the chunk's position within its document and breaks
// similarity ties deterministically.
type Chunk struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	DocumentID string    `json:"document_id" gorm:"type:char(36);not null;index"`
	Content    string    `json:"content"     gorm:"type:text;not null"`
	Embedding  []byte    `json:"-"           gorm:"type:blob"`
	Ordinal    int       `json:"ordinal"     gorm:"not null"`
	CreatedAt  time.Time `json:"created_at"`

	// Document is the source text. Chunks are cascade-deleted with it.
	Document Document `json:"-" gorm:"foreignKey:DocumentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Chunk.
func (Chunk) TableName() string { return "chunks" }

// SetVector stores an embedding as little-endian float32 bytes.
func (c *Chunk) SetVector(v []float32) {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	c.Embedding = buf
}

// Vector decodes the stored embedding. A missing or truncated blob yields nil.
func (c *Chunk) Vector() []float32 {
	if len(c.Embedding) == 0 || len(c.Embedding)%4 != 0 {
		return nil
	}
	out := make([]float32, len(c.Embedding)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(c.Embedding[i*4:]))
	}
	return out
}

// Setting is the single persisted row backing the hot-reloadable pipeline
// configuration. All fields are written together under one incremented
// Version so readers can take a consistent snapshot; see the settings
// package for the in-memory snapshot store.
type Setting struct {
	ID              int64     `json:"id"                gorm:"primaryKey"`
	Version         int64     `json:"version"           gorm:"not null;default:1"`
	BasePrompt      string    `json:"base_prompt"       gorm:"type:text;not null"`
	SafetyPrompt    string    `json:"safety_prompt"     gorm:"type:text;not null"`
	ContextMode     string    `json:"context_mode"      gorm:"type:varchar(16);not null;default:'window';check:context_mode IN ('window','vector')"`
	ChunkSize       int       `json:"chunk_size"        gorm:"not null;default:512"`
	ChunkOverlap    int       `json:"chunk_overlap"     gorm:"not null;default:64"`
	RetrievalTopK   int       `json:"retrieval_top_k"   gorm:"not null;default:5"`
	MaxContextChars int       `json:"max_context_chars" gorm:"not null;default:48000"`
	ActiveProvider  string    `json:"active_provider"   gorm:"type:varchar(32);not null;default:'openai'"`
	ProviderModels  string    `json:"provider_models"   gorm:"type:text;not null;default:'{}'"` // JSON map: provider id -> model name
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for Setting.
func (Setting) TableName() string { return "settings" }
