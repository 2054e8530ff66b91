// Package prompt assembles provider-agnostic prompt bundles: system prompt,
// pinned and retrieved material, trimmed history, and the pending user
// message, fitted to a character budget.
package prompt

import (
	"fmt"
	"strings"

	"github.com/confchat/go-confchat-backend/internal/domain"
	"github.com/confchat/go-confchat-backend/internal/provider"
	"github.com/confchat/go-confchat-backend/internal/retrieval"
	"github.com/confchat/go-confchat-backend/internal/settings"
)

// charsPerToken is the estimation ratio used for reported token counts.
// Real tokenizers vary per provider; the budget itself is enforced in
// characters so the estimate only feeds diagnostics.
const charsPerToken = 4

// Bundle is a fully assembled prompt. Section order is a contract with the
// providers: system prompt, pinned documents, retrieved chunks, history,
// then the pending user message.
type Bundle struct {
	SystemPrompt string
	WindowDocs   []retrieval.WindowDoc
	Chunks       []retrieval.Scored
	History      []provider.ChatMessage
	UserMessage  string

	// Truncated reports whether history or chunks were dropped to fit.
	Truncated bool
}

// Assemble fits the inputs to snap.MaxContextChars. The system prompt, the
// pinned window documents, and the user message are never dropped, even
// when they alone exceed the budget; overflow is absorbed by dropping the
// oldest history messages first and then the lowest-similarity chunks.
//
// history must be in chronological order; chunks in similarity-descending
// order as returned by retrieval.
func Assemble(snap settings.Snapshot, res *retrieval.Result, history []domain.Message, userMessage string) *Bundle {
	b := &Bundle{
		SystemPrompt: snap.SystemPrompt(),
		UserMessage:  userMessage,
	}
	if res != nil {
		b.WindowDocs = res.WindowDocs
		b.Chunks = res.Chunks
	}
	for _, m := range history {
		b.History = append(b.History, provider.ChatMessage{Role: m.Role, Content: m.Content})
	}

	budget := snap.MaxContextChars
	for b.chars() > budget && len(b.History) > 0 {
		b.History = b.History[1:]
		b.Truncated = true
	}
	for b.chars() > budget && len(b.Chunks) > 0 {
		b.Chunks = b.Chunks[:len(b.Chunks)-1]
		b.Truncated = true
	}
	return b
}

// Request renders the bundle for a provider: context material is appended
// to the system prompt, history and the user message become the message
// list.
func (b *Bundle) Request(model string) provider.Request {
	msgs := make([]provider.ChatMessage, 0, len(b.History)+1)
	msgs = append(msgs, b.History...)
	msgs = append(msgs, provider.ChatMessage{Role: provider.RoleUser, Content: b.UserMessage})
	return provider.Request{
		Model:        model,
		SystemPrompt: b.renderSystem(),
		Messages:     msgs,
	}
}

// EstimatedTokens reports the approximate token size of the bundle.
func (b *Bundle) EstimatedTokens() int {
	return (b.chars() + charsPerToken - 1) / charsPerToken
}

func (b *Bundle) renderSystem() string {
	var sb strings.Builder
	sb.WriteString(b.SystemPrompt)
	if len(b.WindowDocs) > 0 || len(b.Chunks) > 0 {
		sb.WriteString("\n\nReference material:\n")
		for _, d := range b.WindowDocs {
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", d.Name, d.Content)
		}
		for _, c := range b.Chunks {
			fmt.Fprintf(&sb, "\n[%s#%d]\n%s\n", c.DocName, c.Ordinal, c.Content)
		}
	}
	return sb.String()
}

// chars measures the rendered size, so the budget accounts for section
// labels and role framing, not just raw content.
func (b *Bundle) chars() int {
	n := len(b.renderSystem()) + len(b.UserMessage)
	for _, m := range b.History {
		n += len(m.Role) + len(m.Content) + 4
	}
	return n
}
