// Package services – title generation
//
// Auto-titles a thread from its opening user messages. A short provider
// completion gives the best titles; when that fails or no provider is
// available, a keyword heuristic produces a usable fallback so renaming
// never blocks or fails a chat request.
package services

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/confchat/go-confchat-backend/internal/provider"
)

const titleSystemPrompt = "You generate conversation titles. Reply with a title of at most six words " +
	"for the user's message. No quotes, no trailing punctuation."

// TitleGenerator derives concise thread titles.
type TitleGenerator struct {
	Dispatcher *provider.Dispatcher
	MaxLen     int
	Timeout    time.Duration
	Locale     language.Tag
}

// NewTitleGenerator constructs a generator with defaults matching thread
// title limits.
func NewTitleGenerator(d *provider.Dispatcher) *TitleGenerator {
	return &TitleGenerator{
		Dispatcher: d,
		MaxLen:     60,
		Timeout:    10 * time.Second,
		Locale:     language.English,
	}
}

// Generate returns a title for the given prompt, never an empty string for
// a non-blank prompt. providerID and model name the backend to try first.
func (g *TitleGenerator) Generate(ctx context.Context, providerID, model, prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ""
	}
	if t := g.fromProvider(ctx, providerID, model, prompt); t != "" {
		return g.clip(t)
	}
	return g.clip(g.fromKeywords(prompt))
}

func (g *TitleGenerator) fromProvider(ctx context.Context, providerID, model, prompt string) string {
	if g.Dispatcher == nil || !g.Dispatcher.Has(providerID) {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, g.Timeout)
	defer cancel()

	comp, err := g.Dispatcher.Complete(ctx, providerID, provider.Request{
		Model:        model,
		SystemPrompt: titleSystemPrompt,
		Messages:     []provider.ChatMessage{{Role: provider.RoleUser, Content: prompt}},
	})
	if err != nil {
		return ""
	}
	t := strings.TrimSpace(comp.Text)
	t = strings.Trim(t, `"'.`)
	return normalizeTitle(t)
}

// fromKeywords derives a title from the prompt's significant words.
func (g *TitleGenerator) fromKeywords(prompt string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(prompt), -1)
	if len(toks) == 0 {
		return ""
	}
	titleCaser := cases.Title(g.Locale)
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, " ")
}

func (g *TitleGenerator) clip(title string) string {
	max := g.MaxLen
	if max <= 0 {
		max = 60
	}
	if utf8.RuneCountInString(title) > max {
		return string([]rune(title)[:max])
	}
	return title
}

// Extract Unicode letters with optional trailing numbers (e.g., "expo2026").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
}
