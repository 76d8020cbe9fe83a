// Package session assembles multimodal conversations into prompts. A
// session owns an ordered transcript of system, user, and assistant
// entries, resolves media references through its context before recording
// a turn, and linearizes the transcript into the prompt handed to the text
// engine.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/model"
	"github.com/felixgeelhaar/chorus/internal/observe"
)

// Role identifies who produced a transcript entry.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Attachment pairs a media reference with its resolved embedding.
type Attachment struct {
	Ref       media.Ref
	Embedding *media.Embedding
}

// HistoryItem is one transcript entry. Only user entries carry media.
type HistoryItem struct {
	Role   Role
	Text   string
	Images []Attachment
	Audio  []Attachment
}

// Turn is the caller's input for one user message.
type Turn struct {
	Text   string
	Images []media.Ref
	Audio  []media.Ref
}

// Template holds the role formats used to linearize a transcript. Each
// role format receives the entry text through a single %s verb. Cue is
// appended after the last entry so the engine continues in the assistant
// role.
type Template struct {
	System      string
	User        string
	Assistant   string
	Cue         string
	ImageMarker string
	AudioMarker string
}

// DefaultTemplate returns the chat-markup template used when none is
// configured.
func DefaultTemplate() Template {
	return Template{
		System:      "### System\n%s\n\n",
		User:        "### User\n%s\n\n",
		Assistant:   "### Assistant\n%s\n\n",
		Cue:         "### Assistant\n",
		ImageMarker: "[IMG]",
		AudioMarker: "[AUDIO]",
	}
}

func (t Template) forRole(role Role) string {
	switch role {
	case RoleSystem:
		return t.System
	case RoleAssistant:
		return t.Assistant
	default:
		return t.User
	}
}

// Checker validates a media reference before the session resolves it.
// Implemented by the policy guard; nil means no admission policy.
type Checker interface {
	CheckRef(ref media.Ref) error
}

// Options configures a new session. Zero values select defaults.
type Options struct {
	Template     Template
	SystemPrompt string
	Guard        Checker
	Sampling     engine.SamplingConfig
}

// Session serializes turns against one context. The transcript is
// append-only except for ClearHistory; media resolution for a turn either
// fully succeeds or leaves both transcript and windows untouched.
type Session struct {
	mu       sync.Mutex
	disposed bool

	id       string
	ctx      *model.Context
	eng      engine.TextEngine
	obs      *observe.Observer
	tmpl     Template
	guard    Checker
	sampling engine.SamplingConfig
	history  []HistoryItem
}

// New creates a session over the given context and text engine.
func New(c *model.Context, eng engine.TextEngine, obs *observe.Observer, opts Options) *Session {
	tmpl := opts.Template
	if tmpl == (Template{}) {
		tmpl = DefaultTemplate()
	}
	sampling := opts.Sampling
	if sampling.MaxTokens == 0 {
		sampling = engine.DefaultSampling()
	}

	s := &Session{
		id:       uuid.NewString(),
		ctx:      c,
		eng:      eng,
		obs:      obs,
		tmpl:     tmpl,
		guard:    opts.Guard,
		sampling: sampling,
	}
	if opts.SystemPrompt != "" {
		s.history = append(s.history, HistoryItem{Role: RoleSystem, Text: opts.SystemPrompt})
	}
	return s
}

// ID returns the session's stable identifier.
func (s *Session) ID() string { return s.id }

// Context returns the context this session resolves media through. The
// session does not own it.
func (s *Session) Context() *model.Context { return s.ctx }

func (s *Session) checkLiveLocked() error {
	if s.disposed {
		return fmt.Errorf("session %s: %w", s.id, media.ErrDisposed)
	}
	return nil
}

// AppendTurn resolves the turn's media, admits the embeddings into the
// context windows, and records the turn. Resolution runs in two phases so
// that a failure on any item leaves the transcript and windows unchanged.
// It returns the rendered fragment for the new entry.
func (s *Session) AppendTurn(ctx context.Context, turn Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLiveLocked(); err != nil {
		return "", err
	}

	item, err := s.resolveTurn(ctx, turn)
	if err != nil {
		return "", err
	}
	s.admit(item)
	s.history = append(s.history, item)
	s.obs.Events().PublishWithData(observe.EventTurnAppended, s.id, map[string]interface{}{
		"role":   string(item.Role),
		"images": len(item.Images),
		"audio":  len(item.Audio),
	})
	return s.renderItem(item), nil
}

// resolveTurn processes every reference without touching the windows.
func (s *Session) resolveTurn(ctx context.Context, turn Turn) (HistoryItem, error) {
	item := HistoryItem{Role: RoleUser, Text: turn.Text}

	for _, ref := range turn.Images {
		if err := s.checkGuard(ref); err != nil {
			return HistoryItem{}, err
		}
		e, err := s.ctx.Process(ctx, ref)
		if err != nil {
			return HistoryItem{}, err
		}
		item.Images = append(item.Images, Attachment{Ref: ref, Embedding: e})
	}
	for _, ref := range turn.Audio {
		if err := s.checkGuard(ref); err != nil {
			return HistoryItem{}, err
		}
		e, err := s.ctx.Process(ctx, ref)
		if err != nil {
			return HistoryItem{}, err
		}
		item.Audio = append(item.Audio, Attachment{Ref: ref, Embedding: e})
	}
	return item, nil
}

func (s *Session) checkGuard(ref media.Ref) error {
	if s.guard == nil {
		return nil
	}
	return s.guard.CheckRef(ref)
}

func (s *Session) admit(item HistoryItem) {
	for _, a := range item.Images {
		s.ctx.Admit(media.Image, a.Embedding)
	}
	for _, a := range item.Audio {
		s.ctx.Admit(media.Audio, a.Embedding)
	}
}

// AppendAssistant records an assistant entry verbatim.
func (s *Session) AppendAssistant(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLiveLocked(); err != nil {
		return err
	}
	s.history = append(s.history, HistoryItem{Role: RoleAssistant, Text: text})
	return nil
}

// Render linearizes the transcript into a single prompt, ending with the
// assistant cue that signals the engine to generate.
func (s *Session) Render() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLiveLocked(); err != nil {
		return "", err
	}
	return s.renderLocked(), nil
}

func (s *Session) renderLocked() string {
	var b strings.Builder
	for _, item := range s.history {
		b.WriteString(s.renderItem(item))
	}
	b.WriteString(s.tmpl.Cue)
	return b.String()
}

// renderItem formats one entry: modality markers first, one per
// attachment, with audio transcripts inlined after their marker.
func (s *Session) renderItem(item HistoryItem) string {
	var parts []string
	for range item.Images {
		parts = append(parts, s.tmpl.ImageMarker)
	}
	for _, a := range item.Audio {
		parts = append(parts, s.tmpl.AudioMarker)
		if a.Embedding != nil && a.Embedding.Transcript != "" {
			parts = append(parts, fmt.Sprintf("[Transcript: %s]", a.Embedding.Transcript))
		}
	}
	if item.Text != "" {
		parts = append(parts, item.Text)
	}
	return fmt.Sprintf(s.tmpl.forRole(item.Role), strings.Join(parts, " "))
}

// Prompt appends the turn, renders the transcript, runs generation, and
// records the assistant's reply. The reply text is returned. Cancelling
// ctx aborts generation; the user turn stays recorded.
func (s *Session) Prompt(ctx context.Context, turn Turn) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLiveLocked(); err != nil {
		return "", err
	}

	item, err := s.resolveTurn(ctx, turn)
	if err != nil {
		return "", err
	}
	s.admit(item)
	s.history = append(s.history, item)
	s.obs.Events().PublishWithData(observe.EventTurnAppended, s.id, map[string]interface{}{
		"role":   string(item.Role),
		"images": len(item.Images),
		"audio":  len(item.Audio),
	})

	prompt := s.renderLocked()
	s.obs.Events().PublishSimple(observe.EventGenerationStart, s.id)
	s.obs.Log().Debug().Str("session", s.id).Int("prompt_len", len(prompt)).Msg("generating")

	reply, err := engine.Complete(ctx, s.eng, prompt, s.sampling)
	if err != nil {
		return "", fmt.Errorf("generate: %w", err)
	}
	reply = strings.TrimSpace(reply)

	s.history = append(s.history, HistoryItem{Role: RoleAssistant, Text: reply})
	s.obs.Events().PublishWithData(observe.EventGenerationEnd, s.id, map[string]interface{}{
		"reply_len": len(reply),
	})
	return reply, nil
}

// History returns a copy of the transcript.
func (s *Session) History() []HistoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryItem, len(s.history))
	copy(out, s.history)
	return out
}

// ClearHistory drops every non-system entry, preserving the relative
// order of the system entries, and clears both context windows. Cached
// embeddings upstream are untouched.
func (s *Session) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLiveLocked(); err != nil {
		return err
	}

	kept := s.history[:0]
	for _, item := range s.history {
		if item.Role == RoleSystem {
			kept = append(kept, item)
		}
	}
	s.history = kept
	s.ctx.Clear()
	s.obs.Events().PublishSimple(observe.EventHistoryCleared, s.id)
	return nil
}

// ClearMultimodalContent empties the context windows without changing the
// transcript.
func (s *Session) ClearMultimodalContent() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkLiveLocked(); err != nil {
		return err
	}
	s.ctx.Clear()
	return nil
}

// Dispose clears the transcript. The referenced context is left alone;
// it may serve other sessions. Dispose is idempotent.
func (s *Session) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}
	s.disposed = true
	s.history = nil
}
