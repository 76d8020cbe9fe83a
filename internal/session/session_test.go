package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/model"
	"github.com/felixgeelhaar/chorus/internal/observe"
)

func newTestSession(t *testing.T, opts Options) (*Session, *engine.Stub, *model.Context) {
	t.Helper()
	stub := engine.NewStub()
	obs := observe.New(io.Discard, false)
	m, err := model.New(stub, obs, model.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.Dispose)
	c, err := m.NewContext(4, 2)
	if err != nil {
		t.Fatal(err)
	}
	return New(c, stub, obs, opts), stub, c
}

func TestAppendTurnTextOnly(t *testing.T) {
	s, _, _ := newTestSession(t, Options{SystemPrompt: "You are helpful."})

	fragment, err := s.AppendTurn(context.Background(), Turn{Text: "hi"})
	if err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}
	if fragment != "### User\nhi\n\n" {
		t.Errorf("unexpected fragment %q", fragment)
	}

	h := s.History()
	if len(h) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(h))
	}
	if h[0].Role != RoleSystem || h[1].Role != RoleUser {
		t.Errorf("unexpected roles %v %v", h[0].Role, h[1].Role)
	}
}

func TestAppendTurnResolvesAndAdmitsMedia(t *testing.T) {
	s, _, c := newTestSession(t, Options{})

	turn := Turn{
		Text:   "what is this",
		Images: []media.Ref{media.ImageBytes([]byte("cat"), "image/png")},
	}
	if _, err := s.AppendTurn(context.Background(), turn); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	if c.WindowLen(media.Image) != 1 {
		t.Errorf("expected 1 admitted image, got %d", c.WindowLen(media.Image))
	}
	h := s.History()
	if len(h[0].Images) != 1 || h[0].Images[0].Embedding == nil {
		t.Error("turn should carry its resolved embedding")
	}
}

func TestFailedTurnLeavesNoTrace(t *testing.T) {
	// Scenario: one good image plus one that cannot be decoded. The turn
	// must not be recorded and nothing may reach the windows.
	s, _, c := newTestSession(t, Options{})

	bad := media.Ref{Modality: media.Image, Source: media.SourceInline, Base64: "!!!not base64!!!", MIMEType: "image/png"}
	turn := Turn{
		Text:   "two images",
		Images: []media.Ref{media.ImageBytes([]byte("good"), "image/png"), bad},
	}

	_, err := s.AppendTurn(context.Background(), turn)
	if err == nil {
		t.Fatal("expected resolution failure")
	}
	var perr *media.ProcessingError
	if !errors.As(err, &perr) {
		t.Errorf("expected ProcessingError, got %T", err)
	}
	if len(s.History()) != 0 {
		t.Error("failed turn must not mutate the transcript")
	}
	if c.WindowLen(media.Image) != 0 {
		t.Error("failed turn must not admit any of its items")
	}
}

func TestRenderAudioTranscriptAnnotation(t *testing.T) {
	s, stub, _ := newTestSession(t, Options{})
	stub.TranscriptText = "hello"

	turn := Turn{
		Text:  "what did they say",
		Audio: []media.Ref{media.AudioBytes([]byte("wav"), "audio/wav", media.ProcessingOptions{Transcribe: true})},
	}
	if _, err := s.AppendTurn(context.Background(), turn); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	prompt, err := s.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(prompt, "[AUDIO] [Transcript: hello]") {
		t.Errorf("audio marker should be followed by its transcript, got:\n%s", prompt)
	}
}

func TestRenderEndsWithAssistantCue(t *testing.T) {
	s, _, _ := newTestSession(t, Options{SystemPrompt: "sys"})
	s.AppendTurn(context.Background(), Turn{Text: "hi"})

	prompt, err := s.Render()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(prompt, "### Assistant\n") {
		t.Errorf("prompt must end with the generation cue, got:\n%s", prompt)
	}
}

func TestRenderMarkerPerImage(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	turn := Turn{
		Text: "compare",
		Images: []media.Ref{
			media.ImageBytes([]byte("a"), "image/png"),
			media.ImageBytes([]byte("b"), "image/png"),
		},
	}
	if _, err := s.AppendTurn(context.Background(), turn); err != nil {
		t.Fatal(err)
	}

	prompt, _ := s.Render()
	if got := strings.Count(prompt, "[IMG]"); got != 2 {
		t.Errorf("expected one marker per image, got %d", got)
	}
}

func TestAudioWithoutTranscriptRendersBareMarker(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})

	turn := Turn{
		Text:  "listen",
		Audio: []media.Ref{media.AudioBytes([]byte("wav"), "audio/wav", media.ProcessingOptions{})},
	}
	if _, err := s.AppendTurn(context.Background(), turn); err != nil {
		t.Fatal(err)
	}

	prompt, _ := s.Render()
	if !strings.Contains(prompt, "[AUDIO] listen") {
		t.Errorf("expected bare audio marker, got:\n%s", prompt)
	}
	if strings.Contains(prompt, "[Transcript:") {
		t.Error("no transcript annotation should render without a transcript")
	}
}

func TestPromptGeneratesAndRecordsReply(t *testing.T) {
	s, stub, _ := newTestSession(t, Options{SystemPrompt: "sys"})
	stub.Responses = []string{"It is a cat."}

	reply, err := s.Prompt(context.Background(), Turn{
		Text:   "what is this",
		Images: []media.Ref{media.ImageBytes([]byte("cat"), "image/png")},
	})
	if err != nil {
		t.Fatalf("Prompt failed: %v", err)
	}
	if reply != "It is a cat." {
		t.Errorf("unexpected reply %q", reply)
	}

	h := s.History()
	if len(h) != 3 {
		t.Fatalf("expected system+user+assistant, got %d entries", len(h))
	}
	if h[2].Role != RoleAssistant || h[2].Text != "It is a cat." {
		t.Errorf("assistant entry not recorded: %+v", h[2])
	}
}

func TestPromptCancellationKeepsUserTurn(t *testing.T) {
	s, _, c := newTestSession(t, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Prompt(ctx, Turn{
		Text:   "hi",
		Images: []media.Ref{media.ImageBytes([]byte("cat"), "image/png")},
	})
	if err == nil {
		t.Fatal("expected cancellation error")
	}

	// Resolution completed before generation was cancelled; admissions up
	// to that point stay valid.
	if c.WindowLen(media.Image) != 1 {
		t.Error("admissions before cancellation must remain")
	}
	h := s.History()
	if len(h) != 1 || h[0].Role != RoleUser {
		t.Error("user turn should remain recorded after cancelled generation")
	}
}

func TestClearHistoryKeepsSystemEntries(t *testing.T) {
	s, _, c := newTestSession(t, Options{SystemPrompt: "first"})
	s.AppendTurn(context.Background(), Turn{
		Text:   "hi",
		Images: []media.Ref{media.ImageBytes([]byte("cat"), "image/png")},
	})
	s.AppendAssistant("hello")

	if err := s.ClearHistory(); err != nil {
		t.Fatal(err)
	}

	h := s.History()
	if len(h) != 1 || h[0].Role != RoleSystem || h[0].Text != "first" {
		t.Errorf("only system entries should survive, got %+v", h)
	}
	if c.WindowLen(media.Image) != 0 {
		t.Error("clear should empty the context windows")
	}
	if c.Model().CacheLen(media.Image) != 1 {
		t.Error("clear must not evict cached embeddings")
	}
}

func TestClearMultimodalContentKeepsTranscript(t *testing.T) {
	s, _, c := newTestSession(t, Options{})
	s.AppendTurn(context.Background(), Turn{
		Text:   "hi",
		Images: []media.Ref{media.ImageBytes([]byte("cat"), "image/png")},
	})

	if err := s.ClearMultimodalContent(); err != nil {
		t.Fatal(err)
	}

	if c.WindowLen(media.Image) != 0 {
		t.Error("windows should be empty")
	}
	if len(s.History()) != 1 {
		t.Error("transcript must be unchanged")
	}
}

func TestGuardRejectionAbortsTurn(t *testing.T) {
	s, _, _ := newTestSession(t, Options{})
	s.guard = guardFunc(func(ref media.Ref) error {
		return errors.New("payload too large")
	})

	_, err := s.AppendTurn(context.Background(), Turn{
		Text:   "hi",
		Images: []media.Ref{media.ImageBytes([]byte("cat"), "image/png")},
	})
	if err == nil {
		t.Fatal("expected guard rejection")
	}
	if len(s.History()) != 0 {
		t.Error("rejected turn must not be recorded")
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	s, _, c := newTestSession(t, Options{SystemPrompt: "sys"})
	s.Dispose()
	s.Dispose()

	if _, err := s.AppendTurn(context.Background(), Turn{Text: "hi"}); !errors.Is(err, media.ErrDisposed) {
		t.Errorf("expected ErrDisposed, got %v", err)
	}
	if _, err := s.Render(); !errors.Is(err, media.ErrDisposed) {
		t.Errorf("expected ErrDisposed, got %v", err)
	}

	// The context outlives the session.
	if _, err := c.Process(context.Background(), media.ImageBytes([]byte("x"), "image/png")); err != nil {
		t.Errorf("context should survive session disposal: %v", err)
	}
}

func TestSessionIDsAreUnique(t *testing.T) {
	a, _, _ := newTestSession(t, Options{})
	b, _, _ := newTestSession(t, Options{})
	if a.ID() == b.ID() {
		t.Error("session IDs should be unique")
	}
}

type guardFunc func(media.Ref) error

func (f guardFunc) CheckRef(ref media.Ref) error { return f(ref) }
