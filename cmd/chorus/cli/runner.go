package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/observe"
	"github.com/felixgeelhaar/chorus/internal/policy"
	"github.com/felixgeelhaar/chorus/internal/session"
	"github.com/felixgeelhaar/chorus/internal/store"
	"github.com/felixgeelhaar/chorus/internal/ui"
)

// Runner drives one chat session from parsed input lines. Attachments
// accumulate via /image and /audio commands and ride along with the next
// text message.
type Runner struct {
	Observer *observe.Observer
	Store    store.Storage
	Session  *session.Session
	UI       ui.UI
	Guard    *policy.Guard

	transcribe    bool
	pendingImages []media.Ref
	pendingAudio  []media.Ref
}

func NewRunner(obs *observe.Observer, s store.Storage, sess *session.Session, u ui.UI, transcribe bool) *Runner {
	if u == nil {
		u = ui.SilentUI{}
	}
	return &Runner{
		Observer:   obs,
		Store:      s,
		Session:    sess,
		UI:         u,
		transcribe: transcribe,
	}
}

// HandleLine processes one input line: a slash command or a message.
func (r *Runner) HandleLine(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	switch {
	case strings.HasPrefix(line, "/image "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/image "))
		r.pendingImages = append(r.pendingImages, media.ImagePath(path))
		r.UI.Log(fmt.Sprintf("attached image %s (%d pending)", path, len(r.pendingImages)))
		return nil

	case strings.HasPrefix(line, "/audio "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/audio "))
		opts := media.ProcessingOptions{Transcribe: r.transcribe}
		r.pendingAudio = append(r.pendingAudio, media.AudioPath(path, opts))
		r.UI.Log(fmt.Sprintf("attached audio %s (%d pending)", path, len(r.pendingAudio)))
		return nil

	case line == "/clear":
		if err := r.Session.ClearHistory(); err != nil {
			return err
		}
		r.pendingImages = nil
		r.pendingAudio = nil
		if r.Store != nil {
			if err := r.Store.ClearTurns(r.Session.ID(), true); err != nil {
				r.Observer.Log().Warn().Err(err).Msg("failed to clear persisted turns")
			}
		}
		r.UI.Log("history cleared")
		return nil

	case strings.HasPrefix(line, "/"):
		return fmt.Errorf("unknown command %q", strings.Fields(line)[0])
	}

	if r.Guard != nil {
		// Attachments stay pending on a violation so /clear can drop them.
		if err := r.Guard.CheckTurn(len(r.pendingImages), len(r.pendingAudio)); err != nil {
			return err
		}
	}

	turn := session.Turn{
		Text:   line,
		Images: r.pendingImages,
		Audio:  r.pendingAudio,
	}
	r.pendingImages = nil
	r.pendingAudio = nil

	r.UI.ShowStatus("generating")
	reply, err := r.Session.Prompt(ctx, turn)
	r.UI.ShowStatus("ready")
	if err != nil {
		return err
	}

	r.persistTurn("user", line, len(turn.Images), len(turn.Audio))
	r.persistTurn("assistant", reply, 0, 0)
	r.UI.ShowReply(reply)
	return nil
}

// Run reads input lines until EOF, echoing replies to out.
func (r *Runner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	if err := r.ensureSessionRecord(); err != nil {
		r.Observer.Log().Warn().Err(err).Msg("failed to persist session")
	}

	fmt.Fprintln(out, "chorus: /image <path> and /audio <path> attach media, /clear resets, ctrl-d exits")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			break
		}
		if err := r.HandleLine(ctx, scanner.Text()); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		if h := r.Session.History(); len(h) > 0 && h[len(h)-1].Role == session.RoleAssistant {
			fmt.Fprintln(out, h[len(h)-1].Text)
		}
	}
	return scanner.Err()
}

func (r *Runner) ensureSessionRecord() error {
	if r.Store == nil {
		return nil
	}
	now := time.Now()
	return r.Store.CreateSession(&store.SessionRecord{
		ID:        r.Session.ID(),
		CreatedAt: now,
		UpdatedAt: now,
		Engine:    engineType,
		Model:     modelName,
	})
}

func (r *Runner) persistTurn(role, text string, images, audio int) {
	if r.Store == nil {
		return
	}
	err := r.Store.AppendTurn(&store.TurnRecord{
		SessionID: r.Session.ID(),
		Role:      role,
		Text:      text,
		Images:    images,
		Audio:     audio,
		CreatedAt: time.Now(),
	})
	if err != nil {
		r.Observer.Log().Warn().Err(err).Msg("failed to persist turn")
	}
}
