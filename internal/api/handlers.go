package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/felixgeelhaar/chorus/internal/media"
	"github.com/felixgeelhaar/chorus/internal/policy"
	"github.com/felixgeelhaar/chorus/internal/session"
)

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxImages    int    `json:"max_images,omitempty"`
	MaxAudio     int    `json:"max_audio,omitempty"`
}

// MediaPayload is one attachment in a message. Either Path or Data is
// set; Data is base64-encoded.
type MediaPayload struct {
	Path       string `json:"path,omitempty"`
	Data       string `json:"data,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
	ID         string `json:"id,omitempty"`
	Transcribe bool   `json:"transcribe,omitempty"`
	Language   string `json:"language,omitempty"`
}

// MessageRequest is the body for POST /sessions/{id}/messages.
type MessageRequest struct {
	Text   string         `json:"text"`
	Images []MediaPayload `json:"images,omitempty"`
	Audio  []MediaPayload `json:"audio,omitempty"`
}

// TranscriptEntry is one rendered history item in API responses.
type TranscriptEntry struct {
	Role        string   `json:"role"`
	Text        string   `json:"text"`
	Images      int      `json:"images,omitempty"`
	Audio       int      `json:"audio,omitempty"`
	Transcripts []string `json:"transcripts,omitempty"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
			return
		}
	}

	maxImages := req.MaxImages
	if maxImages <= 0 {
		maxImages = s.cfg.Window.MaxImages
	}
	maxAudio := req.MaxAudio
	if maxAudio <= 0 {
		maxAudio = s.cfg.Window.MaxAudio
	}

	genCtx, err := s.mdl.NewContext(maxImages, maxAudio)
	if err != nil {
		errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	systemPrompt := req.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = s.cfg.SystemPrompt
	}
	sess := session.New(genCtx, s.eng, s.obs, session.Options{
		SystemPrompt: systemPrompt,
		Guard:        s.guard,
		Sampling:     s.cfg.Sampling,
	})

	s.mu.Lock()
	s.sessions[sess.ID()] = sess
	s.mu.Unlock()
	s.persistSession(sess.ID())
	if systemPrompt != "" {
		s.persistTurn(sess.ID(), string(session.RoleSystem), systemPrompt, 0, 0)
	}

	successResponse(w, map[string]string{"id": sess.ID()})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	successResponse(w, map[string]interface{}{"sessions": ids})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		s.sessionNotFound(w, id)
		return
	}

	genCtx := sess.Context()
	sess.Dispose()
	genCtx.Dispose()
	if s.st != nil {
		if err := s.st.DeleteSession(id); err != nil {
			s.obs.Log().Warn().Err(err).Str("session", id).Msg("failed to delete persisted session")
		}
	}
	successResponse(w, map[string]bool{"deleted": true})
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.lookup(id)
	if !ok {
		s.sessionNotFound(w, id)
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Text == "" && len(req.Images) == 0 && len(req.Audio) == 0 {
		errorResponse(w, http.StatusBadRequest, "message is empty")
		return
	}
	if err := s.guard.CheckTurn(len(req.Images), len(req.Audio)); err != nil {
		errorResponse(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	turn := session.Turn{Text: req.Text}
	for _, p := range req.Images {
		turn.Images = append(turn.Images, imageRef(p))
	}
	for _, p := range req.Audio {
		turn.Audio = append(turn.Audio, audioRef(p))
	}

	reply, err := sess.Prompt(r.Context(), turn)
	if err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}

	s.persistTurn(id, string(session.RoleUser), req.Text, len(req.Images), len(req.Audio))
	s.persistTurn(id, string(session.RoleAssistant), reply, 0, 0)
	s.rememberTurnMedia(r.Context(), sess)
	s.touchSession(id)

	successResponse(w, map[string]string{"reply": reply})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.lookup(id)
	if !ok {
		s.sessionNotFound(w, id)
		return
	}

	history := sess.History()
	entries := make([]TranscriptEntry, 0, len(history))
	for _, item := range history {
		entry := TranscriptEntry{
			Role:   string(item.Role),
			Text:   item.Text,
			Images: len(item.Images),
			Audio:  len(item.Audio),
		}
		for _, a := range item.Audio {
			if a.Embedding != nil && a.Embedding.Transcript != "" {
				entry.Transcripts = append(entry.Transcripts, a.Embedding.Transcript)
			}
		}
		entries = append(entries, entry)
	}
	successResponse(w, map[string]interface{}{"transcript": entries})
}

// StoredTurn is one persisted transcript entry in API responses.
type StoredTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Images    int       `json:"images,omitempty"`
	Audio     int       `json:"audio,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// handleListTurns returns the persisted transcript. Unlike the in-memory
// transcript, it survives server restarts and session disposal.
func (s *Server) handleListTurns(w http.ResponseWriter, r *http.Request) {
	if s.st == nil {
		errorResponse(w, http.StatusNotImplemented, "no store configured")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.st.GetSession(id); err != nil {
		s.sessionNotFound(w, id)
		return
	}
	turns, err := s.st.ListTurns(id)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	entries := make([]StoredTurn, 0, len(turns))
	for _, rec := range turns {
		entries = append(entries, StoredTurn{
			Role:      rec.Role,
			Text:      rec.Text,
			Images:    rec.Images,
			Audio:     rec.Audio,
			CreatedAt: rec.CreatedAt,
		})
	}
	successResponse(w, map[string]interface{}{"turns": entries})
}

// SimilarEntry is one match in a similar-media response.
type SimilarEntry struct {
	Key        string  `json:"key"`
	Modality   string  `json:"modality"`
	Transcript string  `json:"transcript,omitempty"`
	Similarity float32 `json:"similarity"`
}

// handleSimilarMedia ranks previously remembered media against the
// embedding stored under the given key.
func (s *Server) handleSimilarMedia(w http.ResponseWriter, r *http.Request) {
	if s.mem == nil {
		errorResponse(w, http.StatusNotImplemented, "no store configured")
		return
	}
	key := chi.URLParam(r, "key")
	_, vector, err := s.st.GetEmbedding(key)
	if err != nil {
		errorResponse(w, http.StatusNotFound, "media not found: "+key)
		return
	}

	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	matches, err := s.mem.Similar(r.Context(), vector, limit)
	if err != nil {
		errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	results := make([]SimilarEntry, 0, len(matches))
	for _, m := range matches {
		results = append(results, SimilarEntry{
			Key:        m.Record.Key,
			Modality:   m.Record.Modality,
			Transcript: m.Record.Transcript,
			Similarity: m.Similarity,
		})
	}
	successResponse(w, map[string]interface{}{"similar": results})
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.lookup(id)
	if !ok {
		s.sessionNotFound(w, id)
		return
	}
	if err := sess.ClearHistory(); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	if s.st != nil {
		if err := s.st.ClearTurns(id, true); err != nil {
			s.obs.Log().Warn().Err(err).Str("session", id).Msg("failed to clear persisted turns")
		}
	}
	successResponse(w, map[string]bool{"cleared": true})
}

func (s *Server) handleClearMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.lookup(id)
	if !ok {
		s.sessionNotFound(w, id)
		return
	}
	if err := sess.ClearMultimodalContent(); err != nil {
		errorResponse(w, statusFor(err), err.Error())
		return
	}
	successResponse(w, map[string]bool{"cleared": true})
}

// rememberTurnMedia persists the embeddings of the most recent user turn
// so restarted processes can recall previously seen media.
func (s *Server) rememberTurnMedia(ctx context.Context, sess *session.Session) {
	if s.mem == nil {
		return
	}
	history := sess.History()
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role != session.RoleUser {
			continue
		}
		for _, a := range history[i].Images {
			if err := s.mem.Remember(ctx, media.Image, a.Embedding); err != nil {
				s.obs.Log().Warn().Err(err).Msg("failed to persist embedding")
			}
		}
		for _, a := range history[i].Audio {
			if err := s.mem.Remember(ctx, media.Audio, a.Embedding); err != nil {
				s.obs.Log().Warn().Err(err).Msg("failed to persist embedding")
			}
		}
		return
	}
}

func imageRef(p MediaPayload) media.Ref {
	var ref media.Ref
	if p.Path != "" {
		ref = media.ImagePath(p.Path)
	} else {
		ref = media.ImageInline(p.Data, p.MIMEType)
	}
	ref.ID = p.ID
	return ref
}

func audioRef(p MediaPayload) media.Ref {
	opts := media.ProcessingOptions{Transcribe: p.Transcribe, Language: p.Language}
	var ref media.Ref
	if p.Path != "" {
		ref = media.AudioPath(p.Path, opts)
	} else {
		ref = media.AudioInline(p.Data, p.MIMEType, opts)
	}
	ref.ID = p.ID
	return ref
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, media.ErrDisposed):
		return http.StatusGone
	case errors.Is(err, media.ErrUnsupportedModality), errors.Is(err, media.ErrCapability):
		return http.StatusNotImplemented
	case errors.Is(err, media.ErrBadFormat):
		return http.StatusUnprocessableEntity
	default:
		var v *policy.Violation
		if errors.As(err, &v) {
			return http.StatusUnprocessableEntity
		}
		return http.StatusInternalServerError
	}
}
