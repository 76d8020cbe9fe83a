package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/chorus/internal/config"
	"github.com/felixgeelhaar/chorus/internal/engine"
	"github.com/felixgeelhaar/chorus/internal/model"
	"github.com/felixgeelhaar/chorus/internal/observe"
	"github.com/felixgeelhaar/chorus/internal/store"
)

func newTestServer(t *testing.T) (*Server, *engine.Stub) {
	t.Helper()
	stub := engine.NewStub()
	obs := observe.New(io.Discard, false)
	mdl, err := model.New(stub, obs, model.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mdl.Dispose)
	return NewServer(mdl, stub, obs, nil, config.Default()), stub
}

func newStoreServer(t *testing.T) (*Server, *engine.Stub, store.Storage) {
	t.Helper()
	stub := engine.NewStub()
	obs := observe.New(io.Discard, false)
	mdl, err := model.New(stub, obs, model.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mdl.Dispose)

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "chorus.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return NewServer(mdl, stub, obs, st, config.Default()), stub, st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(out); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func createSession(t *testing.T, s *Server, body interface{}) string {
	t.Helper()
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("create session: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]string
	decode(t, rec, &resp)
	if resp["id"] == "" {
		t.Fatal("create session: empty id")
	}
	return resp["id"]
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestCapabilities(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/capabilities", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Engine string `json:"engine"`
		Vision struct {
			Supported bool `json:"supported"`
			MaxImages int  `json:"max_images"`
		} `json:"vision"`
	}
	decode(t, rec, &resp)
	if resp.Engine != "stub" || !resp.Vision.Supported || resp.Vision.MaxImages != 4 {
		t.Errorf("unexpected capabilities: %+v", resp)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	s, stub := newTestServer(t)
	stub.Responses = []string{"A tabby cat."}

	id := createSession(t, s, CreateSessionRequest{SystemPrompt: "Describe images."})

	msg := MessageRequest{
		Text: "what is this",
		Images: []MediaPayload{{
			Data:     base64.StdEncoding.EncodeToString([]byte("image bytes")),
			MIMEType: "image/png",
		}},
	}
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	decode(t, rec, &resp)
	if resp["reply"] != "A tabby cat." {
		t.Errorf("unexpected reply %q", resp["reply"])
	}
}

func TestTranscriptIncludesAudioText(t *testing.T) {
	s, stub := newTestServer(t)
	stub.TranscriptText = "hello"

	id := createSession(t, s, nil)

	msg := MessageRequest{
		Text: "what did they say",
		Audio: []MediaPayload{{
			Data:       base64.StdEncoding.EncodeToString([]byte("wav bytes")),
			MIMEType:   "audio/wav",
			Transcribe: true,
		}},
	}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg); rec.Code != http.StatusOK {
		t.Fatalf("message failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/"+id+"/transcript", nil)
	var resp struct {
		Transcript []TranscriptEntry `json:"transcript"`
	}
	decode(t, rec, &resp)

	if len(resp.Transcript) != 2 {
		t.Fatalf("expected user+assistant, got %d entries", len(resp.Transcript))
	}
	user := resp.Transcript[0]
	if user.Audio != 1 || len(user.Transcripts) != 1 || user.Transcripts[0] != "hello" {
		t.Errorf("unexpected user entry: %+v", user)
	}
}

func TestBadMediaIsUnprocessable(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, nil)

	msg := MessageRequest{
		Text:   "broken",
		Images: []MediaPayload{{Data: "!!!not base64!!!", MIMEType: "image/png"}},
	}
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}

	// The failed turn must not reach the transcript.
	tr := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/"+id+"/transcript", nil)
	var resp struct {
		Transcript []TranscriptEntry `json:"transcript"`
	}
	decode(t, tr, &resp)
	if len(resp.Transcript) != 0 {
		t.Errorf("failed turn leaked into transcript: %+v", resp.Transcript)
	}
}

func TestTooManyImagesRejected(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, nil)

	data := base64.StdEncoding.EncodeToString([]byte("x"))
	msg := MessageRequest{Text: "five images"}
	for i := 0; i < 5; i++ {
		msg.Images = append(msg.Images, MediaPayload{Data: data, MIMEType: "image/png"})
	}

	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for attachment count, got %d", rec.Code)
	}
}

func TestClearHistoryKeepsSystem(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, CreateSessionRequest{SystemPrompt: "sys"})

	msg := MessageRequest{Text: "hi"}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg); rec.Code != http.StatusOK {
		t.Fatalf("message failed: %d", rec.Code)
	}

	if rec := doJSON(t, s.Router(), http.MethodDelete, "/api/v1/sessions/"+id+"/history", nil); rec.Code != http.StatusOK {
		t.Fatalf("clear failed: %d", rec.Code)
	}

	tr := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/"+id+"/transcript", nil)
	var resp struct {
		Transcript []TranscriptEntry `json:"transcript"`
	}
	decode(t, tr, &resp)
	if len(resp.Transcript) != 1 || resp.Transcript[0].Role != "system" {
		t.Errorf("expected only the system entry, got %+v", resp.Transcript)
	}
}

func TestDeletedSessionIsGone(t *testing.T) {
	s, _ := newTestServer(t)
	id := createSession(t, s, nil)

	if rec := doJSON(t, s.Router(), http.MethodDelete, "/api/v1/sessions/"+id+"/", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", MessageRequest{Text: "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}
}

func TestStoredTurnsQueryable(t *testing.T) {
	s, stub, st := newStoreServer(t)
	stub.Responses = []string{"A tabby cat."}

	id := createSession(t, s, CreateSessionRequest{SystemPrompt: "sys"})
	msg := MessageRequest{
		Text: "what is this",
		Images: []MediaPayload{{
			Data:     base64.StdEncoding.EncodeToString([]byte("image bytes")),
			MIMEType: "image/png",
		}},
	}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg); rec.Code != http.StatusOK {
		t.Fatalf("message failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/"+id+"/turns", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Turns []StoredTurn `json:"turns"`
	}
	decode(t, rec, &resp)
	if len(resp.Turns) != 3 {
		t.Fatalf("expected system+user+assistant, got %d turns", len(resp.Turns))
	}
	if resp.Turns[0].Role != "system" || resp.Turns[1].Role != "user" || resp.Turns[2].Role != "assistant" {
		t.Errorf("unexpected turn order: %+v", resp.Turns)
	}
	if resp.Turns[1].Images != 1 {
		t.Errorf("expected 1 image on user turn, got %d", resp.Turns[1].Images)
	}

	session, err := st.GetSession(id)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if session.UpdatedAt.Before(session.CreatedAt) {
		t.Error("expected update time at or after creation")
	}

	if rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/nope/turns", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestDeleteSessionRemovesPersistedRecord(t *testing.T) {
	s, _, st := newStoreServer(t)
	id := createSession(t, s, nil)

	if rec := doJSON(t, s.Router(), http.MethodDelete, "/api/v1/sessions/"+id+"/", nil); rec.Code != http.StatusOK {
		t.Fatalf("delete failed: %d", rec.Code)
	}
	if _, err := st.GetSession(id); err == nil {
		t.Error("expected persisted record to be deleted")
	}
	if rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/"+id+"/turns", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for deleted session, got %d", rec.Code)
	}
}

func TestSimilarMediaRanking(t *testing.T) {
	s, _, _ := newStoreServer(t)
	id := createSession(t, s, nil)

	msg := MessageRequest{
		Text: "two images",
		Images: []MediaPayload{
			{Data: base64.StdEncoding.EncodeToString([]byte("first image")), MIMEType: "image/png", ID: "img-a"},
			{Data: base64.StdEncoding.EncodeToString([]byte("second image")), MIMEType: "image/png", ID: "img-b"},
		},
	}
	if rec := doJSON(t, s.Router(), http.MethodPost, "/api/v1/sessions/"+id+"/messages", msg); rec.Code != http.StatusOK {
		t.Fatalf("message failed: %d: %s", rec.Code, rec.Body.String())
	}

	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/media/img-a/similar?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Similar []SimilarEntry `json:"similar"`
	}
	decode(t, rec, &resp)
	if len(resp.Similar) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(resp.Similar))
	}
	if resp.Similar[0].Key != "img-a" {
		t.Errorf("expected the query media ranked first, got %q", resp.Similar[0].Key)
	}
	if resp.Similar[0].Similarity < resp.Similar[1].Similarity {
		t.Error("expected matches in descending similarity order")
	}

	if rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/media/unknown/similar", nil); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown media, got %d", rec.Code)
	}
}

func TestUnknownSessionIs404(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s.Router(), http.MethodGet, "/api/v1/sessions/nope/transcript", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
