package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"manim-server/internal/llm"
	"manim-server/internal/render"
	"manim-server/internal/scene"
	"manim-server/internal/session"
)

const circleReply = "Here you go:\n```python\nfrom manim import *\n\nclass Circles(Scene):\n    def construct(self):\n        self.play(Create(Circle()))\n```\n"

// fakeManim writes a video where manim would, or fails like a broken scene.
type fakeManim struct {
	fail bool
}

func (f *fakeManim) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	if f.fail {
		return []byte("Traceback (most recent call last):\nNameError: name 'Foo' is not defined"), errors.New("exit status 1")
	}
	cmd := render.Command{Binary: name, Script: args[0], Scene: args[1]}
	video := filepath.Join(dir, cmd.VideoPath())
	if err := os.MkdirAll(filepath.Dir(video), 0o755); err != nil {
		return nil, err
	}
	return []byte("File ready"), os.WriteFile(video, []byte("mp4"), 0o644)
}

type testServer struct {
	handler   http.Handler
	store     *MemoryStore
	generator *llm.Static
	manim     *fakeManim
	token     string
}

func newTestServer(t *testing.T, reply string) *testServer {
	t.Helper()
	store := NewMemoryStore()
	manim := &fakeManim{}
	renderer := &render.Renderer{Workspace: &render.Workspace{Root: t.TempDir()}, Runner: manim}
	events := render.NewEvents()
	t.Cleanup(func() { _ = events.Close() })
	service := render.NewService(renderer, 1, render.WithRecorder(store), render.WithEvents(events))
	generator := &llm.Static{Reply: reply}

	srv := NewServer(Options{
		Store:          store,
		Sessions:       session.NewMemoryStore(time.Hour),
		Generator:      generator,
		Pipeline:       scene.NewPipeline(""),
		Command:        render.NewCommand(scene.DefaultSceneName),
		Dispatcher:     &render.InlineDispatcher{Service: service},
		Events:         events,
		JWTSecret:      "test-secret",
		AllowedOrigins: []string{"*"},
	})
	ts := &testServer{handler: srv.Router(), store: store, generator: generator, manim: manim}

	rec := ts.do(t, http.MethodPost, "/register", RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var auth AuthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &auth))
	ts.token = auth.Token
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if ts.token != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestRegisterAndLogin(t *testing.T) {
	ts := newTestServer(t, circleReply)
	ts.token = ""

	rec := ts.do(t, http.MethodPost, "/register", RegisterRequest{Username: "ada", Email: "ada@example.com", Password: "pw"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodPost, "/login", LoginRequest{Email: "ada@example.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodPost, "/login", LoginRequest{Email: "ada@example.com", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var auth AuthResponse
	decode(t, rec, &auth)
	assert.NotEmpty(t, auth.Token)
	assert.Equal(t, "ada", auth.User.Username)

	rec = ts.do(t, http.MethodPost, "/register", RegisterRequest{Email: "x@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: `  Draw "a" circle\ `})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var first ChatResponse
	decode(t, rec, &first)
	assert.NotEmpty(t, first.ConversationID)
	assert.Equal(t, "static", first.Model)
	assert.Equal(t, circleReply, first.Reply)
	assert.Contains(t, first.Code, "class Circles(Scene):")

	rec = ts.do(t, http.MethodPost, "/chat", ChatRequest{ConversationID: first.ConversationID, Message: "make it red"})
	require.Equal(t, http.StatusOK, rec.Code)

	calls := ts.generator.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "Draw a circle"}}, calls[0])
	require.Len(t, calls[1], 3)
	assert.Equal(t, llm.RoleAssistant, calls[1][1].Role)
	assert.Equal(t, "make it red", calls[1][2].Content)
}

func TestDeleteConversation(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: "Draw a circle"})
	require.Equal(t, http.StatusOK, rec.Code)
	var chat ChatResponse
	decode(t, rec, &chat)

	rec = ts.do(t, http.MethodDelete, "/conversations/"+chat.ConversationID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/chat", ChatRequest{ConversationID: chat.ConversationID, Message: "make it red"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/conversations/"+chat.ConversationID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatErrors(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: ` "'\ `})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/chat", ChatRequest{ConversationID: "missing", Message: "hi"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.generator.Err = llm.ErrMissingAPIKey
	rec = ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.token = ""
	rec = ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatStream(t *testing.T) {
	ts := newTestServer(t, "line one\nline two\n")

	rec := ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: "hi", Stream: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "data: {\"text\":\"line one\\n\"}\n\n")
	assert.Contains(t, body, "data: {\"text\":\"line two\\n\"}\n\n")
	require.Contains(t, body, "event: done\n")

	done := body[strings.Index(body, "event: done\ndata: ")+len("event: done\ndata: "):]
	var resp ChatResponse
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(done)), &resp))
	assert.Equal(t, "line one\nline two\n", resp.Reply)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestAnimateFromConversation(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/chat", ChatRequest{Message: "Draw a circle"})
	require.Equal(t, http.StatusOK, rec.Code)
	var chat ChatResponse
	decode(t, rec, &chat)

	rec = ts.do(t, http.MethodPost, "/animate", AnimateRequest{ConversationID: chat.ConversationID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var anim AnimateResponse
	decode(t, rec, &anim)
	assert.Equal(t, render.StatusDone, anim.Status)
	assert.False(t, anim.Empty)
	assert.Contains(t, anim.Code, "class GenScene(Scene):")
	assert.Contains(t, anim.Script, "self.play(Create(Circle()))")
	assert.Equal(t, "manim GenScene.py GenScene --format=mp4 --media_dir .", anim.Command)

	rec = ts.do(t, http.MethodGet, "/scenes/"+anim.SceneID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sc Scene
	decode(t, rec, &sc)
	assert.Equal(t, "Draw a circle", sc.Prompt)
	assert.Equal(t, circleReply, sc.Reply)

	rec = ts.do(t, http.MethodGet, "/scenes/"+anim.SceneID+"/script", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, anim.Script, rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "GenScene.py")

	rec = ts.do(t, http.MethodGet, "/renders/"+anim.JobID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rr RenderRecord
	decode(t, rec, &rr)
	assert.Equal(t, render.StatusDone, rr.Status)
	assert.Equal(t, "File ready", rr.Log)

	rec = ts.do(t, http.MethodGet, "/renders/"+anim.JobID+"/video", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp4", rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/feed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &sc)
	assert.Equal(t, anim.SceneID, sc.ID)
}

func TestAnimateEditedCode(t *testing.T) {
	ts := newTestServer(t, circleReply)

	code := "class Edited(Scene):\n    def construct(self):\n        self.add(Square())\n"
	rec := ts.do(t, http.MethodPost, "/animate", AnimateRequest{Code: code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var anim AnimateResponse
	decode(t, rec, &anim)
	assert.Contains(t, anim.Code, "class GenScene(Scene):")
	assert.Contains(t, anim.Code, "self.add(Square())")
	assert.NotContains(t, anim.Code, "Edited")
}

func TestAnimateErrors(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/animate", AnimateRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/animate", AnimateRequest{ConversationID: "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.manim.fail = true
	rec = ts.do(t, http.MethodPost, "/animate", AnimateRequest{Reply: circleReply})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var anim AnimateResponse
	decode(t, rec, &anim)
	assert.Equal(t, render.StatusFailed, anim.Status)
	assert.Contains(t, anim.Error, "NameError")

	rr, err := ts.store.GetRender(context.Background(), anim.JobID)
	require.NoError(t, err)
	assert.Equal(t, render.StatusFailed, rr.Status)

	rec = ts.do(t, http.MethodGet, "/renders/"+anim.JobID+"/video", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAnimateProseOnlyRendersPlaceholder(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/animate", AnimateRequest{Reply: "I cannot draw that."})
	require.Equal(t, http.StatusOK, rec.Code)
	var anim AnimateResponse
	decode(t, rec, &anim)
	assert.True(t, anim.Empty)
	assert.Contains(t, anim.Script, scene.Placeholder(scene.DefaultSceneName))
}

func TestSaveMood(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/animate", AnimateRequest{Reply: circleReply})
	require.Equal(t, http.StatusOK, rec.Code)
	var anim AnimateResponse
	decode(t, rec, &anim)

	tests := []struct {
		name     string
		sceneID  string
		mood     Mood
		expected int
	}{
		{name: "Valid mood", sceneID: anim.SceneID, mood: MoodBetter, expected: http.StatusOK},
		{name: "Invalid mood", sceneID: anim.SceneID, mood: "ecstatic", expected: http.StatusBadRequest},
		{name: "Unknown scene", sceneID: "nope", mood: MoodSame, expected: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/scenes/"+tt.sceneID+"/mood", SaveMoodRequest{Mood: tt.mood})
			assert.Equal(t, tt.expected, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, []Mood{MoodBetter}, ts.store.Moods(anim.SceneID))
}

func TestRenderEventsForFinishedJob(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodPost, "/animate", AnimateRequest{Reply: circleReply})
	require.Equal(t, http.StatusOK, rec.Code)
	var anim AnimateResponse
	decode(t, rec, &anim)

	rec = ts.do(t, http.MethodGet, "/renders/"+anim.JobID+"/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, strings.Count(rec.Body.String(), "event: status\n"))
	assert.Contains(t, rec.Body.String(), `"status":"done"`)

	rec = ts.do(t, http.MethodGet, "/renders/missing/events", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoNotReady(t *testing.T) {
	ts := newTestServer(t, circleReply)
	require.NoError(t, ts.store.CreateRender(context.Background(), &RenderRecord{ID: "job", Status: render.StatusQueued}))

	rec := ts.do(t, http.MethodGet, "/renders/job/video", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/renders/other/video", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthAndModels(t *testing.T) {
	ts := newTestServer(t, circleReply)

	rec := ts.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/models", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var models struct {
		Default string      `json:"default"`
		Models  []llm.Model `json:"models"`
	}
	decode(t, rec, &models)
	assert.Equal(t, "static", models.Default)
	assert.Len(t, models.Models, len(llm.Catalogue))
}

func TestGeneratorPerModel(t *testing.T) {
	built := map[string]int{}
	srv := NewServer(Options{
		Generator: &llm.Static{Reply: "default"},
		NewGenerator: func(model string) (llm.Generator, error) {
			built[model]++
			if model == "bogus" {
				return nil, errors.Wrap(llm.ErrUnknownProvider, model)
			}
			return &llm.Static{Reply: model}, nil
		},
	})

	g, err := srv.generatorFor("")
	require.NoError(t, err)
	assert.Equal(t, "static", g.Name())

	first, err := srv.generatorFor("Claude Opus")
	require.NoError(t, err)
	second, err := srv.generatorFor("Claude Opus")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 1, built["Claude Opus"])

	_, err = srv.generatorFor("bogus")
	assert.ErrorIs(t, err, llm.ErrUnknownProvider)
}
