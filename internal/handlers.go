package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"manim-server/internal/llm"
	"manim-server/internal/render"
	"manim-server/internal/scene"
	"manim-server/internal/session"
)

// Options are the collaborators of a Server.
type Options struct {
	Store     Store
	Sessions  session.Store
	Generator llm.Generator
	// NewGenerator builds the generator for a model picked by the user. Nil
	// means every request uses Generator.
	NewGenerator   func(model string) (llm.Generator, error)
	Pipeline       *scene.Pipeline
	Command        render.Command
	Dispatcher     render.Dispatcher
	Events         *render.Events
	JWTSecret      string
	AllowedOrigins []string
}

// Server serves the chat, animate and playback API.
type Server struct {
	store        Store
	sessions     session.Store
	generator    llm.Generator
	newGenerator func(model string) (llm.Generator, error)
	pipeline     *scene.Pipeline
	command      render.Command
	dispatcher   render.Dispatcher
	events       *render.Events
	jwtSecret    string
	origins      []string

	mu      sync.Mutex
	byModel map[string]llm.Generator
}

func NewServer(opts Options) *Server {
	pipeline := opts.Pipeline
	if pipeline == nil {
		pipeline = scene.NewPipeline("")
	}
	command := opts.Command
	command.Scene = pipeline.SceneName()
	return &Server{
		store:        opts.Store,
		sessions:     opts.Sessions,
		generator:    opts.Generator,
		newGenerator: opts.NewGenerator,
		pipeline:     pipeline,
		command:      command,
		dispatcher:   opts.Dispatcher,
		events:       opts.Events,
		jwtSecret:    opts.JWTSecret,
		origins:      opts.AllowedOrigins,
		byModel:      map[string]llm.Generator{},
	}
}

// Router configures and returns the application router
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(CorsMiddleware(s.origins))
	r.Use(LoggingMiddleware)

	// Public routes
	r.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	r.HandleFunc("/models", s.modelsHandler).Methods(http.MethodGet)
	r.HandleFunc("/register", s.registerHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/login", s.loginHandler).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/feed", s.feedHandler).Methods(http.MethodGet)
	r.HandleFunc("/scenes/{id}", s.getSceneHandler).Methods(http.MethodGet)
	r.HandleFunc("/scenes/{id}/script", s.scriptHandler).Methods(http.MethodGet)
	r.HandleFunc("/renders/{id}", s.getRenderHandler).Methods(http.MethodGet)
	r.HandleFunc("/renders/{id}/video", s.videoHandler).Methods(http.MethodGet)
	r.HandleFunc("/renders/{id}/events", s.renderEventsHandler).Methods(http.MethodGet)

	protected := r.PathPrefix("").Subrouter()
	protected.Use(AuthMiddleware(s.jwtSecret))

	protected.HandleFunc("/chat", s.chatHandler).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/animate", s.animateHandler).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/scenes/{id}/mood", s.saveMoodHandler).Methods(http.MethodPost, http.MethodOptions)
	protected.HandleFunc("/conversations/{id}", s.deleteConversationHandler).Methods(http.MethodDelete, http.MethodOptions)

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		LogResponse("/healthz", "Database unreachable", err)
		EncodeError(w, "Database unreachable", http.StatusServiceUnavailable)
		return
	}
	encodeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) modelsHandler(w http.ResponseWriter, r *http.Request) {
	encodeJSON(w, http.StatusOK, struct {
		Default string      `json:"default"`
		Models  []llm.Model `json:"models"`
	}{Default: s.generator.Name(), Models: llm.Catalogue})
}

func (s *Server) registerHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		LogResponse("/register", "Invalid request format", err)
		EncodeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" || req.Username == "" {
		LogResponse("/register", "Username, email and password are required", nil)
		EncodeError(w, "Username, email and password are required", http.StatusBadRequest)
		return
	}

	exists, err := s.store.UserExists(r.Context(), req.Email)
	if err != nil {
		LogResponse("/register", "Error checking user", err)
		EncodeError(w, "Error checking user", http.StatusInternalServerError)
		return
	}
	if exists {
		LogResponse("/register", "User already exists", nil)
		EncodeError(w, "User already exists", http.StatusConflict)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		LogResponse("/register", "Error hashing password", err)
		EncodeError(w, "Error hashing password", http.StatusInternalServerError)
		return
	}

	userID, err := s.store.CreateUser(r.Context(), req.Email, req.Username, string(hashedPassword))
	if errors.Is(err, ErrUserExists) {
		EncodeError(w, "User already exists", http.StatusConflict)
		return
	}
	if err != nil {
		LogResponse("/register", "Error creating user", err)
		EncodeError(w, "Error creating user", http.StatusInternalServerError)
		return
	}

	token, err := generateJWT(userID, s.jwtSecret)
	if err != nil {
		LogResponse("/register", "Error generating token", err)
		EncodeError(w, "Error generating token", http.StatusInternalServerError)
		return
	}

	LogResponse("/register", "User registered successfully", nil)
	encodeJSON(w, http.StatusOK, AuthResponse{
		Token: token,
		User:  User{ID: userID, Email: req.Email, Username: req.Username},
	})
}

func (s *Server) loginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		LogResponse("/login", "Invalid request format", err)
		EncodeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if req.Email == "" || req.Password == "" {
		LogResponse("/login", "Email and password are required", nil)
		EncodeError(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	userID, storedHash, err := s.store.GetUserCredentials(r.Context(), req.Email)
	if err != nil {
		LogResponse("/login", "Invalid credentials", err)
		EncodeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(req.Password)); err != nil {
		LogResponse("/login", "Invalid credentials", nil)
		EncodeError(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	token, err := generateJWT(userID, s.jwtSecret)
	if err != nil {
		LogResponse("/login", "Error generating token", err)
		EncodeError(w, "Error generating token", http.StatusInternalServerError)
		return
	}
	user, err := s.store.GetUserDetails(r.Context(), userID)
	if err != nil {
		LogResponse("/login", "Error retrieving user details", err)
		EncodeError(w, "Error retrieving user details", http.StatusInternalServerError)
		return
	}

	LogResponse("/login", "User logged in successfully", nil)
	encodeJSON(w, http.StatusOK, AuthResponse{Token: token, User: user})
}

func (s *Server) generatorFor(model string) (llm.Generator, error) {
	if model == "" || s.newGenerator == nil {
		return s.generator, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.byModel[model]; ok {
		return g, nil
	}
	g, err := s.newGenerator(model)
	if err != nil {
		return nil, err
	}
	s.byModel[model] = g
	return g, nil
}

func (s *Server) conversation(ctx context.Context, userID, id string) (*session.Conversation, error) {
	if id == "" {
		return s.sessions.Create(ctx, userID)
	}
	return s.sessions.Get(ctx, userID, id)
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		LogResponse("/chat", "Invalid request format", err)
		EncodeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	prompt, err := llm.SanitizePrompt(req.Message)
	if err != nil {
		LogResponse("/chat", "Empty prompt", nil)
		EncodeError(w, "Please write a prompt to generate the video", http.StatusBadRequest)
		return
	}
	userID, _ := GetUserIDFromContext(r.Context())

	conv, err := s.conversation(r.Context(), userID, req.ConversationID)
	if err != nil {
		LogResponse("/chat", "Conversation unavailable", err)
		EncodeError(w, "Conversation not found", errorStatus(err))
		return
	}
	gen, err := s.generatorFor(req.Model)
	if err != nil {
		LogResponse("/chat", "Model unavailable", err)
		EncodeError(w, "Model unavailable: "+err.Error(), errorStatus(err))
		return
	}

	LogRequest("/chat", fmt.Sprintf("Conversation %s with %s", conv.ID, gen.Name()))
	conv.Append(llm.RoleUser, prompt)

	if req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamChat(w, r, conv, gen)
		return
	}

	reply, err := gen.Generate(r.Context(), conv.History())
	if err != nil {
		conv.Rollback(llm.RoleUser)
		LogResponse("/chat", "Error generating reply", err)
		EncodeError(w, "Error generating reply: "+err.Error(), generationStatus(err))
		return
	}
	conv.Append(llm.RoleAssistant, reply)

	LogResponse("/chat", "Reply generated", nil)
	encodeJSON(w, http.StatusOK, ChatResponse{
		ConversationID: conv.ID,
		Model:          gen.Name(),
		Reply:          reply,
		Code:           scene.ExtractCode(reply),
	})
}

func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, conv *session.Conversation, gen llm.Generator) {
	stream, err := gen.Stream(r.Context(), conv.History())
	if err != nil {
		conv.Rollback(llm.RoleUser)
		LogResponse("/chat", "Error starting stream", err)
		EncodeError(w, "Error generating reply: "+err.Error(), generationStatus(err))
		return
	}
	defer stream.Close()

	sse, ok := newSSEWriter(w)
	if !ok {
		conv.Rollback(llm.RoleUser)
		EncodeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	var reply strings.Builder
	var writeErr error
	for stream.Next() {
		reply.WriteString(stream.Text())
		if writeErr = sse.Send("", ChatChunk{Text: stream.Text()}); writeErr != nil {
			break
		}
	}
	if err := stream.Err(); err != nil || writeErr != nil {
		conv.Rollback(llm.RoleUser)
		if err == nil {
			err = writeErr
		}
		LogResponse("/chat", "Stream interrupted", err)
		_ = sse.Send("error", map[string]string{"error": err.Error()})
		return
	}

	conv.Append(llm.RoleAssistant, reply.String())
	LogResponse("/chat", "Reply streamed", nil)
	_ = sse.Send("done", ChatResponse{
		ConversationID: conv.ID,
		Model:          gen.Name(),
		Reply:          reply.String(),
		Code:           scene.ExtractCode(reply.String()),
	})
}

func generationStatus(err error) int {
	if status := errorStatus(err); status != http.StatusInternalServerError {
		return status
	}
	return http.StatusBadGateway
}

func lastUserMessage(history []llm.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == llm.RoleUser {
			return history[i].Content
		}
	}
	return ""
}

func (s *Server) animateHandler(w http.ResponseWriter, r *http.Request) {
	var req AnimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		LogResponse("/animate", "Invalid request format", err)
		EncodeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	userID, _ := GetUserIDFromContext(r.Context())
	command := s.command.String()
	reply, prompt := req.Reply, req.Prompt

	var res scene.Result
	if strings.TrimSpace(req.Code) != "" {
		LogRequest("/animate", "Rendering edited code")
		res = s.pipeline.FromCode(req.Code, command)
	} else {
		if reply == "" && req.ConversationID != "" {
			conv, err := s.sessions.Get(r.Context(), userID, req.ConversationID)
			if err != nil {
				LogResponse("/animate", "Conversation not found", err)
				EncodeError(w, "Conversation not found", errorStatus(err))
				return
			}
			reply = conv.LastReply()
			if prompt == "" {
				prompt = lastUserMessage(conv.History())
			}
		}
		if strings.TrimSpace(reply) == "" {
			LogResponse("/animate", "Nothing to animate", nil)
			EncodeError(w, "Nothing to animate: send code, a reply, or a conversation with a reply", http.StatusBadRequest)
			return
		}
		LogRequest("/animate", "Extracting code from reply")
		res = s.pipeline.Materialize(reply, command)
	}

	sc := &Scene{UserID: userID, Prompt: prompt, Reply: reply, Code: res.Scene, Script: res.File, Command: command}
	if err := s.store.SaveScene(r.Context(), sc); err != nil {
		LogResponse("/animate", "Error saving scene", err)
		EncodeError(w, "Error saving scene", http.StatusInternalServerError)
		return
	}

	job := render.Job{ID: uuid.NewString(), SceneID: sc.ID, Command: s.command, Script: res.File}
	if err := s.store.CreateRender(r.Context(), &RenderRecord{ID: job.ID, SceneID: sc.ID, Status: render.StatusQueued, Command: command}); err != nil {
		LogResponse("/animate", "Error saving render", err)
		EncodeError(w, "Error saving render", http.StatusInternalServerError)
		return
	}

	resp := AnimateResponse{
		SceneID: sc.ID,
		JobID:   job.ID,
		Code:    res.Scene,
		Script:  res.File,
		Command: command,
		Empty:   res.Empty(),
	}
	result, err := s.dispatcher.Dispatch(r.Context(), job)
	if err != nil {
		resp.Status = render.StatusFailed
		resp.Error = err.Error()
		if result == nil {
			failed := &render.Result{JobID: job.ID, Status: render.StatusFailed, Error: err.Error()}
			if rerr := s.store.RecordRender(r.Context(), failed); rerr != nil {
				LogResponse("/animate", "Error recording failure", rerr)
			}
		}
		status := errorStatus(err)
		if status == http.StatusInternalServerError {
			status = http.StatusServiceUnavailable
		}
		LogResponse("/animate", "Render failed", err)
		encodeJSON(w, status, resp)
		return
	}
	resp.Status = result.Status

	LogResponse("/animate", "Scene "+sc.ID+" "+string(result.Status), nil)
	status := http.StatusOK
	if !result.Status.Finished() {
		status = http.StatusAccepted
	}
	encodeJSON(w, status, resp)
}

func (s *Server) getSceneHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sc, err := s.store.GetScene(r.Context(), id)
	if err != nil {
		LogResponse("/scenes/{id}", "Scene not found with ID: "+id, err)
		EncodeError(w, "Scene not found", errorStatus(err))
		return
	}
	encodeJSON(w, http.StatusOK, sc)
}

func (s *Server) scriptHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sc, err := s.store.GetScene(r.Context(), id)
	if err != nil {
		LogResponse("/scenes/{id}/script", "Scene not found with ID: "+id, err)
		EncodeError(w, "Scene not found", errorStatus(err))
		return
	}
	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.command.ScriptName()))
	_, _ = w.Write([]byte(sc.Script))
}

func (s *Server) feedHandler(w http.ResponseWriter, r *http.Request) {
	LogRequest("/feed", "Retrieving random scene")
	sc, err := s.store.RandomScene(r.Context())
	if err != nil {
		LogResponse("/feed", "Error retrieving random scene", err)
		EncodeError(w, "No scenes found", errorStatus(err))
		return
	}
	encodeJSON(w, http.StatusOK, sc)
}

func (s *Server) saveMoodHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req SaveMoodRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		LogResponse("/scenes/{id}/mood", "Invalid request format", err)
		EncodeError(w, "Invalid request format", http.StatusBadRequest)
		return
	}
	if !req.Mood.Valid() {
		LogResponse("/scenes/{id}/mood", "Invalid mood value", nil)
		EncodeError(w, "Invalid mood value", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetScene(r.Context(), id); err != nil {
		LogResponse("/scenes/{id}/mood", "Scene not found with ID: "+id, err)
		EncodeError(w, "Scene not found", errorStatus(err))
		return
	}
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		EncodeError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	if err := s.store.SaveMood(r.Context(), userID, id, req.Mood); err != nil {
		LogResponse("/scenes/{id}/mood", "Error saving mood", err)
		EncodeError(w, "Error saving mood", http.StatusInternalServerError)
		return
	}
	LogResponse("/scenes/{id}/mood", "Mood saved successfully", nil)
	encodeJSON(w, http.StatusOK, SaveMoodResponse{Success: true})
}

// deleteConversationHandler forgets a conversation of the caller. Scenes
// animated from it are kept.
func (s *Server) deleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	userID, _ := GetUserIDFromContext(r.Context())
	if err := s.sessions.Delete(r.Context(), userID, id); err != nil {
		LogResponse("/conversations/{id}", "Conversation not found with ID: "+id, err)
		EncodeError(w, "Conversation not found", errorStatus(err))
		return
	}
	LogResponse("/conversations/{id}", "Conversation deleted", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getRenderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.GetRender(r.Context(), id)
	if err != nil {
		LogResponse("/renders/{id}", "Render not found with ID: "+id, err)
		EncodeError(w, "Render not found", errorStatus(err))
		return
	}
	encodeJSON(w, http.StatusOK, rec)
}

func (s *Server) videoHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, err := s.store.GetRender(r.Context(), id)
	if err != nil {
		EncodeError(w, "Render not found", errorStatus(err))
		return
	}
	switch {
	case rec.Status == render.StatusFailed:
		EncodeError(w, "Render issue: "+rec.Error, http.StatusUnprocessableEntity)
		return
	case rec.Status != render.StatusDone || rec.Video == "":
		EncodeError(w, "Video is not ready yet ("+string(rec.Status)+")", http.StatusConflict)
		return
	}
	if _, err := os.Stat(rec.Video); err != nil {
		LogResponse("/renders/{id}/video", "Video file missing", err)
		EncodeError(w, "Video file is no longer available", http.StatusGone)
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	if r.URL.Query().Get("download") != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", s.command.OutputName()))
	}
	http.ServeFile(w, r, rec.Video)
}

func (s *Server) renderEventsHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// subscribe before reading the state so no change is missed
	var events <-chan render.Event
	if s.events != nil {
		var err error
		if events, err = s.events.Subscribe(ctx, id); err != nil {
			EncodeError(w, "Could not follow render", http.StatusInternalServerError)
			return
		}
	}
	rec, err := s.store.GetRender(ctx, id)
	if err != nil {
		EncodeError(w, "Render not found", errorStatus(err))
		return
	}

	sse, ok := newSSEWriter(w)
	if !ok {
		EncodeError(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	current := render.Event{JobID: rec.ID, Status: rec.Status, Message: rec.Error, Time: rec.UpdatedAt}
	if err := sse.Send("status", current); err != nil || rec.Status.Finished() || events == nil {
		return
	}
	for ev := range events {
		if err := sse.Send("status", ev); err != nil {
			return
		}
		if ev.Status.Finished() {
			return
		}
	}
}
