package internal

import (
	"time"

	"manim-server/internal/render"
)

// ChatRequest sends one user message to the model.
type ChatRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
	Model          string `json:"model,omitempty"`
	Stream         bool   `json:"stream,omitempty"`
}

// ChatResponse carries the reply and the code found in it.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Model          string `json:"model"`
	Reply          string `json:"reply"`
	Code           string `json:"code"`
}

// ChatChunk is one streamed fragment of a reply.
type ChatChunk struct {
	Text string `json:"text"`
}

// AnimateRequest renders code. Code, when set, is used as is (the user edited
// it); otherwise Reply, otherwise the last reply of the conversation.
type AnimateRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Reply          string `json:"reply,omitempty"`
	Code           string `json:"code,omitempty"`
	Prompt         string `json:"prompt,omitempty"`
}

type AnimateResponse struct {
	SceneID string        `json:"scene_id"`
	JobID   string        `json:"job_id"`
	Code    string        `json:"code"`
	Script  string        `json:"script"`
	Command string        `json:"command"`
	Status  render.Status `json:"status"`
	Empty   bool          `json:"empty,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// Scene is a saved, normalized scene and the script generated from it.
type Scene struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Prompt    string    `json:"prompt,omitempty"`
	Reply     string    `json:"reply,omitempty"`
	Code      string    `json:"code"`
	Script    string    `json:"script"`
	Command   string    `json:"command"`
	CreatedAt time.Time `json:"created_at"`
}

// RenderRecord is the stored state of a render job.
type RenderRecord struct {
	ID        string            `json:"id"`
	SceneID   string            `json:"scene_id"`
	Status    render.Status     `json:"status"`
	Command   string            `json:"command"`
	Video     string            `json:"-"`
	Log       string            `json:"log,omitempty"`
	Error     string            `json:"error,omitempty"`
	Info      *render.VideoInfo `json:"info,omitempty"`
	Cached    bool              `json:"cached,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RegisterRequest represents the user registration request
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest represents the user login request
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// User represents user information
type User struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
}

// Mood represents a user's mood after watching a scene
type Mood string

const (
	MoodMuchWorse  Mood = "much worse"
	MoodWorse      Mood = "worse"
	MoodSame       Mood = "same"
	MoodBetter     Mood = "better"
	MoodMuchBetter Mood = "much better"
)

func (m Mood) Valid() bool {
	switch m {
	case MoodMuchWorse, MoodWorse, MoodSame, MoodBetter, MoodMuchBetter:
		return true
	}
	return false
}

type SaveMoodRequest struct {
	Mood Mood `json:"mood"`
}

type SaveMoodResponse struct {
	Success bool `json:"success"`
}
