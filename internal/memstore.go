package internal

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"

	"manim-server/internal/render"
)

type memoryUser struct {
	User
	passwordHash string
}

// MemoryStore keeps everything in process memory. It is used when no
// database is configured; data is lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*memoryUser
	scenes  map[string]*Scene
	order   []string
	renders map[string]*RenderRecord
	moods   map[string][]Mood
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   map[string]*memoryUser{},
		scenes:  map[string]*Scene{},
		renders: map[string]*RenderRecord{},
		moods:   map[string][]Mood{},
	}
}

func (m *MemoryStore) userByEmail(email string) *memoryUser {
	for _, u := range m.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (m *MemoryStore) UserExists(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userByEmail(email) != nil, nil
}

func (m *MemoryStore) CreateUser(_ context.Context, email, username, passwordHash string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userByEmail(email) != nil {
		return "", ErrUserExists
	}
	id, err := generateRandomID()
	if err != nil {
		return "", err
	}
	m.users[id] = &memoryUser{User: User{ID: id, Email: email, Username: username}, passwordHash: passwordHash}
	return id, nil
}

func (m *MemoryStore) GetUserCredentials(_ context.Context, email string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.userByEmail(email)
	if u == nil {
		return "", "", errors.Wrap(ErrNotFound, "user")
	}
	now := time.Now()
	u.LastLogin = &now
	return u.ID, u.passwordHash, nil
}

func (m *MemoryStore) GetUserDetails(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, errors.Wrap(ErrNotFound, "user")
	}
	return u.User, nil
}

func (m *MemoryStore) SaveScene(_ context.Context, scene *Scene) error {
	id, err := generateRandomID()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	scene.ID = id
	scene.CreatedAt = time.Now()
	stored := *scene
	m.scenes[id] = &stored
	m.order = append(m.order, id)
	return nil
}

func (m *MemoryStore) GetScene(_ context.Context, id string) (*Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sc, ok := m.scenes[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "scene")
	}
	out := *sc
	return &out, nil
}

func (m *MemoryStore) RandomScene(_ context.Context) (*Scene, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.order) == 0 {
		return nil, errors.Wrap(ErrNotFound, "no scenes yet")
	}
	out := *m.scenes[m.order[rand.Intn(len(m.order))]]
	return &out, nil
}

func (m *MemoryStore) SaveMood(_ context.Context, userID, sceneID string, mood Mood) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[sceneID]; !ok {
		return errors.Wrap(ErrNotFound, "scene")
	}
	m.moods[sceneID] = append(m.moods[sceneID], mood)
	return nil
}

// Moods returns the moods recorded for a scene.
func (m *MemoryStore) Moods(sceneID string) []Mood {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Mood(nil), m.moods[sceneID]...)
}

func (m *MemoryStore) CreateRender(_ context.Context, rec *RenderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	stored := *rec
	m.renders[rec.ID] = &stored
	return nil
}

func (m *MemoryStore) RecordRender(_ context.Context, res *render.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.renders[res.JobID]
	if !ok || (rec.Status.Finished() && !res.Status.Finished()) {
		return nil
	}
	rec.Status = res.Status
	rec.Video = res.Video
	rec.Log = res.Log
	rec.Error = res.Error
	rec.Info = res.Info
	rec.Cached = res.Cached
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) GetRender(_ context.Context, id string) (*RenderRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.renders[id]
	if !ok {
		return nil, errors.Wrap(ErrNotFound, "render")
	}
	out := *rec
	return &out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
