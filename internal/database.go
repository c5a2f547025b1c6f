package internal

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"manim-server/internal/render"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrUserExists = errors.New("user already exists")
)

// Store persists users, scenes, renders and moods.
type Store interface {
	UserExists(ctx context.Context, email string) (bool, error)
	CreateUser(ctx context.Context, email, username, passwordHash string) (string, error)
	GetUserCredentials(ctx context.Context, email string) (id, passwordHash string, err error)
	GetUserDetails(ctx context.Context, id string) (User, error)

	SaveScene(ctx context.Context, scene *Scene) error
	GetScene(ctx context.Context, id string) (*Scene, error)
	RandomScene(ctx context.Context) (*Scene, error)
	SaveMood(ctx context.Context, userID, sceneID string, mood Mood) error

	CreateRender(ctx context.Context, rec *RenderRecord) error
	GetRender(ctx context.Context, id string) (*RenderRecord, error)
	render.Recorder

	Ping(ctx context.Context) error
	Close() error
}

// PostgresStore is the Store used in production.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to dsn, a postgres:// URL. The database is created
// when it does not exist yet, then the tables are set up.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	log.Info().Msg("[DB] Initializing database connection...")
	if err := ensureDatabase(ctx, dsn); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	s := &PostgresStore{db: db}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.migrate(ctx)
	s.executeInitScript(ctx, "init_db.sql")
	log.Info().Msg("[DB] Database initialization completed successfully")
	return s, nil
}

// ensureDatabase connects to the postgres maintenance database and creates
// the target database if it is missing.
func ensureDatabase(ctx context.Context, dsn string) error {
	u, err := url.Parse(dsn)
	if err != nil {
		return errors.Wrap(err, "parse database url")
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" || name == "postgres" {
		return nil
	}
	admin := *u
	admin.Path = "/postgres"

	db, err := sql.Open("postgres", admin.String())
	if err != nil {
		return errors.Wrap(err, "open postgres database")
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		// no access to the maintenance database; assume the target exists
		log.Warn().Err(err).Msg("[DB] Could not reach the postgres database, skipping creation check")
		return nil
	}

	var exists bool
	err = db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return errors.Wrap(err, "check if database exists")
	}
	if exists {
		log.Info().Str("database", name).Msg("[DB] Database already exists")
		return nil
	}
	log.Info().Str("database", name).Msg("[DB] Database does not exist, creating it...")
	if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
		return errors.Wrap(err, "create database")
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(32) PRIMARY KEY,
		email VARCHAR(255) UNIQUE NOT NULL,
		username VARCHAR(255),
		password_hash TEXT NOT NULL,
		last_login TIMESTAMP,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS scenes (
		id VARCHAR(32) PRIMARY KEY,
		user_id VARCHAR(32) REFERENCES users(id),
		prompt TEXT,
		reply TEXT,
		code TEXT NOT NULL,
		script TEXT NOT NULL,
		command TEXT NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS renders (
		id VARCHAR(64) PRIMARY KEY,
		scene_id VARCHAR(32) NOT NULL REFERENCES scenes(id),
		status VARCHAR(16) NOT NULL,
		command TEXT NOT NULL,
		video TEXT,
		log TEXT,
		error TEXT,
		info JSONB,
		cached BOOLEAN DEFAULT FALSE,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS scene_moods (
		id SERIAL PRIMARY KEY,
		user_id VARCHAR(32) NOT NULL REFERENCES users(id),
		scene_id VARCHAR(32) NOT NULL REFERENCES scenes(id),
		mood VARCHAR(20) NOT NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)`,
	`CREATE INDEX IF NOT EXISTS idx_renders_scene_id ON renders(scene_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scene_moods_user_id ON scene_moods(user_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scene_moods_scene_id ON scene_moods(scene_id)`,
}

// migrations bring databases created by older versions up to date.
var migrations = []string{
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS username VARCHAR(255)`,
	`ALTER TABLE users ADD COLUMN IF NOT EXISTS last_login TIMESTAMP`,
	`ALTER TABLE renders ADD COLUMN IF NOT EXISTS info JSONB`,
	`ALTER TABLE renders ADD COLUMN IF NOT EXISTS cached BOOLEAN DEFAULT FALSE`,
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	log.Info().Msg("[DB] Setting up database tables...")
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "create table")
		}
	}
	for _, stmt := range indexes {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.Warn().Err(err).Msg("[DB] Failed to create index")
		}
	}
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) {
	for _, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.Warn().Err(err).Str("statement", stmt).Msg("[DB] Migration failed")
		}
	}
}

// executeInitScript runs the statements of an optional SQL file. Failing
// statements are logged and skipped.
func (s *PostgresStore) executeInitScript(ctx context.Context, path string) {
	sqlBytes, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("[DB] Could not read init script")
		}
		return
	}
	for i, stmt := range strings.Split(string(sqlBytes), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			log.Warn().Err(err).Int("statement", i+1).Msg("[DB] Init statement failed")
		}
	}
}

func (s *PostgresStore) UserExists(ctx context.Context, email string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE email = $1", email).Scan(&count)
	if err != nil {
		return false, errors.Wrap(err, "check user")
	}
	return count > 0, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, email, username, passwordHash string) (string, error) {
	id, err := generateRandomID()
	if err != nil {
		return "", errors.Wrap(err, "generate user id")
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO users (id, email, username, password_hash) VALUES ($1, $2, $3, $4)",
		id, email, username, passwordHash,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return "", ErrUserExists
		}
		return "", errors.Wrap(err, "insert user")
	}
	log.Info().Str("user", id).Msg("[DB] User created")
	return id, nil
}

func (s *PostgresStore) GetUserCredentials(ctx context.Context, email string) (string, string, error) {
	var id, hash string
	err := s.db.QueryRowContext(ctx, "SELECT id, password_hash FROM users WHERE email = $1", email).Scan(&id, &hash)
	if err == sql.ErrNoRows {
		return "", "", errors.Wrap(ErrNotFound, "user")
	}
	if err != nil {
		return "", "", errors.Wrap(err, "get credentials")
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE users SET last_login = NOW() WHERE id = $1", id); err != nil {
		log.Warn().Err(err).Msg("[DB] Could not update last login")
	}
	return id, hash, nil
}

func (s *PostgresStore) GetUserDetails(ctx context.Context, id string) (User, error) {
	var user User
	var username sql.NullString
	var lastLogin sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT id, email, username, last_login FROM users WHERE id = $1", id,
	).Scan(&user.ID, &user.Email, &username, &lastLogin)
	if err == sql.ErrNoRows {
		return user, errors.Wrap(ErrNotFound, "user")
	}
	if err != nil {
		return user, errors.Wrap(err, "get user")
	}
	user.Username = username.String
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return user, nil
}

func (s *PostgresStore) SaveScene(ctx context.Context, scene *Scene) error {
	id, err := generateRandomID()
	if err != nil {
		return errors.Wrap(err, "generate scene id")
	}
	var userID sql.NullString
	if scene.UserID != "" {
		userID = sql.NullString{String: scene.UserID, Valid: true}
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO scenes (id, user_id, prompt, reply, code, script, command)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING created_at`,
		id, userID, scene.Prompt, scene.Reply, scene.Code, scene.Script, scene.Command,
	).Scan(&scene.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "insert scene")
	}
	scene.ID = id
	return nil
}

const sceneColumns = "id, COALESCE(user_id, ''), COALESCE(prompt, ''), COALESCE(reply, ''), code, script, command, created_at"

func scanScene(row *sql.Row) (*Scene, error) {
	var sc Scene
	err := row.Scan(&sc.ID, &sc.UserID, &sc.Prompt, &sc.Reply, &sc.Code, &sc.Script, &sc.Command, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, "scene")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get scene")
	}
	return &sc, nil
}

func (s *PostgresStore) GetScene(ctx context.Context, id string) (*Scene, error) {
	return scanScene(s.db.QueryRowContext(ctx, "SELECT "+sceneColumns+" FROM scenes WHERE id = $1", id))
}

func (s *PostgresStore) RandomScene(ctx context.Context) (*Scene, error) {
	return scanScene(s.db.QueryRowContext(ctx, "SELECT "+sceneColumns+" FROM scenes ORDER BY RANDOM() LIMIT 1"))
}

func (s *PostgresStore) SaveMood(ctx context.Context, userID, sceneID string, mood Mood) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO scene_moods (user_id, scene_id, mood) VALUES ($1, $2, $3)",
		userID, sceneID, string(mood),
	)
	if err != nil {
		return errors.Wrap(err, "insert mood")
	}
	return nil
}

func (s *PostgresStore) CreateRender(ctx context.Context, rec *RenderRecord) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO renders (id, scene_id, status, command) VALUES ($1, $2, $3, $4)
		 RETURNING created_at, updated_at`,
		rec.ID, rec.SceneID, string(rec.Status), rec.Command,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	return errors.Wrap(err, "insert render")
}

// RecordRender updates the stored state of a render job. A finished job only
// takes another finished state.
func (s *PostgresStore) RecordRender(ctx context.Context, res *render.Result) error {
	var info sql.NullString
	if res.Info != nil {
		data, err := json.Marshal(res.Info)
		if err != nil {
			return errors.Wrap(err, "encode video info")
		}
		info = sql.NullString{String: string(data), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE renders SET status = $2, video = $3, log = $4, error = $5, info = $6, cached = $7, updated_at = NOW()
		 WHERE id = $1 AND (status NOT IN ('done', 'failed') OR $8)`,
		res.JobID, string(res.Status), res.Video, res.Log, res.Error, info, res.Cached, res.Status.Finished(),
	)
	return errors.Wrap(err, "update render")
}

func (s *PostgresStore) GetRender(ctx context.Context, id string) (*RenderRecord, error) {
	var rec RenderRecord
	var status string
	var video, logText, errText sql.NullString
	var info []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT id, scene_id, status, command, video, log, error, info, COALESCE(cached, FALSE), created_at, updated_at
		 FROM renders WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.SceneID, &status, &rec.Command, &video, &logText, &errText, &info, &rec.Cached, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.Wrap(ErrNotFound, "render")
	}
	if err != nil {
		return nil, errors.Wrap(err, "get render")
	}
	rec.Status = render.Status(status)
	rec.Video, rec.Log, rec.Error = video.String, logText.String, errText.String
	if len(info) > 0 {
		rec.Info = &render.VideoInfo{}
		if err := json.Unmarshal(info, rec.Info); err != nil {
			log.Warn().Err(err).Str("render", id).Msg("[DB] Could not decode video info")
			rec.Info = nil
		}
	}
	return &rec, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
